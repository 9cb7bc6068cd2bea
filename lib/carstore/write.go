// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package carstore

import (
	"bufio"
	"fmt"
	"os"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

// Write exports every head, call, and transitively reachable block
// of src into a new archive file at path. The resulting file opens
// with this package's reader.
func Write(path string, src store.Store) error {
	index, reachable, err := buildIndex(src)
	if err != nil {
		return err
	}
	indexCID, indexPayload, err := node.EncodeBlock(index)
	if err != nil {
		return err
	}
	header := node.Map(
		node.MapEntry{Key: "format", Value: node.String(FormatName)},
		node.MapEntry{Key: "version", Value: node.Uint(FormatVersion)},
		node.MapEntry{Key: "roots", Value: node.List(node.Link(indexCID))},
	)
	headerBytes, err := header.Encode()
	if err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(file)

	writeErr := func() error {
		if err := writeFrame(w, nil, headerBytes); err != nil {
			return err
		}
		if !indexCID.IsIdentity() {
			if err := writeFrame(w, indexCID.Bytes(), indexPayload); err != nil {
				return err
			}
		}
		for _, c := range reachable {
			n, err := src.Get(c)
			if err != nil {
				return err
			}
			_, payload, err := node.EncodeBlock(n)
			if err != nil {
				return err
			}
			if err := writeFrame(w, c.Bytes(), payload); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	if writeErr != nil {
		file.Close()
		os.Remove(path)
		return writeErr
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// writeFrame emits one varint-framed block: the optional binary CID
// followed by the payload.
func writeFrame(w *bufio.Writer, cidBytes, payload []byte) error {
	frame := cid.AppendUvarint(nil, uint64(len(cidBytes)+len(payload)))
	if _, err := w.Write(frame); err != nil {
		return err
	}
	if _, err := w.Write(cidBytes); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// buildIndex assembles the index value and the list of non-identity
// blocks reachable from the store's heads and calls.
func buildIndex(src store.Store) (node.Node, []cid.CID, error) {
	var roots []cid.CID

	var headEntries []node.MapEntry
	err := src.EachHead(func(head string, c cid.CID) error {
		headEntries = append(headEntries, node.MapEntry{Key: head, Value: node.Link(c)})
		roots = append(roots, c)
		return nil
	})
	if err != nil {
		return node.Node{}, nil, err
	}

	funcs, err := src.ListFuncs()
	if err != nil {
		return node.Node{}, nil, err
	}
	var callEntries []node.MapEntry
	for _, fn := range funcs {
		var argEntries []node.MapEntry
		err := src.EachCall(fn, func(entry store.CallEntry) error {
			args := make([]node.Node, len(entry.Args))
			for i, a := range entry.Args {
				args[i] = node.Link(a)
				roots = append(roots, a)
			}
			roots = append(roots, entry.Result)
			argEntries = append(argEntries, node.MapEntry{
				Key: argsKey(entry.Args),
				Value: node.Map(
					node.MapEntry{Key: "args", Value: node.List(args...)},
					node.MapEntry{Key: "result", Value: node.Link(entry.Result)},
				),
			})
			return nil
		})
		if err != nil {
			return node.Node{}, nil, err
		}
		callEntries = append(callEntries, node.MapEntry{Key: fn, Value: node.Map(argEntries...)})
	}

	index := node.Map(
		node.MapEntry{Key: "calls", Value: node.Map(callEntries...)},
		node.MapEntry{Key: "heads", Value: node.Map(headEntries...)},
	)

	reachable, err := collectReachable(src, roots)
	if err != nil {
		return node.Node{}, nil, err
	}
	return index, reachable, nil
}

// collectReachable walks links breadth-first from the root CIDs,
// returning every non-identity block exactly once.
func collectReachable(src store.Store, roots []cid.CID) ([]cid.CID, error) {
	seen := make(map[cid.CID]bool)
	var order []cid.CID
	queue := append([]cid.CID(nil), roots...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if seen[c] {
			continue
		}
		seen[c] = true
		n, err := src.Get(c)
		if err != nil {
			return nil, err
		}
		// Identity CIDs inline their content and are not written as
		// blocks, but their value may still link to stored blocks.
		if !c.IsIdentity() {
			order = append(order, c)
		}
		queue = append(queue, n.Links(nil)...)
	}
	return order, nil
}
