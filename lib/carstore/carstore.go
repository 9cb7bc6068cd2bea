// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package carstore implements the read-only archive backend: a
// single file of varint-framed blocks.
//
// The first block is the header, a canonical map with format
// "MemoDB archive", version 0, and exactly one root link. The root
// addresses the index value, a map with heads (name → link) and
// calls (func → argkey → {args, result}). Every other block is a
// binary CID followed by the block payload.
//
// Open scans the file once to build an in-memory CID → offset index;
// the index is immutable afterwards, and reads use positional I/O on
// the shared file handle, so any number of goroutines can read
// concurrently.
package carstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

// FormatName is the required header format string.
const FormatName = "MemoDB archive"

// FormatVersion is the only supported header version.
const FormatVersion = 0

// maxVarintLen bounds the frame length varint during the scan.
const maxVarintLen = 10

type blockLocation struct {
	offset int64 // payload start, after the embedded CID
	length int   // payload length
}

// Store is the archive backend. All writes reject with ErrReadOnly.
type Store struct {
	file   *os.File
	blocks map[cid.CID]blockLocation
	heads  map[string]cid.CID
	calls  map[string]map[string]store.CallEntry

	// parents is built lazily on first NamesUsing: it requires
	// decoding every block in the archive.
	parentsOnce sync.Once
	parentsErr  error
	parents     map[cid.CID][]cid.CID
}

// Open scans the archive at path, validates the header, and loads
// the index value. A truncated or malformed file fails open.
func Open(path string, opts store.Options) (*Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		file:   file,
		blocks: make(map[cid.CID]blockLocation),
	}
	root, err := s.scan()
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := s.loadIndex(root); err != nil {
		file.Close()
		return nil, err
	}
	opts.LoggerOrDiscard().Info("archive opened",
		"path", path,
		"blocks", len(s.blocks),
		"heads", len(s.heads),
	)
	return s, nil
}

// OpenURI opens from a parsed car: URI.
func OpenURI(u *name.URI, opts store.Options) (store.Store, error) {
	path := u.Path()
	if path == "" {
		return nil, fmt.Errorf("%w: car URI has no path", store.ErrInvalidURI)
	}
	return Open(path, opts)
}

// Close closes the archive file.
func (s *Store) Close() error { return s.file.Close() }

// scan walks the frame sequence, records block offsets, and returns
// the root CID from the header.
func (s *Store) scan() (cid.CID, error) {
	info, err := s.file.Stat()
	if err != nil {
		return cid.CID{}, err
	}
	size := info.Size()

	var offset int64
	var root cid.CID
	first := true
	for offset < size {
		length, n, err := s.readFrameLen(offset, size)
		if err != nil {
			return cid.CID{}, err
		}
		frameStart := offset + int64(n)
		if frameStart+int64(length) > size {
			return cid.CID{}, fmt.Errorf("%w: truncated block at offset %d", store.ErrCorrupt, offset)
		}
		frame := make([]byte, length)
		if _, err := s.file.ReadAt(frame, frameStart); err != nil {
			return cid.CID{}, err
		}
		if first {
			first = false
			root, err = parseHeader(frame)
			if err != nil {
				return cid.CID{}, err
			}
		} else {
			c, consumed, err := cid.DecodePrefix(frame)
			if err != nil {
				return cid.CID{}, fmt.Errorf("%w: block CID at offset %d: %v", store.ErrCorrupt, offset, err)
			}
			s.blocks[c] = blockLocation{
				offset: frameStart + int64(consumed),
				length: int(length) - consumed,
			}
		}
		offset = frameStart + int64(length)
	}
	if first {
		return cid.CID{}, fmt.Errorf("%w: archive has no header block", store.ErrCorrupt)
	}
	return root, nil
}

// readFrameLen decodes the frame length varint at offset.
func (s *Store) readFrameLen(offset, size int64) (uint64, int, error) {
	buf := make([]byte, maxVarintLen)
	if int64(len(buf)) > size-offset {
		buf = buf[:size-offset]
	}
	if _, err := s.file.ReadAt(buf, offset); err != nil && err != io.EOF {
		return 0, 0, err
	}
	length, n, err := cid.Uvarint(buf)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: block length at offset %d: %v", store.ErrCorrupt, offset, err)
	}
	return length, n, nil
}

func parseHeader(frame []byte) (cid.CID, error) {
	header, err := node.Decode(frame)
	if err != nil {
		return cid.CID{}, fmt.Errorf("%w: archive header: %v", store.ErrCorrupt, err)
	}
	format, _ := header.Get("format")
	if text, ok := format.AsString(); !ok || text != FormatName {
		return cid.CID{}, fmt.Errorf("%w: archive header format is not %q", store.ErrCorrupt, FormatName)
	}
	version, _ := header.Get("version")
	if v, ok := version.AsUint(); !ok || v != FormatVersion {
		return cid.CID{}, fmt.Errorf("%w: unsupported archive version", store.ErrCorrupt)
	}
	roots, ok := header.Get("roots")
	if !ok || roots.Kind() != node.KindList || roots.Len() != 1 {
		return cid.CID{}, fmt.Errorf("%w: archive header needs exactly one root", store.ErrCorrupt)
	}
	root, ok := roots.At(0).AsLink()
	if !ok {
		return cid.CID{}, fmt.Errorf("%w: archive root is not a link", store.ErrCorrupt)
	}
	return root, nil
}

// loadIndex decodes the root value into head and call tables.
func (s *Store) loadIndex(root cid.CID) error {
	index, err := s.Get(root)
	if err != nil {
		return fmt.Errorf("archive index: %w", err)
	}
	s.heads = make(map[string]cid.CID)
	if heads, ok := index.Get("heads"); ok {
		for i := 0; i < heads.Len(); i++ {
			e := heads.EntryAt(i)
			c, ok := e.Value.AsLink()
			if !ok {
				return fmt.Errorf("%w: archive head %q is not a link", store.ErrCorrupt, e.Key)
			}
			s.heads[e.Key] = c
		}
	}
	s.calls = make(map[string]map[string]store.CallEntry)
	if calls, ok := index.Get("calls"); ok {
		for i := 0; i < calls.Len(); i++ {
			fnEntry := calls.EntryAt(i)
			table := make(map[string]store.CallEntry)
			for j := 0; j < fnEntry.Value.Len(); j++ {
				argEntry := fnEntry.Value.EntryAt(j)
				entry, err := parseCallEntry(argEntry.Value)
				if err != nil {
					return fmt.Errorf("%w: archive call %s/%s: %v",
						store.ErrCorrupt, fnEntry.Key, argEntry.Key, err)
				}
				table[argEntry.Key] = entry
			}
			s.calls[fnEntry.Key] = table
		}
	}
	return nil
}

func parseCallEntry(n node.Node) (store.CallEntry, error) {
	argsNode, ok := n.Get("args")
	if !ok {
		return store.CallEntry{}, errors.New("missing args")
	}
	resultNode, ok := n.Get("result")
	if !ok {
		return store.CallEntry{}, errors.New("missing result")
	}
	var entry store.CallEntry
	for i := 0; i < argsNode.Len(); i++ {
		c, ok := argsNode.At(i).AsLink()
		if !ok {
			return store.CallEntry{}, errors.New("arg is not a link")
		}
		entry.Args = append(entry.Args, c)
	}
	result, ok := resultNode.AsLink()
	if !ok {
		return store.CallEntry{}, errors.New("result is not a link")
	}
	entry.Result = result
	return entry, nil
}

// Put rejects: archives are read-only.
func (s *Store) Put(n node.Node) (cid.CID, error) {
	// Identity values never touch storage, so deriving their CID is
	// not a write.
	c, _, err := node.EncodeBlock(n)
	if err != nil {
		return cid.CID{}, err
	}
	if c.IsIdentity() {
		return c, nil
	}
	return cid.CID{}, fmt.Errorf("%w: archive put", store.ErrReadOnly)
}

// Get fetches and decodes the value addressed by c with a positioned
// read.
func (s *Store) Get(c cid.CID) (node.Node, error) {
	n, found, err := s.GetOptional(c)
	if err != nil {
		return node.Node{}, err
	}
	if !found {
		return node.Node{}, fmt.Errorf("%w: %s", store.ErrNotFound, c)
	}
	return n, nil
}

// GetOptional is Get with absence as a non-error.
func (s *Store) GetOptional(c cid.CID) (node.Node, bool, error) {
	if n, ok, err := store.IdentityNode(c); err != nil || ok {
		return n, ok, err
	}
	loc, found := s.blocks[c]
	if !found {
		return node.Node{}, false, nil
	}
	payload := make([]byte, loc.length)
	if _, err := s.file.ReadAt(payload, loc.offset); err != nil {
		return node.Node{}, false, err
	}
	if err := store.VerifyBlock(c, payload); err != nil {
		return node.Node{}, false, err
	}
	n, err := node.DecodeBlock(c, payload)
	if err != nil {
		return node.Node{}, false, err
	}
	return n, true, nil
}

// Has reports block presence from the offset index.
func (s *Store) Has(c cid.CID) (bool, error) {
	if c.IsIdentity() {
		return true, nil
	}
	_, found := s.blocks[c]
	return found, nil
}

// Resolve maps a Name to its bound CID.
func (s *Store) Resolve(nm name.Name) (cid.CID, error) {
	c, found, err := s.ResolveOptional(nm)
	if err != nil {
		return cid.CID{}, err
	}
	if !found {
		return cid.CID{}, fmt.Errorf("%w: %s", store.ErrNotFound, nm)
	}
	return c, nil
}

// ResolveOptional is Resolve with absence as a non-error.
func (s *Store) ResolveOptional(nm name.Name) (cid.CID, bool, error) {
	if c, ok := nm.AsCID(); ok {
		return c, true, nil
	}
	if head, ok := nm.AsHead(); ok {
		c, found := s.heads[head]
		return c, found, nil
	}
	fn, args, _ := nm.AsCall()
	entry, found := s.calls[fn][argsKey(args)]
	if !found {
		return cid.CID{}, false, nil
	}
	return entry.Result, true, nil
}

// Set rejects: archives are read-only.
func (s *Store) Set(nm name.Name, c cid.CID) error {
	if _, ok := nm.AsCID(); ok {
		return fmt.Errorf("%w: cannot bind a CID name", store.ErrInvalidName)
	}
	return fmt.Errorf("%w: archive set", store.ErrReadOnly)
}

// HeadDelete rejects: archives are read-only.
func (s *Store) HeadDelete(head string) error {
	return fmt.Errorf("%w: archive head delete", store.ErrReadOnly)
}

// CallInvalidate rejects: archives are read-only.
func (s *Store) CallInvalidate(fn string) error {
	return fmt.Errorf("%w: archive call invalidate", store.ErrReadOnly)
}

// EachHead enumerates the index's head table.
func (s *Store) EachHead(f func(head string, c cid.CID) error) error {
	for _, head := range sortedStrings(keysOf(s.heads)) {
		if err := f(head, s.heads[head]); err != nil {
			if errors.Is(err, store.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// ListFuncs returns the function names in the index's call table.
func (s *Store) ListFuncs() ([]string, error) {
	return sortedStrings(keysOf(s.calls)), nil
}

// EachCall enumerates the index's call entries for fn.
func (s *Store) EachCall(fn string, f func(entry store.CallEntry) error) error {
	table := s.calls[fn]
	for _, key := range sortedStrings(keysOf(table)) {
		if err := f(table[key]); err != nil {
			if errors.Is(err, store.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// NamesUsing reports heads, calls, and parent blocks referencing c.
// The parent table decodes every block in the archive once, on first
// use.
func (s *Store) NamesUsing(c cid.CID) ([]name.Name, error) {
	s.parentsOnce.Do(s.buildParents)
	if s.parentsErr != nil {
		return nil, s.parentsErr
	}
	var out []name.Name
	for _, parent := range s.parents[c] {
		out = append(out, name.CID(parent))
	}
	for _, head := range sortedStrings(keysOf(s.heads)) {
		if s.heads[head] == c {
			out = append(out, name.Head(head))
		}
	}
	for _, fn := range sortedStrings(keysOf(s.calls)) {
		for _, key := range sortedStrings(keysOf(s.calls[fn])) {
			entry := s.calls[fn][key]
			if entry.Result == c || containsCID(entry.Args, c) {
				out = append(out, name.Call(fn, entry.Args...))
			}
		}
	}
	return out, nil
}

func (s *Store) buildParents() {
	parents := make(map[cid.CID][]cid.CID)
	for c := range s.blocks {
		n, _, err := s.GetOptional(c)
		if err != nil {
			s.parentsErr = err
			return
		}
		for _, child := range n.Links(nil) {
			parents[child] = append(parents[child], c)
		}
	}
	s.parents = parents
}

func containsCID(args []cid.CID, c cid.CID) bool {
	for _, a := range args {
		if a == c {
			return true
		}
	}
	return false
}

// argsKey renders the slash-joined textual argument key used by the
// index's call table.
func argsKey(args []cid.CID) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, "/")
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func sortedStrings(keys []string) []string {
	sort.Strings(keys)
	return keys
}
