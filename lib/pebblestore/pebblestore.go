// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package pebblestore implements the store contract over a
// log-structured key-value engine.
//
// Four key families share one keyspace, discriminated by a one-byte
// prefix:
//
//	'b' <binary cid>                     → compression envelope(content)
//	'h' <head name>                      → binary result cid
//	'c' <varint len><func> <binary args> → CBOR {args, result}
//	'r' <binary child><binary parent>    → empty
//
// Call keys carry a length-prefixed function name so invalidation is
// a single range delete over the function's prefix. Ref keys lead
// with the child CID so reverse lookups are a prefix scan; binary
// CIDs are self-delimiting, so child and parent split without a
// separator.
package pebblestore

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/compress"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

// Key family prefixes.
const (
	famBlocks = 'b'
	famHeads  = 'h'
	famCalls  = 'c'
	famRefs   = 'r'
)

// Store is the log-structured backend. A single shared handle; the
// engine does its own locking.
type Store struct {
	db       *pebble.DB
	compress compress.Tag
	logger   *slog.Logger
}

// Open opens or creates the database directory at path. Block
// payloads are packed with tag, normally compress.Zstd.
func Open(path string, tag compress.Tag, opts store.Options) (*Store, error) {
	logger := opts.LoggerOrDiscard()
	db, err := pebble.Open(path, &pebble.Options{
		Logger: pebbleLogger{logger},
	})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: opening %s: %w", path, err)
	}
	logger.Info("pebble store opened", "path", path, "compression", tag.String())
	return &Store{db: db, compress: tag, logger: logger}, nil
}

// OpenURI opens from a parsed rocksdb: URI. A compress query
// parameter selects the payload compression (none, lz4, zstd);
// default zstd.
func OpenURI(u *name.URI, opts store.Options) (store.Store, error) {
	path := u.Path()
	if path == "" {
		return nil, fmt.Errorf("%w: rocksdb URI has no path", store.ErrInvalidURI)
	}
	tag := compress.Zstd
	if vals := u.Query["compress"]; len(vals) > 0 {
		var err error
		tag, err = compress.ParseTag(vals[len(vals)-1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidURI, err)
		}
	}
	return Open(path, tag, opts)
}

// Close closes the engine handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("pebblestore: close: %w", err)
	}
	return nil
}

// pebbleLogger adapts slog to the engine's logging interface.
type pebbleLogger struct {
	l *slog.Logger
}

func (p pebbleLogger) Infof(format string, args ...any) {
	p.l.Info(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Errorf(format string, args ...any) {
	p.l.Error(fmt.Sprintf(format, args...))
}

func (p pebbleLogger) Fatalf(format string, args ...any) {
	p.l.Error(fmt.Sprintf(format, args...))
	panic(fmt.Sprintf(format, args...))
}

func blockKey(c cid.CID) []byte {
	return append([]byte{famBlocks}, c.Bytes()...)
}

func headKey(head string) []byte {
	return append([]byte{famHeads}, head...)
}

// callPrefix is the key prefix shared by every call entry of fn.
func callPrefix(fn string) []byte {
	key := cid.AppendUvarint([]byte{famCalls}, uint64(len(fn)))
	return append(key, fn...)
}

func callKey(fn string, args []cid.CID) []byte {
	key := callPrefix(fn)
	for _, a := range args {
		key = append(key, a.Bytes()...)
	}
	return key
}

func refKey(child, parent cid.CID) []byte {
	key := append([]byte{famRefs}, child.Bytes()...)
	return append(key, parent.Bytes()...)
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// callValue encodes the call row as a canonical map so args
// round-trip without re-parsing the key.
func callValue(args []cid.CID, result cid.CID) ([]byte, error) {
	elems := make([]node.Node, len(args))
	for i, a := range args {
		elems[i] = node.Link(a)
	}
	return node.Map(
		node.MapEntry{Key: "args", Value: node.List(elems...)},
		node.MapEntry{Key: "result", Value: node.Link(result)},
	).Encode()
}

func decodeCallValue(raw []byte) (store.CallEntry, error) {
	n, err := node.Decode(raw)
	if err != nil {
		return store.CallEntry{}, fmt.Errorf("%w: stored call: %v", store.ErrCorrupt, err)
	}
	argsNode, ok1 := n.Get("args")
	resultNode, ok2 := n.Get("result")
	if !ok1 || !ok2 {
		return store.CallEntry{}, fmt.Errorf("%w: stored call is missing fields", store.ErrCorrupt)
	}
	entry := store.CallEntry{}
	for i := 0; i < argsNode.Len(); i++ {
		c, ok := argsNode.At(i).AsLink()
		if !ok {
			return store.CallEntry{}, fmt.Errorf("%w: stored call arg is not a link", store.ErrCorrupt)
		}
		entry.Args = append(entry.Args, c)
	}
	result, ok := resultNode.AsLink()
	if !ok {
		return store.CallEntry{}, fmt.Errorf("%w: stored call result is not a link", store.ErrCorrupt)
	}
	entry.Result = result
	return entry, nil
}

// Put writes the block and its derived ref rows in one batch.
func (s *Store) Put(n node.Node) (cid.CID, error) {
	c, content, err := node.EncodeBlock(n)
	if err != nil {
		return cid.CID{}, err
	}
	if c.IsIdentity() {
		return c, nil
	}
	envelope, err := compress.Pack(content, s.compress)
	if err != nil {
		return cid.CID{}, err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(blockKey(c), envelope, nil); err != nil {
		return cid.CID{}, err
	}
	for _, child := range n.Links(nil) {
		if child.IsIdentity() {
			continue
		}
		if err := batch.Set(refKey(child, c), nil, nil); err != nil {
			return cid.CID{}, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return cid.CID{}, fmt.Errorf("pebblestore: put %s: %w", c, err)
	}
	return c, nil
}

// get reads a raw value, returning ok=false on absence.
func (s *Store) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), val...)
	closer.Close()
	return out, true, nil
}

// Get fetches and decodes the value addressed by c.
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
	envelope, found, err := s.get(blockKey(c))
	if err != nil || !found {
		return node.Node{}, false, err
	}
	content, err := compress.Unpack(envelope)
	if err != nil {
		return node.Node{}, false, fmt.Errorf("%w: %v", store.ErrCorrupt, err)
	}
	if err := store.VerifyBlock(c, content); err != nil {
		return node.Node{}, false, err
	}
	n, err := node.DecodeBlock(c, content)
	if err != nil {
		return node.Node{}, false, err
	}
	return n, true, nil
}

// Has reports block presence without decompressing content.
func (s *Store) Has(c cid.CID) (bool, error) {
	if c.IsIdentity() {
		return true, nil
	}
	_, found, err := s.get(blockKey(c))
	return found, err
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
		raw, found, err := s.get(headKey(head))
		if err != nil || !found {
			return cid.CID{}, false, err
		}
		c, err := cid.FromBytes(raw)
		if err != nil {
			return cid.CID{}, false, fmt.Errorf("%w: stored head: %v", store.ErrCorrupt, err)
		}
		return c, true, nil
	}
	fn, args, _ := nm.AsCall()
	raw, found, err := s.get(callKey(fn, args))
	if err != nil || !found {
		return cid.CID{}, false, err
	}
	entry, err := decodeCallValue(raw)
	if err != nil {
		return cid.CID{}, false, err
	}
	return entry.Result, true, nil
}

// Set binds a Head or Call to c.
func (s *Store) Set(nm name.Name, c cid.CID) error {
	if _, ok := nm.AsCID(); ok {
		return fmt.Errorf("%w: cannot bind a CID name", store.ErrInvalidName)
	}
	if head, ok := nm.AsHead(); ok {
		return s.db.Set(headKey(head), c.Bytes(), pebble.Sync)
	}
	fn, args, _ := nm.AsCall()
	value, err := callValue(args, c)
	if err != nil {
		return err
	}
	return s.db.Set(callKey(fn, args), value, pebble.Sync)
}

// HeadDelete removes a head binding.
func (s *Store) HeadDelete(head string) error {
	return s.db.Delete(headKey(head), pebble.Sync)
}

// CallInvalidate removes every call entry for fn with one range
// delete over the function's key prefix.
func (s *Store) CallInvalidate(fn string) error {
	prefix := callPrefix(fn)
	return s.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync)
}

// EachHead enumerates head bindings in name order.
func (s *Store) EachHead(f func(head string, c cid.CID) error) error {
	err := s.scan([]byte{famHeads}, func(key, value []byte) error {
		c, err := cid.FromBytes(value)
		if err != nil {
			return fmt.Errorf("%w: stored head: %v", store.ErrCorrupt, err)
		}
		return f(string(key[1:]), c)
	})
	if errors.Is(err, store.ErrStop) {
		return nil
	}
	return err
}

// ListFuncs returns the function names with call entries.
func (s *Store) ListFuncs() ([]string, error) {
	var funcs []string
	seen := make(map[string]bool)
	err := s.scan([]byte{famCalls}, func(key, value []byte) error {
		fn, _, err := splitCallKey(key)
		if err != nil {
			return err
		}
		if !seen[fn] {
			seen[fn] = true
			funcs = append(funcs, fn)
		}
		return nil
	})
	return funcs, err
}

// EachCall enumerates the call entries for fn.
func (s *Store) EachCall(fn string, f func(entry store.CallEntry) error) error {
	err := s.scan(callPrefix(fn), func(key, value []byte) error {
		entry, err := decodeCallValue(value)
		if err != nil {
			return err
		}
		return f(entry)
	})
	if errors.Is(err, store.ErrStop) {
		return nil
	}
	return err
}

// NamesUsing reports parents via the ref family and scans heads and
// calls for bindings that reference c. Complete for this backend.
func (s *Store) NamesUsing(c cid.CID) ([]name.Name, error) {
	var out []name.Name
	childPrefix := append([]byte{famRefs}, c.Bytes()...)
	err := s.scan(childPrefix, func(key, value []byte) error {
		parent, err := cid.FromBytes(key[len(childPrefix):])
		if err != nil {
			return fmt.Errorf("%w: stored ref: %v", store.ErrCorrupt, err)
		}
		out = append(out, name.CID(parent))
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.EachHead(func(head string, bound cid.CID) error {
		if bound == c {
			out = append(out, name.Head(head))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = s.scan([]byte{famCalls}, func(key, value []byte) error {
		fn, _, err := splitCallKey(key)
		if err != nil {
			return err
		}
		entry, err := decodeCallValue(value)
		if err != nil {
			return err
		}
		if entry.Result != c && !containsCID(entry.Args, c) {
			return nil
		}
		out = append(out, name.Call(fn, entry.Args...))
		return nil
	})
	return out, err
}

func containsCID(args []cid.CID, c cid.CID) bool {
	for _, a := range args {
		if a == c {
			return true
		}
	}
	return false
}

// splitCallKey recovers the function name from a call key.
func splitCallKey(key []byte) (fn string, rest []byte, err error) {
	body := key[1:]
	length, n, err := cid.Uvarint(body)
	if err != nil || uint64(len(body)-n) < length {
		return "", nil, fmt.Errorf("%w: malformed call key", store.ErrCorrupt)
	}
	return string(body[n : n+int(length)]), body[n+int(length):], nil
}

// scan iterates keys under prefix in order, passing full keys and
// values to f.
func (s *Store) scan(prefix []byte, f func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := f(iter.Key(), value); err != nil {
			return err
		}
	}
	return iter.Error()
}
