// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"sort"
	"sync"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
)

// memStore is the in-memory Store used by the tests in this package.
// It mirrors the backend contract closely enough to exercise the
// helpers built on top of it.
type memStore struct {
	mu     sync.Mutex
	blocks map[cid.CID][]byte
	heads  map[string]cid.CID
	calls  map[string]map[string]CallEntry
	puts   int
	gets   int
}

func newMemStore() *memStore {
	return &memStore{
		blocks: make(map[cid.CID][]byte),
		heads:  make(map[string]cid.CID),
		calls:  make(map[string]map[string]CallEntry),
	}
}

func (m *memStore) Put(n node.Node) (cid.CID, error) {
	c, payload, err := node.EncodeBlock(n)
	if err != nil {
		return cid.CID{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if payload != nil {
		m.blocks[c] = payload
	}
	return c, nil
}

func (m *memStore) Get(c cid.CID) (node.Node, error) {
	if n, ok, err := IdentityNode(c); err != nil || ok {
		return n, err
	}
	m.mu.Lock()
	m.gets++
	payload, ok := m.blocks[c]
	m.mu.Unlock()
	if !ok {
		return node.Node{}, ErrNotFound
	}
	return node.DecodeBlock(c, payload)
}

func (m *memStore) GetOptional(c cid.CID) (node.Node, bool, error) {
	n, err := m.Get(c)
	if err == ErrNotFound {
		return node.Node{}, false, nil
	}
	if err != nil {
		return node.Node{}, false, err
	}
	return n, true, nil
}

func (m *memStore) Has(c cid.CID) (bool, error) {
	if c.IsIdentity() {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocks[c]
	return ok, nil
}

func (m *memStore) Resolve(nm name.Name) (cid.CID, error) {
	c, ok, err := m.ResolveOptional(nm)
	if err != nil {
		return cid.CID{}, err
	}
	if !ok {
		return cid.CID{}, ErrNotFound
	}
	return c, nil
}

func (m *memStore) ResolveOptional(nm name.Name) (cid.CID, bool, error) {
	if c, ok := nm.AsCID(); ok {
		return c, true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if head, ok := nm.AsHead(); ok {
		c, ok := m.heads[head]
		return c, ok, nil
	}
	fn, _, _ := nm.AsCall()
	entry, ok := m.calls[fn][nm.String()]
	return entry.Result, ok, nil
}

func (m *memStore) Set(nm name.Name, c cid.CID) error {
	if _, ok := nm.AsCID(); ok {
		return ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if head, ok := nm.AsHead(); ok {
		m.heads[head] = c
		return nil
	}
	fn, args, _ := nm.AsCall()
	if m.calls[fn] == nil {
		m.calls[fn] = make(map[string]CallEntry)
	}
	m.calls[fn][nm.String()] = CallEntry{Args: args, Result: c}
	return nil
}

func (m *memStore) HeadDelete(head string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.heads, head)
	return nil
}

func (m *memStore) CallInvalidate(fn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, fn)
	return nil
}

func (m *memStore) EachHead(f func(head string, c cid.CID) error) error {
	m.mu.Lock()
	heads := make([]string, 0, len(m.heads))
	for h := range m.heads {
		heads = append(heads, h)
	}
	sort.Strings(heads)
	snapshot := make(map[string]cid.CID, len(m.heads))
	for h, c := range m.heads {
		snapshot[h] = c
	}
	m.mu.Unlock()
	for _, h := range heads {
		if err := f(h, snapshot[h]); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *memStore) ListFuncs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fns := make([]string, 0, len(m.calls))
	for fn := range m.calls {
		fns = append(fns, fn)
	}
	sort.Strings(fns)
	return fns, nil
}

func (m *memStore) EachCall(fn string, f func(entry CallEntry) error) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.calls[fn]))
	for k := range m.calls[fn] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snapshot := make(map[string]CallEntry, len(m.calls[fn]))
	for k, e := range m.calls[fn] {
		snapshot[k] = e
	}
	m.mu.Unlock()
	for _, k := range keys {
		if err := f(snapshot[k]); err != nil {
			if err == ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *memStore) NamesUsing(c cid.CID) ([]name.Name, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []name.Name
	for parent, payload := range m.blocks {
		n, err := node.DecodeBlock(parent, payload)
		if err != nil {
			return nil, err
		}
		for _, link := range n.Links(nil) {
			if link.Equal(c) {
				out = append(out, name.CID(parent))
				break
			}
		}
	}
	for head, bound := range m.heads {
		if bound.Equal(c) {
			out = append(out, name.Head(head))
		}
	}
	for fn, entries := range m.calls {
		for _, e := range entries {
			uses := e.Result.Equal(c)
			for _, a := range e.Args {
				uses = uses || a.Equal(c)
			}
			if uses {
				out = append(out, name.Call(fn, e.Args...))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *memStore) Close() error { return nil }
