// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"sync"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/node"
)

// NodeRef is a lazy handle over a stored value. It always holds at
// least one of a CID and a materialized Node; each side materializes
// the other on demand through the owning Store. Safe for concurrent
// use.
type NodeRef struct {
	store Store

	mu      sync.Mutex
	c       cid.CID
	n       node.Node
	hasNode bool
}

// NewNodeRef wraps an already materialized Node. The CID is derived
// lazily, writing the value to s on first demand.
func NewNodeRef(s Store, n node.Node) *NodeRef {
	return &NodeRef{store: s, n: n, hasNode: true}
}

// NodeRefFromCID wraps a CID. The Node is fetched from s on first
// demand.
func NodeRefFromCID(s Store, c cid.CID) *NodeRef {
	return &NodeRef{store: s, c: c}
}

// Store returns the owning store.
func (r *NodeRef) Store() Store { return r.store }

// Node returns the value, fetching it from the store when the handle
// only holds a CID.
func (r *NodeRef) Node() (node.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasNode {
		return r.n, nil
	}
	n, err := r.store.Get(r.c)
	if err != nil {
		return node.Node{}, err
	}
	r.n = n
	r.hasNode = true
	return n, nil
}

// CID returns the address, writing the value to the store when the
// handle only holds a Node.
func (r *NodeRef) CID() (cid.CID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c.Defined() {
		return r.c, nil
	}
	c, err := r.store.Put(r.n)
	if err != nil {
		return cid.CID{}, err
	}
	r.c = c
	return c, nil
}

// FreeNode collapses the handle to CID-only, dropping the in-memory
// value so large payloads can be released while the handle stays
// addressable. The value is written to the store first if it has no
// CID yet.
func (r *NodeRef) FreeNode() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.c.Defined() {
		c, err := r.store.Put(r.n)
		if err != nil {
			return err
		}
		r.c = c
	}
	r.n = node.Node{}
	r.hasNode = false
	return nil
}
