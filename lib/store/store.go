// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package store defines the backend-independent contract of a MemoDB
// store: content-addressed blocks, mutable head bindings, memoized
// call entries, and reverse reference discovery. Backends implement
// Store; a Registry maps URI schemes to backend constructors.
package store

import (
	"fmt"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
)

// CallEntry is one memoized call row: the argument CIDs and the bound
// result.
type CallEntry struct {
	Args   []cid.CID
	Result cid.CID
}

// Store is the abstract backend contract. Implementations are safe
// for concurrent use; every single operation is atomic with respect
// to the backend. No cross-operation transactions exist.
type Store interface {
	// Put stores the canonical encoding of n and returns its CID.
	// Idempotent. Values small enough for an identity CID are never
	// physically written.
	Put(n node.Node) (cid.CID, error)

	// Get fetches and decodes the value addressed by c. Identity
	// CIDs decode without touching the backend. Absent blocks
	// return ErrNotFound.
	Get(c cid.CID) (node.Node, error)

	// GetOptional is Get with absence as a non-error.
	GetOptional(c cid.CID) (node.Node, bool, error)

	// Has reports whether c resolves without fetching its content.
	Has(c cid.CID) (bool, error)

	// Resolve maps a Name to its bound CID. CID Names resolve to
	// themselves. Unbound heads and calls return ErrNotFound.
	Resolve(nm name.Name) (cid.CID, error)

	// ResolveOptional is Resolve with absence as a non-error.
	ResolveOptional(nm name.Name) (cid.CID, bool, error)

	// Set binds a Head or Call Name to c. Rebinding overwrites.
	// CID Names reject with ErrInvalidName.
	Set(nm name.Name, c cid.CID) error

	// HeadDelete removes a head binding. Deleting an absent head is
	// not an error.
	HeadDelete(head string) error

	// CallInvalidate removes every call entry for fn.
	CallInvalidate(fn string) error

	// EachHead calls f for every head binding. Returning ErrStop
	// from f ends the enumeration early without error.
	EachHead(f func(head string, c cid.CID) error) error

	// ListFuncs returns the function names with at least one call
	// entry.
	ListFuncs() ([]string, error)

	// EachCall calls f for every call entry of fn. ErrStop
	// short-circuits.
	EachCall(fn string, f func(entry CallEntry) error) error

	// NamesUsing returns Names that reference c: parent value CIDs
	// whose Node links to c, heads bound to c, and calls whose args
	// or result include c. Completeness is best-effort per backend;
	// results never include false positives.
	NamesUsing(c cid.CID) ([]name.Name, error)

	// Close releases connections, file handles, and workers.
	Close() error
}

// ListHeads collects every head binding as a Head Name.
func ListHeads(s Store) ([]name.Name, error) {
	var heads []name.Name
	err := s.EachHead(func(head string, c cid.CID) error {
		heads = append(heads, name.Head(head))
		return nil
	})
	return heads, err
}

// ListCalls collects every call entry for fn.
func ListCalls(s Store, fn string) ([]CallEntry, error) {
	var entries []CallEntry
	err := s.EachCall(fn, func(e CallEntry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// IdentityNode decodes an identity CID's inlined content. ok is false
// when the CID is not an identity CID, in which case the caller must
// consult the backend.
func IdentityNode(c cid.CID) (node.Node, bool, error) {
	if !c.IsIdentity() {
		return node.Node{}, false, nil
	}
	n, err := node.DecodeBlock(c, nil)
	if err != nil {
		return node.Node{}, false, err
	}
	return n, true, nil
}

// VerifyBlock checks stored content against the CID it was filed
// under. A mismatch is corruption.
func VerifyBlock(c cid.CID, content []byte) error {
	ok, err := c.Verify(content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !ok {
		return fmt.Errorf("%w: content does not match CID %s", ErrCorrupt, c)
	}
	return nil
}
