// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package node implements the canonical value model and its binary
// codec.
//
// A Node is an immutable tagged variant: null, undefined, bool,
// integer, float, bytes, string, list, map with string keys, or a
// link to another value by CID. Nodes have structural equality and a
// total order. The binary form is the dag-cbor profile of CBOR: one
// canonical encoding per value, so equal Nodes always produce
// identical bytes and therefore identical CIDs.
package node

import (
	"math"
	"sort"
	"strings"

	"github.com/memodb-foundation/memodb/lib/cid"
)

// Kind discriminates the variants of a Node. The declaration order is
// the sort order used by Compare.
type Kind int

const (
	KindNull Kind = iota
	KindUndefined
	KindBool
	KindInteger
	KindFloat
	KindBytes
	KindString
	KindList
	KindMap
	KindLink
)

// String returns the kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindUndefined:
		return "undefined"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindLink:
		return "link"
	default:
		return "invalid"
	}
}

// canonicalNaN is the only NaN bit pattern a Node carries. Any NaN
// passed to Float is collapsed to it so NaN values compare equal and
// encode deterministically.
const canonicalNaN = 0x7ff8000000000000

// MapEntry is one key/value pair of a map Node.
type MapEntry struct {
	Key   string
	Value Node
}

// Node is an immutable value. The zero value is Null. Nodes are cheap
// to copy; list and map payloads are shared, never mutated.
//
// Integers are stored as the CBOR argument: u holds the value for
// non-negative integers and the magnitude minus one (-1-value) for
// negative ones. This covers the full 0..2^64-1 and -2^63..-1 ranges
// without loss.
type Node struct {
	kind Kind
	b    bool
	u    uint64
	f    float64
	s    string // bytes and string payloads
	list []Node
	m    []MapEntry // sorted by Key
	link cid.CID
}

// Null returns the null Node.
func Null() Node { return Node{kind: KindNull} }

// Undefined returns the undefined Node. It is distinct from Null and
// round-trips through the codec.
func Undefined() Node { return Node{kind: KindUndefined} }

// Bool returns a boolean Node.
func Bool(v bool) Node { return Node{kind: KindBool, b: v} }

// Int returns an integer Node from a signed value.
func Int(v int64) Node {
	if v < 0 {
		return Node{kind: KindInteger, b: true, u: uint64(-(v + 1))}
	}
	return Node{kind: KindInteger, u: uint64(v)}
}

// Uint returns an integer Node from an unsigned value. The full
// uint64 range is representable.
func Uint(v uint64) Node { return Node{kind: KindInteger, u: v} }

// Float returns a float Node. NaN inputs are collapsed to the single
// canonical NaN.
func Float(v float64) Node {
	if math.IsNaN(v) {
		v = math.Float64frombits(canonicalNaN)
	}
	return Node{kind: KindFloat, f: v}
}

// Bytes returns a byte-string Node. The input is copied.
func Bytes(v []byte) Node { return Node{kind: KindBytes, s: string(v)} }

// String returns a text Node. The caller must supply well-formed
// UTF-8; Encode rejects anything else.
func String(v string) Node { return Node{kind: KindString, s: v} }

// List returns a list Node over the given elements. The slice is
// copied.
func List(elems ...Node) Node {
	list := make([]Node, len(elems))
	copy(list, elems)
	return Node{kind: KindList, list: list}
}

// Map returns a map Node. Entries are sorted by the byte order of
// their UTF-8 keys. Duplicate keys panic: a map literal with two
// identical keys is a programming error, not input.
func Map(entries ...MapEntry) Node {
	m := make([]MapEntry, len(entries))
	copy(m, entries)
	sort.Slice(m, func(i, j int) bool { return m[i].Key < m[j].Key })
	for i := 1; i < len(m); i++ {
		if m[i].Key == m[i-1].Key {
			panic("node: duplicate map key " + m[i].Key)
		}
	}
	return Node{kind: KindMap, m: m}
}

// Link returns a Node referencing another value by CID.
func Link(c cid.CID) Node { return Node{kind: KindLink, link: c} }

// Kind returns the variant tag.
func (n Node) Kind() Kind { return n.kind }

// AsBool returns the boolean payload. It is false for any other kind.
func (n Node) AsBool() bool { return n.kind == KindBool && n.b }

// AsInt returns the integer payload as a signed value. ok is false
// for non-integer Nodes and for unsigned values above math.MaxInt64.
func (n Node) AsInt() (v int64, ok bool) {
	if n.kind != KindInteger {
		return 0, false
	}
	if n.b {
		if n.u > math.MaxInt64 {
			return 0, false
		}
		return -1 - int64(n.u), true
	}
	if n.u > math.MaxInt64 {
		return 0, false
	}
	return int64(n.u), true
}

// AsUint returns the integer payload as an unsigned value. ok is
// false for non-integer Nodes and negative values.
func (n Node) AsUint() (v uint64, ok bool) {
	if n.kind != KindInteger || n.b {
		return 0, false
	}
	return n.u, true
}

// AsFloat returns the float payload. ok is false for other kinds.
func (n Node) AsFloat() (v float64, ok bool) {
	if n.kind != KindFloat {
		return 0, false
	}
	return n.f, true
}

// AsBytes returns a copy of the byte-string payload.
func (n Node) AsBytes() (v []byte, ok bool) {
	if n.kind != KindBytes {
		return nil, false
	}
	return []byte(n.s), true
}

// AsString returns the text payload.
func (n Node) AsString() (v string, ok bool) {
	if n.kind != KindString {
		return "", false
	}
	return n.s, true
}

// AsLink returns the linked CID.
func (n Node) AsLink() (c cid.CID, ok bool) {
	if n.kind != KindLink {
		return cid.CID{}, false
	}
	return n.link, true
}

// Len returns the element count of a list or the entry count of a
// map, and 0 for every other kind.
func (n Node) Len() int {
	switch n.kind {
	case KindList:
		return len(n.list)
	case KindMap:
		return len(n.m)
	default:
		return 0
	}
}

// At returns the i-th element of a list Node. It panics out of range
// or on a non-list, like slice indexing.
func (n Node) At(i int) Node {
	if n.kind != KindList {
		panic("node: At on " + n.kind.String())
	}
	return n.list[i]
}

// EntryAt returns the i-th entry of a map Node in key-sorted order.
func (n Node) EntryAt(i int) MapEntry {
	if n.kind != KindMap {
		panic("node: EntryAt on " + n.kind.String())
	}
	return n.m[i]
}

// Get looks up a map key. ok is false when the key is absent or the
// Node is not a map.
func (n Node) Get(key string) (Node, bool) {
	if n.kind != KindMap {
		return Node{}, false
	}
	i := sort.Search(len(n.m), func(i int) bool { return n.m[i].Key >= key })
	if i < len(n.m) && n.m[i].Key == key {
		return n.m[i].Value, true
	}
	return Node{}, false
}

// Equal reports structural equality. NaN floats compare equal because
// construction canonicalizes the bit pattern.
func (n Node) Equal(other Node) bool { return n.Compare(other) == 0 }

// Compare orders two Nodes. Kinds compare in declaration order;
// within a kind the payload decides: integers arithmetically, floats
// by total order over their bit-adjusted values, bytes and strings
// lexicographically, lists elementwise, maps by their sorted entry
// sequences, links by binary CID.
func (n Node) Compare(other Node) int {
	if n.kind != other.kind {
		if n.kind < other.kind {
			return -1
		}
		return 1
	}
	switch n.kind {
	case KindNull, KindUndefined:
		return 0
	case KindBool:
		if n.b == other.b {
			return 0
		}
		if !n.b {
			return -1
		}
		return 1
	case KindInteger:
		return compareInteger(n, other)
	case KindFloat:
		a, b := n.f, other.f
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		case math.Float64bits(a) == math.Float64bits(b):
			return 0
		case math.IsNaN(a):
			if math.IsNaN(b) {
				return 0
			}
			return 1
		case math.IsNaN(b):
			return -1
		default:
			// -0.0 vs 0.0: order by sign bit.
			if math.Signbit(a) {
				return -1
			}
			return 1
		}
	case KindBytes, KindString:
		return strings.Compare(n.s, other.s)
	case KindList:
		for i := 0; i < len(n.list) && i < len(other.list); i++ {
			if c := n.list[i].Compare(other.list[i]); c != 0 {
				return c
			}
		}
		return len(n.list) - len(other.list)
	case KindMap:
		for i := 0; i < len(n.m) && i < len(other.m); i++ {
			if c := strings.Compare(n.m[i].Key, other.m[i].Key); c != 0 {
				return c
			}
			if c := n.m[i].Value.Compare(other.m[i].Value); c != 0 {
				return c
			}
		}
		return len(n.m) - len(other.m)
	case KindLink:
		return strings.Compare(string(n.link.Bytes()), string(other.link.Bytes()))
	default:
		return 0
	}
}

func compareInteger(a, b Node) int {
	if a.b != b.b {
		if a.b {
			return -1
		}
		return 1
	}
	less := a.u < b.u
	if a.b {
		// Negative values: larger magnitude is smaller.
		less = a.u > b.u
	}
	switch {
	case a.u == b.u:
		return 0
	case less:
		return -1
	default:
		return 1
	}
}

// Links appends every CID reachable through Link children of n,
// including Links nested in lists and maps, in encounter order.
// Duplicates are kept.
func (n Node) Links(dst []cid.CID) []cid.CID {
	switch n.kind {
	case KindLink:
		return append(dst, n.link)
	case KindList:
		for _, e := range n.list {
			dst = e.Links(dst)
		}
	case KindMap:
		for _, e := range n.m {
			dst = e.Value.Links(dst)
		}
	}
	return dst
}
