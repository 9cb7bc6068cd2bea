// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package name implements the addressing grammar for stored values.
//
// A Name designates either an immutable value by CID, a mutable head
// binding, or a memoized call entry. The textual form is a URI path:
//
//	/cid/<cid-text>
//	/head/<head-name>            head names may contain slashes
//	/call/<func>/<cid>,<cid>,…
//
// Package name also provides the small URI parser shared by the store
// factory and the HTTP transport.
package name

import (
	"errors"
	"fmt"
	"strings"

	"github.com/memodb-foundation/memodb/lib/cid"
)

// ErrInvalidName reports a string that does not match the Name
// grammar.
var ErrInvalidName = errors.New("invalid name")

// Kind discriminates the Name variants.
type Kind int

const (
	// KindCID addresses an immutable value directly.
	KindCID Kind = iota
	// KindHead addresses a mutable name → CID binding.
	KindHead
	// KindCall addresses a cached (func, args) → result binding.
	KindCall
)

// Name is an address for a stored value. The zero value is the CID
// Name of the zero CID, which is not useful; construct Names with
// CID, Head, or Call.
type Name struct {
	kind Kind
	cid  cid.CID
	head string
	fn   string
	args []cid.CID
}

// CID returns a Name addressing a value directly.
func CID(c cid.CID) Name { return Name{kind: KindCID, cid: c} }

// Head returns a Name for a mutable head binding. Head names may
// contain slashes.
func Head(name string) Name { return Name{kind: KindHead, head: name} }

// Call returns a Name for a memoized call entry.
func Call(fn string, args ...cid.CID) Name {
	a := make([]cid.CID, len(args))
	copy(a, args)
	return Name{kind: KindCall, fn: fn, args: a}
}

// Kind returns the variant tag.
func (n Name) Kind() Kind { return n.kind }

// AsCID returns the addressed CID for a CID Name.
func (n Name) AsCID() (cid.CID, bool) {
	if n.kind != KindCID {
		return cid.CID{}, false
	}
	return n.cid, true
}

// AsHead returns the head name for a Head Name.
func (n Name) AsHead() (string, bool) {
	if n.kind != KindHead {
		return "", false
	}
	return n.head, true
}

// AsCall returns the function name and argument CIDs for a Call Name.
// The returned slice must not be modified.
func (n Name) AsCall() (fn string, args []cid.CID, ok bool) {
	if n.kind != KindCall {
		return "", nil, false
	}
	return n.fn, n.args, true
}

// Equal reports whether two Names address the same binding.
func (n Name) Equal(other Name) bool {
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindCID:
		return n.cid == other.cid
	case KindHead:
		return n.head == other.head
	default:
		if n.fn != other.fn || len(n.args) != len(other.args) {
			return false
		}
		for i := range n.args {
			if n.args[i] != other.args[i] {
				return false
			}
		}
		return true
	}
}

// String emits the URI path form. CIDs render in base32, head
// segments and function names are percent-encoded.
func (n Name) String() string {
	switch n.kind {
	case KindCID:
		return "/cid/" + n.cid.String()
	case KindHead:
		var sb strings.Builder
		sb.WriteString("/head")
		for _, seg := range strings.Split(n.head, "/") {
			sb.WriteByte('/')
			sb.WriteString(escapeSegment(seg))
		}
		return sb.String()
	default:
		parts := make([]string, len(n.args))
		for i, a := range n.args {
			parts[i] = a.String()
		}
		return "/call/" + escapeSegment(n.fn) + "/" + strings.Join(parts, ",")
	}
}

// Parse parses the URI path form of a Name. A leading slash is
// required; percent-escapes are decoded per segment.
func Parse(path string) (Name, error) {
	rest, ok := strings.CutPrefix(path, "/")
	if !ok {
		return Name{}, fmt.Errorf("%w: %q is not rooted", ErrInvalidName, path)
	}
	space, rest, _ := strings.Cut(rest, "/")
	switch space {
	case "cid":
		return parseCIDName(rest)
	case "head":
		return parseHeadName(rest)
	case "call":
		return parseCallName(rest)
	default:
		return Name{}, fmt.Errorf("%w: unknown name space %q", ErrInvalidName, space)
	}
}

func parseCIDName(rest string) (Name, error) {
	if rest == "" || strings.Contains(rest, "/") {
		return Name{}, fmt.Errorf("%w: /cid/ takes exactly one segment", ErrInvalidName)
	}
	text, err := unescapeSegment(rest)
	if err != nil {
		return Name{}, err
	}
	c, err := cid.Parse(text)
	if err != nil {
		return Name{}, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return CID(c), nil
}

func parseHeadName(rest string) (Name, error) {
	if rest == "" {
		return Name{}, fmt.Errorf("%w: empty head name", ErrInvalidName)
	}
	segs := strings.Split(rest, "/")
	for i, seg := range segs {
		dec, err := unescapeSegment(seg)
		if err != nil {
			return Name{}, err
		}
		segs[i] = dec
	}
	return Head(strings.Join(segs, "/")), nil
}

func parseCallName(rest string) (Name, error) {
	fnSeg, argSeg, ok := strings.Cut(rest, "/")
	if !ok || fnSeg == "" || argSeg == "" || strings.Contains(argSeg, "/") {
		return Name{}, fmt.Errorf("%w: /call/ takes a function and one argument list", ErrInvalidName)
	}
	fn, err := unescapeSegment(fnSeg)
	if err != nil {
		return Name{}, err
	}
	argText, err := unescapeSegment(argSeg)
	if err != nil {
		return Name{}, err
	}
	var args []cid.CID
	for _, part := range strings.Split(argText, ",") {
		c, err := cid.Parse(part)
		if err != nil {
			return Name{}, fmt.Errorf("%w: call argument: %v", ErrInvalidName, err)
		}
		args = append(args, c)
	}
	return Name{kind: KindCall, fn: fn, args: args}, nil
}
