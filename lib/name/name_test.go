// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package name

import (
	"bytes"
	"errors"
	"testing"

	"github.com/memodb-foundation/memodb/lib/cid"
)

func testCID(t *testing.T, fill byte) cid.CID {
	t.Helper()
	return cid.New(cid.DagCBOR, bytes.Repeat([]byte{fill}, 40))
}

func TestCIDNameRoundtrip(t *testing.T) {
	c := testCID(t, 'a')
	n := CID(c)

	text := n.String()
	if got := "/cid/" + c.String(); text != got {
		t.Errorf("String() = %q, want %q", text, got)
	}
	parsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	if !parsed.Equal(n) {
		t.Errorf("roundtrip mismatch: %v != %v", parsed, n)
	}
	back, ok := parsed.AsCID()
	if !ok || !back.Equal(c) {
		t.Errorf("AsCID = %v, %v", back, ok)
	}
}

func TestHeadNameRoundtrip(t *testing.T) {
	heads := []string{
		"latest",
		"release/v1",
		"nested/a/b/c",
		"spaces and unicode ü",
		"percent%sign",
	}
	for _, h := range heads {
		n := Head(h)
		parsed, err := Parse(n.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", n.String(), err)
		}
		got, ok := parsed.AsHead()
		if !ok || got != h {
			t.Errorf("head roundtrip %q -> %q", h, got)
		}
	}
}

func TestHeadNameEscaping(t *testing.T) {
	n := Head("a b")
	if got := n.String(); got != "/head/a%20b" {
		t.Errorf("String() = %q, want /head/a%%20b", got)
	}
}

func TestCallNameRoundtrip(t *testing.T) {
	a, b := testCID(t, 'x'), testCID(t, 'y')
	n := Call("transform", a, b)

	text := n.String()
	want := "/call/transform/" + a.String() + "," + b.String()
	if text != want {
		t.Errorf("String() = %q, want %q", text, want)
	}

	parsed, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	fn, args, ok := parsed.AsCall()
	if !ok || fn != "transform" || len(args) != 2 {
		t.Fatalf("AsCall = %q, %d args, %v", fn, len(args), ok)
	}
	if !args[0].Equal(a) || !args[1].Equal(b) {
		t.Error("call arguments did not roundtrip")
	}
	if !parsed.Equal(n) {
		t.Error("Equal should hold after a roundtrip")
	}
}

func TestCallNameEscapedFunc(t *testing.T) {
	c := testCID(t, 'z')
	n := Call("ns/fn", c)
	parsed, err := Parse(n.String())
	if err != nil {
		t.Fatalf("Parse(%q): %v", n.String(), err)
	}
	fn, _, ok := parsed.AsCall()
	if !ok || fn != "ns/fn" {
		t.Errorf("function name roundtrip = %q, want ns/fn", fn)
	}
}

func TestParseRejectsBadNames(t *testing.T) {
	c := testCID(t, 'q')
	inputs := []string{
		"",
		"cid/relative",
		"/unknown/space",
		"/cid/",
		"/cid/not-a-cid",
		"/cid/" + c.String() + "/extra",
		"/head/",
		"/call/fn",
		"/call//",
		"/call/fn/",
		"/call/fn/not-a-cid",
		"/call/fn/" + c.String() + "/extra",
		"/head/%zz",
	}
	for _, input := range inputs {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) should fail", input)
		} else if !errors.Is(err, ErrInvalidName) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidName kind", input, err)
		}
	}
}

func TestKinds(t *testing.T) {
	c := testCID(t, 'k')
	if CID(c).Kind() != KindCID || Head("h").Kind() != KindHead || Call("f", c).Kind() != KindCall {
		t.Error("constructors should tag their variants")
	}
	if _, ok := Head("h").AsCID(); ok {
		t.Error("AsCID on a head should report false")
	}
	if _, ok := CID(c).AsHead(); ok {
		t.Error("AsHead on a CID should report false")
	}
	if _, _, ok := Head("h").AsCall(); ok {
		t.Error("AsCall on a head should report false")
	}
}

func TestEqualDistinguishesArgs(t *testing.T) {
	a, b := testCID(t, '1'), testCID(t, '2')
	if Call("f", a).Equal(Call("f", b)) {
		t.Error("calls with different arguments must differ")
	}
	if Call("f", a, b).Equal(Call("f", a)) {
		t.Error("calls with different arity must differ")
	}
	if Call("f", a).Equal(Call("g", a)) {
		t.Error("calls on different functions must differ")
	}
	if !Call("f", a, b).Equal(Call("f", a, b)) {
		t.Error("identical calls must compare equal")
	}
}
