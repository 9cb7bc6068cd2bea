// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"bytes"
	"math"
	"testing"

	"github.com/memodb-foundation/memodb/lib/cid"
)

func mustEncode(t *testing.T, n Node) []byte {
	t.Helper()
	data, err := n.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func mustDecode(t *testing.T, data []byte) Node {
	t.Helper()
	n, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(%x): %v", data, err)
	}
	return n
}

func TestIntegerShortestForm(t *testing.T) {
	tests := []struct {
		node Node
		want []byte
	}{
		{Int(0), []byte{0x00}},
		{Int(1), []byte{0x01}},
		{Int(23), []byte{0x17}},
		{Int(24), []byte{0x18, 0x18}},
		{Int(100), []byte{0x18, 0x64}},
		{Int(1000), []byte{0x19, 0x03, 0xe8}},
		{Int(1_000_000), []byte{0x1a, 0x00, 0x0f, 0x42, 0x40}},
		{Int(1_000_000_000_000), []byte{0x1b, 0x00, 0x00, 0x00, 0xe8, 0xd4, 0xa5, 0x10, 0x00}},
		{Uint(math.MaxUint64), []byte{0x1b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{Int(-1), []byte{0x20}},
		{Int(-100), []byte{0x38, 0x63}},
		{Int(-1000), []byte{0x39, 0x03, 0xe7}},
		{Int(math.MinInt64), []byte{0x3b, 0x7f, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}
	for _, tt := range tests {
		got := mustEncode(t, tt.node)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("encode %v = %x, want %x", tt.node, got, tt.want)
			continue
		}
		back := mustDecode(t, got)
		if !back.Equal(tt.node) {
			t.Errorf("decode(%x) != original %v", got, tt.node)
		}
	}
}

func TestFloatRoundtrip(t *testing.T) {
	values := []float64{
		0.0,
		math.Copysign(0, -1),
		1.0,
		1.1,
		math.Inf(1),
		math.Inf(-1),
		math.NaN(),
		1e300,
		5.960464477539063e-8,
	}
	for _, v := range values {
		n := Float(v)
		data := mustEncode(t, n)
		if len(data) != 9 || data[0] != 0xfb {
			t.Errorf("float %v should encode as a 9-byte double, got %x", v, data)
			continue
		}
		back := mustDecode(t, data)
		got, ok := back.AsFloat()
		if !ok {
			t.Errorf("decode(%x) is not a float", data)
			continue
		}
		if math.IsNaN(v) {
			if !math.IsNaN(got) {
				t.Errorf("NaN roundtrip produced %v", got)
			}
			continue
		}
		if got != v || math.Signbit(got) != math.Signbit(v) {
			t.Errorf("float roundtrip: %v -> %v", v, got)
		}
	}
}

func TestNaNCanonicalized(t *testing.T) {
	// Any NaN payload normalizes to the single canonical quiet NaN.
	weird := math.Float64frombits(0x7ff8dead00000001)
	data := mustEncode(t, Float(weird))
	want := []byte{0xfb, 0x7f, 0xf8, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(data, want) {
		t.Errorf("NaN encoded as %x, want %x", data, want)
	}
}

func TestHalfPrecisionWidening(t *testing.T) {
	tests := []struct {
		wire []byte
		want float64
	}{
		{[]byte{0xf9, 0x00, 0x00}, 0.0},
		{[]byte{0xf9, 0x3c, 0x00}, 1.0},
		{[]byte{0xf9, 0x00, 0x01}, 5.960464477539063e-8},
		{[]byte{0xf9, 0x7c, 0x00}, math.Inf(1)},
		{[]byte{0xf9, 0xfc, 0x00}, math.Inf(-1)},
	}
	for _, tt := range tests {
		n := mustDecode(t, tt.wire)
		got, ok := n.AsFloat()
		if !ok || got != tt.want {
			t.Errorf("decode(%x) = %v, want %v", tt.wire, got, tt.want)
		}
	}
}

func TestStringRoundtrip(t *testing.T) {
	values := []string{
		"",
		"a",
		"IETF",
		"\"\\",
		"ü",
		"水",
		string([]byte{0xf0, 0x90, 0x85, 0x91}),
	}
	for _, v := range values {
		n := String(v)
		back := mustDecode(t, mustEncode(t, n))
		got, ok := back.AsString()
		if !ok || got != v {
			t.Errorf("string roundtrip %q -> %q", v, got)
		}
	}
}

func TestChunkedStringDecodes(t *testing.T) {
	// (_ "strea" "ming") decodes to the concatenation.
	wire := []byte{0x7f, 0x65, 0x73, 0x74, 0x72, 0x65, 0x61, 0x64, 0x6d, 0x69, 0x6e, 0x67, 0xff}
	n := mustDecode(t, wire)
	got, ok := n.AsString()
	if !ok || got != "streaming" {
		t.Errorf("chunked string = %q, want %q", got, "streaming")
	}

	// Re-encoding is canonical: one definite-length string.
	want := append([]byte{0x69}, []byte("streaming")...)
	if data := mustEncode(t, n); !bytes.Equal(data, want) {
		t.Errorf("re-encode = %x, want %x", data, want)
	}
}

func TestMapKeyOrder(t *testing.T) {
	m := Map(
		MapEntry{Key: "e", Value: String("E")},
		MapEntry{Key: "a", Value: String("A")},
		MapEntry{Key: "c", Value: String("C")},
		MapEntry{Key: "b", Value: String("B")},
		MapEntry{Key: "d", Value: String("D")},
	)
	want := []byte{
		0xa5,
		0x61, 'a', 0x61, 'A',
		0x61, 'b', 0x61, 'B',
		0x61, 'c', 0x61, 'C',
		0x61, 'd', 0x61, 'D',
		0x61, 'e', 0x61, 'E',
	}
	if data := mustEncode(t, m); !bytes.Equal(data, want) {
		t.Errorf("map encoded as %x, want sorted %x", data, want)
	}
}

func TestUnsortedMapReencodesCanonically(t *testing.T) {
	// {"b": 2, "a": 1} with keys out of order decodes fine and
	// re-encodes sorted.
	wire := []byte{0xa2, 0x61, 'b', 0x02, 0x61, 'a', 0x01}
	n := mustDecode(t, wire)
	want := []byte{0xa2, 0x61, 'a', 0x01, 0x61, 'b', 0x02}
	if data := mustEncode(t, n); !bytes.Equal(data, want) {
		t.Errorf("re-encode = %x, want %x", data, want)
	}
}

func TestNonShortestIntReencodesCanonically(t *testing.T) {
	// 0x19 0x00 0x01 is 1 in a two-byte argument.
	n := mustDecode(t, []byte{0x19, 0x00, 0x01})
	if data := mustEncode(t, n); !bytes.Equal(data, []byte{0x01}) {
		t.Errorf("re-encode = %x, want 01", data)
	}
}

func TestCanonicality(t *testing.T) {
	nodes := []Node{
		Null(),
		Bool(true),
		Int(-42),
		Uint(1 << 40),
		Float(3.25),
		Bytes([]byte{1, 2, 3}),
		String("hello"),
		List(Int(1), String("two"), List(Bool(false))),
		Map(
			MapEntry{Key: "list", Value: List(Int(1), Int(2))},
			MapEntry{Key: "null", Value: Null()},
		),
	}
	for _, n := range nodes {
		first := mustEncode(t, n)
		back := mustDecode(t, first)
		if !back.Equal(n) {
			t.Errorf("decode(encode(%v)) != original", n)
		}
		second := mustEncode(t, back)
		if !bytes.Equal(first, second) {
			t.Errorf("encode not stable for %v: %x vs %x", n, first, second)
		}
	}
}

func TestLinkRoundtrip(t *testing.T) {
	target := cid.New(cid.DagCBOR, bytes.Repeat([]byte("x"), 40))
	n := Link(target)

	data := mustEncode(t, n)
	// Tag 42 then a byte string beginning with the 0x00 multibase
	// identity prefix.
	if data[0] != 0xd8 || data[1] != 0x2a {
		t.Fatalf("link should encode with tag 42, got %x", data[:2])
	}

	back := mustDecode(t, data)
	got, ok := back.AsLink()
	if !ok || !got.Equal(target) {
		t.Errorf("link roundtrip mismatch: %v", got)
	}
}

func TestLinksCollector(t *testing.T) {
	a := cid.New(cid.Raw, bytes.Repeat([]byte("a"), 40))
	b := cid.New(cid.Raw, bytes.Repeat([]byte("b"), 40))
	n := Map(
		MapEntry{Key: "one", Value: Link(a)},
		MapEntry{Key: "two", Value: List(Int(5), Link(b))},
	)
	links := n.Links(nil)
	if len(links) != 2 {
		t.Fatalf("Links found %d CIDs, want 2", len(links))
	}
}

func TestMapRejectsDuplicateKeys(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Map with duplicate keys should panic")
		}
	}()
	Map(
		MapEntry{Key: "k", Value: Int(1)},
		MapEntry{Key: "k", Value: Int(2)},
	)
}

func TestCompareTotalOrder(t *testing.T) {
	// Ordered smallest to largest across and within kinds.
	ordered := []Node{
		Null(),
		Bool(false),
		Bool(true),
		Int(-5),
		Int(0),
		Uint(math.MaxUint64),
		Float(math.Copysign(0, -1)),
		Float(0),
		Float(7.5),
		Float(math.NaN()),
		Bytes([]byte{0x01}),
		String("a"),
		String("b"),
		List(Int(1)),
		Map(MapEntry{Key: "k", Value: Int(1)}),
	}
	for i := range ordered {
		for j := range ordered {
			got := ordered[i].Compare(ordered[j])
			switch {
			case i < j && got >= 0:
				t.Errorf("Compare(%v, %v) = %d, want < 0", ordered[i], ordered[j], got)
			case i == j && got != 0:
				t.Errorf("Compare(%v, %v) = %d, want 0", ordered[i], ordered[j], got)
			case i > j && got <= 0:
				t.Errorf("Compare(%v, %v) = %d, want > 0", ordered[i], ordered[j], got)
			}
		}
	}
}

func TestGetBinarySearch(t *testing.T) {
	m := Map(
		MapEntry{Key: "alpha", Value: Int(1)},
		MapEntry{Key: "beta", Value: Int(2)},
		MapEntry{Key: "gamma", Value: Int(3)},
	)
	v, ok := m.Get("beta")
	if !ok {
		t.Fatal("Get(beta) missing")
	}
	if i, _ := v.AsInt(); i != 2 {
		t.Errorf("Get(beta) = %v, want 2", v)
	}
	if _, ok := m.Get("delta"); ok {
		t.Error("Get(delta) should be absent")
	}
}
