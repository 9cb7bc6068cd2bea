// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleManifest struct {
	Format  string `cbor:"format"`
	Version int    `cbor:"version"`
	Count   int    `cbor:"count,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleManifest{
		Format:  "MemoDB archive",
		Version: 0,
		Count:   42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleManifest
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	manifest := sampleManifest{Format: "MemoDB archive", Version: 7}

	first, err := Marshal(manifest)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(manifest)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]int{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded any-typed map is %T, want map[string]any", decoded)
	}
	if len(m) != 2 {
		t.Errorf("decoded map has %d entries, want 2", len(m))
	}
}

func TestDiagnose(t *testing.T) {
	// {"a": 1}
	data := []byte{0xa1, 0x61, 0x61, 0x01}

	text, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if text != `{"a": 1}` {
		t.Errorf("Diagnose = %q, want %q", text, `{"a": 1}`)
	}
}

func TestDiagnoseFirst(t *testing.T) {
	// Two items back to back: 1, then "x".
	data := []byte{0x01, 0x61, 0x78}

	text, rest, err := DiagnoseFirst(data)
	if err != nil {
		t.Fatalf("DiagnoseFirst: %v", err)
	}
	if text != "1" {
		t.Errorf("first item = %q, want %q", text, "1")
	}
	if !bytes.Equal(rest, []byte{0x61, 0x78}) {
		t.Errorf("rest = %x, want 6178", rest)
	}
}
