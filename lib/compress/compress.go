// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress implements the tagged compression envelope the
// log-structured backend applies to block payloads.
//
// The envelope is a single tag byte, an unsigned varint carrying the
// uncompressed length, and the (possibly compressed) body. Canonical
// CBOR payloads compress well with zstd; already-dense payloads fall
// back to the none tag so storage never grows.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/memodb-foundation/memodb/lib/cid"
)

// Tag identifies the compression algorithm of an envelope. Tags are
// persisted in the first byte of every stored payload; changing the
// values breaks existing databases.
type Tag uint8

const (
	// None stores the body uncompressed. Used when compression would
	// not shrink the payload.
	None Tag = 0

	// LZ4 is block-mode LZ4: modest ratios, very cheap decode.
	LZ4 Tag = 1

	// Zstd is zstd at the default level: the usual choice for CBOR
	// payloads.
	Zstd Tag = 2
)

// String returns the tag name used in diagnostics and configuration.
func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseTag parses a tag name.
func ParseTag(s string) (Tag, error) {
	switch s {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression tag %q", s)
	}
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Pack wraps data in an envelope using the preferred tag. When the
// algorithm cannot shrink the data the envelope degrades to None, so
// Pack never fails for LZ4 or Zstd preferences and never expands the
// body beyond the envelope header.
func Pack(data []byte, preferred Tag) ([]byte, error) {
	header := func(tag Tag) []byte {
		out := append(make([]byte, 0, len(data)+6), byte(tag))
		return cid.AppendUvarint(out, uint64(len(data)))
	}
	switch preferred {
	case None:
		return append(header(None), data...), nil

	case LZ4:
		bound := lz4.CompressBlockBound(len(data))
		dst := make([]byte, bound)
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// written == 0 means incompressible.
		if written == 0 || written >= len(data) {
			return append(header(None), data...), nil
		}
		return append(header(LZ4), dst[:written]...), nil

	case Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return append(header(None), data...), nil
		}
		return append(header(Zstd), compressed...), nil

	default:
		return nil, fmt.Errorf("unsupported compression tag %d", preferred)
	}
}

// Unpack opens an envelope and returns the original body. The
// uncompressed length recorded in the header must match exactly.
func Unpack(envelope []byte) ([]byte, error) {
	if len(envelope) == 0 {
		return nil, fmt.Errorf("empty compression envelope")
	}
	tag := Tag(envelope[0])
	size, n, err := cid.Uvarint(envelope[1:])
	if err != nil {
		return nil, fmt.Errorf("compression envelope length: %w", err)
	}
	body := envelope[1+n:]

	switch tag {
	case None:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("uncompressed body is %d bytes, header says %d", len(body), size)
		}
		return body, nil

	case LZ4:
		dst := make([]byte, size)
		read, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, header says %d", read, size)
		}
		return dst, nil

	case Zstd:
		dst, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(dst)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, header says %d", len(dst), size)
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("unknown compression tag %d", tag)
	}
}
