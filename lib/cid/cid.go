// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package cid implements self-describing content identifiers.
//
// A CID is the tuple (version, codec, multihash). The binary wire form
// is a sequence of unsigned LEB128 varints (version, codec, hash
// function code, digest length) followed by the digest bytes, with no
// outer framing. Textual forms carry a multibase prefix byte.
//
// New CIDs hash with SHA-256. Short raw payloads use the identity
// multihash, which inlines the content into the CID itself so no store
// lookup is needed. Other hash codes (BLAKE3 among them) round-trip on
// read and can be verified against content.
package cid

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

// ErrInvalid reports a malformed CID, varint, or multibase string.
var ErrInvalid = errors.New("invalid CID")

// Codec identifies the interpretation of the addressed content.
type Codec uint64

const (
	// Raw content is an opaque byte string.
	Raw Codec = 0x55
	// DagCBOR content is a canonically encoded Node.
	DagCBOR Codec = 0x71
)

// Multihash function codes.
const (
	// HashIdentity inlines the content as the "digest".
	HashIdentity uint64 = 0x00
	// HashSHA256 is the hash used for all newly minted CIDs.
	HashSHA256 uint64 = 0x12
	// HashBlake3 is accepted and verifiable on read.
	HashBlake3 uint64 = 0x1e
)

// InlineThreshold is the maximum content length stored with the
// identity multihash. Raw payloads at or below this size cost less as
// an inlined CID than as a stored block plus a 32-byte digest.
const InlineThreshold = 32

// CID is an immutable content identifier. The zero value is not a
// valid CID. CIDs are comparable and usable as map keys.
type CID struct {
	version  uint64
	codec    Codec
	hashCode uint64
	digest   string
}

// New derives the CID for content encoded with the given codec. Raw
// content at or below InlineThreshold uses the identity multihash;
// everything else is hashed with SHA-256.
func New(codec Codec, content []byte) CID {
	if codec == Raw && len(content) <= InlineThreshold {
		return CID{version: 1, codec: codec, hashCode: HashIdentity, digest: string(content)}
	}
	sum := sha256.Sum256(content)
	return CID{version: 1, codec: codec, hashCode: HashSHA256, digest: string(sum[:])}
}

// NewSHA256 derives a SHA-256 CID regardless of content length.
func NewSHA256(codec Codec, content []byte) CID {
	sum := sha256.Sum256(content)
	return CID{version: 1, codec: codec, hashCode: HashSHA256, digest: string(sum[:])}
}

// Codec returns the content codec.
func (c CID) Codec() Codec { return c.codec }

// HashCode returns the multihash function code.
func (c CID) HashCode() uint64 { return c.hashCode }

// Digest returns a copy of the digest bytes. For identity CIDs this is
// the inlined content itself.
func (c CID) Digest() []byte { return []byte(c.digest) }

// IsIdentity reports whether the CID inlines its content.
func (c CID) IsIdentity() bool { return c.hashCode == HashIdentity }

// Defined reports whether the CID is non-zero. The zero CID means
// "no CID"; it never round-trips through Bytes/Parse.
func (c CID) Defined() bool { return c.version != 0 }

// Bytes returns the binary wire form.
func (c CID) Bytes() []byte {
	buf := make([]byte, 0, 4+len(c.digest))
	buf = AppendUvarint(buf, c.version)
	buf = AppendUvarint(buf, uint64(c.codec))
	buf = AppendUvarint(buf, c.hashCode)
	buf = AppendUvarint(buf, uint64(len(c.digest)))
	return append(buf, c.digest...)
}

// String returns the default textual form: base32 with its multibase
// prefix.
func (c CID) String() string {
	text, err := EncodeMultibase(Base32, c.Bytes())
	if err != nil {
		panic("cid: base32 encoding failed: " + err.Error())
	}
	return text
}

// StringBase returns the textual form in the given multibase.
func (c CID) StringBase(base Multibase) (string, error) {
	return EncodeMultibase(base, c.Bytes())
}

// Equal reports whether two CIDs are identical tuples.
func (c CID) Equal(other CID) bool { return c == other }

// FromBytes parses the binary wire form. The entire input must be
// consumed.
func FromBytes(data []byte) (CID, error) {
	c, n, err := DecodePrefix(data)
	if err != nil {
		return CID{}, err
	}
	if n != len(data) {
		return CID{}, fmt.Errorf("%w: %d trailing bytes after CID", ErrInvalid, len(data)-n)
	}
	return c, nil
}

// DecodePrefix parses a binary CID from the front of data, returning
// the CID and the number of bytes consumed. Used when a CID is
// embedded in a larger frame (archive blocks, CBOR tag 42 payloads).
func DecodePrefix(data []byte) (CID, int, error) {
	pos := 0
	version, n, err := Uvarint(data[pos:])
	if err != nil {
		return CID{}, 0, err
	}
	pos += n
	if version != 1 {
		return CID{}, 0, fmt.Errorf("%w: unsupported CID version %d", ErrInvalid, version)
	}
	codec, n, err := Uvarint(data[pos:])
	if err != nil {
		return CID{}, 0, err
	}
	pos += n
	hashCode, n, err := Uvarint(data[pos:])
	if err != nil {
		return CID{}, 0, err
	}
	pos += n
	digestLen, n, err := Uvarint(data[pos:])
	if err != nil {
		return CID{}, 0, err
	}
	pos += n
	if uint64(len(data)-pos) < digestLen {
		return CID{}, 0, fmt.Errorf("%w: truncated digest (want %d bytes, have %d)",
			ErrInvalid, digestLen, len(data)-pos)
	}
	digest := data[pos : pos+int(digestLen)]
	pos += int(digestLen)
	return CID{
		version:  version,
		codec:    Codec(codec),
		hashCode: hashCode,
		digest:   string(digest),
	}, pos, nil
}

// Parse parses a multibase-prefixed textual CID.
func Parse(text string) (CID, error) {
	data, err := DecodeMultibase(text)
	if err != nil {
		return CID{}, err
	}
	return FromBytes(data)
}

// Verify checks content against the CID's digest. Identity CIDs
// compare the content directly. SHA-256 and BLAKE3 digests are
// recomputed. Unknown hash functions cannot be verified and return
// (false, error); a mismatch returns (false, nil).
func (c CID) Verify(content []byte) (bool, error) {
	switch c.hashCode {
	case HashIdentity:
		return bytes.Equal(content, []byte(c.digest)), nil
	case HashSHA256:
		sum := sha256.Sum256(content)
		return string(sum[:]) == c.digest, nil
	case HashBlake3:
		sum := blake3.Sum256(content)
		return string(sum[:]) == c.digest, nil
	default:
		return false, fmt.Errorf("%w: cannot verify hash function %#x", ErrInvalid, c.hashCode)
	}
}
