// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package cid

import "fmt"

// maxVarIntBytes bounds a varint to 63 useful bits (9 bytes of 7 bits).
// Values needing the 64th bit are rejected so every decoded varint fits
// a non-negative int64 as well as a uint64.
const maxVarIntBytes = 9

// AppendUvarint appends the unsigned LEB128 encoding of v to dst and
// returns the extended slice.
func AppendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Uvarint decodes an unsigned LEB128 varint from the front of data.
// It returns the value and the number of bytes consumed.
//
// Two ill-formed cases are rejected: a varint whose final byte is 0x00
// when it is not also the first byte (a redundant continuation that
// would make encodings non-unique), and a varint that needs more than
// 63 useful bits.
func Uvarint(data []byte) (uint64, int, error) {
	var value uint64
	for i := 0; ; i++ {
		if i >= maxVarIntBytes {
			return 0, 0, fmt.Errorf("%w: varint exceeds 63 bits", ErrInvalid)
		}
		if i >= len(data) {
			return 0, 0, fmt.Errorf("%w: truncated varint", ErrInvalid)
		}
		b := data[i]
		value |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if b == 0 && i > 0 {
				return 0, 0, fmt.Errorf("%w: varint has redundant trailing byte", ErrInvalid)
			}
			return value, i + 1, nil
		}
	}
}
