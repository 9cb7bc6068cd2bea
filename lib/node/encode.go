// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// CBOR major types.
const (
	majorUnsigned = 0
	majorNegative = 1
	majorBytes    = 2
	majorText     = 3
	majorList     = 4
	majorMap      = 5
	majorTag      = 6
	majorSimple   = 7
)

// linkTag is the CBOR tag wrapping a binary CID.
const linkTag = 42

// Simple values and float heads within major type 7.
const (
	simpleFalse     = 0xf4
	simpleTrue      = 0xf5
	simpleNull      = 0xf6
	simpleUndefined = 0xf7
	headFloat16     = 0xf9
	headFloat32     = 0xfa
	headFloat64     = 0xfb
	headBreak       = 0xff
)

// Encode returns the canonical binary form of n. Every distinct value
// has exactly one encoding: shortest-form integer heads, 8-byte
// floats, definite lengths, map entries in key byte order, and links
// as tag 42 over a 0x00-prefixed binary CID. The only failure mode is
// a string Node or map key that is not well-formed UTF-8.
func (n Node) Encode() ([]byte, error) {
	return n.appendTo(make([]byte, 0, 64))
}

func (n Node) appendTo(dst []byte) ([]byte, error) {
	switch n.kind {
	case KindNull:
		return append(dst, simpleNull), nil
	case KindUndefined:
		return append(dst, simpleUndefined), nil
	case KindBool:
		if n.b {
			return append(dst, simpleTrue), nil
		}
		return append(dst, simpleFalse), nil
	case KindInteger:
		if n.b {
			return appendHead(dst, majorNegative, n.u), nil
		}
		return appendHead(dst, majorUnsigned, n.u), nil
	case KindFloat:
		dst = append(dst, headFloat64)
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(n.f)), nil
	case KindBytes:
		dst = appendHead(dst, majorBytes, uint64(len(n.s)))
		return append(dst, n.s...), nil
	case KindString:
		if !utf8.ValidString(n.s) {
			return nil, fmt.Errorf("%w: string is not valid UTF-8", ErrInvalidCBOR)
		}
		dst = appendHead(dst, majorText, uint64(len(n.s)))
		return append(dst, n.s...), nil
	case KindList:
		dst = appendHead(dst, majorList, uint64(len(n.list)))
		var err error
		for _, e := range n.list {
			if dst, err = e.appendTo(dst); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case KindMap:
		dst = appendHead(dst, majorMap, uint64(len(n.m)))
		var err error
		for _, e := range n.m {
			if !utf8.ValidString(e.Key) {
				return nil, fmt.Errorf("%w: map key is not valid UTF-8", ErrInvalidCBOR)
			}
			dst = appendHead(dst, majorText, uint64(len(e.Key)))
			dst = append(dst, e.Key...)
			if dst, err = e.Value.appendTo(dst); err != nil {
				return nil, err
			}
		}
		return dst, nil
	case KindLink:
		dst = appendHead(dst, majorTag, linkTag)
		wire := n.link.Bytes()
		dst = appendHead(dst, majorBytes, uint64(len(wire))+1)
		dst = append(dst, 0x00)
		return append(dst, wire...), nil
	default:
		return nil, fmt.Errorf("%w: cannot encode kind %v", ErrInvalidCBOR, n.kind)
	}
}

// appendHead writes a major type head with the shortest argument form.
func appendHead(dst []byte, major byte, arg uint64) []byte {
	mt := major << 5
	switch {
	case arg < 24:
		return append(dst, mt|byte(arg))
	case arg <= math.MaxUint8:
		return append(dst, mt|24, byte(arg))
	case arg <= math.MaxUint16:
		return binary.BigEndian.AppendUint16(append(dst, mt|25), uint16(arg))
	case arg <= math.MaxUint32:
		return binary.BigEndian.AppendUint32(append(dst, mt|26), uint32(arg))
	default:
		return binary.BigEndian.AppendUint64(append(dst, mt|27), arg)
	}
}
