// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/x448/float16"

	"github.com/memodb-foundation/memodb/lib/cid"
)

// ErrInvalidCBOR reports input the decoder rejects. Every malformed
// byte sequence produces an error wrapping this sentinel; the decoder
// never panics on untrusted input.
var ErrInvalidCBOR = errors.New("invalid CBOR")

// DefaultMaxDepth bounds container nesting during decode.
const DefaultMaxDepth = 1024

// DecodeOptions configures a decode. The zero value uses
// DefaultMaxDepth.
type DecodeOptions struct {
	// MaxDepth is the maximum container nesting depth accepted.
	// Zero means DefaultMaxDepth.
	MaxDepth int
}

// Decode parses exactly one canonical-profile value from data.
// Trailing bytes after the value are an error; use DecodeFirst to
// read from a stream.
//
// The decoder is strict about structure but lenient about
// normalization: non-shortest integer heads, half and single floats,
// indefinite-length strings, lists and maps, and unsorted map keys
// are all accepted and re-encode canonically. Duplicate map keys,
// non-string keys, tags other than 42, reserved heads, and truncated
// input are rejected.
func Decode(data []byte) (Node, error) {
	return DecodeOptions{}.Decode(data)
}

// Decode parses one value under the receiver's options.
func (o DecodeOptions) Decode(data []byte) (Node, error) {
	n, rest, err := o.DecodeFirst(data)
	if err != nil {
		return Node{}, err
	}
	if len(rest) != 0 {
		return Node{}, fmt.Errorf("%w: %d trailing bytes after value", ErrInvalidCBOR, len(rest))
	}
	return n, nil
}

// DecodeFirst parses one value from the front of data and returns the
// unconsumed remainder. Used when values are framed back to back, as
// in archive files.
func (o DecodeOptions) DecodeFirst(data []byte) (Node, []byte, error) {
	maxDepth := o.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}
	d := &decoder{data: data, maxDepth: maxDepth}
	n, err := d.value(0)
	if err != nil {
		return Node{}, nil, err
	}
	return n, data[d.pos:], nil
}

// DecodeFirst parses one value with default options.
func DecodeFirst(data []byte) (Node, []byte, error) {
	return DecodeOptions{}.DecodeFirst(data)
}

type decoder struct {
	data     []byte
	pos      int
	maxDepth int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("%w: truncated input", ErrInvalidCBOR)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) take(n uint64) ([]byte, error) {
	if uint64(len(d.data)-d.pos) < n {
		return nil, fmt.Errorf("%w: truncated payload (want %d bytes, have %d)",
			ErrInvalidCBOR, n, len(d.data)-d.pos)
	}
	p := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return p, nil
}

// indefinite marks a head whose additional info is 31.
var indefinite = errors.New("indefinite length")

// arg reads the argument that follows a head byte. For additional
// info 31 it returns the indefinite marker; the caller decides
// whether that is legal for its major type.
func (d *decoder) arg(info byte) (uint64, error) {
	switch {
	case info < 24:
		return uint64(info), nil
	case info == 24:
		b, err := d.byte()
		return uint64(b), err
	case info == 25:
		p, err := d.take(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint16(p)), nil
	case info == 26:
		p, err := d.take(4)
		if err != nil {
			return 0, err
		}
		return uint64(binary.BigEndian.Uint32(p)), nil
	case info == 27:
		p, err := d.take(8)
		if err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(p), nil
	case info == 31:
		return 0, indefinite
	default: // 28, 29, 30
		return 0, fmt.Errorf("%w: reserved additional info %d", ErrInvalidCBOR, info)
	}
}

func (d *decoder) value(depth int) (Node, error) {
	if depth > d.maxDepth {
		return Node{}, fmt.Errorf("%w: nesting exceeds depth %d", ErrInvalidCBOR, d.maxDepth)
	}
	head, err := d.byte()
	if err != nil {
		return Node{}, err
	}
	if head == headBreak {
		return Node{}, fmt.Errorf("%w: unexpected break code", ErrInvalidCBOR)
	}
	major := head >> 5
	info := head & 0x1f

	switch major {
	case majorUnsigned:
		v, err := d.arg(info)
		if err == indefinite {
			return Node{}, fmt.Errorf("%w: indefinite-length integer", ErrInvalidCBOR)
		}
		if err != nil {
			return Node{}, err
		}
		return Uint(v), nil

	case majorNegative:
		v, err := d.arg(info)
		if err == indefinite {
			return Node{}, fmt.Errorf("%w: indefinite-length integer", ErrInvalidCBOR)
		}
		if err != nil {
			return Node{}, err
		}
		if v > math.MaxInt64 {
			return Node{}, fmt.Errorf("%w: negative integer below -2^63", ErrInvalidCBOR)
		}
		return Node{kind: KindInteger, b: true, u: v}, nil

	case majorBytes:
		s, err := d.stringPayload(majorBytes, info)
		if err != nil {
			return Node{}, err
		}
		return Node{kind: KindBytes, s: s}, nil

	case majorText:
		s, err := d.stringPayload(majorText, info)
		if err != nil {
			return Node{}, err
		}
		if !utf8.ValidString(s) {
			return Node{}, fmt.Errorf("%w: text string is not valid UTF-8", ErrInvalidCBOR)
		}
		return Node{kind: KindString, s: s}, nil

	case majorList:
		count, err := d.arg(info)
		if err == indefinite {
			return d.indefiniteList(depth)
		}
		if err != nil {
			return Node{}, err
		}
		if count > uint64(len(d.data)-d.pos) {
			return Node{}, fmt.Errorf("%w: list length %d exceeds remaining input", ErrInvalidCBOR, count)
		}
		list := make([]Node, 0, count)
		for i := uint64(0); i < count; i++ {
			e, err := d.value(depth + 1)
			if err != nil {
				return Node{}, err
			}
			list = append(list, e)
		}
		return Node{kind: KindList, list: list}, nil

	case majorMap:
		count, err := d.arg(info)
		if err == indefinite {
			return d.indefiniteMap(depth)
		}
		if err != nil {
			return Node{}, err
		}
		if count > uint64(len(d.data)-d.pos)/2 {
			return Node{}, fmt.Errorf("%w: map length %d exceeds remaining input", ErrInvalidCBOR, count)
		}
		entries := make([]MapEntry, 0, count)
		for i := uint64(0); i < count; i++ {
			e, err := d.mapEntry(depth)
			if err != nil {
				return Node{}, err
			}
			entries = append(entries, e)
		}
		return finishMap(entries)

	case majorTag:
		tag, err := d.arg(info)
		if err == indefinite {
			return Node{}, fmt.Errorf("%w: indefinite-length tag", ErrInvalidCBOR)
		}
		if err != nil {
			return Node{}, err
		}
		if tag != linkTag {
			return Node{}, fmt.Errorf("%w: unsupported tag %d", ErrInvalidCBOR, tag)
		}
		return d.link(depth)

	default: // majorSimple
		return d.simple(info)
	}
}

func (d *decoder) mapEntry(depth int) (MapEntry, error) {
	head, err := d.byte()
	if err != nil {
		return MapEntry{}, err
	}
	if head == headBreak {
		return MapEntry{}, fmt.Errorf("%w: unexpected break code", ErrInvalidCBOR)
	}
	if head>>5 != majorText {
		return MapEntry{}, fmt.Errorf("%w: map key is not a string", ErrInvalidCBOR)
	}
	key, err := d.stringPayload(majorText, head&0x1f)
	if err != nil {
		return MapEntry{}, err
	}
	if !utf8.ValidString(key) {
		return MapEntry{}, fmt.Errorf("%w: map key is not valid UTF-8", ErrInvalidCBOR)
	}
	value, err := d.value(depth + 1)
	if err != nil {
		return MapEntry{}, err
	}
	return MapEntry{Key: key, Value: value}, nil
}

// finishMap sorts decoded entries into canonical order and rejects
// duplicate keys.
func finishMap(entries []MapEntry) (Node, error) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	for i := 1; i < len(entries); i++ {
		if entries[i].Key == entries[i-1].Key {
			return Node{}, fmt.Errorf("%w: duplicate map key %q", ErrInvalidCBOR, entries[i].Key)
		}
	}
	return Node{kind: KindMap, m: entries}, nil
}

func (d *decoder) indefiniteList(depth int) (Node, error) {
	var list []Node
	for {
		if d.pos < len(d.data) && d.data[d.pos] == headBreak {
			d.pos++
			return Node{kind: KindList, list: list}, nil
		}
		e, err := d.value(depth + 1)
		if err != nil {
			return Node{}, err
		}
		list = append(list, e)
	}
}

func (d *decoder) indefiniteMap(depth int) (Node, error) {
	var entries []MapEntry
	for {
		if d.pos < len(d.data) && d.data[d.pos] == headBreak {
			d.pos++
			return finishMap(entries)
		}
		if d.pos >= len(d.data) {
			return Node{}, fmt.Errorf("%w: truncated input", ErrInvalidCBOR)
		}
		e, err := d.mapEntry(depth)
		if err != nil {
			return Node{}, err
		}
		entries = append(entries, e)
	}
}

// stringPayload reads a definite or indefinite byte or text string
// body. Chunks of an indefinite string must themselves be definite
// and share the outer major type.
func (d *decoder) stringPayload(major byte, info byte) (string, error) {
	length, err := d.arg(info)
	if err == indefinite {
		return d.chunkedString(major)
	}
	if err != nil {
		return "", err
	}
	p, err := d.take(length)
	if err != nil {
		return "", err
	}
	return string(p), nil
}

func (d *decoder) chunkedString(major byte) (string, error) {
	var parts []byte
	for {
		head, err := d.byte()
		if err != nil {
			return "", err
		}
		if head == headBreak {
			return string(parts), nil
		}
		if head>>5 != major {
			return "", fmt.Errorf("%w: chunk major type %d inside indefinite string of type %d",
				ErrInvalidCBOR, head>>5, major)
		}
		length, err := d.arg(head & 0x1f)
		if err == indefinite {
			return "", fmt.Errorf("%w: nested indefinite string", ErrInvalidCBOR)
		}
		if err != nil {
			return "", err
		}
		p, err := d.take(length)
		if err != nil {
			return "", err
		}
		parts = append(parts, p...)
	}
}

func (d *decoder) link(depth int) (Node, error) {
	if depth+1 > d.maxDepth {
		return Node{}, fmt.Errorf("%w: nesting exceeds depth %d", ErrInvalidCBOR, d.maxDepth)
	}
	head, err := d.byte()
	if err != nil {
		return Node{}, err
	}
	if head>>5 != majorBytes {
		return Node{}, fmt.Errorf("%w: tag 42 content is not a byte string", ErrInvalidCBOR)
	}
	payload, err := d.stringPayload(majorBytes, head&0x1f)
	if err != nil {
		return Node{}, err
	}
	if len(payload) == 0 || payload[0] != 0x00 {
		return Node{}, fmt.Errorf("%w: tag 42 payload missing multibase identity prefix", ErrInvalidCBOR)
	}
	c, err := cid.FromBytes([]byte(payload[1:]))
	if err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidCBOR, err)
	}
	return Link(c), nil
}

func (d *decoder) simple(info byte) (Node, error) {
	switch info {
	case 20:
		return Bool(false), nil
	case 21:
		return Bool(true), nil
	case 22:
		return Null(), nil
	case 23:
		return Undefined(), nil
	case 25:
		p, err := d.take(2)
		if err != nil {
			return Node{}, err
		}
		return Float(float64(float16.Frombits(binary.BigEndian.Uint16(p)).Float32())), nil
	case 26:
		p, err := d.take(4)
		if err != nil {
			return Node{}, err
		}
		return Float(float64(math.Float32frombits(binary.BigEndian.Uint32(p)))), nil
	case 27:
		p, err := d.take(8)
		if err != nil {
			return Node{}, err
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(p))), nil
	case 28, 29, 30:
		return Node{}, fmt.Errorf("%w: reserved additional info %d", ErrInvalidCBOR, info)
	default:
		return Node{}, fmt.Errorf("%w: unsupported simple value %d", ErrInvalidCBOR, info)
	}
}
