// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package cid

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Multibase identifies the textual alphabet of an encoded binary
// value. The value is the single prefix byte that precedes the
// encoded text.
type Multibase byte

const (
	// Base16 is lowercase hexadecimal, prefix 'f'.
	Base16 Multibase = 'f'
	// Base16Upper is uppercase hexadecimal, prefix 'F'.
	Base16Upper Multibase = 'F'
	// Base32 is unpadded lowercase RFC 4648 base32, prefix 'b'. This
	// is the default textual form for CIDs.
	Base32 Multibase = 'b'
	// Base32Upper is unpadded uppercase RFC 4648 base32, prefix 'B'.
	Base32Upper Multibase = 'B'
	// Base64 is unpadded RFC 4648 base64, prefix 'm'.
	Base64 Multibase = 'm'
	// Base64URL is unpadded RFC 4648 base64url, prefix 'u'. Its
	// alphabet is safe in URI path segments; Name paths emit Base32.
	Base64URL Multibase = 'u'
)

var (
	base32Lower = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)
	base32Upper = base32.StdEncoding.WithPadding(base32.NoPadding)
)

// EncodeMultibase encodes data in the given multibase, including the
// prefix byte.
func EncodeMultibase(base Multibase, data []byte) (string, error) {
	var body string
	switch base {
	case Base16:
		body = hex.EncodeToString(data)
	case Base16Upper:
		body = strings.ToUpper(hex.EncodeToString(data))
	case Base32:
		body = base32Lower.EncodeToString(data)
	case Base32Upper:
		body = base32Upper.EncodeToString(data)
	case Base64:
		body = base64.RawStdEncoding.EncodeToString(data)
	case Base64URL:
		body = base64.RawURLEncoding.EncodeToString(data)
	default:
		return "", fmt.Errorf("%w: unsupported multibase %q", ErrInvalid, byte(base))
	}
	return string(base) + body, nil
}

// DecodeMultibase decodes a multibase-prefixed string. Any recognized
// prefix is accepted regardless of which base the emitter prefers.
func DecodeMultibase(text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty multibase string", ErrInvalid)
	}
	base := Multibase(text[0])
	body := text[1:]
	var (
		data []byte
		err  error
	)
	switch base {
	case Base16:
		data, err = hex.DecodeString(body)
	case Base16Upper:
		data, err = hex.DecodeString(strings.ToLower(body))
	case Base32:
		data, err = base32Lower.DecodeString(body)
	case Base32Upper:
		data, err = base32Upper.DecodeString(body)
	case Base64:
		data, err = base64.RawStdEncoding.DecodeString(body)
	case Base64URL:
		data, err = base64.RawURLEncoding.DecodeString(body)
	default:
		return nil, fmt.Errorf("%w: unknown multibase prefix %q", ErrInvalid, byte(base))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return data, nil
}
