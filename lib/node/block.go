// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"fmt"

	"github.com/memodb-foundation/memodb/lib/cid"
)

// EncodeBlock encodes n and derives its CID. Byte-string Nodes use
// the raw codec, everything else dag-cbor. When the CID inlines the
// content (identity multihash) the returned payload is nil: there is
// nothing to store.
func EncodeBlock(n Node) (cid.CID, []byte, error) {
	codec := cid.DagCBOR
	var content []byte
	if b, ok := n.AsBytes(); ok {
		codec = cid.Raw
		content = b
	} else {
		var err error
		content, err = n.Encode()
		if err != nil {
			return cid.CID{}, nil, err
		}
	}
	c := cid.New(codec, content)
	if c.IsIdentity() {
		return c, nil, nil
	}
	return c, content, nil
}

// DecodeBlock decodes stored content addressed by c. Identity CIDs
// carry their content in the digest, so content may be nil for them.
func DecodeBlock(c cid.CID, content []byte) (Node, error) {
	if c.IsIdentity() {
		content = c.Digest()
	}
	switch c.Codec() {
	case cid.Raw:
		return Bytes(content), nil
	case cid.DagCBOR:
		return Decode(content)
	default:
		return Node{}, fmt.Errorf("%w: unsupported codec %#x", cid.ErrInvalid, uint64(c.Codec()))
	}
}

// CIDOf derives the CID of n without retaining the encoded bytes.
func CIDOf(n Node) (cid.CID, error) {
	c, _, err := EncodeBlock(n)
	return c, err
}
