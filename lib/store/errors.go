// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
)

// Error kinds shared by every backend. Callers classify failures with
// errors.Is; backends wrap these with context via fmt.Errorf and %w.
var (
	// ErrNotFound reports an absent CID or an unbound Name.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly reports a write against a read-only backend.
	ErrReadOnly = errors.New("store is read-only")

	// ErrBusy reports transient backend contention. It is the only
	// kind retried internally; see Retry.
	ErrBusy = errors.New("backend busy")

	// ErrCorrupt reports a structural or checksum mismatch, such as a
	// stored block whose recomputed CID disagrees with its key. Never
	// retried.
	ErrCorrupt = errors.New("store corrupt")
)

// Grammar and codec errors surface under the sentinels of the
// packages that detect them.
var (
	ErrInvalidURI  = name.ErrInvalidURI
	ErrInvalidName = name.ErrInvalidName
	ErrInvalidCID  = cid.ErrInvalid
	ErrInvalidCBOR = node.ErrInvalidCBOR
)

// ErrStop short-circuits an enumeration when returned from an
// EachHead or EachCall callback. The enumeration returns nil.
var ErrStop = errors.New("stop enumeration")
