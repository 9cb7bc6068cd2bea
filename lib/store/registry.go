// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/memodb-foundation/memodb/lib/name"
)

// Options carries cross-backend open parameters.
type Options struct {
	// Logger receives backend diagnostics. Nil discards.
	Logger *slog.Logger
}

// LoggerOrDiscard returns the configured logger, never nil.
func (o Options) LoggerOrDiscard() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// OpenFunc constructs a backend from a parsed store URI.
type OpenFunc func(u *name.URI, opts Options) (Store, error)

// Registry maps URI schemes to backend constructors. Construct one
// explicitly and pass it through the call graph; there is no ambient
// global registry.
type Registry struct {
	schemes map[string]OpenFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemes: make(map[string]OpenFunc)}
}

// Register binds a scheme to a constructor. Later registrations for
// the same scheme win.
func (r *Registry) Register(scheme string, open OpenFunc) {
	r.schemes[scheme] = open
}

// Open parses uri, dispatches on its scheme, and constructs the
// backend.
func (r *Registry) Open(uri string, opts Options) (Store, error) {
	u, err := name.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	open, ok := r.schemes[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no backend for scheme %q", ErrInvalidURI, u.Scheme)
	}
	return open(u, opts)
}
