// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package stores assembles the default backend registry. Commands use
// it to open a store from a URI without naming backends directly.
//
// Registered schemes:
//
//	sqlite:   relational backend (sqlite:path/to.db)
//	rocksdb:  key-value backend (rocksdb:path/to/dir)
//	car:      read-only archive backend (car:path/to.car)
//	http:     remote server (http://host:port)
//	https:    remote server over TLS
package stores

import (
	"github.com/memodb-foundation/memodb/lib/carstore"
	"github.com/memodb-foundation/memodb/lib/httpstore"
	"github.com/memodb-foundation/memodb/lib/pebblestore"
	"github.com/memodb-foundation/memodb/lib/sqlitestore"
	"github.com/memodb-foundation/memodb/lib/store"
)

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *store.Registry {
	r := store.NewRegistry()
	r.Register("sqlite", sqlitestore.OpenURI)
	r.Register("rocksdb", pebblestore.OpenURI)
	r.Register("car", carstore.OpenURI)
	r.Register("http", httpstore.OpenURI)
	r.Register("https", httpstore.OpenURI)
	return r
}

// Open opens a store URI against the default registry.
func Open(uri string, opts store.Options) (store.Store, error) {
	return DefaultRegistry().Open(uri, opts)
}
