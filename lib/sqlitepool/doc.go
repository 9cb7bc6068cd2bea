// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by the
// relational store backend.
//
// It wraps zombiezen.com/go/sqlite with the pragmas the backend
// depends on: WAL journal mode so readers never block the writer,
// NORMAL synchronous for process-crash durability without
// fsync-per-commit overhead, memory-mapped reads, and a busy timeout
// so write contention surfaces as a delay instead of an immediate
// SQLITE_BUSY.
//
// The pool is built on sqlitex.Pool, which manages a fixed-size set
// of connections. Callers [Pool.Take] a connection, perform work, and
// [Pool.Put] it back. Connections are NOT safe for concurrent use;
// each goroutine holds its own connection for the duration of its
// work, which gives every thread of execution its own transaction
// scope.
//
// The package is intentionally thin: it applies pragmas and exposes
// the zombiezen types directly. Callers write SQL, use
// sqlitex.Execute for cached statements, and manage transactions with
// sqlitex.ImmediateTransaction. There is no query builder and no
// abstraction over SQLite's connection model.
package sqlitepool
