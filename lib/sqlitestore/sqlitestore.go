// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitestore implements the store contract over a single
// SQLite database file.
//
// The schema is the persisted contract:
//
//	blocks(cid BLOB PRIMARY KEY, content BLOB NOT NULL)
//	heads(name TEXT PRIMARY KEY, cid BLOB NOT NULL)
//	calls(func TEXT, args_key TEXT, args BLOB, result BLOB NOT NULL,
//	      PRIMARY KEY(func, args_key))
//	refs(parent_cid BLOB, child_cid BLOB,
//	     PRIMARY KEY(parent_cid, child_cid))
//
// args_key is the slash-joined base32 text of the argument CIDs;
// databases written by older tools carry only args_key, so the args
// column is nullable and readers fall back to parsing the key. refs
// rows are derived during Put by walking the value for links, which
// makes NamesUsing complete for this backend.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/sqlitepool"
	"github.com/memodb-foundation/memodb/lib/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	cid     BLOB PRIMARY KEY,
	content BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS heads (
	name TEXT PRIMARY KEY,
	cid  BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS calls (
	func     TEXT NOT NULL,
	args_key TEXT NOT NULL,
	args     BLOB,
	result   BLOB NOT NULL,
	PRIMARY KEY (func, args_key)
);
CREATE TABLE IF NOT EXISTS refs (
	parent_cid BLOB NOT NULL,
	child_cid  BLOB NOT NULL,
	PRIMARY KEY (parent_cid, child_cid)
);
CREATE INDEX IF NOT EXISTS refs_by_child ON refs (child_cid);
CREATE INDEX IF NOT EXISTS heads_by_cid ON heads (cid);
CREATE INDEX IF NOT EXISTS calls_by_result ON calls (result);
`

// Store is the relational backend. Safe for concurrent use; each
// operation borrows its own pooled connection and runs in a short
// transaction.
type Store struct {
	pool *sqlitepool.Pool
}

// Open creates or opens the database at path and ensures the schema.
func Open(path string, opts store.Options) (*Store, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: opts.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// OpenURI opens from a parsed sqlite: URI. Registered in the default
// backend registry.
func OpenURI(u *name.URI, opts store.Options) (store.Store, error) {
	path := u.Path()
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite URI has no path", store.ErrInvalidURI)
	}
	return Open(path, opts)
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.pool.Close() }

// mapErr converts SQLite result codes into store error kinds.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch sqlite.ErrCode(err) {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return fmt.Errorf("%w: %v", store.ErrBusy, err)
	case sqlite.ResultCorrupt, sqlite.ResultNotADB:
		return fmt.Errorf("%w: %v", store.ErrCorrupt, err)
	}
	return err
}

// withConn borrows a connection and runs op, retrying while the
// database reports busy.
func (s *Store) withConn(op func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return store.Retry(func() error { return mapErr(op(conn)) })
}

// Put stores the canonical encoding of n together with its derived
// link rows. Identity CIDs are returned without touching the
// database.
func (s *Store) Put(n node.Node) (cid.CID, error) {
	c, content, err := node.EncodeBlock(n)
	if err != nil {
		return cid.CID{}, err
	}
	if c.IsIdentity() {
		return c, nil
	}
	links := n.Links(nil)
	err = s.withConn(func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)
		err = sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO blocks (cid, content) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{c.Bytes(), content}})
		if err != nil {
			return err
		}
		for _, child := range links {
			if child.IsIdentity() {
				continue
			}
			err = sqlitex.Execute(conn,
				"INSERT OR IGNORE INTO refs (parent_cid, child_cid) VALUES (?, ?)",
				&sqlitex.ExecOptions{Args: []any{c.Bytes(), child.Bytes()}})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return cid.CID{}, err
	}
	return c, nil
}

// Get fetches and decodes the value addressed by c.
func (s *Store) Get(c cid.CID) (node.Node, error) {
	n, found, err := s.GetOptional(c)
	if err != nil {
		return node.Node{}, err
	}
	if !found {
		return node.Node{}, fmt.Errorf("%w: %s", store.ErrNotFound, c)
	}
	return n, nil
}

// GetOptional is Get with absence as a non-error.
func (s *Store) GetOptional(c cid.CID) (node.Node, bool, error) {
	if n, ok, err := store.IdentityNode(c); err != nil || ok {
		return n, ok, err
	}
	var content []byte
	var found bool
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT content FROM blocks WHERE cid = ?",
			&sqlitex.ExecOptions{
				Args: []any{c.Bytes()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					content = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, content)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return node.Node{}, false, err
	}
	if !found {
		return node.Node{}, false, nil
	}
	if err := store.VerifyBlock(c, content); err != nil {
		return node.Node{}, false, err
	}
	n, err := node.DecodeBlock(c, content)
	if err != nil {
		return node.Node{}, false, err
	}
	return n, true, nil
}

// Has reports block presence without fetching content.
func (s *Store) Has(c cid.CID) (bool, error) {
	if c.IsIdentity() {
		return true, nil
	}
	var found bool
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT 1 FROM blocks WHERE cid = ?",
			&sqlitex.ExecOptions{
				Args: []any{c.Bytes()},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					return nil
				},
			})
	})
	return found, err
}

// Resolve maps a Name to its bound CID.
func (s *Store) Resolve(nm name.Name) (cid.CID, error) {
	c, found, err := s.ResolveOptional(nm)
	if err != nil {
		return cid.CID{}, err
	}
	if !found {
		return cid.CID{}, fmt.Errorf("%w: %s", store.ErrNotFound, nm)
	}
	return c, nil
}

// ResolveOptional is Resolve with absence as a non-error.
func (s *Store) ResolveOptional(nm name.Name) (cid.CID, bool, error) {
	if c, ok := nm.AsCID(); ok {
		return c, true, nil
	}
	var (
		query string
		args  []any
	)
	if head, ok := nm.AsHead(); ok {
		query = "SELECT cid FROM heads WHERE name = ?"
		args = []any{head}
	} else {
		fn, callArgs, _ := nm.AsCall()
		query = "SELECT result FROM calls WHERE func = ? AND args_key = ?"
		args = []any{fn, argsKey(callArgs)}
	}
	var (
		result cid.CID
		found  bool
		bad    error
	)
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				raw := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, raw)
				c, err := cid.FromBytes(raw)
				if err != nil {
					bad = fmt.Errorf("%w: stored binding: %v", store.ErrCorrupt, err)
					return bad
				}
				result, found = c, true
				return nil
			},
		})
	})
	if bad != nil {
		return cid.CID{}, false, bad
	}
	if err != nil {
		return cid.CID{}, false, err
	}
	return result, found, nil
}

// Set binds a Head or Call to c.
func (s *Store) Set(nm name.Name, c cid.CID) error {
	if _, ok := nm.AsCID(); ok {
		return fmt.Errorf("%w: cannot bind a CID name", store.ErrInvalidName)
	}
	return s.withConn(func(conn *sqlite.Conn) error {
		if head, ok := nm.AsHead(); ok {
			return sqlitex.Execute(conn,
				"INSERT OR REPLACE INTO heads (name, cid) VALUES (?, ?)",
				&sqlitex.ExecOptions{Args: []any{head, c.Bytes()}})
		}
		fn, callArgs, _ := nm.AsCall()
		argsBlob, err := encodeArgs(callArgs)
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn,
			"INSERT OR REPLACE INTO calls (func, args_key, args, result) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{fn, argsKey(callArgs), argsBlob, c.Bytes()}})
	})
}

// HeadDelete removes a head binding.
func (s *Store) HeadDelete(head string) error {
	return s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"DELETE FROM heads WHERE name = ?",
			&sqlitex.ExecOptions{Args: []any{head}})
	})
}

// CallInvalidate removes every call entry for fn.
func (s *Store) CallInvalidate(fn string) error {
	return s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"DELETE FROM calls WHERE func = ?",
			&sqlitex.ExecOptions{Args: []any{fn}})
	})
}

// EachHead enumerates head bindings in name order.
func (s *Store) EachHead(f func(head string, c cid.CID) error) error {
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT name, cid FROM heads ORDER BY name",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					raw := make([]byte, stmt.ColumnLen(1))
					stmt.ColumnBytes(1, raw)
					c, err := cid.FromBytes(raw)
					if err != nil {
						return fmt.Errorf("%w: stored head: %v", store.ErrCorrupt, err)
					}
					return f(stmt.ColumnText(0), c)
				},
			})
	})
	if errors.Is(err, store.ErrStop) {
		return nil
	}
	return err
}

// ListFuncs returns the function names with call entries.
func (s *Store) ListFuncs() ([]string, error) {
	var funcs []string
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT DISTINCT func FROM calls ORDER BY func",
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					funcs = append(funcs, stmt.ColumnText(0))
					return nil
				},
			})
	})
	return funcs, err
}

// EachCall enumerates the call entries for fn.
func (s *Store) EachCall(fn string, f func(entry store.CallEntry) error) error {
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT args_key, args, result FROM calls WHERE func = ? ORDER BY args_key",
			&sqlitex.ExecOptions{
				Args: []any{fn},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entry, err := scanCall(stmt)
					if err != nil {
						return err
					}
					return f(entry)
				},
			})
	})
	if errors.Is(err, store.ErrStop) {
		return nil
	}
	return err
}

// NamesUsing reports parents, heads, and calls referencing c. The
// refs table makes this complete for blocks written by this backend.
func (s *Store) NamesUsing(c cid.CID) ([]name.Name, error) {
	var out []name.Name
	raw := c.Bytes()
	text := c.String()
	err := s.withConn(func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"SELECT parent_cid FROM refs WHERE child_cid = ?",
			&sqlitex.ExecOptions{
				Args: []any{raw},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					buf := make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, buf)
					parent, err := cid.FromBytes(buf)
					if err != nil {
						return fmt.Errorf("%w: stored ref: %v", store.ErrCorrupt, err)
					}
					out = append(out, name.CID(parent))
					return nil
				},
			})
		if err != nil {
			return err
		}
		err = sqlitex.Execute(conn,
			"SELECT name FROM heads WHERE cid = ?",
			&sqlitex.ExecOptions{
				Args: []any{raw},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					out = append(out, name.Head(stmt.ColumnText(0)))
					return nil
				},
			})
		if err != nil {
			return err
		}
		// Candidate rows by result match or textual containment in
		// args_key; exact membership is re-checked in Go so a CID
		// that happens to be a substring of another never leaks in.
		return sqlitex.Execute(conn,
			"SELECT func, args_key, args, result FROM calls WHERE result = ? OR instr(args_key, ?) > 0",
			&sqlitex.ExecOptions{
				Args: []any{raw, text},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					entry, err := scanCallAt(stmt, 1)
					if err != nil {
						return err
					}
					if entry.Result != c && !containsCID(entry.Args, c) {
						return nil
					}
					out = append(out, name.Call(stmt.ColumnText(0), entry.Args...))
					return nil
				},
			})
	})
	return out, err
}

func containsCID(args []cid.CID, c cid.CID) bool {
	for _, a := range args {
		if a == c {
			return true
		}
	}
	return false
}

// argsKey renders the legacy slash-joined textual argument key.
func argsKey(args []cid.CID) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, "/")
}

// encodeArgs stores the argument CIDs as a canonical list of links,
// the authoritative binary form next to the legacy text key.
func encodeArgs(args []cid.CID) ([]byte, error) {
	elems := make([]node.Node, len(args))
	for i, a := range args {
		elems[i] = node.Link(a)
	}
	return node.List(elems...).Encode()
}

func decodeArgs(blob []byte) ([]cid.CID, error) {
	n, err := node.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: stored args: %v", store.ErrCorrupt, err)
	}
	args := make([]cid.CID, 0, n.Len())
	for i := 0; i < n.Len(); i++ {
		c, ok := n.At(i).AsLink()
		if !ok {
			return nil, fmt.Errorf("%w: stored args element is not a link", store.ErrCorrupt)
		}
		args = append(args, c)
	}
	return args, nil
}

// parseArgsKey recovers argument CIDs from the legacy slash-joined
// text form.
func parseArgsKey(key string) ([]cid.CID, error) {
	if key == "" {
		return nil, nil
	}
	parts := strings.Split(key, "/")
	args := make([]cid.CID, len(parts))
	for i, part := range parts {
		c, err := cid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("%w: stored args_key: %v", store.ErrCorrupt, err)
		}
		args[i] = c
	}
	return args, nil
}

// scanCall reads (args_key, args, result) columns starting at 0.
func scanCall(stmt *sqlite.Stmt) (store.CallEntry, error) {
	return scanCallAt(stmt, 0)
}

// scanCallAt reads an (args_key, args, result) column triple starting
// at base. Legacy rows have a NULL args blob and fall back to the
// text key.
func scanCallAt(stmt *sqlite.Stmt, base int) (store.CallEntry, error) {
	var entry store.CallEntry
	if stmt.ColumnLen(base+1) > 0 {
		blob := make([]byte, stmt.ColumnLen(base+1))
		stmt.ColumnBytes(base+1, blob)
		args, err := decodeArgs(blob)
		if err != nil {
			return store.CallEntry{}, err
		}
		entry.Args = args
	} else {
		args, err := parseArgsKey(stmt.ColumnText(base))
		if err != nil {
			return store.CallEntry{}, err
		}
		entry.Args = args
	}
	raw := make([]byte, stmt.ColumnLen(base+2))
	stmt.ColumnBytes(base+2, raw)
	result, err := cid.FromBytes(raw)
	if err != nil {
		return store.CallEntry{}, fmt.Errorf("%w: stored result: %v", store.ErrCorrupt, err)
	}
	entry.Result = result
	return entry, nil
}
