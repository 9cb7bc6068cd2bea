// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitestore

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustPut(t *testing.T, s store.Store, n node.Node) cid.CID {
	t.Helper()
	c, err := s.Put(n)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return c
}

// countRows runs a bare count query on the backing database.
func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var count int
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT count(*) FROM "+table,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					count = stmt.ColumnInt(0)
					return nil
				},
			})
	})
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func TestPutGetRoundtrip(t *testing.T) {
	s := openTest(t)
	n := node.Map(
		node.MapEntry{Key: "kind", Value: node.String("greeting")},
		node.MapEntry{Key: "text", Value: node.String("hello world, stored for good")},
	)
	c := mustPut(t, s, n)

	if !strings.HasPrefix(c.String(), "b") {
		t.Errorf("CID text = %q, want base32 b prefix", c.String())
	}
	got, err := s.Get(c)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(n) {
		t.Errorf("Get = %v, want %v", got, n)
	}
}

func TestPutIdempotent(t *testing.T) {
	s := openTest(t)
	n := node.List(node.String("the same value twice over"), node.Int(42))
	c1 := mustPut(t, s, n)
	c2 := mustPut(t, s, n)
	if !c1.Equal(c2) {
		t.Fatalf("repeat Put derived %v then %v", c1, c2)
	}
	if count := countRows(t, s, "blocks"); count != 1 {
		t.Errorf("blocks rows = %d, want 1", count)
	}
}

func TestIdentityPutWritesNothing(t *testing.T) {
	s := openTest(t)
	n := node.Bytes([]byte("short"))
	c := mustPut(t, s, n)

	if !c.IsIdentity() {
		t.Fatal("small raw content should mint an identity CID")
	}
	if count := countRows(t, s, "blocks"); count != 0 {
		t.Errorf("identity put wrote %d block rows", count)
	}
	got, err := s.Get(c)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b, _ := got.AsBytes(); !bytes.Equal(b, []byte("short")) {
		t.Errorf("identity Get = %v", got)
	}
	if ok, err := s.Has(c); err != nil || !ok {
		t.Errorf("Has(identity) = %v, %v; want true", ok, err)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTest(t)
	c := cid.New(cid.DagCBOR, bytes.Repeat([]byte("absent"), 10))
	if _, err := s.Get(c); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	n, found, err := s.GetOptional(c)
	if err != nil || found {
		t.Errorf("GetOptional(missing) = %v, %v, %v", n, found, err)
	}
	if ok, err := s.Has(c); err != nil || ok {
		t.Errorf("Has(missing) = %v, %v; want false", ok, err)
	}
}

func TestHeads(t *testing.T) {
	s := openTest(t)
	c1 := mustPut(t, s, node.String("the first bound value here"))
	c2 := mustPut(t, s, node.String("the second bound value here"))

	if err := s.Set(name.Head("latest"), c1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Resolve(name.Head("latest"))
	if err != nil || !got.Equal(c1) {
		t.Fatalf("Resolve = %v, %v; want %v", got, err, c1)
	}

	// Rebinding overwrites.
	if err := s.Set(name.Head("latest"), c2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := s.Resolve(name.Head("latest")); !got.Equal(c2) {
		t.Errorf("rebound head resolves to %v, want %v", got, c2)
	}

	if err := s.Set(name.Head("release/v1"), c1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var order []string
	err = s.EachHead(func(head string, c cid.CID) error {
		order = append(order, head)
		return nil
	})
	if err != nil {
		t.Fatalf("EachHead: %v", err)
	}
	if len(order) != 2 || order[0] != "latest" || order[1] != "release/v1" {
		t.Errorf("head order = %v", order)
	}

	if err := s.HeadDelete("latest"); err != nil {
		t.Fatalf("HeadDelete: %v", err)
	}
	if _, err := s.Resolve(name.Head("latest")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted head error = %v, want ErrNotFound", err)
	}
	if err := s.HeadDelete("never-existed"); err != nil {
		t.Errorf("deleting an absent head should succeed: %v", err)
	}
}

func TestEachHeadStopsEarly(t *testing.T) {
	s := openTest(t)
	c := mustPut(t, s, node.String("a value for several heads"))
	for _, h := range []string{"a", "b", "c"} {
		if err := s.Set(name.Head(h), c); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	seen := 0
	err := s.EachHead(func(head string, c cid.CID) error {
		seen++
		return store.ErrStop
	})
	if err != nil || seen != 1 {
		t.Errorf("EachHead stop: err = %v, seen = %d", err, seen)
	}
}

func TestResolveCIDName(t *testing.T) {
	s := openTest(t)
	c := cid.New(cid.Raw, []byte("self"))
	got, err := s.Resolve(name.CID(c))
	if err != nil || !got.Equal(c) {
		t.Errorf("Resolve(/cid/...) = %v, %v; want the CID itself", got, err)
	}
}

func TestSetRejectsCIDName(t *testing.T) {
	s := openTest(t)
	c := cid.New(cid.Raw, []byte("x"))
	if err := s.Set(name.CID(c), c); !errors.Is(err, store.ErrInvalidName) {
		t.Errorf("Set(/cid/...) error = %v, want ErrInvalidName", err)
	}
}

func TestCalls(t *testing.T) {
	s := openTest(t)
	a := mustPut(t, s, node.String("argument one with some length"))
	b := mustPut(t, s, node.String("argument two with some length"))
	r := mustPut(t, s, node.String("a computed result of the call"))

	if err := s.Set(name.Call("fn", a, b), r); err != nil {
		t.Fatalf("Set call: %v", err)
	}
	got, err := s.Resolve(name.Call("fn", a, b))
	if err != nil || !got.Equal(r) {
		t.Fatalf("Resolve call = %v, %v; want %v", got, err, r)
	}
	if _, err := s.Resolve(name.Call("fn", b, a)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("argument order must distinguish entries: %v", err)
	}

	entries, err := store.ListCalls(s, "fn")
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(entries) != 1 || !entries[0].Result.Equal(r) {
		t.Fatalf("ListCalls = %v", entries)
	}
	if len(entries[0].Args) != 2 || !entries[0].Args[0].Equal(a) || !entries[0].Args[1].Equal(b) {
		t.Errorf("call args = %v", entries[0].Args)
	}

	funcs, err := s.ListFuncs()
	if err != nil {
		t.Fatalf("ListFuncs: %v", err)
	}
	if len(funcs) != 1 || funcs[0] != "fn" {
		t.Errorf("ListFuncs = %v", funcs)
	}

	if err := s.CallInvalidate("fn"); err != nil {
		t.Fatalf("CallInvalidate: %v", err)
	}
	if _, err := s.Resolve(name.Call("fn", a, b)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("invalidated call error = %v, want ErrNotFound", err)
	}
	if funcs, _ := s.ListFuncs(); len(funcs) != 0 {
		t.Errorf("ListFuncs after invalidate = %v", funcs)
	}
}

func TestLegacyArgsKeyRows(t *testing.T) {
	s := openTest(t)
	a := mustPut(t, s, node.String("legacy argument value aaaa"))
	r := mustPut(t, s, node.String("legacy result value rrrrrr"))

	// Databases written by older tools carry a NULL args blob.
	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"INSERT INTO calls (func, args_key, args, result) VALUES (?, ?, NULL, ?)",
			&sqlitex.ExecOptions{Args: []any{"old", a.String(), r.Bytes()}})
	})
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	got, err := s.Resolve(name.Call("old", a))
	if err != nil || !got.Equal(r) {
		t.Fatalf("Resolve legacy call = %v, %v; want %v", got, err, r)
	}
	entries, err := store.ListCalls(s, "old")
	if err != nil {
		t.Fatalf("ListCalls: %v", err)
	}
	if len(entries) != 1 || len(entries[0].Args) != 1 || !entries[0].Args[0].Equal(a) {
		t.Errorf("legacy args recovered as %v", entries)
	}
}

func TestNamesUsing(t *testing.T) {
	s := openTest(t)
	child := mustPut(t, s, node.String("a shared child value in the graph"))
	parent := mustPut(t, s, node.Map(
		node.MapEntry{Key: "ref", Value: node.Link(child)},
	))
	other := mustPut(t, s, node.String("an unrelated result value over here"))

	if err := s.Set(name.Head("pin"), child); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(name.Call("derive", child), other); err != nil {
		t.Fatalf("Set call: %v", err)
	}

	users, err := s.NamesUsing(child)
	if err != nil {
		t.Fatalf("NamesUsing: %v", err)
	}
	var haveParent, haveHead, haveCall bool
	for _, u := range users {
		if c, ok := u.AsCID(); ok && c.Equal(parent) {
			haveParent = true
		}
		if h, ok := u.AsHead(); ok && h == "pin" {
			haveHead = true
		}
		if fn, _, ok := u.AsCall(); ok && fn == "derive" {
			haveCall = true
		}
	}
	if !haveParent || !haveHead || !haveCall {
		t.Errorf("NamesUsing = %v; parent %v head %v call %v",
			users, haveParent, haveHead, haveCall)
	}

	users, err = s.NamesUsing(other)
	if err != nil {
		t.Fatalf("NamesUsing: %v", err)
	}
	for _, u := range users {
		if _, ok := u.AsCID(); ok {
			t.Errorf("no parent links %v, got %v", other, u)
		}
	}
}

func TestCorruptBlockDetected(t *testing.T) {
	s := openTest(t)
	c := mustPut(t, s, node.String("content that will be tampered with"))

	err := s.withConn(func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"UPDATE blocks SET content = ? WHERE cid = ?",
			&sqlitex.ExecOptions{Args: []any{[]byte("garbage"), c.Bytes()}})
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := s.Get(c); !errors.Is(err, store.ErrCorrupt) {
		t.Errorf("Get(tampered) error = %v, want ErrCorrupt", err)
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")

	s, err := Open(path, store.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	n := node.String("a value that survives reopening")
	c := mustPut(t, s, n)
	if err := s.Set(name.Head("keep"), c); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path, store.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(c)
	if err != nil || !got.Equal(n) {
		t.Errorf("Get after reopen = %v, %v", got, err)
	}
	if bound, err := s2.Resolve(name.Head("keep")); err != nil || !bound.Equal(c) {
		t.Errorf("Resolve after reopen = %v, %v", bound, err)
	}
}

func TestOpenURI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uri.db")
	u, err := name.ParseURI("sqlite:" + path)
	if err != nil {
		t.Fatalf("ParseURI: %v", err)
	}
	s, err := OpenURI(u, store.Options{})
	if err != nil {
		t.Fatalf("OpenURI: %v", err)
	}
	defer s.Close()
	if _, err := s.Put(node.String("opened through the registry form")); err != nil {
		t.Errorf("Put: %v", err)
	}

	bad, err := name.ParseURI("sqlite:")
	if err == nil {
		if _, err := OpenURI(bad, store.Options{}); !errors.Is(err, store.ErrInvalidURI) {
			t.Errorf("empty path error = %v, want ErrInvalidURI", err)
		}
	}
}
