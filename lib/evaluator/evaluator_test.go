// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package evaluator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

// memStore backs the evaluator under test.
type memStore struct {
	mu     sync.Mutex
	blocks map[cid.CID][]byte
	heads  map[string]cid.CID
	calls  map[string]map[string]store.CallEntry
}

func newMemStore() *memStore {
	return &memStore{
		blocks: make(map[cid.CID][]byte),
		heads:  make(map[string]cid.CID),
		calls:  make(map[string]map[string]store.CallEntry),
	}
}

func (m *memStore) Put(n node.Node) (cid.CID, error) {
	c, payload, err := node.EncodeBlock(n)
	if err != nil {
		return cid.CID{}, err
	}
	if payload != nil {
		m.mu.Lock()
		m.blocks[c] = payload
		m.mu.Unlock()
	}
	return c, nil
}

func (m *memStore) Get(c cid.CID) (node.Node, error) {
	if n, ok, err := store.IdentityNode(c); err != nil || ok {
		return n, err
	}
	m.mu.Lock()
	payload, ok := m.blocks[c]
	m.mu.Unlock()
	if !ok {
		return node.Node{}, store.ErrNotFound
	}
	return node.DecodeBlock(c, payload)
}

func (m *memStore) GetOptional(c cid.CID) (node.Node, bool, error) {
	n, err := m.Get(c)
	if errors.Is(err, store.ErrNotFound) {
		return node.Node{}, false, nil
	}
	return n, err == nil, err
}

func (m *memStore) Has(c cid.CID) (bool, error) {
	if c.IsIdentity() {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blocks[c]
	return ok, nil
}

func (m *memStore) Resolve(nm name.Name) (cid.CID, error) {
	c, ok, err := m.ResolveOptional(nm)
	if err != nil {
		return cid.CID{}, err
	}
	if !ok {
		return cid.CID{}, store.ErrNotFound
	}
	return c, nil
}

func (m *memStore) ResolveOptional(nm name.Name) (cid.CID, bool, error) {
	if c, ok := nm.AsCID(); ok {
		return c, true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if head, ok := nm.AsHead(); ok {
		c, ok := m.heads[head]
		return c, ok, nil
	}
	fn, _, _ := nm.AsCall()
	entry, ok := m.calls[fn][nm.String()]
	return entry.Result, ok, nil
}

func (m *memStore) Set(nm name.Name, c cid.CID) error {
	if _, ok := nm.AsCID(); ok {
		return store.ErrInvalidName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if head, ok := nm.AsHead(); ok {
		m.heads[head] = c
		return nil
	}
	fn, args, _ := nm.AsCall()
	if m.calls[fn] == nil {
		m.calls[fn] = make(map[string]store.CallEntry)
	}
	m.calls[fn][nm.String()] = store.CallEntry{Args: args, Result: c}
	return nil
}

func (m *memStore) HeadDelete(head string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.heads, head)
	return nil
}

func (m *memStore) CallInvalidate(fn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.calls, fn)
	return nil
}

func (m *memStore) EachHead(f func(head string, c cid.CID) error) error {
	m.mu.Lock()
	heads := make([]string, 0, len(m.heads))
	for h := range m.heads {
		heads = append(heads, h)
	}
	sort.Strings(heads)
	snapshot := make(map[string]cid.CID, len(m.heads))
	for h, c := range m.heads {
		snapshot[h] = c
	}
	m.mu.Unlock()
	for _, h := range heads {
		if err := f(h, snapshot[h]); err != nil {
			if err == store.ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *memStore) ListFuncs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	funcs := make([]string, 0, len(m.calls))
	for fn := range m.calls {
		funcs = append(funcs, fn)
	}
	sort.Strings(funcs)
	return funcs, nil
}

func (m *memStore) EachCall(fn string, f func(entry store.CallEntry) error) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.calls[fn]))
	for k := range m.calls[fn] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]store.CallEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, m.calls[fn][k])
	}
	m.mu.Unlock()
	for _, entry := range entries {
		if err := f(entry); err != nil {
			if err == store.ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *memStore) NamesUsing(c cid.CID) ([]name.Name, error) { return nil, nil }

func (m *memStore) Close() error { return nil }

func newTestEvaluator(t *testing.T) (*Evaluator, *memStore) {
	t.Helper()
	s := newMemStore()
	return New(Config{Store: s}), s
}

func argRef(t *testing.T, e *Evaluator, n node.Node) *store.NodeRef {
	t.Helper()
	ref := store.NewNodeRef(e.Store(), n)
	if err := ref.FreeNode(); err != nil {
		t.Fatalf("storing argument: %v", err)
	}
	return ref
}

func TestEvaluateComputesAndCaches(t *testing.T) {
	e, s := newTestEvaluator(t)
	var invocations atomic.Int64
	e.Register("double", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		invocations.Add(1)
		n, err := args[0].Node()
		if err != nil {
			return Result{}, err
		}
		v, _ := n.AsInt()
		return NodeResult(node.Int(v * 2)), nil
	})

	arg := argRef(t, e, node.Int(21))
	ref, err := e.Evaluate("double", arg)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	n, err := ref.Node()
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if v, _ := n.AsInt(); v != 42 {
		t.Errorf("result = %v, want 42", n)
	}

	// The second evaluation must come from the call cache.
	ref2, err := e.Evaluate("double", arg)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	c1, _ := ref.CID()
	c2, _ := ref2.CID()
	if !c1.Equal(c2) {
		t.Errorf("cached result CID %v differs from computed %v", c2, c1)
	}
	if got := invocations.Load(); got != 1 {
		t.Errorf("function ran %d times, want 1", got)
	}

	// The binding survives in the store itself.
	argCID, _ := arg.CID()
	bound, err := s.Resolve(name.Call("double", argCID))
	if err != nil || !bound.Equal(c1) {
		t.Errorf("stored call entry = %v, %v; want %v", bound, err, c1)
	}
}

func TestEvaluateDistinguishesArguments(t *testing.T) {
	e, _ := newTestEvaluator(t)
	e.Register("double", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		n, err := args[0].Node()
		if err != nil {
			return Result{}, err
		}
		v, _ := n.AsInt()
		return NodeResult(node.Int(v * 2)), nil
	})

	ref1, err := e.Evaluate("double", argRef(t, e, node.Int(2)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	ref2, err := e.Evaluate("double", argRef(t, e, node.Int(3)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	n1, _ := ref1.Node()
	n2, _ := ref2.Node()
	v1, _ := n1.AsInt()
	v2, _ := n2.AsInt()
	if v1 != 4 || v2 != 6 {
		t.Errorf("results = %d, %d; want 4, 6", v1, v2)
	}
}

func TestConcurrentCallersShareOneComputation(t *testing.T) {
	e, _ := newTestEvaluator(t)
	var invocations atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	e.Register("slow", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		if invocations.Add(1) == 1 {
			close(started)
		}
		<-release
		return NodeResult(node.String("the shared computation output")), nil
	})

	arg := argRef(t, e, node.Int(1))
	const callers = 8
	var wg sync.WaitGroup
	results := make([]cid.CID, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ref, err := e.Evaluate("slow", arg)
			if err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = ref.CID()
		}(i)
	}
	<-started
	// Give the rest of the callers time to join the in-flight future.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !results[i].Equal(results[0]) {
			t.Errorf("caller %d got %v, want %v", i, results[i], results[0])
		}
	}
	if got := invocations.Load(); got != 1 {
		t.Errorf("function ran %d times for %d callers, want 1", got, callers)
	}
}

func TestFailedEvaluationIsNotCached(t *testing.T) {
	e, s := newTestEvaluator(t)
	var invocations atomic.Int64
	boom := errors.New("transient failure")
	e.Register("flaky", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		if invocations.Add(1) == 1 {
			return Result{}, boom
		}
		return NodeResult(node.String("recovered on the second attempt")), nil
	})

	arg := argRef(t, e, node.Int(1))
	if _, err := e.Evaluate("flaky", arg); !errors.Is(err, boom) {
		t.Fatalf("first Evaluate error = %v, want %v", err, boom)
	}
	if funcs, _ := s.ListFuncs(); len(funcs) != 0 {
		t.Errorf("failed evaluation left call entries: %v", funcs)
	}

	ref, err := e.Evaluate("flaky", arg)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if _, err := ref.Node(); err != nil {
		t.Errorf("Node: %v", err)
	}
	if got := invocations.Load(); got != 2 {
		t.Errorf("function ran %d times, want 2", got)
	}
}

func TestUnknownFunc(t *testing.T) {
	e, _ := newTestEvaluator(t)
	arg := argRef(t, e, node.Int(1))
	if _, err := e.Evaluate("nowhere", arg); !errors.Is(err, ErrUnknownFunc) {
		t.Errorf("Evaluate error = %v, want ErrUnknownFunc", err)
	}
	if _, err := e.EvaluateAsync("nowhere", arg); !errors.Is(err, ErrUnknownFunc) {
		t.Errorf("EvaluateAsync error = %v, want ErrUnknownFunc", err)
	}
}

func TestCIDResultSkipsPut(t *testing.T) {
	e, s := newTestEvaluator(t)
	stored, err := s.Put(node.String("a value the function already stored"))
	if err != nil {
		t.Fatal(err)
	}
	e.Register("locate", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		return CIDResult(stored), nil
	})

	ref, err := e.Evaluate("locate", argRef(t, e, node.Int(1)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	c, err := ref.CID()
	if err != nil || !c.Equal(stored) {
		t.Errorf("result = %v, %v; want %v", c, err, stored)
	}
}

func TestRecursiveEvaluation(t *testing.T) {
	e, _ := newTestEvaluator(t)
	e.Register("inc", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		n, err := args[0].Node()
		if err != nil {
			return Result{}, err
		}
		v, _ := n.AsInt()
		return NodeResult(node.Int(v + 1)), nil
	})
	e.Register("incTwice", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		once, err := e.Evaluate("inc", args[0])
		if err != nil {
			return Result{}, err
		}
		twice, err := e.Evaluate("inc", once)
		if err != nil {
			return Result{}, err
		}
		c, err := twice.CID()
		if err != nil {
			return Result{}, err
		}
		return CIDResult(c), nil
	})

	ref, err := e.Evaluate("incTwice", argRef(t, e, node.Int(40)))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	n, err := ref.Node()
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if v, _ := n.AsInt(); v != 42 {
		t.Errorf("result = %v, want 42", n)
	}
}

func TestEvaluateAsync(t *testing.T) {
	e, _ := newTestEvaluator(t)
	e.Register("double", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		n, err := args[0].Node()
		if err != nil {
			return Result{}, err
		}
		v, _ := n.AsInt()
		return NodeResult(node.Int(v * 2)), nil
	})

	future, err := e.EvaluateAsync("double", argRef(t, e, node.Int(5)))
	if err != nil {
		t.Fatalf("EvaluateAsync: %v", err)
	}
	ref, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	n, err := ref.Node()
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if v, _ := n.AsInt(); v != 10 {
		t.Errorf("result = %v, want 10", n)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	e, s := newTestEvaluator(t)
	release := make(chan struct{})
	e.Register("slow", func(e *Evaluator, args []*store.NodeRef) (Result, error) {
		<-release
		return NodeResult(node.String("finished after the waiter left")), nil
	})

	arg := argRef(t, e, node.Int(1))
	future, err := e.EvaluateAsync("slow", arg)
	if err != nil {
		t.Fatalf("EvaluateAsync: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := future.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait error = %v, want context.Canceled", err)
	}

	// Abandoning the wait does not abandon the computation.
	close(release)
	ref, err := future.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait after release: %v", err)
	}
	c, err := ref.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	argCID, _ := arg.CID()
	bound, err := s.Resolve(name.Call("slow", argCID))
	if err != nil || !bound.Equal(c) {
		t.Errorf("call cache after abandoned wait = %v, %v; want %v", bound, err, c)
	}
}
