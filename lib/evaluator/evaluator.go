// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package evaluator memoizes function evaluation over a Store. A
// registered function computes a value from argument references; the
// evaluator binds each computed result as a Call entry so later
// evaluations of the same (function, arguments) pair resolve without
// recomputing.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

// ErrUnknownFunc reports evaluation of a function name with no
// registered implementation.
var ErrUnknownFunc = errors.New("evaluator: unknown function")

// Result is what a registered function produces: either a materialized
// Node or the CID of a value already in the store.
type Result struct {
	node   node.Node
	cid    cid.CID
	hasCID bool
}

// NodeResult wraps a materialized value.
func NodeResult(n node.Node) Result { return Result{node: n} }

// CIDResult wraps an already-stored value.
func CIDResult(c cid.CID) Result { return Result{cid: c, hasCID: true} }

// Func computes a result from argument references. Implementations
// may evaluate other registered functions through e.
type Func func(e *Evaluator, args []*store.NodeRef) (Result, error)

// Evaluator coordinates memoized evaluation. Safe for concurrent use.
// At most one computation per (function, arguments) key runs at a
// time; concurrent callers of the same key share the single in-flight
// computation.
type Evaluator struct {
	store  store.Store
	logger *slog.Logger

	// tokens bounds concurrent asynchronous computations.
	tokens chan struct{}

	mu       sync.Mutex
	funcs    map[string]Func
	inflight map[string]*Future
}

// Config configures an Evaluator.
type Config struct {
	// Store backs memoization. Required.
	Store store.Store

	// Workers bounds concurrent EvaluateAsync computations. Defaults
	// to 8.
	Workers int

	// Logger receives evaluation diagnostics. Nil discards.
	Logger *slog.Logger
}

// New creates an Evaluator with no registered functions.
func New(config Config) *Evaluator {
	if config.Store == nil {
		panic("evaluator: Store is required")
	}
	workers := config.Workers
	if workers <= 0 {
		workers = 8
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{
		store:    config.Store,
		logger:   logger,
		tokens:   make(chan struct{}, workers),
		funcs:    make(map[string]Func),
		inflight: make(map[string]*Future),
	}
}

// Store returns the backing store.
func (e *Evaluator) Store() store.Store { return e.store }

// Register binds fn to a function name. Later registrations for the
// same name win.
func (e *Evaluator) Register(funcName string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[funcName] = fn
}

// Evaluate computes funcName over args, or returns the cached result.
// Uncached keys compute on the calling goroutine, so registered
// functions may evaluate other functions recursively without
// occupying worker capacity.
func (e *Evaluator) Evaluate(funcName string, args ...*store.NodeRef) (*store.NodeRef, error) {
	future, run, err := e.lookup(funcName, args)
	if err != nil {
		return nil, err
	}
	if run != nil {
		run()
	}
	return future.Wait(context.Background())
}

// EvaluateAsync is Evaluate returning immediately with a Future. The
// computation, if this call started one, runs on a bounded worker
// goroutine and completes even if every waiter abandons the Future.
func (e *Evaluator) EvaluateAsync(funcName string, args ...*store.NodeRef) (*Future, error) {
	future, run, err := e.lookup(funcName, args)
	if err != nil {
		return nil, err
	}
	if run != nil {
		go func() {
			e.tokens <- struct{}{}
			defer func() { <-e.tokens }()
			run()
		}()
	}
	return future, nil
}

// lookup resolves the call key, consults the store's call cache, and
// joins or creates the in-flight computation. The returned run func is
// non-nil exactly when this caller must execute the computation.
func (e *Evaluator) lookup(funcName string, args []*store.NodeRef) (*Future, func(), error) {
	argCIDs := make([]cid.CID, len(args))
	for i, arg := range args {
		c, err := arg.CID()
		if err != nil {
			return nil, nil, fmt.Errorf("resolving argument %d of %s: %w", i, funcName, err)
		}
		argCIDs[i] = c
	}
	callName := name.Call(funcName, argCIDs...)

	if c, ok, err := e.store.ResolveOptional(callName); err != nil {
		return nil, nil, err
	} else if ok {
		return resolvedFuture(store.NodeRefFromCID(e.store, c)), nil, nil
	}

	key := callName.String()
	e.mu.Lock()
	fn, registered := e.funcs[funcName]
	if !registered {
		e.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFunc, funcName)
	}
	if future, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		return future, nil, nil
	}
	future := newFuture()
	e.inflight[key] = future
	e.mu.Unlock()

	run := func() {
		ref, err := e.compute(callName, fn, funcName, args)
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
		future.complete(ref, err)
	}
	return future, run, nil
}

// compute runs the registered function and binds the result. Failed
// computations bind nothing, so the next evaluation retries.
func (e *Evaluator) compute(callName name.Name, fn Func, funcName string, args []*store.NodeRef) (*store.NodeRef, error) {
	result, err := fn(e, args)
	if err != nil {
		e.logger.Warn("evaluation failed", "func", funcName, "error", err)
		return nil, fmt.Errorf("evaluating %s: %w", funcName, err)
	}
	c := result.cid
	if !result.hasCID {
		c, err = e.store.Put(result.node)
		if err != nil {
			return nil, err
		}
	}
	if err := e.store.Set(callName, c); err != nil {
		return nil, err
	}
	return store.NodeRefFromCID(e.store, c), nil
}

// Future is a pending evaluation result. Multiple goroutines may Wait
// on the same Future.
type Future struct {
	done chan struct{}
	ref  *store.NodeRef
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(ref *store.NodeRef) *Future {
	f := newFuture()
	f.complete(ref, nil)
	return f
}

func (f *Future) complete(ref *store.NodeRef, err error) {
	f.ref = ref
	f.err = err
	close(f.done)
}

// Wait blocks until the evaluation completes or ctx is cancelled.
// Cancellation abandons the wait only; the computation itself runs to
// completion and still populates the call cache.
func (f *Future) Wait(ctx context.Context) (*store.NodeRef, error) {
	select {
	case <-f.done:
		return f.ref, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
