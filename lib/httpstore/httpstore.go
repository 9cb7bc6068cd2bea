// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpstore implements the Store contract against a remote
// MemoDB server. Every operation maps onto the server's path grammar;
// package server documents the routes.
package httpstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

// maxErrorBody bounds how much of an error response is read back into
// the returned error message.
const maxErrorBody = 4096

// contentTypeCBOR matches the server's block payload media type.
const contentTypeCBOR = "application/cbor"

// Store is a Store client over HTTP. Safe for concurrent use; the
// underlying http.Client pools connections.
type Store struct {
	base   string
	client *http.Client
}

// OpenURI connects to the server named by an http: or https: store
// URI. The connection is lazy; the first operation performs the first
// request.
func OpenURI(u *name.URI, opts store.Options) (store.Store, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: http store URI requires a host", store.ErrInvalidURI)
	}
	base := u.Scheme + "://" + u.Host
	if u.Port != "" {
		base += ":" + u.Port
	}
	for _, seg := range u.PathSegments {
		base += "/" + seg
	}
	return &Store{
		base: base,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// Open connects to a server by base URL, e.g. "http://127.0.0.1:29000".
func Open(base string) *Store {
	return &Store{
		base:   strings.TrimSuffix(base, "/"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *Store) Put(n node.Node) (cid.CID, error) {
	// Identity-sized values never need the round trip.
	c, payload, err := node.EncodeBlock(n)
	if err != nil {
		return cid.CID{}, err
	}
	if c.IsIdentity() {
		return c, nil
	}
	contentType := contentTypeCBOR
	if n.Kind() == node.KindBytes {
		contentType = "application/octet-stream"
		payload, _ = n.AsBytes()
	}
	resp, err := s.do(http.MethodPost, "/cid", contentType, bytes.NewReader(payload))
	if err != nil {
		return cid.CID{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusCreated, http.StatusOK); err != nil {
		return cid.CID{}, err
	}
	return readCIDLine(resp.Body)
}

func (s *Store) Get(c cid.CID) (node.Node, error) {
	if n, ok, err := store.IdentityNode(c); ok || err != nil {
		return n, err
	}
	resp, err := s.do(http.MethodGet, name.CID(c).String(), "", nil)
	if err != nil {
		return node.Node{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return node.Node{}, err
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return node.Node{}, err
	}
	if err := store.VerifyBlock(c, payload); err != nil {
		return node.Node{}, err
	}
	return node.DecodeBlock(c, payload)
}

func (s *Store) GetOptional(c cid.CID) (node.Node, bool, error) {
	n, err := s.Get(c)
	if errorsIsNotFound(err) {
		return node.Node{}, false, nil
	}
	if err != nil {
		return node.Node{}, false, err
	}
	return n, true, nil
}

func (s *Store) Has(c cid.CID) (bool, error) {
	if c.IsIdentity() {
		return true, nil
	}
	resp, err := s.do(http.MethodHead, name.CID(c).String(), "", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(resp)
}

func (s *Store) Resolve(nm name.Name) (cid.CID, error) {
	if c, ok := nm.AsCID(); ok {
		return c, nil
	}
	resp, err := s.do(http.MethodGet, nm.String(), "", nil)
	if err != nil {
		return cid.CID{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return cid.CID{}, err
	}
	return readCIDLine(resp.Body)
}

func (s *Store) ResolveOptional(nm name.Name) (cid.CID, bool, error) {
	c, err := s.Resolve(nm)
	if errorsIsNotFound(err) {
		return cid.CID{}, false, nil
	}
	if err != nil {
		return cid.CID{}, false, err
	}
	return c, true, nil
}

func (s *Store) Set(nm name.Name, c cid.CID) error {
	if _, ok := nm.AsCID(); ok {
		return fmt.Errorf("%w: cannot bind a CID name", store.ErrInvalidName)
	}
	body := strings.NewReader(c.String() + "\n")
	resp, err := s.do(http.MethodPut, nm.String(), "text/plain; charset=utf-8", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusNoContent, http.StatusOK)
}

func (s *Store) HeadDelete(head string) error {
	resp, err := s.do(http.MethodDelete, name.Head(head).String(), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus(resp, http.StatusNoContent, http.StatusOK)
}

func (s *Store) CallInvalidate(fn string) error {
	resp, err := s.do(http.MethodDelete, "/call/"+escapeFunc(fn), "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return checkStatus(resp, http.StatusNoContent, http.StatusOK)
}

func (s *Store) EachHead(f func(head string, c cid.CID) error) error {
	paths, err := s.listLines("/head")
	if err != nil {
		return err
	}
	for _, path := range paths {
		nm, err := name.Parse(path)
		if err != nil {
			return err
		}
		head, ok := nm.AsHead()
		if !ok {
			return fmt.Errorf("%w: head listing returned %q", store.ErrInvalidName, path)
		}
		c, err := s.Resolve(nm)
		if errorsIsNotFound(err) {
			// Deleted between list and resolve.
			continue
		}
		if err != nil {
			return err
		}
		if err := f(head, c); err != nil {
			if err == store.ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Store) ListFuncs() ([]string, error) {
	return s.listLines("/call")
}

func (s *Store) EachCall(fn string, f func(entry store.CallEntry) error) error {
	paths, err := s.listLines("/call/" + escapeFunc(fn))
	if err != nil {
		return err
	}
	for _, path := range paths {
		nm, err := name.Parse(path)
		if err != nil {
			return err
		}
		_, args, ok := nm.AsCall()
		if !ok {
			return fmt.Errorf("%w: call listing returned %q", store.ErrInvalidName, path)
		}
		result, err := s.Resolve(nm)
		if errorsIsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if err := f(store.CallEntry{Args: args, Result: result}); err != nil {
			if err == store.ErrStop {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Store) NamesUsing(c cid.CID) ([]name.Name, error) {
	lines, err := s.listLines("/refs/" + c.String())
	if err != nil {
		return nil, err
	}
	names := make([]name.Name, 0, len(lines))
	for _, line := range lines {
		nm, err := name.Parse(line)
		if err != nil {
			return nil, err
		}
		names = append(names, nm)
	}
	return names, nil
}

func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do issues one request against the server. path must already be in
// the Name path grammar (percent-escaped where needed).
func (s *Store) do(method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, s.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return s.client.Do(req)
}

// listLines fetches a text listing and splits it into non-empty lines.
func (s *Store) listLines(path string) ([]string, error) {
	resp, err := s.do(http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return nil, err
	}
	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// checkStatus maps unexpected response statuses back into store error
// kinds.
func checkStatus(resp *http.Response, allowed ...int) error {
	for _, code := range allowed {
		if resp.StatusCode == code {
			return nil
		}
	}
	return statusError(resp)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", store.ErrNotFound, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", store.ErrReadOnly, msg)
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", store.ErrBusy, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", store.ErrInvalidName, msg)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, msg)
}

// escapeFunc percent-escapes a function name into a single path
// segment.
func escapeFunc(fn string) string {
	return url.PathEscape(fn)
}

func readCIDLine(r io.Reader) (cid.CID, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return cid.CID{}, err
	}
	return cid.Parse(strings.TrimSpace(string(body)))
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
