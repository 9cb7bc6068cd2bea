// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

// ContentTypeCBOR is the media type of block payload bodies.
const ContentTypeCBOR = "application/cbor"

// maxBodySize bounds uploaded block payloads.
const maxBodySize = 64 << 20

// Handler maps the Store operations onto the Name path grammar:
//
//	POST   /cid               store a CBOR body, respond with the CID
//	GET    /cid/<cid>         fetch a block payload
//	HEAD   /cid/<cid>         probe block existence
//	GET    /head              list heads, one path per line
//	GET    /head/<name>       resolve a head to its CID
//	PUT    /head/<name>       bind a head (text CID body)
//	DELETE /head/<name>       delete a head
//	GET    /call              list functions, one per line
//	GET    /call/<fn>         list call entries, one path per line
//	DELETE /call/<fn>         invalidate all entries of fn
//	GET    /call/<fn>/<args>  resolve a call to its result CID
//	PUT    /call/<fn>/<args>  bind a call result (text CID body)
type Handler struct {
	store  store.Store
	logger *slog.Logger
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// Store is the backend to expose. Required.
	Store store.Store

	// Logger receives request failures. Nil discards.
	Logger *slog.Logger
}

// NewHandler builds the API handler.
func NewHandler(config HandlerConfig) *Handler {
	if config.Store == nil {
		panic("server: Store is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{store: config.Store, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The raw path keeps percent-encoded slashes intact; the Name
	// parser decodes per segment.
	path := r.URL.EscapedPath()
	var err error
	switch {
	case path == "/cid" && r.Method == http.MethodPost:
		err = h.putBlock(w, r)
	case strings.HasPrefix(path, "/cid/") && r.Method == http.MethodGet:
		err = h.getBlock(w, path)
	case strings.HasPrefix(path, "/cid/") && r.Method == http.MethodHead:
		err = h.hasBlock(w, path)
	case path == "/head" && r.Method == http.MethodGet:
		err = h.listHeads(w)
	case strings.HasPrefix(path, "/head/"):
		err = h.head(w, r, path)
	case path == "/call" && r.Method == http.MethodGet:
		err = h.listFuncs(w)
	case strings.HasPrefix(path, "/call/"):
		err = h.call(w, r, path)
	case strings.HasPrefix(path, "/refs/") && r.Method == http.MethodGet:
		err = h.refs(w, path)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.fail(w, r, err)
	}
}

// fail translates store error kinds into HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrReadOnly):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrBusy):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrInvalidName),
		errors.Is(err, store.ErrInvalidCID),
		errors.Is(err, store.ErrInvalidCBOR),
		errors.Is(err, store.ErrInvalidURI):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) putBlock(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	var n node.Node
	if r.Header.Get("Content-Type") == "application/octet-stream" {
		n = node.Bytes(body)
	} else {
		n, err = node.Decode(body)
		if err != nil {
			return err
		}
	}
	c, err := h.store.Put(n)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Location", name.CID(c).String())
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintln(w, c.String())
	return nil
}

func (h *Handler) getBlock(w http.ResponseWriter, path string) error {
	nm, err := name.Parse(path)
	if err != nil {
		return err
	}
	c, _ := nm.AsCID()
	n, err := h.store.Get(c)
	if err != nil {
		return err
	}
	_, payload, err := node.EncodeBlock(n)
	if err != nil {
		return err
	}
	if payload == nil {
		payload = c.Digest()
	}
	w.Header().Set("Content-Type", ContentTypeCBOR)
	_, err = w.Write(payload)
	return err
}

func (h *Handler) hasBlock(w http.ResponseWriter, path string) error {
	nm, err := name.Parse(path)
	if err != nil {
		return err
	}
	c, _ := nm.AsCID()
	ok, err := h.store.Has(c)
	if err != nil {
		return err
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) listHeads(w http.ResponseWriter) error {
	heads, err := store.ListHeads(h.store)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, head := range heads {
		fmt.Fprintln(w, head.String())
	}
	return nil
}

func (h *Handler) head(w http.ResponseWriter, r *http.Request, path string) error {
	nm, err := name.Parse(path)
	if err != nil {
		return err
	}
	headName, _ := nm.AsHead()
	switch r.Method {
	case http.MethodGet:
		c, err := h.store.Resolve(nm)
		if err != nil {
			return err
		}
		return writeCID(w, c)
	case http.MethodPut:
		c, err := readCIDBody(r)
		if err != nil {
			return err
		}
		if err := h.store.Set(nm, c); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	case http.MethodDelete:
		if err := h.store.HeadDelete(headName); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil
	}
}

func (h *Handler) listFuncs(w http.ResponseWriter) error {
	funcs, err := h.store.ListFuncs()
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, fn := range funcs {
		fmt.Fprintln(w, fn)
	}
	return nil
}

func (h *Handler) call(w http.ResponseWriter, r *http.Request, path string) error {
	rest := strings.TrimPrefix(path, "/call/")
	if !strings.Contains(rest, "/") {
		// Function-level operations: enumerate or invalidate.
		fn := rest
		switch r.Method {
		case http.MethodGet:
			return h.listCalls(w, fn)
		case http.MethodDelete:
			if err := h.store.CallInvalidate(fn); err != nil {
				return err
			}
			w.WriteHeader(http.StatusNoContent)
			return nil
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
			return nil
		}
	}
	nm, err := name.Parse(path)
	if err != nil {
		return err
	}
	switch r.Method {
	case http.MethodGet:
		c, err := h.store.Resolve(nm)
		if err != nil {
			return err
		}
		return writeCID(w, c)
	case http.MethodPut:
		c, err := readCIDBody(r)
		if err != nil {
			return err
		}
		if err := h.store.Set(nm, c); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil
	}
}

func (h *Handler) listCalls(w http.ResponseWriter, fn string) error {
	entries, err := store.ListCalls(h.store, fn)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, entry := range entries {
		fmt.Fprintln(w, name.Call(fn, entry.Args...).String())
	}
	return nil
}

func (h *Handler) refs(w http.ResponseWriter, path string) error {
	text := strings.TrimPrefix(path, "/refs/")
	c, err := cid.Parse(text)
	if err != nil {
		return err
	}
	names, err := h.store.NamesUsing(c)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, nm := range names {
		fmt.Fprintln(w, nm.String())
	}
	return nil
}

func writeCID(w http.ResponseWriter, c cid.CID) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := fmt.Fprintln(w, c.String())
	return err
}

func readCIDBody(r *http.Request) (cid.CID, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		return cid.CID{}, err
	}
	return cid.Parse(strings.TrimSpace(string(body)))
}
