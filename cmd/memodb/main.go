// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Command memodb is the MemoDB command line: store inspection and
// mutation, archive export, CBOR diagnostics, and the HTTP server.
//
// The store backend is selected by URI, from --store, the
// MEMODB_STORE_URI environment variable, or the config file named by
// MEMODB_CONFIG, in that order.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/memodb-foundation/memodb/cmd/memodb/cli"
	"github.com/memodb-foundation/memodb/lib/config"
	"github.com/memodb-foundation/memodb/lib/store"
	"github.com/memodb-foundation/memodb/lib/stores"
)

func main() {
	root := &cli.Command{
		Name:    "memodb",
		Summary: "content-addressed store with memoized function evaluation",
		Description: "memodb stores immutable CBOR values addressed by CID, mutable\n" +
			"head bindings, and cached function call results.",
		Subcommands: []*cli.Command{
			newGetCommand(),
			newPutCommand(),
			newSetCommand(),
			newDeleteCommand(),
			newListHeadsCommand(),
			newListFuncsCommand(),
			newListCallsCommand(),
			newInvalidateCommand(),
			newRefsToCommand(),
			newPathsToCommand(),
			newExportCommand(),
			newDiagCommand(),
			newServeCommand(),
		},
	}

	if err := root.Execute(os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "memodb: %v\n", err)
		os.Exit(2)
	}
}

// loadConfig loads the config file, honoring an explicit --config
// path over MEMODB_CONFIG.
func loadConfig(configFlag string) (*config.Config, error) {
	if configFlag != "" {
		return config.LoadFile(configFlag)
	}
	return config.Load()
}

// openStore resolves the effective store URI and opens the backend.
func openStore(storeFlag, configFlag string) (store.Store, error) {
	cfg, err := loadConfig(configFlag)
	if err != nil {
		return nil, err
	}
	uri, err := cfg.ResolveStoreURI(storeFlag)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return stores.Open(uri, store.Options{Logger: logger})
}

// newLogger builds the stderr diagnostic logger at the configured
// level.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})), nil
}

// notFoundExit prints the diagnostic and converts absence into the
// handled exit code 1. Other errors pass through as unexpected.
func notFoundExit(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "memodb: %v\n", err)
		return &cli.ExitError{Code: 1}
	}
	return err
}
