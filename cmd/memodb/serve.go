// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/memodb-foundation/memodb/cmd/memodb/cli"
	"github.com/memodb-foundation/memodb/lib/server"
	"github.com/memodb-foundation/memodb/lib/store"
	"github.com/memodb-foundation/memodb/lib/stores"
)

func newServeCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
		address    string
	)
	return &cli.Command{
		Name:    "serve",
		Summary: "serve the store API over HTTP",
		Usage:   "memodb serve [flags]",
		Examples: []cli.Example{
			{Description: "Serve a local database on the default port", Command: "memodb serve -s sqlite:memo.db"},
			{Description: "Serve on a specific address", Command: "memodb serve -s rocksdb:memo.rdb --address 127.0.0.1:9000"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			fs.StringVarP(&storeFlag, "store", "s", "", "store URI (overrides MEMODB_STORE_URI and config)")
			fs.StringVar(&configFlag, "config", "", "config file path (overrides MEMODB_CONFIG)")
			fs.StringVar(&address, "address", "", "TCP listen address (overrides config)")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("serve: no arguments expected")
			}
			cfg, err := loadConfig(configFlag)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			uri, err := cfg.ResolveStoreURI(storeFlag)
			if err != nil {
				return err
			}
			backend, err := stores.Open(uri, store.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer backend.Close()

			if address == "" {
				address = cfg.Server.Address
			}
			shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
			if err != nil {
				return fmt.Errorf("invalid shutdown_timeout: %w", err)
			}

			handler := server.NewHandler(server.HandlerConfig{
				Store:  backend,
				Logger: logger,
			})
			srv := server.New(server.Config{
				Address:         address,
				Handler:         handler,
				ShutdownTimeout: shutdownTimeout,
				Logger:          logger,
			})

			ctx, stop := signal.NotifyContext(
				context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Serve(ctx)
		},
	}
}
