// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/memodb-foundation/memodb/cmd/memodb/cli"
	"github.com/memodb-foundation/memodb/lib/carstore"
	"github.com/memodb-foundation/memodb/lib/cid"
	"github.com/memodb-foundation/memodb/lib/codec"
	"github.com/memodb-foundation/memodb/lib/name"
	"github.com/memodb-foundation/memodb/lib/node"
	"github.com/memodb-foundation/memodb/lib/store"
)

// maxInputSize bounds values read from files or stdin.
const maxInputSize = 512 << 20

// storeFlags adds the store selection flags shared by every command
// that touches a backend.
func storeFlags(fs *pflag.FlagSet, storeFlag, configFlag *string) {
	fs.StringVarP(storeFlag, "store", "s", "", "store URI (overrides MEMODB_STORE_URI and config)")
	fs.StringVar(configFlag, "config", "", "config file path (overrides MEMODB_CONFIG)")
}

func newGetCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
		force      bool
	)
	return &cli.Command{
		Name:    "get",
		Summary: "print a value's canonical CBOR encoding",
		Usage:   "memodb get <name> [flags]",
		Examples: []cli.Example{
			{Description: "Fetch a block by CID", Command: "memodb get /cid/bafyreib... > value.cbor"},
			{Description: "Fetch the value a head points at", Command: "memodb get /head/latest -f"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("get", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			fs.BoolVarP(&force, "force", "f", false, "write binary output even to a terminal")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("get: expected exactly one name argument")
			}
			if !force && term.IsTerminal(int(os.Stdout.Fd())) {
				return fmt.Errorf("refusing to write binary CBOR to a terminal (use -f to force)")
			}
			nm, err := name.Parse(args[0])
			if err != nil {
				return err
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.Resolve(nm)
			if err != nil {
				return notFoundExit(err)
			}
			n, err := s.Get(c)
			if err != nil {
				return notFoundExit(err)
			}
			_, payload, err := node.EncodeBlock(n)
			if err != nil {
				return err
			}
			if payload == nil {
				payload = c.Digest()
			}
			_, err = os.Stdout.Write(payload)
			return err
		},
	}
}

func newPutCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "put",
		Summary: "store a CBOR value and print its CID",
		Usage:   "memodb put [<file>] [flags]",
		Examples: []cli.Example{
			{Description: "Store a value from stdin", Command: "memodb put < value.cbor"},
			{Description: "Store a value from a file", Command: "memodb put value.cbor"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("put", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("put: expected at most one input file")
			}
			data, err := readInput(args)
			if err != nil {
				return err
			}
			n, err := node.Decode(data)
			if err != nil {
				return err
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.Put(n)
			if err != nil {
				return err
			}
			fmt.Println(c.String())
			return nil
		},
	}
}

func newSetCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "set",
		Summary: "bind a head or call to a value",
		Usage:   "memodb set <name> <cid-or-name> [flags]",
		Examples: []cli.Example{
			{Description: "Bind a head to a CID", Command: "memodb set /head/latest bafyreib..."},
			{Description: "Copy one head to another", Command: "memodb set /head/stable /head/latest"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("set", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("set: expected a name and a value argument")
			}
			nm, err := name.Parse(args[0])
			if err != nil {
				return err
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := resolveValueArg(s, args[1])
			if err != nil {
				return notFoundExit(err)
			}
			return s.Set(nm, c)
		},
	}
}

func newDeleteCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "delete",
		Summary: "delete a head binding",
		Usage:   "memodb delete <head-name> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("delete: expected exactly one head name")
			}
			nm, err := name.Parse(args[0])
			if err != nil {
				return err
			}
			head, ok := nm.AsHead()
			if !ok {
				return fmt.Errorf("%w: delete takes a /head/ name", store.ErrInvalidName)
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.HeadDelete(head)
		},
	}
}

func newListHeadsCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "list-heads",
		Summary: "list head bindings, one path per line",
		Usage:   "memodb list-heads [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("list-heads", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("list-heads: no arguments expected")
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()

			heads, err := store.ListHeads(s)
			if err != nil {
				return err
			}
			for _, head := range heads {
				fmt.Println(head.String())
			}
			return nil
		},
	}
}

func newListFuncsCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "list-funcs",
		Summary: "list functions with cached calls",
		Usage:   "memodb list-funcs [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("list-funcs", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("list-funcs: no arguments expected")
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()

			funcs, err := s.ListFuncs()
			if err != nil {
				return err
			}
			for _, fn := range funcs {
				fmt.Println(fn)
			}
			return nil
		},
	}
}

func newListCallsCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "list-calls",
		Summary: "list cached calls of a function, one path per line",
		Usage:   "memodb list-calls <func> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("list-calls", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("list-calls: expected exactly one function name")
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()

			return s.EachCall(args[0], func(entry store.CallEntry) error {
				fmt.Println(name.Call(args[0], entry.Args...).String())
				return nil
			})
		},
	}
}

func newInvalidateCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "invalidate",
		Summary: "drop every cached call of a function",
		Usage:   "memodb invalidate <func> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("invalidate", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("invalidate: expected exactly one function name")
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.CallInvalidate(args[0])
		},
	}
}

func newRefsToCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "refs-to",
		Summary: "list names referencing a value, one per line",
		Usage:   "memodb refs-to <name> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("refs-to", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("refs-to: expected exactly one name argument")
			}
			nm, err := name.Parse(args[0])
			if err != nil {
				return err
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.Resolve(nm)
			if err != nil {
				return notFoundExit(err)
			}
			names, err := s.NamesUsing(c)
			if err != nil {
				return err
			}
			for _, user := range names {
				fmt.Println(user.String())
			}
			return nil
		},
	}
}

func newPathsToCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "paths-to",
		Summary: "list root paths reaching a value, one per line",
		Usage:   "memodb paths-to <name> [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("paths-to", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("paths-to: expected exactly one name argument")
			}
			nm, err := name.Parse(args[0])
			if err != nil {
				return err
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.Resolve(nm)
			if err != nil {
				return notFoundExit(err)
			}
			paths, err := store.ListPathsTo(s, c)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Println(path.String())
			}
			return nil
		},
	}
}

func newExportCommand() *cli.Command {
	var (
		storeFlag  string
		configFlag string
	)
	return &cli.Command{
		Name:    "export",
		Summary: "export heads, calls, and reachable blocks to an archive",
		Usage:   "memodb export <output.car> [flags]",
		Examples: []cli.Example{
			{Description: "Snapshot a store into an archive file", Command: "memodb export backup.car -s sqlite:memo.db"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("export", pflag.ContinueOnError)
			storeFlags(fs, &storeFlag, &configFlag)
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("export: expected exactly one output path")
			}
			s, err := openStore(storeFlag, configFlag)
			if err != nil {
				return err
			}
			defer s.Close()
			return carstore.Write(args[0], s)
		},
	}
}

func newDiagCommand() *cli.Command {
	return &cli.Command{
		Name:    "diag",
		Summary: "print CBOR diagnostic notation",
		Usage:   "memodb diag [<file>]",
		Examples: []cli.Example{
			{Description: "Inspect a fetched value", Command: "memodb get /head/latest -f | memodb diag"},
		},
		Run: func(args []string) error {
			if len(args) > 1 {
				return fmt.Errorf("diag: expected at most one input file")
			}
			data, err := readInput(args)
			if err != nil {
				return err
			}
			// A CBOR sequence prints one item per line.
			for len(data) > 0 {
				text, rest, err := codec.DiagnoseFirst(data)
				if err != nil {
					return err
				}
				fmt.Println(text)
				data = rest
			}
			return nil
		},
	}
}

// readInput reads the optional file argument, "-" and absence both
// meaning stdin.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(io.LimitReader(os.Stdin, maxInputSize))
	}
	return os.ReadFile(args[0])
}

// resolveValueArg interprets a value argument as CID text first, then
// as a name to resolve through the store.
func resolveValueArg(s store.Store, arg string) (cid.CID, error) {
	if !strings.HasPrefix(arg, "/") {
		return cid.Parse(arg)
	}
	nm, err := name.Parse(arg)
	if err != nil {
		return cid.CID{}, err
	}
	return s.Resolve(nm)
}
