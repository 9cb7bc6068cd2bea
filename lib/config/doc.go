// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for MemoDB
// commands.
//
// Configuration is loaded from a single file specified by either the
// MEMODB_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. The store URI is the one value with
// higher-priority channels: --store and MEMODB_STORE_URI both
// override the file (see [Config.ResolveStoreURI]).
//
// Variable expansion is performed after loading: ${HOME} and
// ${VAR:-default} patterns are expanded in the store URI and listen
// address. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- store URI, server, and log settings
//   - [Default] -- returns a Config with usable defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other MemoDB packages.
package config
