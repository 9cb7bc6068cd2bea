// Copyright 2026 The MemoDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for MemoDB commands.
//
// Configuration is loaded from a single file specified by:
//   - MEMODB_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// The store URI is the one value with a higher-priority channel: an
// explicit --store flag and the MEMODB_STORE_URI environment variable
// both override the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for MemoDB commands.
type Config struct {
	// StoreURI names the default store backend, e.g.
	// "sqlite:memo.db", "car:export.car", "http://127.0.0.1:29000".
	StoreURI string `yaml:"store_uri"`

	// Server configures the HTTP server command.
	Server ServerConfig `yaml:"server"`

	// Log configures diagnostics.
	Log LogConfig `yaml:"log"`
}

// ServerConfig configures the HTTP server command.
type ServerConfig struct {
	// Address is the TCP listen address. Default: ":29000".
	Address string `yaml:"address"`

	// ShutdownTimeout is how long graceful shutdown waits for active
	// requests, as a Go duration string. Default: "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LogConfig configures diagnostics.
type LogConfig struct {
	// Level is the minimum level emitted: debug, info, warn, error.
	// Default: "info".
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; commands that run without
// a config file use them directly.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":29000",
			ShutdownTimeout: "10s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the MEMODB_CONFIG environment
// variable. When the variable is unset the defaults are returned; a
// set-but-unreadable path is an error.
func Load() (*Config, error) {
	configPath := os.Getenv("MEMODB_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The only
// expansion performed is ${HOME} and similar path variables for
// portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// ResolveStoreURI picks the effective store URI: the flag value wins,
// then MEMODB_STORE_URI, then the config file. An empty result is an
// error; there is no implicit default store.
func (c *Config) ResolveStoreURI(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("MEMODB_STORE_URI"); env != "" {
		return env, nil
	}
	if c.StoreURI != "" {
		return c.StoreURI, nil
	}
	return "", errors.New("no store configured; pass --store, set MEMODB_STORE_URI, " +
		"or set store_uri in the config file")
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Address == "" {
		errs = append(errs, fmt.Errorf("server.address is required"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in the
// values that commonly carry paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.StoreURI = expandVars(c.StoreURI, vars)
	c.Server.Address = expandVars(c.Server.Address, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}
