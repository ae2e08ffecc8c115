// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config assembles the options surface of a publish run from an
// optional TOML config file, PUBLISH_CRATES_* environment variables, and
// command-line flags, in that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/romnn/cargo-publish-go/internal/cargo"
)

// EnvPrefix is the prefix for environment variable bindings, e.g.
// PUBLISH_CRATES_REGISTRY_TOKEN.
const EnvPrefix = "PUBLISH_CRATES"

// Config mirrors the run's options surface. Durations are kept as
// strings ("30s", "1m") until Options() parses them, so the same value
// round-trips through TOML, environment, and flags unchanged.
type Config struct {
	Path             string   `toml:"path" mapstructure:"path"`
	RegistryToken    string   `toml:"registry_token" mapstructure:"registry-token"`
	DryRun           bool     `toml:"dry_run" mapstructure:"dry-run"`
	PublishDelay     string   `toml:"publish_delay" mapstructure:"publish-delay"`
	NoVerify         bool     `toml:"no_verify" mapstructure:"no-verify"`
	ResolveVersions  bool     `toml:"resolve_versions" mapstructure:"resolve-versions"`
	Include          []string `toml:"include" mapstructure:"include"`
	Exclude          []string `toml:"exclude" mapstructure:"exclude"`
	MaxRetries       int      `toml:"max_retries" mapstructure:"max-retries"`
	ConcurrencyLimit int      `toml:"concurrency_limit" mapstructure:"concurrency-limit"`
	CargoPath        string   `toml:"cargo_path" mapstructure:"cargo-path"`
}

// Default returns the configuration used when no file, environment, or
// flag says otherwise.
func Default() *Config {
	return &Config{
		Path: ".",
	}
}

// LoadFile overlays the TOML config file at path onto cfg. A missing file
// is an error; pass an empty path to skip file loading entirely.
func LoadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// keys lists every viper key this package reads. Binding them explicitly
// makes environment-only values visible to Unmarshal; AutomaticEnv alone
// only covers keys viper already knows about.
var keys = []string{
	"path", "registry-token", "dry-run", "publish-delay", "no-verify",
	"resolve-versions", "include", "exclude", "max-retries",
	"concurrency-limit", "cargo-path",
}

// NewViper returns a viper instance with the environment bindings this
// package documents. Callers bind their flag set on top.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		v.MustBindEnv(key)
	}
	return v
}

// Load merges the built-in defaults, the optional TOML config file, and
// whatever v resolves from bound flags and PUBLISH_CRATES_* environment
// variables. File values are registered as viper defaults, so the
// precedence ends up flags > environment > file > built-in, matching the
// package comment.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	file := Default()
	if err := LoadFile(cfgFile, file); err != nil {
		return nil, err
	}

	v.SetDefault("path", file.Path)
	v.SetDefault("registry-token", file.RegistryToken)
	v.SetDefault("dry-run", file.DryRun)
	v.SetDefault("publish-delay", file.PublishDelay)
	v.SetDefault("no-verify", file.NoVerify)
	v.SetDefault("resolve-versions", file.ResolveVersions)
	v.SetDefault("include", file.Include)
	v.SetDefault("exclude", file.Exclude)
	v.SetDefault("max-retries", file.MaxRetries)
	v.SetDefault("concurrency-limit", file.ConcurrencyLimit)
	v.SetDefault("cargo-path", file.CargoPath)

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("merging configuration: %w", err)
	}
	return cfg, nil
}

// Options translates the merged configuration into the immutable options
// value the publish pipeline consumes.
func (c *Config) Options() (*cargo.Options, error) {
	opts := &cargo.Options{
		Path:             c.Path,
		RegistryToken:    c.RegistryToken,
		DryRun:           c.DryRun,
		NoVerify:         c.NoVerify,
		ResolveVersions:  c.ResolveVersions,
		Include:          c.Include,
		Exclude:          c.Exclude,
		MaxRetries:       c.MaxRetries,
		ConcurrencyLimit: c.ConcurrencyLimit,
		CargoPath:        c.CargoPath,
	}
	if opts.Path == "" {
		opts.Path = "."
	}
	if c.PublishDelay != "" {
		d, err := time.ParseDuration(c.PublishDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid publish_delay %q: %w", c.PublishDelay, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid publish_delay %q: must not be negative", c.PublishDelay)
		}
		opts.PublishDelay = &d
	}
	if c.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid max_retries %d: must not be negative", c.MaxRetries)
	}
	if c.ConcurrencyLimit < 0 {
		return nil, fmt.Errorf("invalid concurrency_limit %d: must not be negative", c.ConcurrencyLimit)
	}
	return opts, nil
}
