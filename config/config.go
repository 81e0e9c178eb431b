// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the observatory.
//
// Configuration is loaded from a single YAML file specified by:
//   - OBSERVATORY_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery beyond built-in
// defaults; a missing file yields the defaults unchanged so the
// observatory can start against a stock swarm workspace with zero
// configuration. The only expansion performed is ${VAR} and
// ${VAR:-default} in paths, for portability across hosts.
//
// The channel catalog (per-channel source locations) lives in a
// separate JSONC file so operators can annotate overrides; see
// LoadCatalog.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the observatory.
type Config struct {
	// Workspace is the swarm workspace root everything else is
	// resolved against.
	Workspace string `yaml:"workspace"`

	// ModeOverride forces the operating mode instead of deriving it
	// from the capability probe. Empty means derive. Forcing strict
	// on a host missing channels is a bootstrap failure.
	ModeOverride string `yaml:"mode_override,omitempty"`

	// CatalogFile points at the JSONC channel catalog. Empty means
	// built-in conventional locations under Workspace.
	CatalogFile string `yaml:"catalog_file,omitempty"`

	Probe     ProbeConfig     `yaml:"probe"`
	Connector ConnectorConfig `yaml:"connector"`
	Correlate CorrelateConfig `yaml:"correlate"`
	History   HistoryConfig   `yaml:"history"`
	Docs      DocsConfig      `yaml:"docs"`
	Server    ServerConfig    `yaml:"server"`
}

// ProbeConfig configures the capability probe.
type ProbeConfig struct {
	// FilesystemTimeout bounds each filesystem existence/read check.
	FilesystemTimeout time.Duration `yaml:"filesystem_timeout"`

	// CLITimeout bounds each control-binary invocation.
	CLITimeout time.Duration `yaml:"cli_timeout"`

	// GatewayTimeout bounds each gateway HTTP check.
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`

	// CLIBinary is the swarm control binary probed for the CLI
	// provider.
	CLIBinary string `yaml:"cli_binary"`

	// GatewayURL is the local gateway base URL probed for the
	// gateway provider. Empty disables the gateway strategy.
	GatewayURL string `yaml:"gateway_url,omitempty"`

	// DemoteAfter is how many consecutive connector failures demote
	// a channel's provider at the next probe cycle.
	DemoteAfter int `yaml:"demote_after"`
}

// ConnectorConfig configures channel connectors.
type ConnectorConfig struct {
	// PollInterval is the fallback polling cadence for sources that
	// cannot be watched for changes.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DisableSessionThoughts drops agent-internal reasoning lines
	// from session transcripts before they reach correlation.
	// Installations treating transcripts as sensitive set this.
	DisableSessionThoughts bool `yaml:"disable_session_thoughts"`

	// DeadLetterDir is where undecodable raw inputs are archived.
	// Relative paths resolve against Workspace.
	DeadLetterDir string `yaml:"dead_letter_dir"`

	// MaxLineBytes bounds a single raw input line; longer lines are
	// dead-lettered rather than buffered without limit.
	MaxLineBytes int `yaml:"max_line_bytes"`
}

// CorrelateConfig configures the correlation engine.
type CorrelateConfig struct {
	// MessageHistory and ThoughtHistory bound per-agent recent
	// history windows.
	MessageHistory int `yaml:"message_history"`
	ThoughtHistory int `yaml:"thought_history"`

	// DedupWindow bounds the remembered dedup-key set.
	DedupWindow int `yaml:"dedup_window"`

	// CoalesceInterval batches change notifications: at most one
	// push per interval regardless of event rate.
	CoalesceInterval time.Duration `yaml:"coalesce_interval"`
}

// HistoryConfig configures the bounded replay store.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables persistent
	// history. Relative paths resolve against Workspace.
	Path string `yaml:"path,omitempty"`

	// Retention drops events older than this on the maintenance
	// sweep.
	Retention time.Duration `yaml:"retention"`

	// MaxEvents caps the stored event count; oldest beyond the cap
	// are dropped even inside the retention window.
	MaxEvents int `yaml:"max_events"`
}

// DocsConfig configures workspace context-document discovery.
type DocsConfig struct {
	// Ignore lists glob patterns (relative to Workspace) excluded
	// from the markdown scan.
	Ignore []string `yaml:"ignore,omitempty"`

	// MaxResults bounds ranked discovery output.
	MaxResults int `yaml:"max_results"`

	// ActivationCap bounds how many discovered documents become
	// causal-graph roots. Clamped to [1,24].
	ActivationCap int `yaml:"activation_cap"`
}

// ServerConfig configures the read API.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// ShutdownGrace bounds graceful drain on shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Default returns the built-in configuration. Paths default to
// conventional locations under the workspace; the workspace itself
// defaults to the current directory.
func Default() *Config {
	return &Config{
		Workspace: ".",
		Probe: ProbeConfig{
			FilesystemTimeout: 2 * time.Second,
			CLITimeout:        5 * time.Second,
			GatewayTimeout:    3 * time.Second,
			CLIBinary:         "openclaw",
			DemoteAfter:       3,
		},
		Connector: ConnectorConfig{
			PollInterval:  2 * time.Second,
			DeadLetterDir: "observatory/dead-letter",
			MaxLineBytes:  1 << 20,
		},
		Correlate: CorrelateConfig{
			MessageHistory:   50,
			ThoughtHistory:   50,
			DedupWindow:      4096,
			CoalesceInterval: 250 * time.Millisecond,
		},
		History: HistoryConfig{
			Path:      "observatory/history.db",
			Retention: 72 * time.Hour,
			MaxEvents: 200_000,
		},
		Docs: DocsConfig{
			Ignore:        []string{"node_modules/**", ".git/**", "**/*.bak"},
			MaxResults:    20,
			ActivationCap: 5,
		},
		Server: ServerConfig{
			Listen:        "127.0.0.1:8781",
			ShutdownGrace: 5 * time.Second,
		},
	}
}

// Load loads configuration from the OBSERVATORY_CONFIG environment
// variable. Unset means defaults.
func Load() (*Config, error) {
	path := os.Getenv("OBSERVATORY_CONFIG")
	if path == "" {
		cfg := Default()
		cfg.finish()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over
// defaults.
func LoadFile(path string) (*Config, error) {
	return LoadOverridden(path, nil)
}

// LoadOverridden loads configuration (the file is optional; empty path
// falls back to OBSERVATORY_CONFIG, then defaults) and applies
// command-line overrides before workspace-relative paths are resolved,
// so an overridden workspace rebases every relative path.
func LoadOverridden(path string, apply func(*Config)) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("OBSERVATORY_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if apply != nil {
		apply(cfg)
	}
	cfg.finish()
	return cfg, nil
}

// finish expands variables and resolves workspace-relative paths.
func (c *Config) finish() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Workspace = expandVars(c.Workspace, vars)
	vars["WORKSPACE"] = c.Workspace

	c.CatalogFile = c.resolve(expandVars(c.CatalogFile, vars))
	c.Connector.DeadLetterDir = c.resolve(expandVars(c.Connector.DeadLetterDir, vars))
	c.History.Path = c.resolve(expandVars(c.History.Path, vars))
}

// resolve makes a workspace-relative path absolute. Empty stays empty.
func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Workspace, path)
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

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Workspace == "" {
		errs = append(errs, fmt.Errorf("workspace is required"))
	}
	switch c.ModeOverride {
	case "", "minimal", "portable", "strict":
	default:
		errs = append(errs, fmt.Errorf("mode_override must be minimal, portable, or strict; got %q", c.ModeOverride))
	}
	if c.Probe.DemoteAfter < 1 {
		errs = append(errs, fmt.Errorf("probe.demote_after must be at least 1"))
	}
	if c.Connector.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("connector.poll_interval must be positive"))
	}
	if c.Connector.MaxLineBytes < 1024 {
		errs = append(errs, fmt.Errorf("connector.max_line_bytes must be at least 1024"))
	}
	if c.Correlate.MessageHistory < 1 || c.Correlate.ThoughtHistory < 1 {
		errs = append(errs, fmt.Errorf("correlate history windows must be at least 1"))
	}
	if c.Correlate.DedupWindow < 1 {
		errs = append(errs, fmt.Errorf("correlate.dedup_window must be at least 1"))
	}
	if c.Correlate.CoalesceInterval <= 0 {
		errs = append(errs, fmt.Errorf("correlate.coalesce_interval must be positive"))
	}
	if c.Docs.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("docs.max_results must be at least 1"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ActivationCap returns the docs activation cap clamped to [1,24],
// with the default applied when unset.
func (c *Config) ActivationCap() int {
	value := c.Docs.ActivationCap
	switch {
	case value < 1:
		return 5
	case value > 24:
		return 24
	}
	return value
}
