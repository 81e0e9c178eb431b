// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// Catalog maps each channel to its source locations per provider
// strategy. Operators maintain it as JSONC so overrides can carry
// comments explaining host quirks; it is parsed by stripping comments
// and trailing commas, then decoding as plain JSON.
type Catalog struct {
	Channels map[string]ChannelSource `json:"channels"`
}

// ChannelSource describes where one channel lives under each
// provider strategy. Empty fields mean "use the built-in convention".
type ChannelSource struct {
	// Path is the filesystem location (file or directory, channel
	// dependent), relative to the workspace unless absolute.
	Path string `json:"path,omitempty"`

	// CLIArgs are the control-binary arguments that dump this
	// channel as JSON.
	CLIArgs []string `json:"cli_args,omitempty"`

	// GatewayPath is the gateway URL path serving this channel.
	GatewayPath string `json:"gateway_path,omitempty"`

	// Disabled forces the channel unavailable regardless of what
	// probing would find.
	Disabled bool `json:"disabled,omitempty"`
}

// DefaultCatalog returns the conventional source layout of a swarm
// workspace.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Channels: map[string]ChannelSource{
			"bus": {
				Path:        "bus/events.jsonl",
				CLIArgs:     []string{"bus", "tail", "--json"},
				GatewayPath: "/api/bus",
			},
			"sessions": {
				Path:        "sessions",
				CLIArgs:     []string{"sessions", "dump", "--json"},
				GatewayPath: "/api/sessions",
			},
			"cron_jobs": {
				Path:        "cron/jobs.json",
				CLIArgs:     []string{"cron", "list", "--json"},
				GatewayPath: "/api/cron/jobs",
			},
			"cron_runs": {
				Path:        "cron/runs.jsonl",
				CLIArgs:     []string{"cron", "runs", "--json"},
				GatewayPath: "/api/cron/runs",
			},
			"process": {
				Path: "run",
			},
			"locks": {
				Path: "locks",
			},
			"requests": {
				Path:        "requests",
				CLIArgs:     []string{"requests", "list", "--json"},
				GatewayPath: "/api/requests",
			},
		},
	}
}

// LoadCatalog loads the channel catalog. An empty path yields the
// defaults; a file merges over them per channel. Paths are resolved
// against the workspace.
func LoadCatalog(path, workspace string) (*Catalog, error) {
	catalog := DefaultCatalog()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading channel catalog: %w", err)
		}
		var overrides Catalog
		if err := json.Unmarshal(jsonc.ToJSON(data), &overrides); err != nil {
			return nil, fmt.Errorf("parsing channel catalog %s: %w", path, err)
		}
		for name, source := range overrides.Channels {
			merged := catalog.Channels[name]
			if source.Path != "" {
				merged.Path = source.Path
			}
			if len(source.CLIArgs) > 0 {
				merged.CLIArgs = source.CLIArgs
			}
			if source.GatewayPath != "" {
				merged.GatewayPath = source.GatewayPath
			}
			merged.Disabled = source.Disabled
			catalog.Channels[name] = merged
		}
	}

	for name, source := range catalog.Channels {
		if source.Path != "" && !filepath.IsAbs(source.Path) {
			source.Path = filepath.Join(workspace, source.Path)
			catalog.Channels[name] = source
		}
	}
	return catalog, nil
}

// Source returns the source entry for a channel name. Unknown
// channels return a zero source.
func (c *Catalog) Source(channel string) ChannelSource {
	return c.Channels[channel]
}
