// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/schema"
)

// Probe confidence levels. A verdict backed by real decodable data
// scores higher than one inferred from structure alone.
const (
	confidenceData      = 0.95
	confidenceStructure = 0.6
	confidenceCLI       = 0.8
	confidenceGateway   = 0.7
	confidenceAbsent    = 0.9
)

// Prober runs capability detection against one workspace.
type Prober struct {
	cfg     config.ProbeConfig
	catalog *config.Catalog
	logger  *slog.Logger

	// httpClient is injectable for gateway probe tests.
	httpClient *http.Client

	// runCLI is injectable for CLI probe tests. The default shells
	// out to cfg.CLIBinary.
	runCLI func(ctx context.Context, args []string) ([]byte, error)
}

// NewProber returns a prober over the given probe config and channel
// catalog.
func NewProber(cfg config.ProbeConfig, catalog *config.Catalog, logger *slog.Logger) *Prober {
	p := &Prober{
		cfg:        cfg,
		catalog:    catalog,
		logger:     logger,
		httpClient: &http.Client{},
	}
	p.runCLI = func(ctx context.Context, args []string) ([]byte, error) {
		return exec.CommandContext(ctx, cfg.CLIBinary, args...).Output()
	}
	return p
}

// ProbeAll probes every canonical channel and returns a complete
// capability map. The only failure it can return is a bootstrap
// failure: the workspace itself being unusable. Individual channel
// absence is a verdict, not an error.
func (p *Prober) ProbeAll(ctx context.Context, workspace string) (schema.CapabilityMap, error) {
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: workspace %s not readable: %v",
			schema.ErrBootstrapFailure, workspace, err)
	}

	result := make(schema.CapabilityMap, len(schema.CanonicalChannels()))
	for _, channel := range schema.CanonicalChannels() {
		capability := p.probeChannel(ctx, channel)
		result[channel] = capability
		p.logger.Info("probed channel",
			"channel", channel,
			"available", capability.Available,
			"provider", capability.Provider,
			"confidence", capability.Confidence)
	}
	return result, nil
}

// probeChannel tries strategies in descending priority and returns the
// first success.
func (p *Prober) probeChannel(ctx context.Context, channel schema.Channel) schema.Capability {
	source := p.catalog.Source(string(channel))
	if source.Disabled {
		return unavailable(channel)
	}

	if capability, ok := p.probeFilesystem(ctx, channel, source); ok {
		return capability
	}
	if capability, ok := p.probeCLI(ctx, channel, source); ok {
		return capability
	}
	if capability, ok := p.probeGateway(ctx, channel, source); ok {
		return capability
	}
	return unavailable(channel)
}

func unavailable(channel schema.Channel) schema.Capability {
	return schema.Capability{
		Channel:    channel,
		Available:  false,
		Provider:   schema.ProviderNull,
		Confidence: confidenceAbsent,
	}
}

// probeFilesystem checks the catalog path. A readable file or
// directory proves the channel structurally; a decodable first line
// (or a non-empty directory) proves it with data.
func (p *Prober) probeFilesystem(ctx context.Context, channel schema.Channel, source config.ChannelSource) (schema.Capability, bool) {
	if source.Path == "" {
		return schema.Capability{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FilesystemTimeout)
	defer cancel()

	type verdict struct {
		confidence float64
		ok         bool
	}
	done := make(chan verdict, 1)
	go func() {
		info, err := os.Stat(source.Path)
		if err != nil {
			done <- verdict{}
			return
		}
		if info.IsDir() {
			entries, err := os.ReadDir(source.Path)
			if err != nil {
				done <- verdict{}
				return
			}
			confidence := confidenceStructure
			if len(entries) > 0 {
				confidence = confidenceData
			}
			done <- verdict{confidence: confidence, ok: true}
			return
		}
		done <- verdict{confidence: fileConfidence(source.Path), ok: true}
	}()

	select {
	case <-ctx.Done():
		p.logger.Warn("filesystem probe timed out", "channel", channel, "path", source.Path)
		return schema.Capability{}, false
	case v := <-done:
		if !v.ok {
			return schema.Capability{}, false
		}
		return schema.Capability{
			Channel:    channel,
			Available:  true,
			Provider:   schema.ProviderFilesystem,
			Confidence: v.confidence,
		}, true
	}
}

// fileConfidence reads the first line of a data file and scores by
// whether it decodes as JSON.
func fileConfidence(path string) float64 {
	file, err := os.Open(path)
	if err != nil {
		return confidenceStructure
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return confidenceStructure
	}
	var probe any
	if json.Unmarshal(scanner.Bytes(), &probe) != nil {
		return confidenceStructure
	}
	return confidenceData
}

// probeCLI runs the channel's catalog CLI invocation and requires
// valid JSON on stdout.
func (p *Prober) probeCLI(ctx context.Context, channel schema.Channel, source config.ChannelSource) (schema.Capability, bool) {
	if len(source.CLIArgs) == 0 || p.cfg.CLIBinary == "" {
		return schema.Capability{}, false
	}
	if _, err := exec.LookPath(p.cfg.CLIBinary); err != nil {
		return schema.Capability{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CLITimeout)
	defer cancel()

	output, err := p.runCLI(ctx, source.CLIArgs)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Warn("cli probe timed out", "channel", channel, "binary", p.cfg.CLIBinary)
		}
		return schema.Capability{}, false
	}
	var probe any
	if json.Unmarshal(output, &probe) != nil {
		return schema.Capability{}, false
	}
	return schema.Capability{
		Channel:    channel,
		Available:  true,
		Provider:   schema.ProviderCLI,
		Confidence: confidenceCLI,
	}, true
}

// probeGateway issues a GET against the gateway path and accepts any
// 2xx answer.
func (p *Prober) probeGateway(ctx context.Context, channel schema.Channel, source config.ChannelSource) (schema.Capability, bool) {
	if p.cfg.GatewayURL == "" || source.GatewayPath == "" {
		return schema.Capability{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.GatewayURL+source.GatewayPath, nil)
	if err != nil {
		return schema.Capability{}, false
	}
	response, err := p.httpClient.Do(request)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			p.logger.Warn("gateway probe timed out", "channel", channel)
		}
		return schema.Capability{}, false
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return schema.Capability{}, false
	}
	return schema.Capability{
		Channel:    channel,
		Available:  true,
		Provider:   schema.ProviderGateway,
		Confidence: confidenceGateway,
	}, true
}

// ProbeDeadline is the worst-case duration of a full probe cycle,
// used by callers that want one deadline across channels.
func ProbeDeadline(cfg config.ProbeConfig) time.Duration {
	perChannel := cfg.FilesystemTimeout + cfg.CLITimeout + cfg.GatewayTimeout
	return perChannel * time.Duration(len(schema.CanonicalChannels()))
}
