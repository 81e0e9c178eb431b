// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/schema"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func probeConfig() config.ProbeConfig {
	return config.ProbeConfig{
		FilesystemTimeout: time.Second,
		CLITimeout:        time.Second,
		GatewayTimeout:    time.Second,
		CLIBinary:         "definitely-not-a-real-binary-xyzzy",
		DemoteAfter:       3,
	}
}

// workspaceWith builds a workspace containing the given relative files.
func workspaceWith(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for relative, content := range files {
		path := filepath.Join(root, relative)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestProbeFilesystemVerdicts(t *testing.T) {
	root := workspaceWith(t, map[string]string{
		"bus/events.jsonl": `{"type":"status","agent":"scout"}` + "\n",
		"cron/jobs.json":   "not json at all\n",
		"locks/.keep":      "",
	})

	catalog, err := config.LoadCatalog("", root)
	if err != nil {
		t.Fatal(err)
	}
	prober := NewProber(probeConfig(), catalog, testLogger())

	capabilities, err := prober.ProbeAll(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}

	bus := capabilities[schema.ChannelBus]
	if !bus.Available || bus.Provider != schema.ProviderFilesystem {
		t.Errorf("bus = %+v, want available via filesystem", bus)
	}
	if bus.Confidence != confidenceData {
		t.Errorf("bus confidence = %v, want %v (decodable data)", bus.Confidence, confidenceData)
	}

	// File exists but first line is not JSON: structural confidence.
	cronJobs := capabilities[schema.ChannelCronJobs]
	if !cronJobs.Available || cronJobs.Confidence != confidenceStructure {
		t.Errorf("cron_jobs = %+v, want structural confidence", cronJobs)
	}

	// Non-empty directory counts as data.
	locks := capabilities[schema.ChannelLocks]
	if !locks.Available || locks.Confidence != confidenceData {
		t.Errorf("locks = %+v", locks)
	}

	// Channels with no path present at all are unavailable via null,
	// and that is a verdict, not an error.
	sessions := capabilities[schema.ChannelSessions]
	if sessions.Available || sessions.Provider != schema.ProviderNull {
		t.Errorf("sessions = %+v, want unavailable null", sessions)
	}
}

func TestProbeDisabledChannel(t *testing.T) {
	root := workspaceWith(t, map[string]string{
		"locks/held.lock": "scout",
	})
	catalogPath := filepath.Join(root, "channels.jsonc")
	if err := os.WriteFile(catalogPath, []byte(`{"channels":{"locks":{"disabled":true}}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	catalog, err := config.LoadCatalog(catalogPath, root)
	if err != nil {
		t.Fatal(err)
	}

	prober := NewProber(probeConfig(), catalog, testLogger())
	capabilities, err := prober.ProbeAll(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if capabilities[schema.ChannelLocks].Available {
		t.Error("disabled channel probed available")
	}
}

func TestProbeGatewayFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/bus" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	root := t.TempDir() // no filesystem sources at all
	catalog, err := config.LoadCatalog("", "/nonexistent-workspace-root")
	if err != nil {
		t.Fatal(err)
	}

	cfg := probeConfig()
	cfg.GatewayURL = server.URL
	prober := NewProber(cfg, catalog, testLogger())

	capabilities, err := prober.ProbeAll(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	bus := capabilities[schema.ChannelBus]
	if !bus.Available || bus.Provider != schema.ProviderGateway {
		t.Errorf("bus = %+v, want available via gateway", bus)
	}
	if capabilities[schema.ChannelSessions].Available {
		t.Error("sessions available despite 404 gateway path")
	}
}

func TestProbeAllBootstrapFailure(t *testing.T) {
	catalog, _ := config.LoadCatalog("", "/tmp")
	prober := NewProber(probeConfig(), catalog, testLogger())

	_, err := prober.ProbeAll(context.Background(), "/nonexistent-workspace-root")
	if !errors.Is(err, schema.ErrBootstrapFailure) {
		t.Fatalf("err = %v, want bootstrap failure", err)
	}
}

func TestRegistryModeAndDemotion(t *testing.T) {
	capabilities := schema.CapabilityMap{}
	for _, channel := range schema.CanonicalChannels() {
		capabilities[channel] = schema.Capability{
			Channel: channel, Available: true, Provider: schema.ProviderFilesystem, Confidence: 1,
		}
	}

	registry, err := NewRegistry(capabilities, "", 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if registry.Mode() != schema.ModeStrict {
		t.Errorf("mode = %s, want strict", registry.Mode())
	}

	// Two failures: below threshold.
	registry.ReportFailure(schema.ChannelBus)
	if registry.ReportFailure(schema.ChannelBus) {
		t.Error("demotion flagged below threshold")
	}
	// Success resets the streak.
	registry.ReportSuccess(schema.ChannelBus)
	registry.ReportFailure(schema.ChannelBus)
	registry.ReportFailure(schema.ChannelBus)
	if registry.ReportFailure(schema.ChannelBus) != true {
		t.Error("third consecutive failure did not flag demotion")
	}
	if got := registry.PendingDemotions(); len(got) != 1 || got[0] != schema.ChannelBus {
		t.Errorf("pending demotions = %v", got)
	}

	// Applying a fresh probe clears demerits.
	registry.Apply(capabilities)
	if got := registry.PendingDemotions(); got != nil {
		t.Errorf("demotions after re-probe = %v", got)
	}
}

func TestRegistryStrictOverrideRequiresFullCoverage(t *testing.T) {
	capabilities := schema.CapabilityMap{
		schema.ChannelBus: {Channel: schema.ChannelBus, Available: true, Provider: schema.ProviderFilesystem},
	}
	_, err := NewRegistry(capabilities, "strict", 3, testLogger())
	if !errors.Is(err, schema.ErrBootstrapFailure) {
		t.Fatalf("err = %v, want bootstrap failure", err)
	}

	// Forcing minimal on a capable host is allowed.
	registry, err := NewRegistry(capabilities, "minimal", 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if registry.Mode() != schema.ModeMinimal {
		t.Errorf("mode = %s, want forced minimal", registry.Mode())
	}

	// Forced mode survives re-probe.
	registry.Apply(capabilities)
	if registry.Mode() != schema.ModeMinimal {
		t.Errorf("mode after re-probe = %s, want minimal", registry.Mode())
	}
}

func TestRegistryApplyKeepsProvenChannelThroughTransientProbeFailure(t *testing.T) {
	capabilities := schema.CapabilityMap{}
	for _, channel := range schema.CanonicalChannels() {
		capabilities[channel] = schema.Capability{
			Channel: channel, Available: true, Provider: schema.ProviderFilesystem, Confidence: 1,
		}
	}
	registry, err := NewRegistry(capabilities, "", 3, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	// Only the bus has earned a demotion; the sessions channel has a
	// clean record but its probe transiently fails the same cycle.
	registry.ReportFailure(schema.ChannelBus)
	registry.ReportFailure(schema.ChannelBus)
	registry.ReportFailure(schema.ChannelBus)

	reprobed := schema.CapabilityMap{}
	for _, channel := range schema.CanonicalChannels() {
		reprobed[channel] = capabilities[channel]
	}
	reprobed[schema.ChannelBus] = schema.Capability{Channel: schema.ChannelBus, Provider: schema.ProviderNull}
	reprobed[schema.ChannelSessions] = schema.Capability{Channel: schema.ChannelSessions, Provider: schema.ProviderNull}

	registry.Apply(reprobed)

	if registry.Available(schema.ChannelBus) {
		t.Error("bus still available after earned demotion")
	}
	if !registry.Available(schema.ChannelSessions) {
		t.Error("sessions downgraded by one transient probe failure with zero demerits")
	}
	if got := registry.Provider(schema.ChannelSessions); got != schema.ProviderFilesystem {
		t.Errorf("sessions provider = %s, want filesystem", got)
	}

	// A later probe that restores the bus upgrades unconditionally.
	registry.Apply(schema.CapabilityMap{
		schema.ChannelBus: {Channel: schema.ChannelBus, Available: true, Provider: schema.ProviderCLI, Confidence: 0.5},
	})
	if got := registry.Provider(schema.ChannelBus); got != schema.ProviderCLI {
		t.Errorf("bus provider = %s, want cli after recovery", got)
	}
}

func TestRegistryApplyAcceptsProviderDemotionPastThreshold(t *testing.T) {
	capabilities := schema.CapabilityMap{
		schema.ChannelBus: {Channel: schema.ChannelBus, Available: true, Provider: schema.ProviderFilesystem, Confidence: 1},
	}
	registry, err := NewRegistry(capabilities, "", 2, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	registry.ReportFailure(schema.ChannelBus)
	registry.ReportFailure(schema.ChannelBus)

	registry.Apply(schema.CapabilityMap{
		schema.ChannelBus: {Channel: schema.ChannelBus, Available: true, Provider: schema.ProviderCLI, Confidence: 0.5},
	})
	if got := registry.Provider(schema.ChannelBus); got != schema.ProviderCLI {
		t.Errorf("bus provider = %s, want cli fallback", got)
	}
	if got := registry.PendingDemotions(); got != nil {
		t.Errorf("demotions after accepted fallback = %v", got)
	}
}
