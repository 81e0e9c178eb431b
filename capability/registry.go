// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openclaw/observatory/schema"
)

// Registry holds the current capability map and operating mode. Safe
// for concurrent use. The map changes only through Apply (probe or
// re-probe); connector failures accumulate demerits that flag a
// channel for demotion but never mutate the map in place.
type Registry struct {
	logger      *slog.Logger
	demoteAfter int

	mu           sync.RWMutex
	capabilities schema.CapabilityMap
	mode         schema.Mode
	forced       bool
	failures     map[schema.Channel]int
}

// NewRegistry builds a registry from an initial probe result.
// modeOverride forces the mode when non-empty; forcing strict against
// a map with missing channels is a bootstrap failure.
func NewRegistry(capabilities schema.CapabilityMap, modeOverride string, demoteAfter int, logger *slog.Logger) (*Registry, error) {
	registry := &Registry{
		logger:       logger,
		demoteAfter:  demoteAfter,
		capabilities: capabilities,
		mode:         schema.ModeFor(capabilities),
		failures:     make(map[schema.Channel]int),
	}

	if modeOverride != "" {
		forced := schema.Mode(modeOverride)
		if forced == schema.ModeStrict && registry.mode != schema.ModeStrict {
			return nil, fmt.Errorf("%w: strict mode forced but only %d/%d channels available",
				schema.ErrBootstrapFailure,
				capabilities.AvailableCount(), len(schema.CanonicalChannels()))
		}
		registry.mode = forced
		registry.forced = true
	}

	logger.Info("capability registry ready",
		"mode", registry.mode,
		"coverage", capabilities.Coverage(),
		"forced", registry.forced)
	return registry, nil
}

// Capabilities returns a copy of the current capability map.
func (r *Registry) Capabilities() schema.CapabilityMap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(schema.CapabilityMap, len(r.capabilities))
	for channel, capability := range r.capabilities {
		snapshot[channel] = capability
	}
	return snapshot
}

// Mode returns the current operating mode.
func (r *Registry) Mode() schema.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Coverage returns the current 0–100 coverage score.
func (r *Registry) Coverage() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capabilities.Coverage()
}

// Available reports whether a channel is currently available.
func (r *Registry) Available(channel schema.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capabilities[channel].Available
}

// Provider returns the provider currently serving a channel.
func (r *Registry) Provider(channel schema.Channel) schema.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capabilities[channel].Provider
}

// ReportFailure records one connector failure on a channel. Returns
// true when the channel has now crossed the demotion threshold and a
// re-probe should demote its provider.
func (r *Registry) ReportFailure(channel schema.Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[channel]++
	count := r.failures[channel]
	if count == r.demoteAfter {
		r.logger.Warn("channel crossed demotion threshold",
			"channel", channel,
			"consecutive_failures", count,
			"provider", r.capabilities[channel].Provider)
	}
	return count >= r.demoteAfter
}

// ReportSuccess resets a channel's consecutive failure count.
func (r *Registry) ReportSuccess(channel schema.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, channel)
}

// PendingDemotions lists channels at or past the demotion threshold,
// in canonical order.
func (r *Registry) PendingDemotions() []schema.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var demotions []schema.Channel
	for _, channel := range schema.CanonicalChannels() {
		if r.failures[channel] >= r.demoteAfter {
			demotions = append(demotions, channel)
		}
	}
	return demotions
}

// Apply merges a fresh probe result atomically. Upgrades and
// same-provider results install unconditionally and clear the
// channel's demerits. A downgrade — an available channel probing
// unavailable, or probing a lower-priority provider — is accepted only
// for channels at or past the demotion threshold: one transient probe
// failure never revokes a proven capability. The mode is re-derived
// unless forced.
func (r *Registry) Apply(capabilities schema.CapabilityMap) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.mode
	for channel, probed := range capabilities {
		current := r.capabilities[channel]
		downgrade := current.Available &&
			(!probed.Available || probed.Provider.Priority() < current.Provider.Priority())
		if downgrade && r.failures[channel] < r.demoteAfter {
			r.logger.Debug("probe downgrade ignored for proven channel",
				"channel", channel,
				"probed_provider", probed.Provider,
				"consecutive_failures", r.failures[channel])
			continue
		}
		if downgrade {
			r.logger.Warn("channel demoted",
				"channel", channel,
				"from", current.Provider,
				"to", probed.Provider)
		}
		r.capabilities[channel] = probed
		delete(r.failures, channel)
	}
	if !r.forced {
		r.mode = schema.ModeFor(r.capabilities)
	}

	if r.mode != previous {
		r.logger.Info("operating mode changed", "from", previous, "to", r.mode)
	}
}
