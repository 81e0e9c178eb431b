// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Channel identifies one telemetry channel an installation may or may
// not expose. The set of canonical channels is fixed; the capability
// probe decides which of them are live on a given host.
type Channel string

// Canonical channels.
const (
	// ChannelBus is the shared JSONL event bus agents append to.
	ChannelBus Channel = "bus"

	// ChannelSessions is the per-agent session transcript stream.
	ChannelSessions Channel = "sessions"

	// ChannelCronJobs is the scheduled job registry.
	ChannelCronJobs Channel = "cron_jobs"

	// ChannelCronRuns is the per-job execution log.
	ChannelCronRuns Channel = "cron_runs"

	// ChannelProcess is agent process liveness (pid files).
	ChannelProcess Channel = "process"

	// ChannelLocks is lock/watchdog state files marking risky
	// transitions.
	ChannelLocks Channel = "locks"

	// ChannelRequests is the explicit request/result exchange.
	ChannelRequests Channel = "requests"
)

// CanonicalChannels returns all channels in stable order. The order is
// load-bearing for deterministic capability reports and coverage math.
func CanonicalChannels() []Channel {
	return []Channel{
		ChannelBus,
		ChannelSessions,
		ChannelCronJobs,
		ChannelCronRuns,
		ChannelProcess,
		ChannelLocks,
		ChannelRequests,
	}
}

// ProviderKind is the access strategy serving a channel. Probing tries
// kinds in descending Priority order; correlation uses Priority to
// break conflicts between sources reporting at the same timestamp.
type ProviderKind string

const (
	// ProviderFilesystem reads state files and tails logs directly.
	ProviderFilesystem ProviderKind = "filesystem"

	// ProviderCLI shells out to the swarm's control binary with a
	// JSON output flag.
	ProviderCLI ProviderKind = "cli"

	// ProviderGateway queries a local HTTP gateway.
	ProviderGateway ProviderKind = "gateway"

	// ProviderNull serves an unavailable channel: it produces
	// nothing and reports healthy-disabled.
	ProviderNull ProviderKind = "null"
)

// Priority orders providers for conflict resolution: filesystem beats
// CLI beats gateway; null never wins a conflict.
func (k ProviderKind) Priority() int {
	switch k {
	case ProviderFilesystem:
		return 3
	case ProviderCLI:
		return 2
	case ProviderGateway:
		return 1
	default:
		return 0
	}
}

// Capability records one channel's availability after a probe cycle.
// Immutable between probes: transient connector failures update
// connector health, never the capability map.
type Capability struct {
	Channel   Channel      `json:"channel"`
	Available bool         `json:"available"`
	Provider  ProviderKind `json:"source"`

	// Confidence is the probe's confidence in this verdict, in
	// [0,1]. A channel proven by reading real data scores higher
	// than one inferred from the existence of an empty directory.
	Confidence float64 `json:"confidence"`
}

// CapabilityMap is the probe result for all canonical channels. Every
// canonical channel has an entry; absent channels carry Available:
// false with ProviderNull.
type CapabilityMap map[Channel]Capability

// AvailableCount returns how many canonical channels are available.
func (m CapabilityMap) AvailableCount() int {
	count := 0
	for _, channel := range CanonicalChannels() {
		if m[channel].Available {
			count++
		}
	}
	return count
}

// Coverage is a 0–100 score of canonical channel availability.
func (m CapabilityMap) Coverage() int {
	total := len(CanonicalChannels())
	if total == 0 {
		return 0
	}
	return (m.AvailableCount()*100 + total/2) / total
}

// Mode is the operating posture chosen from the capability map at
// bootstrap and changed only by an explicit re-probe.
type Mode string

const (
	// ModeMinimal: no channels. The observatory serves empty but
	// well-formed responses.
	ModeMinimal Mode = "minimal"

	// ModePortable: some canonical channels. Degraded inference with
	// explicit confidence markers.
	ModePortable Mode = "portable"

	// ModeStrict: every canonical channel is live.
	ModeStrict Mode = "strict"
)

// ModeFor computes the operating mode for a capability map.
func ModeFor(m CapabilityMap) Mode {
	available := m.AvailableCount()
	switch {
	case available == 0:
		return ModeMinimal
	case available == len(CanonicalChannels()):
		return ModeStrict
	default:
		return ModePortable
	}
}
