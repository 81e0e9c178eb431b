// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// EventKind classifies what a normalized event describes. The kind
// determines which correlation rules apply; unknown kinds are carried
// through untouched and surface only in drilldowns.
type EventKind string

const (
	// EventStatus updates an agent's status and current task.
	EventStatus EventKind = "status"

	// EventMessage is an inter-agent or user-visible message.
	EventMessage EventKind = "message"

	// EventThought is an agent's internal reasoning line from a
	// session transcript.
	EventThought EventKind = "thought"

	// EventAction records an agent performing an action (tool call,
	// command, file edit).
	EventAction EventKind = "action"

	// EventCronJob carries the definition of a scheduled job.
	EventCronJob EventKind = "cron_job"

	// EventCronRun records one execution of a scheduled job.
	EventCronRun EventKind = "cron_run"

	// EventHeartbeat is a process liveness observation.
	EventHeartbeat EventKind = "heartbeat"

	// EventLock records lock acquisition or release.
	EventLock EventKind = "lock"

	// EventRequest is an explicit request to an agent.
	EventRequest EventKind = "request"

	// EventResult is the outcome of a request or action.
	EventResult EventKind = "result"

	// EventSnapshot marks a full-state observation rather than an
	// incremental one; correlation treats its fields as ground truth
	// for the snapshot time.
	EventSnapshot EventKind = "snapshot"
)

// Severity grades an event for drilldown display and outcome
// classification. It never affects merge order.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Event is the normalized telemetry record every connector emits,
// regardless of which provider produced it. Raw channel payloads that
// fail normalization never become Events; they go to the dead letter
// archive instead.
type Event struct {
	// ID uniquely identifies this observation. Connectors that read
	// sources without native ids generate one.
	ID string `json:"id"`

	// Time is the event's own timestamp as reported by the source,
	// not the time the observatory read it.
	Time time.Time `json:"time"`

	// Source is the channel this event was observed on.
	Source Channel `json:"source"`

	// Provider is the access strategy that produced the observation.
	Provider ProviderKind `json:"provider"`

	// Agent names the agent this event concerns. Empty for
	// swarm-level events (e.g. lock files not owned by an agent).
	Agent string `json:"agent,omitempty"`

	Kind     EventKind `json:"kind"`
	Severity Severity  `json:"severity,omitempty"`

	// Text is the human-readable body: message content, thought
	// text, status line, run summary.
	Text string `json:"text,omitempty"`

	// Fields carries kind-specific structured payload (cron schedule,
	// pid, lock holder, request arguments).
	Fields map[string]any `json:"fields,omitempty"`

	// ParentID links to a causally prior event id when the source
	// records one (a result's request, a run's job).
	ParentID string `json:"parent_id,omitempty"`

	// DedupKey identifies the underlying fact across channels.
	// Events with equal dedup keys describe the same occurrence and
	// must be applied at most once. Connectors set it from native
	// ids when available; EffectiveDedupKey derives one otherwise.
	DedupKey string `json:"dedup_key,omitempty"`
}

// EffectiveDedupKey returns the event's identity for idempotent
// correlation. A connector-assigned key wins; otherwise the key is
// derived from content so that re-reading the same source line (after
// a crash, a rotation reset, or an overlapping snapshot) cannot apply
// twice.
func (e Event) EffectiveDedupKey() string {
	if e.DedupKey != "" {
		return e.DedupKey
	}
	return "hash:" + contentDigest(e)
}

// contentDigest hashes the identity-bearing fields. Fields and ID are
// deliberately excluded: providers decorate the same fact differently,
// and generated ids differ per read.
func contentDigest(e Event) string {
	h := blake3.New()
	write := func(parts ...string) {
		for _, part := range parts {
			h.Write([]byte(part))
			h.Write([]byte{0})
		}
	}
	write(
		string(e.Source),
		e.Agent,
		string(e.Kind),
		e.Time.UTC().Format(time.RFC3339Nano),
		strings.TrimSpace(e.Text),
		e.ParentID,
	)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Validate reports whether the event satisfies the minimum contract a
// connector must meet before handing it to correlation. Violations are
// schema errors: the raw input belongs in the dead letter archive.
func (e Event) Validate() error {
	if e.Source == "" {
		return fmt.Errorf("%w: missing source channel", ErrSchemaViolation)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing event kind", ErrSchemaViolation)
	}
	if e.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrSchemaViolation)
	}
	return nil
}
