// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/openclaw/observatory/schema"
)

// Cursor is a resumable position in a channel's stream. Offset is
// provider-specific (byte offset for file tails, record index for
// listings); Generation increments each time the underlying source
// rotates or truncates, invalidating prior offsets.
type Cursor struct {
	Offset     int64 `json:"offset"`
	Generation int   `json:"generation"`
}

// Health is a connector's self-reported liveness.
type Health struct {
	Healthy bool `json:"healthy"`

	// Detail explains an unhealthy verdict.
	Detail string `json:"detail,omitempty"`

	LastSuccess         time.Time `json:"last_success,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
}

// Connector serves one telemetry channel.
type Connector interface {
	// Channel names the channel this connector serves.
	Channel() schema.Channel

	// Discover verifies the source is currently serviceable. Called
	// after probing and before streaming starts.
	Discover(ctx context.Context) error

	// Snapshot reads the channel's full current state as events.
	Snapshot(ctx context.Context) ([]schema.Event, error)

	// Stream sends incremental events to out starting at cursor
	// until ctx is cancelled, then returns the final cursor. A
	// generation bump in the returned cursor relative to the input
	// means the source rotated mid-stream; the connector restarts
	// from offset zero and replays, relying on dedup keys to make
	// the overlap idempotent.
	Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error)

	// Health reports current liveness.
	Health() Health
}

// sourceErr classifies a Discover failure. A source that simply is not
// there is the channel signalling unavailability — callers treat it as
// posture, not as an ingestion fault — while a present-but-broken
// source stays an ordinary error.
func sourceErr(what string, err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%s: %w: %v", what, schema.ErrChannelUnavailable, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// healthTracker is the shared Health bookkeeping embedded by concrete
// connectors. Zero value is healthy-unused.
type healthTracker struct {
	mu      sync.Mutex
	health  Health
	started bool
}

func (t *healthTracker) recordSuccess(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	t.health = Health{Healthy: true, LastSuccess: now}
}

func (t *healthTracker) recordFailure(detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	t.health.Healthy = false
	t.health.Detail = detail
	t.health.ConsecutiveFailures++
}

func (t *healthTracker) Health() Health {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return Health{Healthy: true}
	}
	return t.health
}

// Null is the connector for an unavailable channel: every operation
// succeeds with nothing, and health is permanently good. Serving
// absence this way keeps the rest of the pipeline free of nil checks.
type Null struct {
	channel schema.Channel
}

// NewNull returns a null connector for the given channel.
func NewNull(channel schema.Channel) *Null {
	return &Null{channel: channel}
}

func (n *Null) Channel() schema.Channel { return n.channel }

func (n *Null) Discover(context.Context) error { return nil }

func (n *Null) Snapshot(context.Context) ([]schema.Event, error) { return nil, nil }

func (n *Null) Stream(ctx context.Context, cursor Cursor, _ chan<- schema.Event) (Cursor, error) {
	<-ctx.Done()
	return cursor, nil
}

func (n *Null) Health() Health { return Health{Healthy: true, Detail: "channel disabled"} }
