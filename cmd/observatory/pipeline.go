// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/observatory/capability"
	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/connector"
	"github.com/openclaw/observatory/correlate"
	"github.com/openclaw/observatory/history"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

const (
	// eventBuffer absorbs snapshot bursts so connectors never block on
	// the correlation loop.
	eventBuffer = 256

	// historyBatch and historyFlushEvery bound how long an applied
	// event can sit unbuffered before it is durable.
	historyBatch      = 64
	historyFlushEvery = time.Second

	// sweepEvery is the history retention maintenance cadence.
	sweepEvery = time.Hour

	// reprobeEvery is how often pending provider demotions are checked
	// and acted on.
	reprobeEvery = 30 * time.Second
)

// pipeline supervises the channel connectors and fans their events
// into correlation and history. One goroutine per channel plus one
// correlation loop; connectors are rebuilt from the registry after
// every stream exit, so a demoted provider takes effect on the next
// cycle without a restart.
type pipeline struct {
	cfg      *config.Config
	catalog  *config.Catalog
	registry *capability.Registry
	prober   *capability.Prober
	store    *correlate.Store
	notifier *correlate.Notifier
	replay   *history.Store
	deadLet  *connector.DeadLetter
	clock    clock.Clock
	logger   *slog.Logger
}

// run blocks until ctx is cancelled and all pipeline goroutines have
// drained.
func (p *pipeline) run(ctx context.Context) {
	events := make(chan schema.Event, eventBuffer)

	var wg sync.WaitGroup
	for _, channel := range schema.CanonicalChannels() {
		wg.Add(1)
		go func(channel schema.Channel) {
			defer wg.Done()
			p.supervise(ctx, channel, events)
		}(channel)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.correlateLoop(ctx, events)
	}()

	if p.replay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.sweepLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reprobeLoop(ctx)
	}()

	wg.Wait()
}

// supervise runs one channel's connector until shutdown: discover,
// snapshot, then stream; on any failure report it to the registry,
// back off one poll interval, and rebuild. The cursor survives
// rebuilds so an intact source resumes instead of replaying.
func (p *pipeline) supervise(ctx context.Context, channel schema.Channel, events chan<- schema.Event) {
	logger := p.logger.With("channel", channel)
	var cursor connector.Cursor

	for ctx.Err() == nil {
		conn := connector.Build(p.registry.Capabilities()[channel], connector.BuildOptions{
			Catalog:    p.catalog,
			Probe:      p.cfg.Probe,
			Connector:  p.cfg.Connector,
			DeadLetter: p.deadLet,
			Clock:      p.clock,
			Logger:     logger,
		})

		if err := conn.Discover(ctx); err != nil {
			p.channelFailed(channel, logger, "discover", err)
			p.clock.Sleep(p.cfg.Connector.PollInterval)
			continue
		}

		snapshot, err := conn.Snapshot(ctx)
		if err != nil {
			p.channelFailed(channel, logger, "snapshot", err)
			p.clock.Sleep(p.cfg.Connector.PollInterval)
			continue
		}
		for _, event := range snapshot {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
		p.registry.ReportSuccess(channel)

		cursor, err = conn.Stream(ctx, cursor, events)
		if err != nil && ctx.Err() == nil {
			p.channelFailed(channel, logger, "stream", err)
			p.clock.Sleep(p.cfg.Connector.PollInterval)
		}
	}
}

func (p *pipeline) channelFailed(channel schema.Channel, logger *slog.Logger, stage string, err error) {
	crossed := p.registry.ReportFailure(channel)
	if errors.Is(err, schema.ErrChannelUnavailable) {
		// A vanished source is posture, not a fault; it still earns a
		// demerit so a persistent absence demotes the channel.
		logger.Info("channel source unavailable",
			"stage", stage, "error", err, "demotion_pending", crossed)
		return
	}
	logger.Warn("channel connector failed",
		"stage", stage, "error", err, "demotion_pending", crossed)
}

// correlateLoop is the single writer into the correlation store. It
// marks the notifier per applied event and batches history appends.
func (p *pipeline) correlateLoop(ctx context.Context, events <-chan schema.Event) {
	ticker := p.clock.NewTicker(historyFlushEvery)
	defer ticker.Stop()

	var pending []schema.Event
	flush := func() {
		if p.replay == nil || len(pending) == 0 {
			pending = pending[:0]
			return
		}
		if _, err := p.replay.Append(context.Background(), pending); err != nil {
			p.logger.Warn("history append failed", "events", len(pending), "error", err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case event := <-events:
			changed := p.store.Apply(event)
			if len(changed) > 0 {
				p.notifier.Mark(changed, 1)
				pending = append(pending, event)
				if len(pending) >= historyBatch {
					flush()
				}
			}
		case <-ticker.C:
			flush()
		}
	}
}

// sweepLoop enforces history retention on a fixed cadence.
func (p *pipeline) sweepLoop(ctx context.Context) {
	ticker := p.clock.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.replay.Sweep(ctx)
			if err != nil {
				p.logger.Warn("history sweep failed", "error", err)
			} else if removed > 0 {
				p.logger.Info("history swept", "removed", removed)
			}
		}
	}
}

// reprobeLoop re-runs the capability probe whenever the registry has
// accumulated pending demotions, letting a channel fall back to a
// lower-priority provider (or to unavailable) without a restart.
func (p *pipeline) reprobeLoop(ctx context.Context) {
	ticker := p.clock.NewTicker(reprobeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			demotions := p.registry.PendingDemotions()
			if len(demotions) == 0 {
				continue
			}
			p.logger.Info("re-probing after connector failures", "channels", demotions)
			capabilities, err := p.prober.ProbeAll(ctx, p.cfg.Workspace)
			if err != nil {
				p.logger.Warn("re-probe failed", "error", err)
				continue
			}
			p.registry.Apply(capabilities)
		}
	}
}
