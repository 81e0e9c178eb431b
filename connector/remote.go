// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// recordNormalizer maps one decoded source object onto an event.
// fallback is the observation time for records without their own
// timestamp semantics.
type recordNormalizer func(record map[string]any, provider schema.ProviderKind, fallback time.Time) (schema.Event, error)

// CLIChannel serves a channel by invoking the swarm control binary
// with a JSON dump invocation. Listings are full-state, so Stream is
// poll-and-re-emit with dedup doing the rest.
type CLIChannel struct {
	healthTracker

	channel    schema.Channel
	binary     string
	args       []string
	normalize  recordNormalizer
	deadLetter *DeadLetter
	poll       time.Duration
	timeout    time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	// runCLI is injectable for tests.
	runCLI func(ctx context.Context) ([]byte, error)
}

// NewCLIChannel returns a CLI-backed connector for the given channel.
func NewCLIChannel(channel schema.Channel, binary string, args []string, normalize recordNormalizer, deadLetter *DeadLetter, poll, timeout time.Duration, clk clock.Clock, logger *slog.Logger) *CLIChannel {
	c := &CLIChannel{
		channel:    channel,
		binary:     binary,
		args:       args,
		normalize:  normalize,
		deadLetter: deadLetter,
		poll:       poll,
		timeout:    timeout,
		clock:      clk,
		logger:     logger.With("connector", string(channel), "provider", "cli"),
	}
	c.runCLI = func(ctx context.Context) ([]byte, error) {
		return exec.CommandContext(ctx, binary, args...).Output()
	}
	return c
}

func (c *CLIChannel) Channel() schema.Channel { return c.channel }

func (c *CLIChannel) Discover(ctx context.Context) error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return sourceErr("cli source", err)
	}
	return nil
}

func (c *CLIChannel) Snapshot(ctx context.Context) ([]schema.Event, error) {
	events, err := c.fetch(ctx)
	if err != nil {
		c.recordFailure(err.Error())
		return nil, err
	}
	c.recordSuccess(c.clock.Now())
	return events, nil
}

func (c *CLIChannel) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	ticker := c.clock.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		events, err := c.fetch(ctx)
		if err != nil {
			c.recordFailure(err.Error())
		} else {
			c.recordSuccess(c.clock.Now())
			for _, event := range events {
				select {
				case out <- event:
					cursor.Offset++
				case <-ctx.Done():
					return cursor, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return cursor, nil
		case <-ticker.C:
		}
	}
}

func (c *CLIChannel) fetch(ctx context.Context) ([]schema.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	output, err := c.runCLI(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s %v", schema.ErrProviderTimeout, c.binary, c.args)
		}
		return nil, fmt.Errorf("running %s: %w", c.binary, err)
	}
	return c.decodeRecords(output)
}

func (c *CLIChannel) decodeRecords(data []byte) ([]schema.Event, error) {
	records, err := decodeRecordList(data)
	if err != nil {
		c.deadLetter.Archive(c.channel, data, err)
		return nil, nil
	}

	now := c.clock.Now()
	var events []schema.Event
	for _, record := range records {
		event, err := c.normalize(record, schema.ProviderCLI, now)
		if err != nil {
			raw, _ := json.Marshal(record)
			c.deadLetter.Archive(c.channel, raw, err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Gateway serves a channel by querying the local HTTP gateway. Same
// full-state poll semantics as the CLI provider.
type Gateway struct {
	healthTracker

	channel    schema.Channel
	url        string
	normalize  recordNormalizer
	deadLetter *DeadLetter
	poll       time.Duration
	timeout    time.Duration
	client     *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// NewGateway returns a gateway-backed connector fetching the given
// URL.
func NewGateway(channel schema.Channel, url string, normalize recordNormalizer, deadLetter *DeadLetter, poll, timeout time.Duration, clk clock.Clock, logger *slog.Logger) *Gateway {
	return &Gateway{
		channel:    channel,
		url:        url,
		normalize:  normalize,
		deadLetter: deadLetter,
		poll:       poll,
		timeout:    timeout,
		client:     &http.Client{},
		clock:      clk,
		logger:     logger.With("connector", string(channel), "provider", "gateway"),
	}
}

func (g *Gateway) Channel() schema.Channel { return g.channel }

func (g *Gateway) Discover(ctx context.Context) error {
	_, err := g.fetchRaw(ctx)
	if err != nil {
		return fmt.Errorf("gateway source: %w", err)
	}
	return nil
}

func (g *Gateway) Snapshot(ctx context.Context) ([]schema.Event, error) {
	events, err := g.fetch(ctx)
	if err != nil {
		g.recordFailure(err.Error())
		return nil, err
	}
	g.recordSuccess(g.clock.Now())
	return events, nil
}

func (g *Gateway) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	ticker := g.clock.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		events, err := g.fetch(ctx)
		if err != nil {
			g.recordFailure(err.Error())
		} else {
			g.recordSuccess(g.clock.Now())
			for _, event := range events {
				select {
				case out <- event:
					cursor.Offset++
				case <-ctx.Done():
					return cursor, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return cursor, nil
		case <-ticker.C:
		}
	}
}

func (g *Gateway) fetch(ctx context.Context) ([]schema.Event, error) {
	data, err := g.fetchRaw(ctx)
	if err != nil {
		return nil, err
	}

	records, err := decodeRecordList(data)
	if err != nil {
		g.deadLetter.Archive(g.channel, data, err)
		return nil, nil
	}

	now := g.clock.Now()
	var events []schema.Event
	for _, record := range records {
		event, err := g.normalize(record, schema.ProviderGateway, now)
		if err != nil {
			raw, _ := json.Marshal(record)
			g.deadLetter.Archive(g.channel, raw, err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (g *Gateway) fetchRaw(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, err
	}
	response, err := g.client.Do(request)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: GET %s", schema.ErrProviderTimeout, g.url)
		}
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", g.url, response.StatusCode)
	}
	return io.ReadAll(response.Body)
}

// decodeRecordList accepts either a top-level JSON array of objects or
// an object wrapping one under a conventional key.
func decodeRecordList(data []byte) ([]map[string]any, error) {
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: listing is neither array nor object: %v", schema.ErrSchemaViolation, err)
	}
	for _, key := range []string{"items", "events", "jobs", "runs", "sessions", "requests", "entries"} {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("%w: %s is not an object array: %v", schema.ErrSchemaViolation, key, err)
		}
		return records, nil
	}
	return nil, fmt.Errorf("%w: no record array found in listing", schema.ErrSchemaViolation)
}
