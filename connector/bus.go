// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// Bus reads the shared JSONL event bus, the richest channel: agents
// append status updates, messages, thoughts, actions, and results to
// one file.
type Bus struct {
	healthTracker

	path       string
	provider   schema.ProviderKind
	deadLetter *DeadLetter
	maxLine    int
	poll       time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

// NewBus returns a bus connector tailing the given JSONL file.
func NewBus(path string, provider schema.ProviderKind, deadLetter *DeadLetter, maxLine int, poll time.Duration, clk clock.Clock, logger *slog.Logger) *Bus {
	return &Bus{
		path:       path,
		provider:   provider,
		deadLetter: deadLetter,
		maxLine:    maxLine,
		poll:       poll,
		clock:      clk,
		logger:     logger.With("connector", "bus"),
	}
}

func (b *Bus) Channel() schema.Channel { return schema.ChannelBus }

// Discover verifies the bus file's directory exists. The file itself
// may not exist yet on a fresh swarm; that is serviceable.
func (b *Bus) Discover(ctx context.Context) error {
	if _, err := os.Stat(b.path); err != nil && !os.IsNotExist(err) {
		return sourceErr("bus source", err)
	}
	return nil
}

// Snapshot reads the entire bus file. Overlap with a later Stream from
// a zero cursor is harmless: every event carries a dedup key.
func (b *Bus) Snapshot(ctx context.Context) ([]schema.Event, error) {
	var events []schema.Event
	tail := b.tailer()
	_, err := tail.drain(Cursor{}, func(line []byte, _ Cursor) {
		if event, ok := b.normalize(line); ok {
			events = append(events, event)
		}
	})
	if err != nil {
		b.recordFailure(err.Error())
		return nil, err
	}
	b.recordSuccess(b.clock.Now())
	return events, nil
}

// Stream follows the bus file from cursor until ctx is cancelled.
func (b *Bus) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	tail := b.tailer()
	final, err := tail.run(ctx, cursor, func(line []byte, _ Cursor) {
		event, ok := b.normalize(line)
		if !ok {
			return
		}
		select {
		case out <- event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		b.recordFailure(err.Error())
		return final, err
	}
	b.recordSuccess(b.clock.Now())
	return final, nil
}

func (b *Bus) tailer() *tailer {
	return &tailer{
		path:    b.path,
		poll:    b.poll,
		maxLine: b.maxLine,
		clock:   b.clock,
		logger:  b.logger,
		overflow: func(line []byte) {
			b.deadLetter.Archive(schema.ChannelBus, line[:1024],
				fmt.Errorf("%w: line exceeds %d bytes", schema.ErrSchemaViolation, b.maxLine))
		},
	}
}

// normalize decodes one bus line into an event. Undecodable lines are
// dead-lettered and skipped.
func (b *Bus) normalize(line []byte) (schema.Event, bool) {
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		b.deadLetter.Archive(schema.ChannelBus, line,
			fmt.Errorf("%w: %v", schema.ErrSchemaViolation, err))
		return schema.Event{}, false
	}

	event, err := normalizeBusRecord(record, b.provider)
	if err != nil {
		b.deadLetter.Archive(schema.ChannelBus, line, err)
		return schema.Event{}, false
	}
	return event, true
}

// normalizeBusRecord maps a decoded bus object onto the canonical
// event shape.
func normalizeBusRecord(record map[string]any, provider schema.ProviderKind) (schema.Event, error) {
	when, err := parseTimestamp(firstPresent(record, "ts", "time", "timestamp"))
	if err != nil {
		return schema.Event{}, err
	}

	kindWord := stringField(record, "type", "kind", "event")
	if kindWord == "" {
		return schema.Event{}, fmt.Errorf("%w: bus record missing type", schema.ErrSchemaViolation)
	}

	event := schema.Event{
		ID:       stringField(record, "id", "event_id"),
		Time:     when,
		Source:   schema.ChannelBus,
		Provider: provider,
		Agent:    stringField(record, "agent", "from", "sender"),
		Kind:     busKind(kindWord),
		Severity: severityFor(stringField(record, "severity", "level")),
		Text:     stringField(record, "text", "content", "message", "status"),
		ParentID: stringField(record, "parent_id", "in_reply_to"),
	}
	if event.ID != "" {
		event.DedupKey = "id:" + event.ID
	}

	// Carry structured extras the correlation rules may need.
	fields := make(map[string]any)
	for key, value := range record {
		switch key {
		case "ts", "time", "timestamp", "id", "event_id", "type", "kind", "event",
			"agent", "from", "sender", "severity", "level",
			"text", "content", "message", "status", "parent_id", "in_reply_to":
		default:
			fields[key] = value
		}
	}
	if len(fields) > 0 {
		event.Fields = fields
	}

	return event, event.Validate()
}

// busKind maps the bus vocabulary onto event kinds; unknown words pass
// through so new producer versions degrade gracefully.
func busKind(word string) schema.EventKind {
	switch word {
	case "status", "state":
		return schema.EventStatus
	case "message", "chat", "say":
		return schema.EventMessage
	case "thought", "thinking":
		return schema.EventThought
	case "action", "tool", "tool_call", "command":
		return schema.EventAction
	case "result", "outcome":
		return schema.EventResult
	case "request", "ask":
		return schema.EventRequest
	case "heartbeat", "ping":
		return schema.EventHeartbeat
	case "lock", "unlock":
		return schema.EventLock
	default:
		return schema.EventKind(word)
	}
}

// firstPresent returns the first key present in the record, regardless
// of value type.
func firstPresent(record map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := record[key]; ok {
			return value
		}
	}
	return nil
}
