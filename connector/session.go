// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// Sessions bridges per-agent session transcripts into the event
// stream. The source is a directory of <agent>.jsonl files, each an
// append-only transcript; the connector maintains an independent
// cursor per file, so one agent's rotation never replays another's
// transcript.
//
// The exported Cursor aggregates progress (sum of per-file offsets,
// max generation); resumption replays from per-file zero and relies
// on dedup keys, which transcript entries always carry.
type Sessions struct {
	healthTracker

	dir             string
	provider        schema.ProviderKind
	deadLetter      *DeadLetter
	maxLine         int
	poll            time.Duration
	excludeThoughts bool
	clock           clock.Clock
	logger          *slog.Logger

	files map[string]Cursor
}

// NewSessions returns a session connector over the given transcript
// directory. excludeThoughts drops agent-internal reasoning entries
// before they enter the pipeline.
func NewSessions(dir string, provider schema.ProviderKind, deadLetter *DeadLetter, maxLine int, poll time.Duration, excludeThoughts bool, clk clock.Clock, logger *slog.Logger) *Sessions {
	return &Sessions{
		dir:             dir,
		provider:        provider,
		deadLetter:      deadLetter,
		maxLine:         maxLine,
		poll:            poll,
		excludeThoughts: excludeThoughts,
		clock:           clk,
		logger:          logger.With("connector", "sessions"),
		files:           make(map[string]Cursor),
	}
}

func (s *Sessions) Channel() schema.Channel { return schema.ChannelSessions }

// Discover verifies the transcript directory is listable.
func (s *Sessions) Discover(ctx context.Context) error {
	if _, err := os.ReadDir(s.dir); err != nil {
		return sourceErr("session source", err)
	}
	return nil
}

// Snapshot reads every transcript in full without touching stream
// cursors.
func (s *Sessions) Snapshot(ctx context.Context) ([]schema.Event, error) {
	transcripts, err := s.transcripts()
	if err != nil {
		s.recordFailure(err.Error())
		return nil, err
	}

	var events []schema.Event
	for _, path := range transcripts {
		agent := agentFromTranscript(path)
		tail := s.tailer(path)
		if _, err := tail.drain(Cursor{}, func(line []byte, _ Cursor) {
			if event, ok := s.normalize(agent, line); ok {
				events = append(events, event)
			}
		}); err != nil {
			s.recordFailure(err.Error())
			return nil, err
		}
	}
	s.recordSuccess(s.clock.Now())
	return events, nil
}

// Stream follows every transcript, picking up files that appear while
// streaming. Wake-ups are poll-driven; transcripts are low-rate
// relative to the bus.
func (s *Sessions) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	ticker := s.clock.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		if err := s.drainAll(ctx, out); err != nil {
			s.recordFailure(err.Error())
			return s.aggregate(), err
		}
		s.recordSuccess(s.clock.Now())

		select {
		case <-ctx.Done():
			return s.aggregate(), nil
		case <-ticker.C:
		}
	}
}

func (s *Sessions) drainAll(ctx context.Context, out chan<- schema.Event) error {
	transcripts, err := s.transcripts()
	if err != nil {
		return err
	}
	for _, path := range transcripts {
		agent := agentFromTranscript(path)
		tail := s.tailer(path)
		next, err := tail.drain(s.files[path], func(line []byte, _ Cursor) {
			event, ok := s.normalize(agent, line)
			if !ok {
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return err
		}
		s.files[path] = next
	}
	return nil
}

// transcripts lists the session files in stable order.
func (s *Sessions) transcripts() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	return paths, nil
}

func (s *Sessions) aggregate() Cursor {
	var aggregate Cursor
	for _, cursor := range s.files {
		aggregate.Offset += cursor.Offset
		if cursor.Generation > aggregate.Generation {
			aggregate.Generation = cursor.Generation
		}
	}
	return aggregate
}

func (s *Sessions) tailer(path string) *tailer {
	return &tailer{
		path:    path,
		poll:    s.poll,
		maxLine: s.maxLine,
		clock:   s.clock,
		logger:  s.logger,
		overflow: func(line []byte) {
			s.deadLetter.Archive(schema.ChannelSessions, line[:1024],
				fmt.Errorf("%w: line exceeds %d bytes", schema.ErrSchemaViolation, s.maxLine))
		},
	}
}

// agentFromTranscript derives the agent name from the file name.
func agentFromTranscript(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// normalize decodes one transcript entry, dead-lettering rejects.
func (s *Sessions) normalize(agent string, line []byte) (schema.Event, bool) {
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		s.deadLetter.Archive(schema.ChannelSessions, line,
			fmt.Errorf("%w: %v", schema.ErrSchemaViolation, err))
		return schema.Event{}, false
	}

	event, err := normalizeSessionRecord(agent, record, s.provider)
	if err != nil {
		s.deadLetter.Archive(schema.ChannelSessions, line, err)
		return schema.Event{}, false
	}
	if event.Kind == schema.EventThought && s.excludeThoughts {
		return schema.Event{}, false
	}
	return event, true
}

// normalizeSessionRecord maps one transcript entry onto an event.
// Transcript vocabulary is role-based rather than type-based. agent
// may be empty when the record itself names one (CLI dumps do).
func normalizeSessionRecord(agent string, record map[string]any, provider schema.ProviderKind) (schema.Event, error) {
	when, err := parseTimestamp(firstPresent(record, "ts", "time", "timestamp"))
	if err != nil {
		return schema.Event{}, err
	}
	if agent == "" {
		agent = stringField(record, "agent", "session")
	}

	event := schema.Event{
		ID:       stringField(record, "id"),
		Time:     when,
		Source:   schema.ChannelSessions,
		Provider: provider,
		Agent:    agent,
		Kind:     sessionKind(stringField(record, "role", "type")),
		Text:     stringField(record, "text", "content", "message"),
	}
	if event.ID != "" {
		event.DedupKey = "id:" + event.ID
	} else {
		// Transcript entries have no native ids; derive identity
		// from content so re-reading after rotation stays
		// idempotent.
		event.DedupKey = event.EffectiveDedupKey()
	}
	return event, event.Validate()
}

// sessionKind maps transcript roles onto event kinds. Internal
// reasoning maps to thoughts; everything visible maps to messages.
func sessionKind(role string) schema.EventKind {
	switch role {
	case "thought", "thinking", "reasoning", "internal":
		return schema.EventThought
	case "tool", "tool_call", "action":
		return schema.EventAction
	case "result", "tool_result":
		return schema.EventResult
	default:
		return schema.EventMessage
	}
}
