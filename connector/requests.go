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
	"sort"
	"strings"
	"time"

	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// Requests observes the explicit request/result exchange: a directory
// where <id>.json is a request addressed to an agent and
// <id>.result.json is its outcome. Results link back to their request
// through ParentID so correlation can track pending work.
type Requests struct {
	healthTracker

	dir        string
	provider   schema.ProviderKind
	deadLetter *DeadLetter
	poll       time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

// NewRequests returns a request exchange connector.
func NewRequests(dir string, provider schema.ProviderKind, deadLetter *DeadLetter, poll time.Duration, clk clock.Clock, logger *slog.Logger) *Requests {
	return &Requests{
		dir:        dir,
		provider:   provider,
		deadLetter: deadLetter,
		poll:       poll,
		clock:      clk,
		logger:     logger.With("connector", "requests"),
	}
}

func (r *Requests) Channel() schema.Channel { return schema.ChannelRequests }

func (r *Requests) Discover(ctx context.Context) error {
	if _, err := os.ReadDir(r.dir); err != nil {
		return sourceErr("request source", err)
	}
	return nil
}

// Snapshot reads every request and result file.
func (r *Requests) Snapshot(ctx context.Context) ([]schema.Event, error) {
	events, err := r.readAll()
	if err != nil {
		r.recordFailure(err.Error())
		return nil, err
	}
	r.recordSuccess(r.clock.Now())
	return events, nil
}

// Stream polls the exchange directory and re-emits everything found;
// file-derived dedup keys collapse re-reads downstream.
func (r *Requests) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	ticker := r.clock.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		events, err := r.readAll()
		if err != nil {
			r.recordFailure(err.Error())
		} else {
			r.recordSuccess(r.clock.Now())
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

func (r *Requests) readAll() ([]schema.Event, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var events []schema.Event
	for _, name := range names {
		path := filepath.Join(r.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("request file unreadable", "file", name, "error", err)
			continue
		}

		var record map[string]any
		if err := json.Unmarshal(data, &record); err != nil {
			r.deadLetter.Archive(schema.ChannelRequests, data,
				fmt.Errorf("%w: %s: %v", schema.ErrSchemaViolation, name, err))
			continue
		}

		event, err := r.normalize(name, record)
		if err != nil {
			r.deadLetter.Archive(schema.ChannelRequests, data, err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *Requests) normalize(filename string, record map[string]any) (schema.Event, error) {
	isResult := strings.HasSuffix(filename, ".result.json")
	id := stringField(record, "id", "request_id")
	if id == "" {
		id = strings.TrimSuffix(strings.TrimSuffix(filename, ".json"), ".result")
	}

	when, err := parseTimestamp(firstPresent(record, "ts", "time", "timestamp", "created_at"))
	if err != nil {
		// Exchange files written by humans often omit timestamps;
		// fall back to file identity at observation time.
		info, statErr := os.Stat(filepath.Join(r.dir, filename))
		if statErr != nil {
			return schema.Event{}, err
		}
		when = info.ModTime()
	}

	event := schema.Event{
		ID:       id,
		Time:     when,
		Source:   schema.ChannelRequests,
		Provider: r.provider,
		Kind:     schema.EventRequest,
		Text:     truncateText(stringField(record, "text", "body", "description"), 500),
	}

	if isResult {
		event.Kind = schema.EventResult
		event.ParentID = stringField(record, "request_id", "parent_id")
		if event.ParentID == "" {
			event.ParentID = strings.TrimSuffix(filename, ".result.json")
		}
		event.Agent = stringField(record, "agent", "responder")
		status := stringField(record, "status", "outcome")
		event.Fields = map[string]any{"status": status}
		if status == "error" || status == "failed" {
			event.Severity = schema.SeverityError
		} else {
			event.Severity = schema.SeverityInfo
		}
		event.DedupKey = "result:" + id + ":" + status
	} else {
		event.Agent = stringField(record, "agent", "target", "assignee")
		event.Fields = map[string]any{
			"requester": stringField(record, "requester", "from", "user"),
		}
		event.DedupKey = "request:" + id
	}

	return event, event.Validate()
}
