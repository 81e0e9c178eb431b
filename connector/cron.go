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

// CronJobs serves the scheduled-job registry: a JSON file holding the
// full job list. A state file rather than a log, so Stream is
// poll-and-re-emit; content-derived dedup keys collapse unchanged
// jobs.
type CronJobs struct {
	healthTracker

	path       string
	provider   schema.ProviderKind
	deadLetter *DeadLetter
	poll       time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

// NewCronJobs returns a cron job registry connector.
func NewCronJobs(path string, provider schema.ProviderKind, deadLetter *DeadLetter, poll time.Duration, clk clock.Clock, logger *slog.Logger) *CronJobs {
	return &CronJobs{
		path:       path,
		provider:   provider,
		deadLetter: deadLetter,
		poll:       poll,
		clock:      clk,
		logger:     logger.With("connector", "cron_jobs"),
	}
}

func (c *CronJobs) Channel() schema.Channel { return schema.ChannelCronJobs }

func (c *CronJobs) Discover(ctx context.Context) error {
	if _, err := os.Stat(c.path); err != nil {
		return sourceErr("cron job source", err)
	}
	return nil
}

// Snapshot reads the registry and emits one cron_job event per job.
func (c *CronJobs) Snapshot(ctx context.Context) ([]schema.Event, error) {
	events, err := c.read()
	if err != nil {
		c.recordFailure(err.Error())
		return nil, err
	}
	c.recordSuccess(c.clock.Now())
	return events, nil
}

// Stream re-reads the registry on every poll tick. Offset counts
// emitted events; the file has no rotation semantics, so the
// generation never moves.
func (c *CronJobs) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	ticker := c.clock.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		events, err := c.read()
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

func (c *CronJobs) read() ([]schema.Event, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cron jobs: %w", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		// Some producers wrap the list in an object.
		var wrapper struct {
			Jobs []map[string]any `json:"jobs"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			c.deadLetter.Archive(schema.ChannelCronJobs, data,
				fmt.Errorf("%w: %v", schema.ErrSchemaViolation, err))
			return nil, nil
		}
		records = wrapper.Jobs
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return nil, fmt.Errorf("stat cron jobs: %w", err)
	}

	var events []schema.Event
	for _, record := range records {
		event, err := normalizeCronJob(record, c.provider, info.ModTime())
		if err != nil {
			raw, _ := json.Marshal(record)
			c.deadLetter.Archive(schema.ChannelCronJobs, raw, err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// normalizeCronJob maps one registry entry onto a cron_job event. The
// event time is the entry's last run when present, otherwise the
// registry file's modification time.
func normalizeCronJob(record map[string]any, provider schema.ProviderKind, fallback time.Time) (schema.Event, error) {
	id := stringField(record, "id", "job_id", "name")
	if id == "" {
		return schema.Event{}, fmt.Errorf("%w: cron job missing id", schema.ErrSchemaViolation)
	}

	when := fallback
	if lastRun, err := parseTimestamp(firstPresent(record, "last_run", "last_run_at")); err == nil {
		when = lastRun
	}

	enabled := true
	if value, ok := record["enabled"].(bool); ok {
		enabled = value
	}

	fields := map[string]any{
		"job_id":   id,
		"name":     stringField(record, "name", "id"),
		"enabled":  enabled,
		"schedule": stringField(record, "schedule", "cron", "interval"),
	}
	if nextRun, err := parseTimestamp(firstPresent(record, "next_run", "next_run_at")); err == nil {
		fields["next_run"] = nextRun.Format(time.RFC3339)
	}
	if status := stringField(record, "last_status", "status"); status != "" {
		fields["last_status"] = status
	}
	if duration, ok := record["last_duration_ms"].(float64); ok {
		fields["last_duration_ms"] = duration
	}

	event := schema.Event{
		Time:     when,
		Source:   schema.ChannelCronJobs,
		Provider: provider,
		Agent:    stringField(record, "agent", "owner"),
		Kind:     schema.EventCronJob,
		Text:     stringField(record, "name", "id"),
		Fields:   fields,
	}
	// Identity covers the definition, not the timestamps: an edit to
	// schedule or enablement is a new fact, a mere re-read is not.
	event.DedupKey = fmt.Sprintf("cronjob:%s:%s:%t:%s",
		id, fields["schedule"], enabled, stringField(record, "last_status", "status"))
	return event, event.Validate()
}

// CronRuns serves the per-job execution log, an append-only JSONL
// file tailed like the bus.
type CronRuns struct {
	healthTracker

	path       string
	provider   schema.ProviderKind
	deadLetter *DeadLetter
	maxLine    int
	poll       time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

// NewCronRuns returns a cron run log connector.
func NewCronRuns(path string, provider schema.ProviderKind, deadLetter *DeadLetter, maxLine int, poll time.Duration, clk clock.Clock, logger *slog.Logger) *CronRuns {
	return &CronRuns{
		path:       path,
		provider:   provider,
		deadLetter: deadLetter,
		maxLine:    maxLine,
		poll:       poll,
		clock:      clk,
		logger:     logger.With("connector", "cron_runs"),
	}
}

func (c *CronRuns) Channel() schema.Channel { return schema.ChannelCronRuns }

func (c *CronRuns) Discover(ctx context.Context) error {
	if _, err := os.Stat(c.path); err != nil && !os.IsNotExist(err) {
		return sourceErr("cron run source", err)
	}
	return nil
}

func (c *CronRuns) Snapshot(ctx context.Context) ([]schema.Event, error) {
	var events []schema.Event
	_, err := c.tailer().drain(Cursor{}, func(line []byte, _ Cursor) {
		if event, ok := c.normalize(line); ok {
			events = append(events, event)
		}
	})
	if err != nil {
		c.recordFailure(err.Error())
		return nil, err
	}
	c.recordSuccess(c.clock.Now())
	return events, nil
}

func (c *CronRuns) Stream(ctx context.Context, cursor Cursor, out chan<- schema.Event) (Cursor, error) {
	final, err := c.tailer().run(ctx, cursor, func(line []byte, _ Cursor) {
		event, ok := c.normalize(line)
		if !ok {
			return
		}
		select {
		case out <- event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		c.recordFailure(err.Error())
		return final, err
	}
	c.recordSuccess(c.clock.Now())
	return final, nil
}

func (c *CronRuns) tailer() *tailer {
	return &tailer{
		path:    c.path,
		poll:    c.poll,
		maxLine: c.maxLine,
		clock:   c.clock,
		logger:  c.logger,
		overflow: func(line []byte) {
			c.deadLetter.Archive(schema.ChannelCronRuns, line[:1024],
				fmt.Errorf("%w: line exceeds %d bytes", schema.ErrSchemaViolation, c.maxLine))
		},
	}
}

func (c *CronRuns) normalize(line []byte) (schema.Event, bool) {
	var record map[string]any
	if err := json.Unmarshal(line, &record); err != nil {
		c.deadLetter.Archive(schema.ChannelCronRuns, line,
			fmt.Errorf("%w: %v", schema.ErrSchemaViolation, err))
		return schema.Event{}, false
	}
	event, err := normalizeCronRun(record, c.provider)
	if err != nil {
		c.deadLetter.Archive(schema.ChannelCronRuns, line, err)
		return schema.Event{}, false
	}
	return event, true
}

// normalizeCronRun maps one run log entry onto a cron_run event.
func normalizeCronRun(record map[string]any, provider schema.ProviderKind) (schema.Event, error) {
	when, err := parseTimestamp(firstPresent(record, "ts", "time", "timestamp", "started_at"))
	if err != nil {
		return schema.Event{}, err
	}

	jobID := stringField(record, "job_id", "job")
	if jobID == "" {
		return schema.Event{}, fmt.Errorf("%w: cron run missing job_id", schema.ErrSchemaViolation)
	}

	status := stringField(record, "status", "result")
	severity := schema.SeverityInfo
	if !(schema.CronRun{Status: status}).Succeeded() {
		severity = schema.SeverityError
	}

	fields := map[string]any{
		"job_id": jobID,
		"status": status,
	}
	if runID := stringField(record, "run_id", "id"); runID != "" {
		fields["run_id"] = runID
	}
	if duration, ok := record["duration_ms"].(float64); ok {
		fields["duration_ms"] = duration
	}
	if action := stringField(record, "action"); action != "" {
		fields["action"] = action
	}

	event := schema.Event{
		ID:       stringField(record, "run_id", "id"),
		Time:     when,
		Source:   schema.ChannelCronRuns,
		Provider: provider,
		Agent:    stringField(record, "agent", "owner"),
		Kind:     schema.EventCronRun,
		Severity: severity,
		Text:     truncateText(stringField(record, "summary", "output", "message"), 500),
		Fields:   fields,
	}
	if event.ID != "" {
		event.DedupKey = "id:" + event.ID
	} else {
		event.DedupKey = event.EffectiveDedupKey()
	}
	return event, event.Validate()
}
