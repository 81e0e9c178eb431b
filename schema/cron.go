// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// CronJob is one scheduled job definition from the cron_jobs channel.
type CronJob struct {
	ID      string `json:"id"`
	Agent   string `json:"agent,omitempty"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`

	// Schedule is the job's schedule expression as the source wrote
	// it. Opaque to the observatory; NextRun is what matters.
	Schedule string `json:"schedule,omitempty"`

	NextRun time.Time `json:"next_run,omitzero"`
	LastRun time.Time `json:"last_run,omitzero"`

	// LastStatus is the most recent run outcome: "ok", "error", or
	// the source's own status word.
	LastStatus string `json:"last_status,omitempty"`

	LastDuration time.Duration `json:"last_duration,omitempty"`
}

// CronRun is one execution record from the cron_runs channel.
type CronRun struct {
	JobID string    `json:"job_id"`
	RunID string    `json:"run_id"`
	Agent string    `json:"agent,omitempty"`
	Time  time.Time `json:"time"`

	// Status is the run outcome as reported by the source.
	Status string `json:"status"`

	// Summary is the run's human-readable result line, truncated by
	// the connector to a sane display length.
	Summary string `json:"summary,omitempty"`

	Duration time.Duration `json:"duration,omitempty"`
}

// Succeeded reports whether the run's status word reads as a success.
// Sources disagree on vocabulary; anything not clearly a failure
// counts as success so transient vocabulary drift doesn't paint the
// graph red.
func (r CronRun) Succeeded() bool {
	switch r.Status {
	case "error", "failed", "failure", "timeout", "crashed":
		return false
	}
	return true
}
