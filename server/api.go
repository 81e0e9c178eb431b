// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/openclaw/observatory/capability"
	"github.com/openclaw/observatory/correlate"
	"github.com/openclaw/observatory/docscan"
	"github.com/openclaw/observatory/drilldown"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

const (
	maxSnapshotInteractions = 50
	maxNextUp               = 8
	maxLastErrors           = 8
)

// API routes the read endpoints. All state access goes through the
// registry, the correlation store, and per-request document scans;
// the API itself is stateless.
type API struct {
	registry  *capability.Registry
	store     *correlate.Store
	assembler *drilldown.Assembler
	scanner   *docscan.Scanner
	notifier  *correlate.Notifier
	clock     clock.Clock
	logger    *slog.Logger
}

func NewAPI(
	registry *capability.Registry,
	store *correlate.Store,
	assembler *drilldown.Assembler,
	scanner *docscan.Scanner,
	notifier *correlate.Notifier,
	clk clock.Clock,
	logger *slog.Logger,
) *API {
	return &API{
		registry:  registry,
		store:     store,
		assembler: assembler,
		scanner:   scanner,
		notifier:  notifier,
		clock:     clk,
		logger:    logger,
	}
}

// Handler builds the route table.
func (api *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /capabilities", api.handleCapabilities)
	mux.HandleFunc("GET /snapshot", api.handleSnapshot)
	mux.HandleFunc("GET /insights", api.handleInsights)
	mux.HandleFunc("GET /drilldown/{agent}", api.handleDrilldown)
	mux.HandleFunc("GET /drilldown/{agent}/node/{node}", api.handleNode)
	mux.HandleFunc("GET /docs", api.handleDocsIndex)
	mux.HandleFunc("GET /docs/{name...}", api.handleDocsContent)
	mux.HandleFunc("GET /push", api.handlePush)
	mux.HandleFunc("GET /readyz", api.handleReady)
	return mux
}

// capabilitiesResponse reports what the observatory can currently see.
type capabilitiesResponse struct {
	Capabilities schema.CapabilityMap `json:"capabilities"`
	Coverage     int                  `json:"coverage"`
	Mode         schema.Mode          `json:"mode"`
}

func (api *API) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, capabilitiesResponse{
		Capabilities: api.registry.Capabilities(),
		Coverage:     api.registry.Coverage(),
		Mode:         api.registry.Mode(),
	})
}

// NextRun is one upcoming scheduled job in the cron summary.
type NextRun struct {
	Agent string    `json:"agent"`
	Job   string    `json:"job"`
	At    time.Time `json:"at"`

	// In reads like "in 2 hours".
	In string `json:"in"`
}

// JobError is one failing job in the cron summary.
type JobError struct {
	Agent  string `json:"agent"`
	Job    string `json:"job"`
	Status string `json:"status"`
}

// CronSummary is the swarm-wide schedule digest.
type CronSummary struct {
	ActiveJobs int        `json:"active_jobs"`
	NextUp     []NextRun  `json:"next_up,omitempty"`
	LastErrors []JobError `json:"last_errors,omitempty"`
}

// snapshotResponse is the aggregated fused view of the whole swarm.
type snapshotResponse struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	Mode         schema.Mode          `json:"mode"`
	Coverage     int                  `json:"coverage"`
	Agents       []schema.AgentState  `json:"agents"`
	Interactions []schema.Interaction `json:"interactions"`
	Cron         CronSummary          `json:"cron"`
	Applied      uint64               `json:"applied_events"`
	Seq          uint64               `json:"seq"`
}

func (api *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	agents := api.store.Agents()
	api.writeJSON(w, http.StatusOK, snapshotResponse{
		GeneratedAt:  api.clock.Now(),
		Mode:         api.registry.Mode(),
		Coverage:     api.registry.Coverage(),
		Agents:       agents,
		Interactions: api.store.Interactions(maxSnapshotInteractions),
		Cron:         cronSummary(agents, api.clock.Now()),
		Applied:      api.store.Applied(),
		Seq:          api.notifier.Seq(),
	})
}

func (api *API) handleDrilldown(w http.ResponseWriter, r *http.Request) {
	pkg, err := api.assembler.Agent(r.PathValue("agent"))
	if err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusOK, pkg)
}

func (api *API) handleNode(w http.ResponseWriter, r *http.Request) {
	detail, err := api.assembler.Node(r.PathValue("agent"), r.PathValue("node"))
	if err != nil {
		api.writeError(w, err)
		return
	}
	api.writeJSON(w, http.StatusOK, detail)
}

// docsIndexResponse is the manifest of discovered context documents.
type docsIndexResponse struct {
	Documents []docscan.Document `json:"documents"`
}

func (api *API) handleDocsIndex(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, docsIndexResponse{
		Documents: api.scanner.Scan().Manifest(),
	})
}

// handleDocsContent serves one discovered document's raw markdown.
// Content access goes through the scanned set, never straight to the
// filesystem, so undiscovered paths are a 404 rather than a read.
func (api *API) handleDocsContent(w http.ResponseWriter, r *http.Request) {
	content, err := api.scanner.Scan().Content(r.PathValue("name"))
	if err != nil {
		api.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, content)
}

// readyResponse answers liveness probes. Serving at all means the
// bootstrap succeeded; the posture fields let probes log degradation.
type readyResponse struct {
	Status   string      `json:"status"`
	Mode     schema.Mode `json:"mode"`
	Coverage int         `json:"coverage"`
	Applied  uint64      `json:"applied_events"`
	Seq      uint64      `json:"seq"`
}

func (api *API) handleReady(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, readyResponse{
		Status:   "ok",
		Mode:     api.registry.Mode(),
		Coverage: api.registry.Coverage(),
		Applied:  api.store.Applied(),
		Seq:      api.notifier.Seq(),
	})
}

// cronSummary digests every agent's job state: how many jobs are
// active, what runs next, and which jobs last failed.
func cronSummary(agents []schema.AgentState, now time.Time) CronSummary {
	var summary CronSummary
	for _, agent := range agents {
		for _, job := range agent.CronJobs {
			if !job.Enabled {
				continue
			}
			summary.ActiveJobs++
			if !job.NextRun.IsZero() {
				summary.NextUp = append(summary.NextUp, NextRun{
					Agent: agent.Name,
					Job:   job.Name,
					At:    job.NextRun,
					In:    humanize.RelTime(job.NextRun, now, "ago", "from now"),
				})
			}
			if job.LastStatus != "" && !(schema.CronRun{Status: job.LastStatus}).Succeeded() {
				summary.LastErrors = append(summary.LastErrors, JobError{
					Agent:  agent.Name,
					Job:    job.Name,
					Status: job.LastStatus,
				})
			}
		}
	}
	sort.SliceStable(summary.NextUp, func(i, j int) bool {
		return summary.NextUp[i].At.Before(summary.NextUp[j].At)
	})
	if len(summary.NextUp) > maxNextUp {
		summary.NextUp = summary.NextUp[:maxNextUp]
	}
	if len(summary.LastErrors) > maxLastErrors {
		summary.LastErrors = summary.LastErrors[:maxLastErrors]
	}
	return summary
}

func (api *API) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.logger.Debug("response encode failed", "error", err)
	}
}

// writeError maps identifier misses to 404; everything else is a 500,
// which in practice only happens on handler bugs since reads are
// best-effort by design.
func (api *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schema.ErrAgentNotFound),
		errors.Is(err, schema.ErrNodeNotFound),
		errors.Is(err, schema.ErrDocumentNotFound):
		status = http.StatusNotFound
	}
	api.writeJSON(w, status, map[string]string{"error": err.Error()})
}
