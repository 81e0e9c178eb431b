// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openclaw/observatory/config"
	"github.com/openclaw/observatory/lib/clock"
	"github.com/openclaw/observatory/schema"
)

// Field names used for per-field merge bookkeeping.
const (
	fieldStatus = "status"
	fieldTask   = "task"
	fieldAlive  = "alive"
)

// Statuses that mean the agent stopped working; arriving while a task
// is in flight they move the task to the interrupted list.
var terminalStatuses = map[string]bool{
	"offline":     true,
	"stopped":     true,
	"killed":      true,
	"crashed":     true,
	"interrupted": true,
}

// fieldState is the merge bookkeeping for one mutable field: when it
// last changed and by whom, for the tie-break.
type fieldState struct {
	at       time.Time
	priority int
	key      string
}

// accepts reports whether an event may update a field in this state.
func (f fieldState) accepts(event schema.Event) bool {
	if event.Time.After(f.at) {
		return true
	}
	if !event.Time.Equal(f.at) {
		return false
	}
	priority := event.Provider.Priority()
	if priority != f.priority {
		return priority > f.priority
	}
	return event.EffectiveDedupKey() > f.key
}

// next returns the field state after an accepted event.
func nextFieldState(event schema.Event) fieldState {
	return fieldState{
		at:       event.Time,
		priority: event.Provider.Priority(),
		key:      event.EffectiveDedupKey(),
	}
}

// agentRecord is the mutable per-agent state behind the store lock.
type agentRecord struct {
	state  schema.AgentState
	fields map[string]fieldState
	jobs   map[string]schema.CronJob
}

// Store is the correlation engine's state. One mutex guards
// everything; Apply is the only writer path.
type Store struct {
	cfg    config.CorrelateConfig
	clock  clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	agents       map[string]*agentRecord
	dedup        *dedupWindow
	interactions []schema.Interaction
	interactSeen *dedupWindow
	pending      map[string]string // request id -> target agent
	recent       []schema.Event
	applied      uint64
}

// NewStore returns an empty correlation store.
func NewStore(cfg config.CorrelateConfig, clk clock.Clock, logger *slog.Logger) *Store {
	return &Store{
		cfg:          cfg,
		clock:        clk,
		logger:       logger,
		agents:       make(map[string]*agentRecord),
		dedup:        newDedupWindow(cfg.DedupWindow),
		interactSeen: newDedupWindow(cfg.DedupWindow),
		pending:      make(map[string]string),
	}
}

// Apply merges one event. Returns the names of agents whose state
// changed (usually zero or one; messages with mentions touch more).
// A deduplicated or stale event changes nothing and returns nil.
func (s *Store) Apply(event schema.Event) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Dedup is global, not per channel: the same occurrence may
	// arrive through two channels carrying the same native id (a
	// session bridge echoing onto the bus) and must apply once.
	if s.dedup.remember(event.EffectiveDedupKey()) {
		return nil
	}

	s.applied++
	s.remember(event)
	return s.route(event)
}

// ApplySnapshot merges a full-state read. Events are sorted by time
// before application so per-field monotonicity sees them in order;
// the result is identical regardless of connector emission order.
func (s *Store) ApplySnapshot(events []schema.Event) []string {
	sorted := make([]schema.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(a, b int) bool {
		return sorted[a].Time.Before(sorted[b].Time)
	})

	changed := make(map[string]struct{})
	for _, event := range sorted {
		for _, agent := range s.Apply(event) {
			changed[agent] = struct{}{}
		}
	}
	return sortedKeys(changed)
}

// remember keeps the event in the bounded recent window for the
// inference layers.
func (s *Store) remember(event schema.Event) {
	s.recent = append(s.recent, event)
	if len(s.recent) > s.cfg.DedupWindow {
		s.recent = s.recent[len(s.recent)-s.cfg.DedupWindow:]
	}
}

// route dispatches an event to its merge rule. Caller holds the lock.
func (s *Store) route(event schema.Event) []string {
	var changed []string
	if event.Agent != "" {
		record := s.record(event.Agent)
		if s.mergeAgent(record, event) {
			changed = append(changed, event.Agent)
		}
	}

	if event.Kind == schema.EventMessage {
		changed = append(changed, s.deriveInteractions(event)...)
	}
	if event.Kind == schema.EventRequest || event.Kind == schema.EventResult {
		changed = append(changed, s.trackRequest(event)...)
	}
	return dedupeStrings(changed)
}

func (s *Store) record(agent string) *agentRecord {
	record, ok := s.agents[agent]
	if !ok {
		record = &agentRecord{
			state:  schema.AgentState{Name: agent},
			fields: make(map[string]fieldState),
			jobs:   make(map[string]schema.CronJob),
		}
		s.agents[agent] = record
	}
	return record
}

// mergeAgent applies one event to one agent record. Returns whether
// anything visible changed.
func (s *Store) mergeAgent(record *agentRecord, event schema.Event) bool {
	changed := false

	// LastSeen is monotonic across all channels.
	if event.Time.After(record.state.LastSeen) {
		record.state.LastSeen = event.Time
		changed = true
	}

	switch event.Kind {
	case schema.EventStatus, schema.EventSnapshot:
		changed = s.mergeStatus(record, event) || changed

	case schema.EventMessage:
		record.state.Messages = appendBounded(record.state.Messages, schema.HistoryEntry{
			Time: event.Time, Text: event.Text, Origin: event.Source,
		}, s.cfg.MessageHistory)
		changed = true

	case schema.EventThought:
		record.state.Thoughts = appendBounded(record.state.Thoughts, schema.HistoryEntry{
			Time: event.Time, Text: event.Text, Origin: event.Source,
		}, s.cfg.ThoughtHistory)
		changed = true

	case schema.EventHeartbeat:
		if record.fields[fieldAlive].accepts(event) {
			alive, _ := event.Fields["alive"].(bool)
			if record.state.Alive != alive {
				record.state.Alive = alive
				changed = true
				if !alive && record.state.Task != "" {
					s.interruptTask(record)
				}
			}
			record.fields[fieldAlive] = nextFieldState(event)
		}

	case schema.EventCronJob:
		changed = s.mergeCronJob(record, event) || changed

	case schema.EventCronRun:
		changed = s.mergeCronRun(record, event) || changed

	case schema.EventLock:
		changed = s.mergeLock(record, event) || changed
	}

	return changed
}

func (s *Store) mergeStatus(record *agentRecord, event schema.Event) bool {
	if !record.fields[fieldStatus].accepts(event) {
		return false
	}
	record.fields[fieldStatus] = nextFieldState(event)

	status := event.Text
	if value, ok := event.Fields["status"].(string); ok && value != "" {
		status = value
	}
	task, _ := event.Fields["task"].(string)

	changed := false
	if status != "" && status != record.state.Status {
		if terminalStatuses[status] && record.state.Task != "" {
			s.interruptTask(record)
		}
		record.state.Status = status
		changed = true
	}
	if task != "" && record.fields[fieldTask].accepts(event) {
		if task != record.state.Task {
			record.state.Task = task
			changed = true
		}
		record.fields[fieldTask] = nextFieldState(event)
	}

	// Resource telemetry rides on status events when the agent's host
	// reports it. Absent fields leave the last known value in place.
	if memory, ok := numericField(event.Fields, "memory_mb", "ram_mb"); ok && memory != record.state.MemoryMB {
		record.state.MemoryMB = memory
		changed = true
	}
	if tokens, ok := numericField(event.Fields, "total_tokens", "tokens"); ok {
		if total := int64(tokens); total != record.state.TotalTokens {
			record.state.TotalTokens = total
			changed = true
		}
	}
	return changed
}

// numericField reads the first present numeric field among names.
// JSON decoding delivers float64; CBOR round-trips may deliver
// integer types.
func numericField(fields map[string]any, names ...string) (float64, bool) {
	for _, name := range names {
		switch value := fields[name].(type) {
		case float64:
			return value, true
		case int64:
			return float64(value), true
		case uint64:
			return float64(value), true
		case int:
			return float64(value), true
		}
	}
	return 0, false
}

// interruptTask moves the in-flight task onto the interrupted list.
func (s *Store) interruptTask(record *agentRecord) {
	task := record.state.Task
	for _, existing := range record.state.InterruptedTasks {
		if existing == task {
			record.state.Task = ""
			return
		}
	}
	record.state.InterruptedTasks = append(record.state.InterruptedTasks, task)
	record.state.Task = ""
}

func (s *Store) mergeCronJob(record *agentRecord, event schema.Event) bool {
	id, _ := event.Fields["job_id"].(string)
	if id == "" {
		return false
	}
	job := schema.CronJob{
		ID:    id,
		Agent: event.Agent,
	}
	job.Name, _ = event.Fields["name"].(string)
	job.Enabled, _ = event.Fields["enabled"].(bool)
	job.Schedule, _ = event.Fields["schedule"].(string)
	if raw, ok := event.Fields["next_run"].(string); ok {
		if next, err := time.Parse(time.RFC3339, raw); err == nil {
			job.NextRun = next
		}
	}
	job.LastStatus, _ = event.Fields["last_status"].(string)
	if ms, ok := event.Fields["last_duration_ms"].(float64); ok {
		job.LastDuration = time.Duration(ms) * time.Millisecond
	}
	job.LastRun = event.Time

	previous, exists := record.jobs[id]
	if exists && previous.LastRun.After(job.LastRun) {
		return false
	}
	record.jobs[id] = job
	s.rebuildJobs(record)
	return true
}

func (s *Store) mergeCronRun(record *agentRecord, event schema.Event) bool {
	id, _ := event.Fields["job_id"].(string)
	if id == "" {
		return false
	}
	job, exists := record.jobs[id]
	if !exists {
		job = schema.CronJob{ID: id, Name: id, Agent: event.Agent, Enabled: true}
	}
	if event.Time.Before(job.LastRun) {
		return false
	}
	job.LastRun = event.Time
	job.LastStatus, _ = event.Fields["status"].(string)
	if ms, ok := event.Fields["duration_ms"].(float64); ok {
		job.LastDuration = time.Duration(ms) * time.Millisecond
	}
	record.jobs[id] = job
	s.rebuildJobs(record)
	return true
}

// rebuildJobs refreshes the sorted job list view on the state.
func (s *Store) rebuildJobs(record *agentRecord) {
	jobs := make([]schema.CronJob, 0, len(record.jobs))
	for _, job := range record.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].ID < jobs[b].ID })
	record.state.CronJobs = jobs
}

func (s *Store) mergeLock(record *agentRecord, event schema.Event) bool {
	name, _ := event.Fields["lock"].(string)
	if name == "" {
		return false
	}
	held, _ := event.Fields["held"].(bool)

	locks := record.state.HeldLocks
	index := -1
	for i, existing := range locks {
		if existing == name {
			index = i
			break
		}
	}
	switch {
	case held && index < 0:
		record.state.HeldLocks = append(locks, name)
		sort.Strings(record.state.HeldLocks)
		return true
	case !held && index >= 0:
		record.state.HeldLocks = append(locks[:index], locks[index+1:]...)
		return true
	}
	return false
}

// trackRequest maintains pending request counts per agent.
func (s *Store) trackRequest(event schema.Event) []string {
	switch event.Kind {
	case schema.EventRequest:
		if event.Agent == "" {
			return nil
		}
		s.pending[event.ID] = event.Agent
		record := s.record(event.Agent)
		record.state.PendingRequests = s.pendingCount(event.Agent)
		return []string{event.Agent}

	case schema.EventResult:
		target, ok := s.pending[event.ParentID]
		if !ok {
			return nil
		}
		delete(s.pending, event.ParentID)
		record := s.record(target)
		record.state.PendingRequests = s.pendingCount(target)
		return []string{target}
	}
	return nil
}

func (s *Store) pendingCount(agent string) int {
	count := 0
	for _, target := range s.pending {
		if target == agent {
			count++
		}
	}
	return count
}

// Agents returns copies of every known agent state, sorted by name.
func (s *Store) Agents() []schema.AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]schema.AgentState, 0, len(s.agents))
	for _, record := range s.agents {
		states = append(states, copyState(record.state))
	}
	sort.Slice(states, func(a, b int) bool { return states[a].Name < states[b].Name })
	return states
}

// Agent returns a copy of one agent's state.
func (s *Store) Agent(name string) (schema.AgentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.agents[name]
	if !ok {
		return schema.AgentState{}, fmt.Errorf("%w: %s", schema.ErrAgentNotFound, name)
	}
	return copyState(record.state), nil
}

// Interactions returns the most recent derived interactions, newest
// last, capped at limit (0 means all).
func (s *Store) Interactions(limit int) []schema.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	interactions := s.interactions
	if limit > 0 && len(interactions) > limit {
		interactions = interactions[len(interactions)-limit:]
	}
	out := make([]schema.Interaction, len(interactions))
	copy(out, interactions)
	return out
}

// Recent returns the most recent applied events, newest last, capped
// at limit (0 means all retained).
func (s *Store) Recent(limit int) []schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	recent := s.recent
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	out := make([]schema.Event, len(recent))
	copy(out, recent)
	return out
}

// Applied returns how many events have passed dedup and been merged.
func (s *Store) Applied() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// AgentNames returns the known agent names, sorted. Used by mention
// detection and the causal builder.
func (s *Store) AgentNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyState(state schema.AgentState) schema.AgentState {
	out := state
	out.Messages = append([]schema.HistoryEntry(nil), state.Messages...)
	out.Thoughts = append([]schema.HistoryEntry(nil), state.Thoughts...)
	out.InterruptedTasks = append([]string(nil), state.InterruptedTasks...)
	out.CronJobs = append([]schema.CronJob(nil), state.CronJobs...)
	out.HeldLocks = append([]string(nil), state.HeldLocks...)
	return out
}

func appendBounded(entries []schema.HistoryEntry, entry schema.HistoryEntry, limit int) []schema.HistoryEntry {
	entries = append(entries, entry)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func dedupeStrings(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
