// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/openclaw/observatory/docscan"
	"github.com/openclaw/observatory/schema"
)

// LowConfidenceThreshold is the display threshold: traces at or below
// it are flagged so consumers de-emphasize them. A trace with no
// evidence can never score above it.
const LowConfidenceThreshold = 0.35

// Confidence scoring. Base covers "this looks like a decision";
// each evidence item and each additional distinct channel raise it,
// matched documents raise it slightly. Chosen so that single-channel
// inference stays visibly below multi-channel corroboration.
const (
	baseConfidence     = 0.30
	evidenceIncrement  = 0.08
	diversityIncrement = 0.10
	rootCauseIncrement = 0.05
)

const (
	// maxTraces bounds one inference pass; the timeline is scanned
	// newest first, so the cap keeps the most recent decisions.
	maxTraces = 25

	// evidenceWindow is how many immediately preceding timeline
	// entries are considered as evidence for one decision.
	evidenceWindow = 9

	maxEvidencePerTrace   = 4
	maxRootCausesPerTrace = 3
	maxAnchorsPerCause    = 3

	maxDecisionRunes = 320
	maxEvidenceRunes = 260
)

// Inferencer derives decision traces from fused agent state. It is
// stateless between calls; traces are recomputed per request.
type Inferencer struct {
	logger *slog.Logger
}

func NewInferencer(logger *slog.Logger) *Inferencer {
	return &Inferencer{logger: logger}
}

// Infer scans the agent's timeline newest first and returns decision
// traces in that order. timeline holds the agent's merged events from
// every channel; docs is the discovered document set (may be empty,
// never nil).
func (inf *Inferencer) Infer(agent schema.AgentState, timeline []schema.Event, docs *docscan.Set) []schema.DecisionTrace {
	ordered := make([]schema.Event, len(timeline))
	copy(ordered, timeline)
	sort.SliceStable(ordered, func(a, b int) bool {
		if !ordered[a].Time.Equal(ordered[b].Time) {
			return ordered[a].Time.After(ordered[b].Time)
		}
		return ordered[a].EffectiveDedupKey() > ordered[b].EffectiveDedupKey()
	})

	var traces []schema.DecisionTrace
	for i, event := range ordered {
		text := strings.TrimSpace(event.Text)
		if text == "" || !decisionCandidate(event) {
			continue
		}

		evidence, why := gatherEvidence(ordered[i+1:], agent.Name)
		rootCauses := matchRoots(docs, text+" "+agent.Task)
		if len(rootCauses) > 0 {
			why = append(why, "constrained by workspace documents")
		}
		if len(why) == 0 {
			why = []string{"continuous operational context"}
		}

		traces = append(traces, schema.DecisionTrace{
			Time:       event.Time,
			Agent:      agent.Name,
			Decision:   clip(text, maxDecisionRunes),
			Why:        why,
			Evidence:   evidence,
			RootCauses: rootCauses,
		})
		scored := &traces[len(traces)-1]
		scored.Confidence = scoreConfidence(evidence, rootCauses)
		scored.LowConfidence = scored.Confidence <= LowConfidenceThreshold

		if len(traces) >= maxTraces {
			break
		}
	}

	if len(traces) > 0 {
		inf.logger.Debug("decision traces inferred",
			"agent", agent.Name,
			"traces", len(traces),
		)
	}
	return traces
}

// decisionCandidate reports whether a timeline entry reads as the
// agent choosing or completing something, rather than background
// state.
func decisionCandidate(event schema.Event) bool {
	switch event.Kind {
	case schema.EventMessage, schema.EventAction, schema.EventResult:
		return true
	case schema.EventCronRun:
		return cronRunStatus(event).Succeeded()
	}
	return false
}

func cronRunStatus(event schema.Event) schema.CronRun {
	status, _ := event.Fields["status"].(string)
	return schema.CronRun{Status: status}
}

// gatherEvidence walks the entries immediately preceding a decision
// (older, since the slice is newest first) and collects the ones that
// plausibly led to it, with one human-readable reason per evidence
// kind.
func gatherEvidence(older []schema.Event, self string) ([]schema.Evidence, []string) {
	if len(older) > evidenceWindow {
		older = older[:evidenceWindow]
	}

	var evidence []schema.Evidence
	var reasons []string
	seenReason := make(map[string]bool)

	for _, previous := range older {
		text := strings.TrimSpace(previous.Text)
		if text == "" {
			continue
		}

		var reason string
		switch previous.Kind {
		case schema.EventThought:
			reason = "recent reasoning chain"
		case schema.EventCronRun, schema.EventCronJob:
			reason = "follows a scheduled job outcome"
		case schema.EventMessage:
			if previous.Agent == self || previous.Agent == "" {
				continue
			}
			reason = "prompted by a message from " + previous.Agent
		case schema.EventRequest:
			reason = "open request exchange"
		default:
			continue
		}

		evidence = append(evidence, schema.Evidence{
			Channel: previous.Source,
			Time:    previous.Time,
			Text:    clip(text, maxEvidenceRunes),
		})
		if !seenReason[reason] {
			seenReason[reason] = true
			reasons = append(reasons, reason)
		}
		if len(evidence) >= maxEvidencePerTrace {
			break
		}
	}
	return evidence, reasons
}

// matchRoots matches the decision context against each discovered
// document's anchors, keeping documents with at least one overlapping
// anchor. Manifest order makes the cut deterministic.
func matchRoots(docs *docscan.Set, reference string) []schema.RootCause {
	if docs == nil || docs.Len() == 0 {
		return nil
	}
	var causes []schema.RootCause
	for _, document := range docs.Manifest() {
		matched := docscan.MatchAnchors(document.Anchors, reference, maxAnchorsPerCause)
		if len(matched) == 0 {
			continue
		}
		causes = append(causes, schema.RootCause{File: document.Name, Anchors: matched})
		if len(causes) >= maxRootCausesPerTrace {
			break
		}
	}
	return causes
}

// scoreConfidence computes the trace confidence. Monotonically
// non-decreasing in evidence count and in the number of distinct
// evidence channels; clipped to [0,1]. Without evidence the score is
// capped at the low-confidence threshold regardless of document
// matches.
func scoreConfidence(evidence []schema.Evidence, rootCauses []schema.RootCause) float64 {
	confidence := baseConfidence

	count := len(evidence)
	if count > maxEvidencePerTrace {
		count = maxEvidencePerTrace
	}
	confidence += float64(count) * evidenceIncrement

	channels := make(map[schema.Channel]bool, len(evidence))
	for _, item := range evidence {
		channels[item.Channel] = true
	}
	if len(channels) > 1 {
		confidence += float64(len(channels)-1) * diversityIncrement
	}

	causes := len(rootCauses)
	if causes > maxRootCausesPerTrace {
		causes = maxRootCausesPerTrace
	}
	confidence += float64(causes) * rootCauseIncrement

	if len(evidence) == 0 && confidence > LowConfidenceThreshold {
		confidence = LowConfidenceThreshold
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return confidence
}

// clip bounds text to a rune budget with an ellipsis, newlines
// flattened so trace statements stay single-line.
func clip(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
