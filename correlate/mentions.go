// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package correlate

import (
	"strings"
	"unicode"

	"github.com/openclaw/observatory/schema"
)

// Interaction confidence levels: explicit addressing is certain,
// name-mention detection is a guess.
const (
	confidenceExplicit = 1.0
	confidenceMention  = 0.6
)

// Senders that mean a human rather than an agent.
var humanSenders = map[string]bool{
	"user":     true,
	"human":    true,
	"operator": true,
}

// deriveInteractions extracts communication edges from a message
// event. Caller holds the store lock. Returns the agents whose view
// changed (the targets, when known).
func (s *Store) deriveInteractions(event schema.Event) []string {
	sender := event.Agent
	if sender == "" {
		sender, _ = event.Fields["from"].(string)
	}
	if sender == "" {
		return nil
	}

	kind := schema.InteractionAgentAgent
	if humanSenders[strings.ToLower(sender)] {
		kind = schema.InteractionUserAgent
	}

	var changed []string
	add := func(target string, confidence float64) {
		if target == "" || target == sender {
			return
		}
		// One interaction per (source, target, underlying fact).
		key := sender + "\x00" + target + "\x00" + event.EffectiveDedupKey()
		if s.interactSeen.remember(key) {
			return
		}
		s.interactions = append(s.interactions, schema.Interaction{
			Source:     sender,
			Target:     target,
			Time:       event.Time,
			Kind:       kind,
			Content:    event.Text,
			Confidence: confidence,
		})
		if len(s.interactions) > s.cfg.DedupWindow {
			s.interactions = s.interactions[len(s.interactions)-s.cfg.DedupWindow:]
		}
		if _, known := s.agents[target]; known {
			changed = append(changed, target)
		}
	}

	// Explicit addressing wins outright; mention scanning is the
	// fallback, not a supplement, so a directed message never fans
	// out to every name it happens to contain.
	if target, ok := event.Fields["to"].(string); ok && target != "" {
		add(target, confidenceExplicit)
		return changed
	}
	if target, ok := event.Fields["target"].(string); ok && target != "" {
		add(target, confidenceExplicit)
		return changed
	}

	for _, name := range s.knownNamesLocked() {
		if name == sender {
			continue
		}
		if mentions(event.Text, name) {
			add(name, confidenceMention)
		}
	}
	return changed
}

// knownNamesLocked lists agent names under the held lock.
func (s *Store) knownNamesLocked() []string {
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	return names
}

// mentions reports whether text refers to the agent name, either as
// @name or as a standalone word. Matching is case-insensitive; name
// boundaries are non-identifier characters so "scout" never matches
// inside "scouting".
func mentions(text, name string) bool {
	if text == "" || name == "" {
		return false
	}
	lowerText := strings.ToLower(text)
	lowerName := strings.ToLower(name)

	for start := 0; ; {
		index := strings.Index(lowerText[start:], lowerName)
		if index < 0 {
			return false
		}
		index += start
		end := index + len(lowerName)

		beforeOK := index == 0 || !identifierRune(rune(lowerText[index-1]))
		afterOK := end == len(lowerText) || !identifierRune(rune(lowerText[end]))
		if beforeOK && afterOK {
			return true
		}
		start = end
	}
}

func identifierRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-'
}
