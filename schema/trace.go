// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// Evidence is one supporting observation behind an inferred decision.
type Evidence struct {
	Channel Channel   `json:"channel"`
	Time    time.Time `json:"time"`
	Text    string    `json:"text"`
}

// RootCause points at a workspace context document (and optionally
// sections within it) that plausibly constrained a decision.
type RootCause struct {
	File    string   `json:"file"`
	Anchors []string `json:"anchors,omitempty"`
}

// DecisionTrace is one inferred decision: what an agent chose to do,
// the observations supporting that reading, and the context documents
// that likely constrained it.
type DecisionTrace struct {
	Time  time.Time `json:"time"`
	Agent string    `json:"agent"`

	// Decision is the inferred decision statement.
	Decision string `json:"decision"`

	// Why lists the inference's reasoning steps, in order.
	Why []string `json:"why,omitempty"`

	Evidence   []Evidence  `json:"evidence,omitempty"`
	RootCauses []RootCause `json:"root_causes,omitempty"`

	// Confidence in [0,1]. Grows with evidence from more distinct
	// channels; a trace seen on one channel only stays low.
	Confidence float64 `json:"confidence"`

	// LowConfidence flags traces below the display threshold so
	// consumers can de-emphasize rather than hide them.
	LowConfidence bool `json:"low_confidence,omitempty"`
}
