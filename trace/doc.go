// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace infers why an agent did what it did. It scans the
// agent's merged timeline for action-like entries, gathers the
// observations that immediately preceded each one (reasoning chains,
// scheduled-job outcomes, messages from other parties), and matches
// the decision text against the anchors of discovered workspace
// documents.
//
// Every trace carries a numeric confidence in [0,1]. Confidence grows
// with the amount of evidence and, more strongly, with the number of
// distinct channels the evidence arrived on: two independent sources
// agreeing is worth more than two lines from one file. A trace with
// no supporting evidence at all is capped at the low-confidence
// threshold and flagged, never hidden.
package trace
