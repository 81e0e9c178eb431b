// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package drilldown assembles the full evidence package for one agent:
// overview, timeline, decision traces, cron state, context roots, and
// the causal graph, composed from the correlation store and a fresh
// workspace document scan.
//
// Every section is always present. A channel that produced nothing
// yields an empty section, never a missing one, so consumers render a
// stable shape regardless of capability coverage. Only explicit
// identifier misses (unknown agent, unknown node) are errors.
package drilldown
