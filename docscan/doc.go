// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package docscan discovers the markdown documents that constrain a
// swarm's behavior: mission statements, operating rules, agent briefs.
// No filename is assumed. The workspace is walked to a bounded depth,
// candidates are scored by structure (heading density), placement, and
// recency, and the survivors are indexed for relevance ranking against
// a decision context.
//
// Anchors are extracted from the goldmark AST rather than by line
// sniffing: headings, list items, and paragraphs carrying constraint
// keywords (must, always, never, objective, mission, priority). They
// are what the trace inferencer matches decision text against.
//
// Content access is restricted to the discovered set. A caller can
// only read documents the scan produced, never arbitrary paths.
package docscan
