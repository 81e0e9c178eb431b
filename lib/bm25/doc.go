// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package bm25 implements an Okapi BM25 ranking index over weighted
// text fields. The docscan package builds one index per workspace scan
// to rank candidate context documents against an agent's current
// decision context, and the trace inferencer reuses it to match
// document anchors against action text. Index construction is cheap
// enough to rebuild per request; no incremental updates are supported.
package bm25
