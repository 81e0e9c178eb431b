// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package causal projects decision traces into an explicit cause and
// effect graph: context documents constrain an agent, the agent makes
// decisions, decisions trigger actions, actions produce outcomes.
//
// Node identity is a content digest of the node's semantic key, never
// an insertion counter, so rebuilding the graph over unchanged state
// yields byte-identical node ids and a UI can keep its layout. Within
// one decision lineage the builder refuses edges that would close a
// cycle; cross-decision influence edges are exempt, since two unrelated
// decisions may legitimately reference each other's evidence.
package causal
