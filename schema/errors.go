// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "errors"

// Error taxonomy. Callers branch on these with errors.Is; everything
// else wrapping them carries context via fmt.Errorf("%w").
var (
	// ErrAgentNotFound: a read asked for an agent the correlation
	// store has never seen.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNodeNotFound: a drilldown asked for a causal graph node id
	// not present in the current graph.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDocumentNotFound: a docs read asked for a file outside the
	// discovered manifest.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrChannelUnavailable: an operation touched a channel the
	// capability map marks absent. Not a failure; callers degrade.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrProviderTimeout: a provider read exceeded its deadline.
	// Recoverable; the connector retries and reports unhealthy.
	ErrProviderTimeout = errors.New("provider timeout")

	// ErrSchemaViolation: raw channel data failed normalization. The
	// offending input is dead-lettered, never silently dropped.
	ErrSchemaViolation = errors.New("schema violation")

	// ErrBootstrapFailure: the probe itself could not run. The only
	// fatal error in the taxonomy.
	ErrBootstrapFailure = errors.New("bootstrap failure")
)
