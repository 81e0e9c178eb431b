// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package connector reads raw channel sources and normalizes them into
// schema events for correlation.
//
// Every channel is served by a connector implementing the same
// contract: Discover verifies the source is serviceable, Snapshot
// reads full current state, Stream delivers incremental events from a
// resumable cursor, and Health reports liveness. Connectors never
// interpret meaning across channels; fusion is the correlation
// engine's job.
//
// Stream cursors carry an offset plus a generation counter. When a
// streaming source rotates or truncates (its size regresses below the
// cursor), the connector bumps the generation and restarts from offset
// zero, replaying the file; dedup keys make the overlap harmless.
//
// Raw inputs that fail normalization are written to the dead letter
// archive with a reason, never silently dropped.
package connector
