// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package history persists the normalized event stream to SQLite so a
// restarted process can rebuild correlated state without replaying
// every channel file from its beginning.
//
// The store is bounded two ways: events older than the configured
// retention are dropped on the maintenance sweep, and the total row
// count is capped so a noisy swarm cannot grow the database without
// limit. Oldest rows go first in both cases.
//
// Appends are idempotent on the event dedup key. Replaying an
// overlapping window after a crash or a connector generation bump
// inserts each occurrence at most once, which is what lets connectors
// re-read rotated files from offset zero without coordination.
//
// Event payloads are stored as deterministic CBOR, zstd-compressed
// when that actually shrinks them. The hot filter columns (time,
// channel, agent, kind) are duplicated out of the payload so queries
// never decompress rows they will not return.
package history
