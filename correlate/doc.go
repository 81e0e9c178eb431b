// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package correlate fuses normalized events from every channel into
// per-agent state, derives cross-agent interactions, and publishes
// coalesced change notifications.
//
// The merge policy is the package's contract:
//
//   - Per-field timestamp monotonicity: a field only moves forward in
//     time. A stale observation arriving late cannot overwrite a
//     fresher value, no matter which provider produced it.
//   - Idempotence: events with a dedup key already seen on their
//     channel are dropped before they touch state, so snapshot/stream
//     overlap and rotation replay are harmless.
//   - Deterministic tie-breaks: at equal timestamps the higher
//     priority provider wins; at equal priority the lexicographically
//     larger dedup key wins, so two replicas fed the same events in
//     any order converge on identical state.
//
// All state lives behind one mutex. Readers get copies; nothing
// escapes the lock by reference.
package correlate
