// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the observatory's canonical data model: the
// telemetry channels and their providers, the normalized event that
// every connector emits, the fused per-agent state maintained by the
// correlation engine, and the derived views (interactions, decision
// traces, causal graphs) served to the read API.
//
// Everything here is plain data. Behavior lives in the packages that
// produce or consume these types; schema only carries the invariants
// that are properties of the data itself (dedup identity, provider
// priority, mode selection).
package schema
