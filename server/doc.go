// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the observatory's read API over HTTP and a
// streaming push channel for change notifications.
//
// Every read endpoint answers 200 with best-effort data and explicit
// coverage markers; degraded channels shrink the payload, they never
// fail the request. The only 404s are explicit identifier misses:
// unknown agent, unknown graph node, undiscovered document. Push
// subscribers receive coalesced CBOR frames with a monotonic sequence
// number; a gap in the sequence tells the subscriber to re-snapshot.
package server
