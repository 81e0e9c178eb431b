// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability discovers which telemetry channels a swarm
// installation actually exposes and through which access strategy.
//
// The probe runs at bootstrap (and on explicit re-probe) and tries
// strategies in priority order per channel: filesystem, then CLI,
// then gateway. The first strategy that proves the channel wins; a
// channel no strategy can serve is recorded as unavailable with the
// null provider, which is a normal verdict, not an error. The probe
// result is immutable between probe cycles.
//
// The registry holds the current capability map and operating mode,
// tracks consecutive connector failures, and flags channels whose
// provider should be demoted on the next cycle. Transient failures
// never mutate the capability map directly.
package capability
