// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for the observatory's polling loops and
// staleness checks. Production code injects Real(); tests inject Fake()
// and advance time deterministically, which keeps connector cadence and
// notifier flush tests free of real sleeps.
package clock
