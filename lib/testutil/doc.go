// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small helpers shared by the observatory's
// tests: channel receive/send with timeouts, and temporary workspace
// construction for connector and docscan tests.
package testutil
