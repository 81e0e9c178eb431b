// Copyright 2026 The Observatory Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the observatory's canonical CBOR encoding.
// Push-channel frames and persisted history payloads go through this
// package so that the same logical value always encodes to identical
// bytes — a prerequisite for dedup digests over encoded payloads.
package codec
