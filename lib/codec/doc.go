// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration for
// remotectl. Durable payloads (the dispatch outbox) are encoded with
// Core Deterministic Encoding so the same logical value always
// produces identical bytes.
package codec
