// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package scripthash computes content hashes for scripts.
//
// A script's hash is the BLAKE3 keyed hash of its content under the
// script domain key, hex-encoded. Jobs snapshot this hash at creation
// so that later script edits are detectable: a run always refers to
// the exact content that was dispatched.
package scripthash
