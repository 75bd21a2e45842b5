// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree and output helpers for the
// remotectl command-line client.
package cli
