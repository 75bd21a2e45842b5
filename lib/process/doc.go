// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides helpers for binary entrypoints.
package process
