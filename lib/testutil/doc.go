// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: channel operations
// with timeout safety valves so that a broken test hangs for a bounded
// time instead of forever.
package testutil
