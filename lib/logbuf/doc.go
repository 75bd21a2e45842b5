// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package logbuf bounds run output. Oversized logs keep their byte
// prefix and drop the rest; they are never rejected. The same cap
// applies on the agent (while capturing) and on the server (when
// storing reports from agents that predate the cap).
package logbuf
