// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package remote defines the shared types of the remote command
// execution system: scripts, jobs, runs, run status, the operator API
// request and response shapes, and the agent wire protocol.
//
// The server, the agent, and the CLI all import this package; it is
// the single definition of the wire format.
package remote
