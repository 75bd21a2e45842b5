// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// remotectl-agent runs on each target machine. It accepts run requests
// from the server, executes scripts under a shell in their own process
// group, captures a capped prefix of combined output, and pushes status
// transitions back to the server callback.
//
// The agent keeps run state only in memory. After a restart the server
// reconciles through its refresh endpoints.
package main
