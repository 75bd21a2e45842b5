// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// remotectl-server is the orchestrator for remote command execution.
//
// It stores content-addressed scripts and immutable jobs in SQLite,
// dispatches runs to per-target agents through a transactional outbox,
// merges pushed and pulled agent status reports through a single set
// of rules, and streams live run updates to clients over server-sent
// events.
package main
