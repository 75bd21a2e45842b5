// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the shared HTTP server lifecycle for
// remotectl daemons: bind, signal readiness, serve, drain gracefully
// on context cancellation.
package service
