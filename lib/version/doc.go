// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for remotectl
// binaries.
//
// Version information is injected at build time via -ldflags:
//
//	go build -ldflags "-X github.com/VNOI-Admin/remotectl/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
