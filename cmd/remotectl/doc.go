// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// remotectl is the command-line client for the remotectl server. It
// manages scripts, creates jobs, inspects runs, and streams live run
// updates.
package main
