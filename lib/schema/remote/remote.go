// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of one run (one job on one target).
//
// Transitions: pending → running → success | failed, plus the direct
// pending → failed edge taken when dispatch itself fails. Success and
// failed are terminal.
type RunStatus string

const (
	StatusPending RunStatus = "pending"
	StatusRunning RunStatus = "running"
	StatusSuccess RunStatus = "success"
	StatusFailed  RunStatus = "failed"
)

// Valid reports whether s is one of the four run states.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Terminal runs reject
// further agent updates.
func (s RunStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// StatusForExitCode maps a process exit code to its terminal status:
// zero is success, anything else is failed.
func StatusForExitCode(code int) RunStatus {
	if code == 0 {
		return StatusSuccess
	}
	return StatusFailed
}

// MaxScriptNameLength bounds script names.
const MaxScriptNameLength = 128

// ValidateScriptName checks that name is usable as a script
// identifier.
func ValidateScriptName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: script name is empty", ErrInvalidArgument)
	}
	if len(name) > MaxScriptNameLength {
		return fmt.Errorf("%w: script name is %d bytes, max %d", ErrInvalidArgument, len(name), MaxScriptNameLength)
	}
	return nil
}

// Script is a named, content-addressed shell script. Hash is the hex
// BLAKE3 digest of Content, recomputed on every content change.
type Script struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScriptSummary is a Script without its content, for listings.
type ScriptSummary struct {
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job is one request to execute a script on a set of targets. Jobs are
// immutable after creation; ScriptHash snapshots the script content at
// creation time, so later script edits do not change what a job ran.
type Job struct {
	JobID      string            `json:"job_id"`
	ScriptName string            `json:"script_name"`
	ScriptHash string            `json:"script_hash"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Targets    []string          `json:"targets"`
	CreatedBy  string            `json:"created_by,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`

	// StatusCounts is derived from the job's runs at read time. It is
	// never stored.
	StatusCounts *StatusCounts `json:"status_counts,omitempty"`
}

// StatusCounts is the per-status rollup of a job's runs.
type StatusCounts struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Run is the execution state of one job on one target. (JobID, Target)
// is unique.
type Run struct {
	JobID    string    `json:"job_id"`
	Target   string    `json:"target"`
	Status   RunStatus `json:"status"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Log      string    `json:"log,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// UpdatedAt is the server-side time of the last applied change.
	UpdatedAt time.Time `json:"updated_at"`

	// ReportedAt is the agent-side timestamp of the newest report
	// applied to this run. It orders concurrent reports: an incoming
	// report older than the stored ReportedAt is discarded.
	ReportedAt time.Time `json:"reported_at"`
}

// DispatchFailure reports whether the run failed before the agent ever
// accepted it: failed with no exit code. A sync refresh may overwrite
// such a run, since the agent's own report is more authoritative than
// a transport error.
func (r *Run) DispatchFailure() bool {
	return r.Status == StatusFailed && r.ExitCode == nil
}

// RunEvent is the per-run change notification published on a job's
// event stream.
type RunEvent struct {
	JobID    string    `json:"job_id"`
	Target   string    `json:"target"`
	Status   RunStatus `json:"status"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Log      string    `json:"log,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}
