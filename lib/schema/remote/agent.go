// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import "time"

// AgentRunRequest is the body of POST /jobs/{jobID}/run on an agent.
// The script content travels in the dispatch payload, so the agent
// holds no script state of its own.
type AgentRunRequest struct {
	JobID         string            `json:"job_id"`
	ScriptName    string            `json:"script_name"`
	ScriptHash    string            `json:"script_hash"`
	ScriptContent string            `json:"script_content"`
	Args          []string          `json:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty"`

	// CallbackURL is the server endpoint the agent pushes status
	// updates to: POST {CallbackURL}/agent/jobs/{jobID}/updates.
	CallbackURL string `json:"callback_url"`
}

// AgentStatusUpdate is a point-in-time report of one run's state on an
// agent. It is both the push body (agent → server callback) and the
// payload the server merges on a sync refresh pull.
//
// The target is not part of the body: the server derives it from the
// caller's address via the target directory, so an agent cannot report
// on another target's behalf.
type AgentStatusUpdate struct {
	Status   RunStatus `json:"status"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Log      string    `json:"log,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// ReportedAt is the agent-side time this state was observed.
	ReportedAt time.Time `json:"reported_at"`
}

// AgentStatusReport is the response of GET /jobs/{jobID} on an agent.
type AgentStatusReport struct {
	JobID string `json:"job_id"`
	AgentStatusUpdate
}

// AgentReportRequest is the body of POST /jobs/{jobID}/report on an
// agent: an instruction to re-push current status to the server.
type AgentReportRequest struct {
	IncludeLog bool `json:"include_log,omitempty"`
}
