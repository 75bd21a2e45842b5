// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package remote

// CreateScriptRequest is the body of POST /v1/scripts.
type CreateScriptRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// UpdateScriptRequest is the body of PATCH /v1/scripts/{name}.
type UpdateScriptRequest struct {
	Content string `json:"content"`
}

// CreateJobRequest is the body of POST /v1/jobs.
type CreateJobRequest struct {
	ScriptName string            `json:"script_name"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Targets    []string          `json:"targets"`
	CreatedBy  string            `json:"created_by,omitempty"`
}

// JobList is the response of GET /v1/jobs.
type JobList struct {
	Jobs  []Job `json:"jobs"`
	Total int   `json:"total"`
}

// ScriptList is the response of GET /v1/scripts.
type ScriptList struct {
	Scripts []ScriptSummary `json:"scripts"`
}

// RunList is the response of GET /v1/jobs/{jobID}/runs.
type RunList struct {
	Runs []Run `json:"runs"`
}

// CancelRequest is the body of POST /v1/jobs/{jobID}/cancel. An empty
// Targets list means every target of the job.
type CancelRequest struct {
	Targets []string `json:"targets,omitempty"`
}

// CancelResult is the per-target outcome of a cancellation request.
// Accepted means the agent acknowledged the cancel, not that the run
// is already terminated.
type CancelResult struct {
	Target   string `json:"target"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// CancelResponse is the response of POST /v1/jobs/{jobID}/cancel.
type CancelResponse struct {
	Results []CancelResult `json:"results"`
}

// RefreshRequest is the body of POST /v1/jobs/{jobID}/refresh. An
// empty Targets list means every target of the job.
//
// In sync mode the server pulls current status from each agent, merges
// it, and returns the stored runs. In async mode (the default) the
// server instructs each agent to re-push its status and returns
// immediately.
type RefreshRequest struct {
	Targets    []string `json:"targets,omitempty"`
	IncludeLog bool     `json:"include_log,omitempty"`
	Sync       bool     `json:"sync,omitempty"`
}

// RefreshResponse is the response of POST /v1/jobs/{jobID}/refresh.
// Runs is populated only in sync mode.
type RefreshResponse struct {
	Accepted bool  `json:"accepted"`
	Runs     []Run `json:"runs,omitempty"`
}
