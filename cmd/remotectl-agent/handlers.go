// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// maxRequestBodySize caps run request bodies. Script content is capped
// server-side at the same limit.
const maxRequestBodySize = 1 << 20

// AgentAPI is the agent's HTTP surface, consumed only by the server.
type AgentAPI struct {
	runner *Runner
	logger *slog.Logger
}

// NewAgentAPI wires an AgentAPI.
func NewAgentAPI(runner *Runner, logger *slog.Logger) *AgentAPI {
	return &AgentAPI{runner: runner, logger: logger}
}

// Routes returns the agent route table.
func (a *AgentAPI) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("POST /jobs/{jobID}/run", a.handleRun)
	mux.HandleFunc("POST /jobs/{jobID}/cancel", a.handleCancel)
	mux.HandleFunc("POST /jobs/{jobID}/report", a.handleReport)
	mux.HandleFunc("GET /jobs/{jobID}", a.handleStatus)
	return mux
}

func (a *AgentAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Debug("writing response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *AgentAPI) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, remote.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, remote.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *AgentAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AgentAPI) handleRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var request remote.AgentRunRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		a.writeError(w, fmt.Errorf("%w: decoding run request: %v", remote.ErrInvalidArgument, err))
		return
	}
	if jobID := r.PathValue("jobID"); request.JobID != jobID {
		a.writeError(w, fmt.Errorf("%w: body job_id %q does not match path %q",
			remote.ErrInvalidArgument, request.JobID, jobID))
		return
	}

	if err := a.runner.Start(request); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *AgentAPI) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := a.runner.Cancel(r.PathValue("jobID")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *AgentAPI) handleReport(w http.ResponseWriter, r *http.Request) {
	var request remote.AgentReportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			a.writeError(w, fmt.Errorf("%w: decoding report request: %v", remote.ErrInvalidArgument, err))
			return
		}
	}
	if err := a.runner.Report(r.PathValue("jobID"), request.IncludeLog); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *AgentAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	includeLog := r.URL.Query().Get("include_log") == "true"
	report, err := a.runner.Status(r.PathValue("jobID"), includeLog)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}
