// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
	"github.com/VNOI-Admin/remotectl/lib/scripthash"
)

func (s *APIServer) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	var request remote.CreateScriptRequest
	if err := decodeRequest(w, r, &request); err != nil {
		s.writeError(w, err)
		return
	}
	if err := remote.ValidateScriptName(request.Name); err != nil {
		s.writeError(w, err)
		return
	}
	if request.Content == "" {
		s.writeError(w, fmt.Errorf("%w: content is required", remote.ErrInvalidArgument))
		return
	}

	script, err := s.store.CreateScript(r.Context(), request.Name, request.Content, scripthash.Sum(request.Content))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("script created", "name", script.Name, "hash", script.Hash)
	s.writeJSON(w, http.StatusCreated, script)
}

func (s *APIServer) handleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts, err := s.store.ListScripts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if scripts == nil {
		scripts = []remote.ScriptSummary{}
	}
	s.writeJSON(w, http.StatusOK, remote.ScriptList{Scripts: scripts})
}

func (s *APIServer) handleGetScript(w http.ResponseWriter, r *http.Request) {
	script, err := s.store.GetScript(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

func (s *APIServer) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	var request remote.UpdateScriptRequest
	if err := decodeRequest(w, r, &request); err != nil {
		s.writeError(w, err)
		return
	}
	if request.Content == "" {
		s.writeError(w, fmt.Errorf("%w: content is required", remote.ErrInvalidArgument))
		return
	}

	name := r.PathValue("name")
	script, err := s.store.UpdateScript(r.Context(), name, request.Content, scripthash.Sum(request.Content))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("script updated", "name", script.Name, "hash", script.Hash)
	s.writeJSON(w, http.StatusOK, script)
}

func (s *APIServer) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.store.DeleteScript(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("script deleted", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var request remote.CreateJobRequest
	if err := decodeRequest(w, r, &request); err != nil {
		s.writeError(w, err)
		return
	}

	job, err := s.dispatcher.CreateJob(r.Context(), request)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

// parseJobFilter builds a JobFilter from query parameters. Timestamps
// are RFC 3339.
func parseJobFilter(r *http.Request) (JobFilter, error) {
	query := r.URL.Query()
	filter := JobFilter{
		ScriptName: query.Get("script_name"),
		CreatedBy:  query.Get("created_by"),
	}

	if value := query.Get("from"); value != "" {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return filter, fmt.Errorf("%w: from: %v", remote.ErrInvalidArgument, err)
		}
		filter.From = t
	}
	if value := query.Get("to"); value != "" {
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return filter, fmt.Errorf("%w: to: %v", remote.ErrInvalidArgument, err)
		}
		filter.To = t
	}
	if value := query.Get("run_status"); value != "" {
		status := remote.RunStatus(value)
		if !status.Valid() {
			return filter, fmt.Errorf("%w: unknown run_status %q", remote.ErrInvalidArgument, value)
		}
		filter.RunStatus = status
	}
	if value := query.Get("limit"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("%w: limit must be a non-negative integer", remote.ErrInvalidArgument)
		}
		filter.Limit = n
	}
	if value := query.Get("offset"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("%w: offset must be a non-negative integer", remote.ErrInvalidArgument)
		}
		filter.Offset = n
	}
	return filter, nil
}

func (s *APIServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseJobFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	jobs, total, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []remote.Job{}
	}
	s.writeJSON(w, http.StatusOK, remote.JobList{Jobs: jobs, Total: total})
}

func (s *APIServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("jobID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *APIServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var status remote.RunStatus
	if value := r.URL.Query().Get("status"); value != "" {
		status = remote.RunStatus(value)
		if !status.Valid() {
			s.writeError(w, fmt.Errorf("%w: unknown status %q", remote.ErrInvalidArgument, value))
			return
		}
	}

	runs, err := s.store.ListRuns(r.Context(), r.PathValue("jobID"), status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []remote.Run{}
	}
	s.writeJSON(w, http.StatusOK, remote.RunList{Runs: runs})
}

func (s *APIServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), r.PathValue("jobID"), r.PathValue("target"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *APIServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	var request remote.CancelRequest
	if r.ContentLength != 0 {
		if err := decodeRequest(w, r, &request); err != nil {
			s.writeError(w, err)
			return
		}
	}

	response, err := s.reconciler.CancelJob(r.Context(), r.PathValue("jobID"), request.Targets)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *APIServer) handleRefreshJob(w http.ResponseWriter, r *http.Request) {
	var request remote.RefreshRequest
	if r.ContentLength != 0 {
		if err := decodeRequest(w, r, &request); err != nil {
			s.writeError(w, err)
			return
		}
	}

	response, err := s.reconciler.RefreshJob(r.Context(), r.PathValue("jobID"), request)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !request.Sync {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, response)
}

// handleAgentUpdate is the push path: an agent reports a status
// transition for one of its runs. The target identity comes from the
// caller's IP via the directory, never from the request body, so an
// agent can only ever write its own runs.
func (s *APIServer) handleAgentUpdate(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	target, ok := s.directory.ReverseResolve(host)
	if !ok {
		s.logger.Warn("agent update from unknown address", "address", host)
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "unknown agent address"})
		return
	}

	var update remote.AgentStatusUpdate
	if err := decodeRequest(w, r, &update); err != nil {
		s.writeError(w, err)
		return
	}
	if !update.Status.Valid() {
		s.writeError(w, fmt.Errorf("%w: unknown status %q", remote.ErrInvalidArgument, update.Status))
		return
	}

	run, err := s.reconciler.ApplyAgentUpdate(r.Context(), r.PathValue("jobID"), target, update)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}
