// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/VNOI-Admin/remotectl/lib/clock"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// maxRequestBodySize caps JSON request bodies. Script content is the
// largest payload and scripts are shell source, so 1MiB is generous.
const maxRequestBodySize = 1 << 20

// APIServer is the HTTP surface of the server: the operator API under
// /v1 and the agent callback under /agent.
type APIServer struct {
	store      *Store
	hub        *Hub
	dispatcher *Dispatcher
	reconciler *Reconciler
	directory  TargetDirectory
	clock      clock.Clock
	logger     *slog.Logger
}

// APIServerConfig holds the dependencies for an APIServer.
type APIServerConfig struct {
	Store      *Store
	Hub        *Hub
	Dispatcher *Dispatcher
	Reconciler *Reconciler
	Directory  TargetDirectory
	Clock      clock.Clock
	Logger     *slog.Logger
}

// NewAPIServer wires an APIServer.
func NewAPIServer(cfg APIServerConfig) *APIServer {
	return &APIServer{
		store:      cfg.Store,
		hub:        cfg.Hub,
		dispatcher: cfg.Dispatcher,
		reconciler: cfg.Reconciler,
		directory:  cfg.Directory,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
}

// Routes returns the full route table.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/scripts", s.handleCreateScript)
	mux.HandleFunc("GET /v1/scripts", s.handleListScripts)
	mux.HandleFunc("GET /v1/scripts/{name}", s.handleGetScript)
	mux.HandleFunc("PATCH /v1/scripts/{name}", s.handleUpdateScript)
	mux.HandleFunc("DELETE /v1/scripts/{name}", s.handleDeleteScript)

	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{jobID}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{jobID}/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/jobs/{jobID}/runs/{target}", s.handleGetRun)
	mux.HandleFunc("POST /v1/jobs/{jobID}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /v1/jobs/{jobID}/refresh", s.handleRefreshJob)
	mux.HandleFunc("GET /v1/jobs/{jobID}/events", s.handleJobEvents)

	mux.HandleFunc("POST /agent/jobs/{jobID}/updates", s.handleAgentUpdate)

	return mux
}

// decodeRequest reads a size-limited JSON body into out.
func decodeRequest(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: request body exceeds %d bytes",
				remote.ErrInvalidArgument, tooLarge.Limit)
		}
		return fmt.Errorf("%w: decoding request body: %v", remote.ErrInvalidArgument, err)
	}
	return nil
}

// writeJSON writes a JSON response with the given status.
func (s *APIServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses:
// ErrInvalidArgument is 400, ErrNotFound 404, ErrAlreadyExists 409,
// everything else 500.
func (s *APIServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, remote.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, remote.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, remote.ErrAlreadyExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
