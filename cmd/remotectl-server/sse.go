// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseHeartbeatInterval is how often an idle event stream sends a
// comment line so proxies and clients can tell the connection from a
// dead one.
const sseHeartbeatInterval = 15 * time.Second

// handleJobEvents streams run updates for one job as server-sent
// events. Each update is one "run.updated" event whose data is the
// JSON run event. Subscription happens before the first byte is
// written, so an update that lands while the client connects is
// delivered, not lost.
//
// The stream carries no replay: a new subscriber starts from the
// current moment and should GET the runs once after connecting.
func (s *APIServer) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	if _, err := s.store.GetJob(r.Context(), jobID); err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: "streaming unsupported"})
		return
	}

	events, cancel := s.hub.Subscribe(jobID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Tell nginx-style proxies not to buffer the stream.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := s.clock.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("encoding run event", "job_id", jobID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: run.updated\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
