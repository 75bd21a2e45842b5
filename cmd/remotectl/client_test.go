// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

func TestClientSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": "script \"nope\": not found"}`)
	}))
	t.Cleanup(server.Close)

	_, err := NewClient(server.URL).GetScript(context.Background(), "nope")
	if err == nil || !strings.Contains(err.Error(), `script "nope": not found`) {
		t.Errorf("GetScript error = %v, want the server's message", err)
	}
}

func TestClientListJobsQueryEncoding(t *testing.T) {
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jobs": [], "total": 0}`)
	}))
	t.Cleanup(server.Close)

	_, err := NewClient(server.URL).ListJobs(context.Background(), JobListOptions{
		ScriptName: "deploy",
		RunStatus:  "failed",
		Limit:      5,
	})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	for _, want := range []string{"script_name=deploy", "run_status=failed", "limit=5"} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q missing %q", query, want)
		}
	}
	if strings.Contains(query, "offset") {
		t.Errorf("query %q carries a zero-valued filter", query)
	}
}

func TestClientWatchJobParsesStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		// Heartbeat comments and foreign events must be skipped.
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "event: run.updated\ndata: {\"job_id\":\"job-1\",\"target\":\"team01\",\"status\":\"running\"}\n\n")
		fmt.Fprint(w, "event: something.else\ndata: {}\n\n")
		fmt.Fprint(w, "event: run.updated\ndata: {\"job_id\":\"job-1\",\"target\":\"team01\",\"status\":\"success\"}\n\n")
	}))
	t.Cleanup(server.Close)

	var events []remote.RunEvent
	err := NewClient(server.URL).WatchJob(context.Background(), "job-1", func(event remote.RunEvent) error {
		events = append(events, event)
		return nil
	})
	if err != nil {
		t.Fatalf("WatchJob: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Status != remote.StatusRunning || events[1].Status != remote.StatusSuccess {
		t.Errorf("events = %+v", events)
	}
}

func TestClientWatchJobCallbackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: run.updated\ndata: {\"job_id\":\"job-1\"}\n\n")
	}))
	t.Cleanup(server.Close)

	wantErr := fmt.Errorf("stop here")
	err := NewClient(server.URL).WatchJob(context.Background(), "job-1", func(remote.RunEvent) error {
		return wantErr
	})
	if err != wantErr {
		t.Errorf("WatchJob = %v, want the callback's error", err)
	}
}
