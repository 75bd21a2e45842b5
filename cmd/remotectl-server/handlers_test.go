// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/VNOI-Admin/remotectl/lib/clock"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// testAPI is a full server stack behind an httptest listener. The
// dispatch worker is not running: jobs stay pending unless a test
// drives state itself.
type testAPI struct {
	store     *Store
	hub       *Hub
	fakeClock *clock.FakeClock
	server    *httptest.Server
}

func newTestAPI(t *testing.T, directory TargetDirectory) *testAPI {
	t.Helper()

	store, fakeClock := openTestStore(t)
	hub := NewHub(testLogger(t))
	agents := NewAgentClient(1)
	dispatcher := NewDispatcher(DispatcherConfig{
		Store:       store,
		Hub:         hub,
		Directory:   directory,
		Agents:      agents,
		Clock:       fakeClock,
		Logger:      testLogger(t),
		CallbackURL: "http://server.test:8080",
	})
	reconciler := NewReconciler(store, hub, directory, agents, testLogger(t))
	api := NewAPIServer(APIServerConfig{
		Store:      store,
		Hub:        hub,
		Dispatcher: dispatcher,
		Reconciler: reconciler,
		Directory:  directory,
		Clock:      fakeClock,
		Logger:     testLogger(t),
	})

	server := httptest.NewServer(api.Routes())
	t.Cleanup(server.Close)

	return &testAPI{
		store:     store,
		hub:       hub,
		fakeClock: fakeClock,
		server:    server,
	}
}

func (a *testAPI) request(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	request, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := a.server.Client().Do(request)
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()
	data, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatal(err)
	}
	return response.StatusCode, data
}

func decodeBody[T any](t *testing.T, data []byte) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		t.Fatalf("decoding response %q: %v", data, err)
	}
	return value
}

func TestScriptEndpoints(t *testing.T) {
	api := newTestAPI(t, mapDirectory{})

	status, body := api.request(t, http.MethodPost, "/v1/scripts", remote.CreateScriptRequest{
		Name:    "reboot",
		Content: "#!/bin/sh\nreboot\n",
	})
	if status != http.StatusCreated {
		t.Fatalf("create script: status %d: %s", status, body)
	}
	created := decodeBody[remote.Script](t, body)
	if created.Hash == "" {
		t.Error("created script has no hash")
	}

	status, _ = api.request(t, http.MethodPost, "/v1/scripts", remote.CreateScriptRequest{
		Name:    "reboot",
		Content: "x",
	})
	if status != http.StatusConflict {
		t.Errorf("duplicate create: status %d, want 409", status)
	}

	status, _ = api.request(t, http.MethodPost, "/v1/scripts", remote.CreateScriptRequest{
		Name: "", Content: "x",
	})
	if status != http.StatusBadRequest {
		t.Errorf("empty name: status %d, want 400", status)
	}

	status, body = api.request(t, http.MethodGet, "/v1/scripts/reboot", nil)
	if status != http.StatusOK {
		t.Fatalf("get script: status %d", status)
	}
	got := decodeBody[remote.Script](t, body)
	if got.Content != created.Content {
		t.Errorf("get script content = %q", got.Content)
	}

	status, body = api.request(t, http.MethodPatch, "/v1/scripts/reboot", remote.UpdateScriptRequest{
		Content: "#!/bin/sh\nsystemctl reboot\n",
	})
	if status != http.StatusOK {
		t.Fatalf("update script: status %d: %s", status, body)
	}
	updated := decodeBody[remote.Script](t, body)
	if updated.Hash == created.Hash {
		t.Error("update did not change the hash")
	}

	status, body = api.request(t, http.MethodGet, "/v1/scripts", nil)
	if status != http.StatusOK {
		t.Fatalf("list scripts: status %d", status)
	}
	list := decodeBody[remote.ScriptList](t, body)
	if len(list.Scripts) != 1 {
		t.Errorf("list = %+v, want one script", list)
	}

	status, _ = api.request(t, http.MethodDelete, "/v1/scripts/reboot", nil)
	if status != http.StatusNoContent {
		t.Errorf("delete script: status %d, want 204", status)
	}
	status, _ = api.request(t, http.MethodGet, "/v1/scripts/reboot", nil)
	if status != http.StatusNotFound {
		t.Errorf("get deleted script: status %d, want 404", status)
	}
}

func TestJobEndpoints(t *testing.T) {
	api := newTestAPI(t, mapDirectory{})

	api.request(t, http.MethodPost, "/v1/scripts", remote.CreateScriptRequest{
		Name: "uptime", Content: "uptime",
	})

	status, body := api.request(t, http.MethodPost, "/v1/jobs", remote.CreateJobRequest{
		ScriptName: "uptime",
		Targets:    []string{"team01", "team02"},
		CreatedBy:  "admin",
	})
	if status != http.StatusCreated {
		t.Fatalf("create job: status %d: %s", status, body)
	}
	job := decodeBody[remote.Job](t, body)
	if job.JobID == "" || job.StatusCounts.Pending != 2 {
		t.Fatalf("created job = %+v", job)
	}

	status, _ = api.request(t, http.MethodPost, "/v1/jobs", remote.CreateJobRequest{
		ScriptName: "missing", Targets: []string{"team01"},
	})
	if status != http.StatusNotFound {
		t.Errorf("create job with missing script: status %d, want 404", status)
	}

	status, body = api.request(t, http.MethodGet, "/v1/jobs/"+job.JobID, nil)
	if status != http.StatusOK {
		t.Fatalf("get job: status %d", status)
	}

	status, body = api.request(t, http.MethodGet, "/v1/jobs?script_name=uptime&limit=10", nil)
	if status != http.StatusOK {
		t.Fatalf("list jobs: status %d", status)
	}
	jobList := decodeBody[remote.JobList](t, body)
	if jobList.Total != 1 || len(jobList.Jobs) != 1 {
		t.Errorf("job list = %+v", jobList)
	}

	status, _ = api.request(t, http.MethodGet, "/v1/jobs?from=not-a-time", nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad from filter: status %d, want 400", status)
	}
	status, _ = api.request(t, http.MethodGet, "/v1/jobs?run_status=bogus", nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad run_status filter: status %d, want 400", status)
	}

	status, body = api.request(t, http.MethodGet, "/v1/jobs/"+job.JobID+"/runs", nil)
	if status != http.StatusOK {
		t.Fatalf("list runs: status %d", status)
	}
	runList := decodeBody[remote.RunList](t, body)
	if len(runList.Runs) != 2 {
		t.Errorf("run list = %+v, want 2 runs", runList)
	}

	status, body = api.request(t, http.MethodGet, "/v1/jobs/"+job.JobID+"/runs/team01", nil)
	if status != http.StatusOK {
		t.Fatalf("get run: status %d", status)
	}
	run := decodeBody[remote.Run](t, body)
	if run.Target != "team01" || run.Status != remote.StatusPending {
		t.Errorf("run = %+v", run)
	}

	status, _ = api.request(t, http.MethodGet, "/v1/jobs/"+job.JobID+"/runs/ghost", nil)
	if status != http.StatusNotFound {
		t.Errorf("get unknown run: status %d, want 404", status)
	}

	// Cancel with a target outside the job is a 400 naming it.
	status, body = api.request(t, http.MethodPost, "/v1/jobs/"+job.JobID+"/cancel", remote.CancelRequest{
		Targets: []string{"intruder"},
	})
	if status != http.StatusBadRequest || !strings.Contains(string(body), "intruder") {
		t.Errorf("cancel foreign target: status %d body %s", status, body)
	}
}

func TestAgentCallbackAuthentication(t *testing.T) {
	// The httptest client connects from 127.0.0.1, so a directory that
	// maps it gets through and one that does not gets a 403.
	t.Run("known address", func(t *testing.T) {
		api := newTestAPI(t, mapDirectory{"team01": "127.0.0.1"})
		jobID := api.seedJob(t, "team01")

		status, body := api.request(t, http.MethodPost, "/agent/jobs/"+jobID+"/updates", remote.AgentStatusUpdate{
			Status:     remote.StatusRunning,
			Log:        "started\n",
			ReportedAt: api.fakeClock.Now(),
		})
		if status != http.StatusOK {
			t.Fatalf("agent update: status %d: %s", status, body)
		}
		run := decodeBody[remote.Run](t, body)
		if run.Target != "team01" || run.Status != remote.StatusRunning {
			t.Errorf("run = %+v", run)
		}
	})

	t.Run("unknown address", func(t *testing.T) {
		api := newTestAPI(t, mapDirectory{"team01": "10.0.0.99"})
		jobID := api.seedJob(t, "team01")

		status, _ := api.request(t, http.MethodPost, "/agent/jobs/"+jobID+"/updates", remote.AgentStatusUpdate{
			Status: remote.StatusRunning,
		})
		if status != http.StatusForbidden {
			t.Errorf("unknown caller: status %d, want 403", status)
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		api := newTestAPI(t, mapDirectory{"team01": "127.0.0.1"})
		jobID := api.seedJob(t, "team01")

		status, _ := api.request(t, http.MethodPost, "/agent/jobs/"+jobID+"/updates", map[string]string{
			"status": "exploded",
		})
		if status != http.StatusBadRequest {
			t.Errorf("invalid status: status %d, want 400", status)
		}
	})
}

// seedJob creates a script and a job directly in the store and returns
// the job ID.
func (a *testAPI) seedJob(t *testing.T, targets ...string) string {
	t.Helper()
	script := mustCreateScript(t, a.store, "seed", "true")
	job := mustCreateJob(t, a.store, a.fakeClock, script, "seed-job", targets...)
	return job.JobID
}

func TestJobEventsStream(t *testing.T) {
	api := newTestAPI(t, mapDirectory{})
	jobID := api.seedJob(t, "team01")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, api.server.URL+"/v1/jobs/"+jobID+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	response, err := api.server.Client().Do(request)
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Fatalf("events: status %d", response.StatusCode)
	}
	if got := response.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	// Headers are sent after the subscription is registered, so a
	// publish from here on is guaranteed to reach the stream.
	if got := api.hub.SubscriberCount(jobID); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(response.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	api.hub.Publish(remote.RunEvent{
		JobID:     jobID,
		Target:    "team01",
		Status:    remote.StatusRunning,
		UpdatedAt: api.fakeClock.Now(),
	})

	var eventLine, dataLine string
	deadline := time.After(5 * time.Second)
	for eventLine == "" || dataLine == "" {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before the event arrived")
			}
			switch {
			case strings.HasPrefix(line, "event: "):
				eventLine = line
			case strings.HasPrefix(line, "data: "):
				dataLine = line
			}
		case <-deadline:
			t.Fatal("timed out waiting for the event")
		}
	}

	if eventLine != "event: run.updated" {
		t.Errorf("event line = %q", eventLine)
	}
	var event remote.RunEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &event); err != nil {
		t.Fatalf("decoding event data %q: %v", dataLine, err)
	}
	if event.Target != "team01" || event.Status != remote.StatusRunning {
		t.Errorf("event = %+v", event)
	}

	// Disconnecting releases the subscription.
	cancel()
	deadline = time.After(5 * time.Second)
	for api.hub.SubscriberCount(jobID) != 0 {
		select {
		case <-deadline:
			t.Fatal("subscription not released after disconnect")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestJobEventsUnknownJob(t *testing.T) {
	api := newTestAPI(t, mapDirectory{})

	status, _ := api.request(t, http.MethodGet, "/v1/jobs/nope/events", nil)
	if status != http.StatusNotFound {
		t.Errorf("events for unknown job: status %d, want 404", status)
	}
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t, mapDirectory{})

	status, body := api.request(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK {
		t.Errorf("health: status %d", status)
	}
	if !strings.Contains(string(body), "ok") {
		t.Errorf("health body = %s", body)
	}
}

func TestRequestBodyTooLarge(t *testing.T) {
	api := newTestAPI(t, mapDirectory{})

	huge := fmt.Sprintf(`{"name": "big", "content": %q}`, strings.Repeat("x", maxRequestBodySize+1))
	response, err := api.server.Client().Post(api.server.URL+"/v1/scripts", "application/json", strings.NewReader(huge))
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized body: status %d, want 400", response.StatusCode)
	}
}
