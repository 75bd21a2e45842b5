// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/VNOI-Admin/remotectl/lib/clock"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
	"github.com/VNOI-Admin/remotectl/lib/scripthash"
	"github.com/VNOI-Admin/remotectl/lib/testutil"
)

var runnerTestClockEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.DiscardHandler)
}

// callbackSink is an httptest server standing in for the remotectl
// server's callback endpoint.
type callbackSink struct {
	server  *httptest.Server
	updates chan remote.AgentStatusUpdate
}

func newCallbackSink(t *testing.T) *callbackSink {
	t.Helper()
	sink := &callbackSink{updates: make(chan remote.AgentStatusUpdate, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /agent/jobs/{jobID}/updates", func(w http.ResponseWriter, r *http.Request) {
		var update remote.AgentStatusUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sink.updates <- update
		w.WriteHeader(http.StatusOK)
	})
	sink.server = httptest.NewServer(mux)
	t.Cleanup(sink.server.Close)
	return sink
}

func newTestRunner(t *testing.T) (*Runner, *callbackSink) {
	t.Helper()
	sink := newCallbackSink(t)
	runner := NewRunner(RunnerConfig{
		Shell:    "/bin/sh",
		WorkDir:  t.TempDir(),
		Clock:    clock.Fake(runnerTestClockEpoch),
		Logger:   testLogger(t),
		Callback: NewCallbackClient(),
	})
	return runner, sink
}

func runRequest(sink *callbackSink, jobID, script string) remote.AgentRunRequest {
	return remote.AgentRunRequest{
		JobID:         jobID,
		ScriptName:    "test-script",
		ScriptHash:    scripthash.Sum(script),
		ScriptContent: script,
		CallbackURL:   sink.server.URL,
	}
}

// waitForTerminal receives callback updates until a terminal one
// arrives.
func waitForTerminal(t *testing.T, sink *callbackSink) remote.AgentStatusUpdate {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case update := <-sink.updates:
			if update.Status.Terminal() {
				return update
			}
		case <-deadline:
			t.Fatal("timed out waiting for a terminal update")
		}
	}
}

func TestRunnerExecutesScript(t *testing.T) {
	runner, sink := newTestRunner(t)

	script := "#!/bin/sh\necho hello from $NAME\n"
	request := runRequest(sink, "job-1", script)
	request.Env = map[string]string{"NAME": "team01"}
	if err := runner.Start(request); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := testutil.RequireReceive(t, sink.updates, 5*time.Second, "running update")
	if first.Status != remote.StatusRunning {
		t.Errorf("first update status = %q, want running", first.Status)
	}
	if first.StartedAt == nil {
		t.Error("running update has no started_at")
	}

	terminal := waitForTerminal(t, sink)
	if terminal.Status != remote.StatusSuccess {
		t.Fatalf("terminal update = %+v, want success", terminal)
	}
	if terminal.ExitCode == nil || *terminal.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", terminal.ExitCode)
	}
	if terminal.FinishedAt == nil {
		t.Error("terminal update has no finished_at")
	}

	report, err := runner.Status("job-1", true)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(report.Log, "hello from team01") {
		t.Errorf("captured log = %q", report.Log)
	}
}

func TestRunnerPassesArgs(t *testing.T) {
	runner, sink := newTestRunner(t)

	request := runRequest(sink, "job-1", `echo "args: $1 $2"`)
	request.Args = []string{"alpha", "beta"}
	if err := runner.Start(request); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForTerminal(t, sink)

	report, err := runner.Status("job-1", true)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(report.Log, "args: alpha beta") {
		t.Errorf("captured log = %q", report.Log)
	}
}

func TestRunnerReportsFailure(t *testing.T) {
	runner, sink := newTestRunner(t)

	if err := runner.Start(runRequest(sink, "job-1", "echo doomed\nexit 3\n")); err != nil {
		t.Fatalf("Start: %v", err)
	}

	terminal := waitForTerminal(t, sink)
	if terminal.Status != remote.StatusFailed {
		t.Errorf("terminal status = %q, want failed", terminal.Status)
	}
	if terminal.ExitCode == nil || *terminal.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", terminal.ExitCode)
	}
}

func TestRunnerRejectsHashMismatch(t *testing.T) {
	runner, sink := newTestRunner(t)

	request := runRequest(sink, "job-1", "echo ok")
	request.ScriptHash = scripthash.Sum("something else")
	if err := runner.Start(request); !errors.Is(err, remote.ErrInvalidArgument) {
		t.Errorf("Start with bad hash = %v, want ErrInvalidArgument", err)
	}
	if _, err := runner.Status("job-1", false); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("rejected run was recorded: %v", err)
	}
}

func TestRunnerDuplicateStartIsNoop(t *testing.T) {
	runner, sink := newTestRunner(t)

	request := runRequest(sink, "job-1", "echo once")
	if err := runner.Start(request); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForTerminal(t, sink)

	// The outbox may deliver the same run twice. The second request
	// must not re-execute or reset the recorded state.
	if err := runner.Start(request); err != nil {
		t.Fatalf("duplicate Start: %v", err)
	}
	select {
	case update := <-sink.updates:
		t.Errorf("duplicate start produced an update: %+v", update)
	case <-time.After(200 * time.Millisecond):
	}

	report, err := runner.Status("job-1", false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.Status != remote.StatusSuccess {
		t.Errorf("status after duplicate start = %q, want success", report.Status)
	}
}

func TestRunnerCancelKillsProcessGroup(t *testing.T) {
	runner, sink := newTestRunner(t)

	// The shell spawns a child; killing the process group must take
	// both down.
	if err := runner.Start(runRequest(sink, "job-1", "sleep 60 &\nwait\n")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := testutil.RequireReceive(t, sink.updates, 5*time.Second, "running update")
	if first.Status != remote.StatusRunning {
		t.Fatalf("first update = %+v", first)
	}

	if err := runner.Cancel("job-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	terminal := waitForTerminal(t, sink)
	if terminal.Status != remote.StatusFailed {
		t.Errorf("cancelled run status = %q, want failed", terminal.Status)
	}
	if terminal.ExitCode == nil || *terminal.ExitCode == 0 {
		t.Errorf("cancelled run exit code = %v, want nonzero", terminal.ExitCode)
	}

	// Cancelling again (now terminal) is a no-op.
	if err := runner.Cancel("job-1"); err != nil {
		t.Errorf("Cancel after termination: %v", err)
	}
}

func TestRunnerCancelUnknownJob(t *testing.T) {
	runner, _ := newTestRunner(t)

	if err := runner.Cancel("nope"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Cancel unknown = %v, want ErrNotFound", err)
	}
}

func TestRunnerReportRepushesState(t *testing.T) {
	runner, sink := newTestRunner(t)

	if err := runner.Start(runRequest(sink, "job-1", "echo reported")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForTerminal(t, sink)

	if err := runner.Report("job-1", true); err != nil {
		t.Fatalf("Report: %v", err)
	}
	update := testutil.RequireReceive(t, sink.updates, 5*time.Second, "re-pushed update")
	if update.Status != remote.StatusSuccess {
		t.Errorf("re-pushed status = %q", update.Status)
	}
	if !strings.Contains(update.Log, "reported") {
		t.Errorf("re-pushed log = %q", update.Log)
	}

	if err := runner.Report("nope", false); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Report unknown = %v, want ErrNotFound", err)
	}
}
