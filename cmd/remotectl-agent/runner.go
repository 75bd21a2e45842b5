// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/VNOI-Admin/remotectl/lib/clock"
	"github.com/VNOI-Admin/remotectl/lib/logbuf"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
	"github.com/VNOI-Admin/remotectl/lib/scripthash"
)

// Runner executes jobs and tracks their state in memory. The agent is
// stateless across restarts on purpose: the server's sync refresh
// re-converges any runs that were in flight when the agent died.
type Runner struct {
	shell    string
	workDir  string
	clock    clock.Clock
	logger   *slog.Logger
	callback *CallbackClient

	mu   sync.Mutex
	runs map[string]*agentRun
}

// agentRun is the in-memory state of one job on this machine. Fields
// are guarded by the Runner mutex; the output buffer has its own lock
// because the child process writes to it concurrently.
type agentRun struct {
	jobID       string
	callbackURL string

	status     remote.RunStatus
	exitCode   *int
	startedAt  time.Time
	finishedAt *time.Time

	output *logbuf.Buffer
	pgid   int
	done   chan struct{}
}

// RunnerConfig holds the dependencies for a Runner.
type RunnerConfig struct {
	// Shell is the interpreter scripts run under, e.g. "/bin/sh".
	Shell string

	// WorkDir is where script files are materialized for execution.
	WorkDir string

	Clock    clock.Clock
	Logger   *slog.Logger
	Callback *CallbackClient
}

// NewRunner wires a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		shell:    cfg.Shell,
		workDir:  cfg.WorkDir,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		callback: cfg.Callback,
		runs:     make(map[string]*agentRun),
	}
}

// Start launches a job. The dispatch outbox is at-least-once, so a
// request for a job the runner already knows is acknowledged without
// starting a second process.
func (r *Runner) Start(request remote.AgentRunRequest) error {
	if request.JobID == "" {
		return fmt.Errorf("%w: job_id is required", remote.ErrInvalidArgument)
	}
	if got := scripthash.Sum(request.ScriptContent); got != request.ScriptHash {
		return fmt.Errorf("%w: script content does not match hash %s", remote.ErrInvalidArgument, request.ScriptHash)
	}

	r.mu.Lock()
	if _, exists := r.runs[request.JobID]; exists {
		r.mu.Unlock()
		r.logger.Debug("duplicate run request ignored", "job_id", request.JobID)
		return nil
	}
	run := &agentRun{
		jobID:       request.JobID,
		callbackURL: request.CallbackURL,
		status:      remote.StatusRunning,
		startedAt:   r.clock.Now(),
		output:      logbuf.NewBuffer(),
		done:        make(chan struct{}),
	}
	r.runs[request.JobID] = run
	r.mu.Unlock()

	cmd, scriptPath, err := r.buildCommand(request, run.output)
	if err != nil {
		r.finish(run, nil, err)
		return nil
	}
	if err := cmd.Start(); err != nil {
		os.Remove(scriptPath)
		r.finish(run, nil, err)
		return nil
	}

	r.mu.Lock()
	// Setpgid makes the child the leader of its own process group, so
	// the group ID is the child's PID.
	run.pgid = cmd.Process.Pid
	r.mu.Unlock()

	r.logger.Info("run started",
		"job_id", request.JobID,
		"script", request.ScriptName,
		"pid", cmd.Process.Pid,
	)
	r.pushUpdate(run, true)

	go func() {
		defer os.Remove(scriptPath)
		err := cmd.Wait()
		r.finish(run, cmd, err)
	}()
	return nil
}

// buildCommand materializes the script and prepares the process. The
// script runs in its own process group so Cancel can kill the whole
// tree, not just the shell.
func (r *Runner) buildCommand(request remote.AgentRunRequest, output *logbuf.Buffer) (*exec.Cmd, string, error) {
	scriptPath := filepath.Join(r.workDir, "job-"+request.JobID+".sh")
	if err := os.WriteFile(scriptPath, []byte(request.ScriptContent), 0o700); err != nil {
		return nil, "", fmt.Errorf("writing script: %w", err)
	}

	args := append([]string{scriptPath}, request.Args...)
	cmd := exec.Command(r.shell, args...)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	cmd.Env = os.Environ()
	for key, value := range request.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	return cmd, scriptPath, nil
}

// finish records the terminal state of a run and pushes it to the
// server. waitErr is the error from cmd.Wait (or from starting the
// process, in which case cmd is nil).
func (r *Runner) finish(run *agentRun, cmd *exec.Cmd, waitErr error) {
	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		fmt.Fprintf(run.output, "\n%v\n", waitErr)
	} else if cmd != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	now := r.clock.Now()
	r.mu.Lock()
	run.status = remote.StatusForExitCode(exitCode)
	run.exitCode = &exitCode
	run.finishedAt = &now
	r.mu.Unlock()
	close(run.done)

	r.logger.Info("run finished",
		"job_id", run.jobID,
		"status", run.status,
		"exit_code", exitCode,
	)
	r.pushUpdate(run, true)
}

// Cancel kills a run's process group. Cancelling a finished run is a
// no-op; the terminal state has already been reported.
func (r *Runner) Cancel(jobID string) error {
	r.mu.Lock()
	run, ok := r.runs[jobID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("job %q: %w", jobID, remote.ErrNotFound)
	}
	pgid := run.pgid
	terminal := run.status.Terminal()
	r.mu.Unlock()

	if terminal || pgid == 0 {
		return nil
	}
	r.logger.Info("killing run", "job_id", jobID, "pgid", pgid)
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return fmt.Errorf("killing process group %d: %w", pgid, err)
	}
	return nil
}

// Status returns the current state of a run.
func (r *Runner) Status(jobID string, includeLog bool) (*remote.AgentStatusReport, error) {
	r.mu.Lock()
	run, ok := r.runs[jobID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("job %q: %w", jobID, remote.ErrNotFound)
	}
	update := r.snapshotLocked(run, includeLog)
	r.mu.Unlock()

	return &remote.AgentStatusReport{JobID: jobID, AgentStatusUpdate: update}, nil
}

// Report re-pushes a run's current state to the server callback.
func (r *Runner) Report(jobID string, includeLog bool) error {
	r.mu.Lock()
	run, ok := r.runs[jobID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q: %w", jobID, remote.ErrNotFound)
	}
	r.pushUpdate(run, includeLog)
	return nil
}

// snapshotLocked builds a status update from a run. Caller holds r.mu.
func (r *Runner) snapshotLocked(run *agentRun, includeLog bool) remote.AgentStatusUpdate {
	update := remote.AgentStatusUpdate{
		Status:     run.status,
		ReportedAt: r.clock.Now(),
	}
	startedAt := run.startedAt
	update.StartedAt = &startedAt
	if run.exitCode != nil {
		code := *run.exitCode
		update.ExitCode = &code
	}
	if run.finishedAt != nil {
		finishedAt := *run.finishedAt
		update.FinishedAt = &finishedAt
	}
	if includeLog {
		update.Log = run.output.String()
	}
	return update
}

// pushUpdate sends a run's current state to the server callback.
// Best-effort: the server reconciles through refresh if the push is
// lost.
func (r *Runner) pushUpdate(run *agentRun, includeLog bool) {
	if run.callbackURL == "" {
		return
	}
	r.mu.Lock()
	update := r.snapshotLocked(run, includeLog)
	r.mu.Unlock()

	if err := r.callback.Push(run.callbackURL, run.jobID, update); err != nil {
		r.logger.Warn("status push failed",
			"job_id", run.jobID,
			"callback_url", run.callbackURL,
			"error", err,
		)
	}
}
