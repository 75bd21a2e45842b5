// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// Reconciler converges stored run state with reality on the agents.
//
// Two paths feed it. The push path is the agent callback: an agent
// reports a transition and ApplyAgentUpdate merges it. The pull path
// is RefreshJob: an operator asks the server to re-sync some or all
// targets, either by instructing agents to re-push (async) or by
// pulling their status and merging inline (sync). Both paths go
// through Store.ApplyUpdate, so the merge rules are identical.
type Reconciler struct {
	store     *Store
	hub       *Hub
	directory TargetDirectory
	agents    *AgentClient
	logger    *slog.Logger
}

// NewReconciler wires a Reconciler.
func NewReconciler(store *Store, hub *Hub, directory TargetDirectory, agents *AgentClient, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		hub:       hub,
		directory: directory,
		agents:    agents,
		logger:    logger,
	}
}

// ApplyAgentUpdate merges a pushed status report into the run and
// publishes the change. Discarded (stale or post-terminal) updates are
// not errors.
func (r *Reconciler) ApplyAgentUpdate(ctx context.Context, jobID, target string, update remote.AgentStatusUpdate) (*remote.Run, error) {
	run, changed, err := r.store.ApplyUpdate(ctx, jobID, target, update, false)
	if err != nil {
		return nil, err
	}
	if changed {
		r.hub.Publish(runEvent(run))
	}
	return run, nil
}

// RefreshJob re-syncs run state for the requested targets (all of the
// job's targets when none are named).
//
// Async mode instructs each agent to re-push its status and returns
// immediately; delivery errors are logged and swallowed, since the
// refresh is best-effort by construction. Sync mode pulls each agent's
// status, merges it, and returns the stored runs for the requested
// targets — including runs no agent answered for, so the caller always
// sees a complete picture.
func (r *Reconciler) RefreshJob(ctx context.Context, jobID string, request remote.RefreshRequest) (*remote.RefreshResponse, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	targets, err := selectTargets(job, request.Targets)
	if err != nil {
		return nil, err
	}

	if !request.Sync {
		for _, target := range targets {
			go func(target string) {
				addr, ok := r.directory.Resolve(target)
				if !ok {
					r.logger.Debug("refresh: target address not found",
						"job_id", jobID, "target", target)
					return
				}
				if err := r.agents.Report(context.WithoutCancel(ctx), addr, jobID, request.IncludeLog); err != nil {
					r.logger.Debug("refresh: report instruction failed",
						"job_id", jobID, "target", target, "error", err)
				}
			}(target)
		}
		return &remote.RefreshResponse{Accepted: true}, nil
	}

	var waitGroup sync.WaitGroup
	for _, target := range targets {
		addr, ok := r.directory.Resolve(target)
		if !ok {
			r.logger.Debug("refresh: target address not found",
				"job_id", jobID, "target", target)
			continue
		}

		waitGroup.Add(1)
		go func(target, addr string) {
			defer waitGroup.Done()

			report, err := r.agents.Status(ctx, addr, jobID, request.IncludeLog)
			if err != nil {
				r.logger.Debug("refresh: status pull failed",
					"job_id", jobID, "target", target, "error", err)
				return
			}

			// A sync pull may overwrite a recorded dispatch failure:
			// if the agent has the run at all, the earlier transport
			// error was wrong about the run being lost.
			run, changed, err := r.store.ApplyUpdate(ctx, jobID, target, report.AgentStatusUpdate, true)
			if err != nil {
				r.logger.Warn("refresh: merge failed",
					"job_id", jobID, "target", target, "error", err)
				return
			}
			if changed {
				r.hub.Publish(runEvent(run))
			}
		}(target, addr)
	}
	waitGroup.Wait()

	runs, err := r.store.ListRuns(ctx, jobID, "")
	if err != nil {
		return nil, err
	}
	requested := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		requested[target] = struct{}{}
	}
	selected := make([]remote.Run, 0, len(targets))
	for _, run := range runs {
		if _, ok := requested[run.Target]; ok {
			selected = append(selected, run)
		}
	}
	return &remote.RefreshResponse{Accepted: true, Runs: selected}, nil
}

// CancelJob asks each target's agent to kill the job. The result is
// per-target: accepted means the agent acknowledged the cancel, not
// that the run terminated — termination arrives later as a pushed
// status update.
func (r *Reconciler) CancelJob(ctx context.Context, jobID string, requestedTargets []string) (*remote.CancelResponse, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	targets, err := selectTargets(job, requestedTargets)
	if err != nil {
		return nil, err
	}

	results := make([]remote.CancelResult, len(targets))
	var waitGroup sync.WaitGroup
	for i, target := range targets {
		waitGroup.Add(1)
		go func(i int, target string) {
			defer waitGroup.Done()

			addr, ok := r.directory.Resolve(target)
			if !ok {
				results[i] = remote.CancelResult{
					Target:  target,
					Message: "target address not found",
				}
				return
			}
			if err := r.agents.Cancel(ctx, addr, jobID); err != nil {
				results[i] = remote.CancelResult{
					Target:  target,
					Message: err.Error(),
				}
				return
			}
			results[i] = remote.CancelResult{Target: target, Accepted: true}
		}(i, target)
	}
	waitGroup.Wait()

	accepted := 0
	for _, result := range results {
		if result.Accepted {
			accepted++
		}
	}
	r.logger.Info("cancel requested",
		"job_id", jobID,
		"targets", len(targets),
		"accepted", accepted,
	)
	return &remote.CancelResponse{Results: results}, nil
}

// selectTargets resolves a requested target list against a job. An
// empty request means all of the job's targets. Requested targets that
// are not part of the job are an error naming every offender.
func selectTargets(job *remote.Job, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return job.Targets, nil
	}

	member := make(map[string]struct{}, len(job.Targets))
	for _, target := range job.Targets {
		member[target] = struct{}{}
	}

	var invalid []string
	for _, target := range requested {
		if _, ok := member[target]; !ok {
			invalid = append(invalid, target)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, fmt.Errorf("%w: targets not part of job %s: %s",
			remote.ErrInvalidArgument, job.JobID, strings.Join(invalid, ", "))
	}
	return requested, nil
}
