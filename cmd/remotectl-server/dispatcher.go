// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VNOI-Admin/remotectl/lib/clock"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

const (
	// outboxPollInterval is the fallback poll for outbox rows. The
	// notify channel wakes the worker immediately after CreateJob;
	// the ticker only matters after a crash recovery or a missed
	// notification.
	outboxPollInterval = 5 * time.Second

	// outboxClaimBatch is how many outbox rows one wake-up claims at
	// a time.
	outboxClaimBatch = 32
)

// Dispatcher creates jobs and delivers their runs to agents.
//
// CreateJob only writes: the job, its pending runs, and one outbox row
// per target commit in a single transaction, and the HTTP handler
// returns. Delivery happens in the background worker ([Dispatcher.Run]),
// which claims outbox rows and dispatches each in its own goroutine.
// A target that cannot be reached fails its own run and nothing else.
type Dispatcher struct {
	store       *Store
	hub         *Hub
	directory   TargetDirectory
	agents      *AgentClient
	clock       clock.Clock
	logger      *slog.Logger
	callbackURL string

	// notify wakes the outbox worker after CreateJob. Capacity 1: a
	// pending wake-up already covers any number of new rows.
	notify chan struct{}
}

// DispatcherConfig holds the dependencies for a Dispatcher.
type DispatcherConfig struct {
	Store     *Store
	Hub       *Hub
	Directory TargetDirectory
	Agents    *AgentClient
	Clock     clock.Clock
	Logger    *slog.Logger

	// CallbackURL is the server base URL agents push status updates
	// to, e.g. "http://10.1.0.1:8080".
	CallbackURL string
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		store:       cfg.Store,
		hub:         cfg.Hub,
		directory:   cfg.Directory,
		agents:      cfg.Agents,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		callbackURL: cfg.CallbackURL,
		notify:      make(chan struct{}, 1),
	}
}

// CreateJob validates the request, persists the job with one pending
// run and one outbox row per target, and wakes the outbox worker. The
// returned job reflects the state before any dispatch: every run
// pending.
func (d *Dispatcher) CreateJob(ctx context.Context, request remote.CreateJobRequest) (*remote.Job, error) {
	if len(request.Targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", remote.ErrInvalidArgument)
	}
	seen := make(map[string]struct{}, len(request.Targets))
	for _, target := range request.Targets {
		if target == "" {
			return nil, fmt.Errorf("%w: empty target", remote.ErrInvalidArgument)
		}
		if _, dup := seen[target]; dup {
			return nil, fmt.Errorf("%w: duplicate target %q", remote.ErrInvalidArgument, target)
		}
		seen[target] = struct{}{}
	}

	script, err := d.store.GetScript(ctx, request.ScriptName)
	if err != nil {
		return nil, err
	}

	job := &remote.Job{
		JobID:      uuid.NewString(),
		ScriptName: script.Name,
		ScriptHash: script.Hash,
		Args:       request.Args,
		Env:        request.Env,
		Targets:    request.Targets,
		CreatedBy:  request.CreatedBy,
		CreatedAt:  d.clock.Now(),
	}

	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	d.logger.Info("job created",
		"job_id", job.JobID,
		"script", job.ScriptName,
		"targets", len(job.Targets),
		"created_by", job.CreatedBy,
	)

	select {
	case d.notify <- struct{}{}:
	default:
	}

	job.StatusCounts = &remote.StatusCounts{Pending: len(job.Targets)}
	return job, nil
}

// Run is the outbox worker loop. It first unclaims rows left in flight
// by a previous process, then drains the outbox whenever woken by
// CreateJob or the poll ticker. Run returns when ctx is cancelled,
// after all in-flight dispatch goroutines finish.
func (d *Dispatcher) Run(ctx context.Context) {
	recovered, err := d.store.ResetClaims(ctx)
	if err != nil {
		d.logger.Error("outbox claim recovery failed", "error", err)
	} else if recovered > 0 {
		d.logger.Info("recovered in-flight dispatches", "count", recovered)
	}

	ticker := d.clock.NewTicker(outboxPollInterval)
	defer ticker.Stop()

	var inFlight sync.WaitGroup
	defer inFlight.Wait()

	for {
		d.drainOutbox(ctx, &inFlight)

		select {
		case <-d.notify:
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// drainOutbox claims and dispatches outbox rows until none are
// pending. Each row gets its own goroutine so one slow agent cannot
// delay the rest of a fan-out.
func (d *Dispatcher) drainOutbox(ctx context.Context, inFlight *sync.WaitGroup) {
	for {
		entries, err := d.store.ClaimPending(ctx, outboxClaimBatch)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error("outbox claim failed", "error", err)
			}
			return
		}
		if len(entries) == 0 {
			return
		}

		for _, entry := range entries {
			inFlight.Add(1)
			go func(entry OutboxEntry) {
				defer inFlight.Done()
				d.dispatchOne(ctx, entry)
			}(entry)
		}
	}
}

// dispatchOne delivers a single run to its agent. Failures fail the
// run (with the reason in its log) and never propagate; the outbox row
// is completed either way, because the failure is now recorded in the
// run itself.
func (d *Dispatcher) dispatchOne(ctx context.Context, entry OutboxEntry) {
	if err := d.sendRun(ctx, entry.JobID, entry.Target); err != nil {
		d.failRun(ctx, entry.JobID, entry.Target, err.Error())
	}

	if err := d.store.CompleteDispatch(ctx, entry.ID); err != nil {
		// The row will be re-claimed after the next restart; the
		// agent treats a duplicate run request for a known job as a
		// no-op.
		d.logger.Error("outbox completion failed",
			"job_id", entry.JobID,
			"target", entry.Target,
			"error", err,
		)
	}
}

// sendRun builds the run request and posts it to the target's agent.
func (d *Dispatcher) sendRun(ctx context.Context, jobID, target string) error {
	job, err := d.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	script, err := d.store.GetScript(ctx, job.ScriptName)
	if err != nil {
		return fmt.Errorf("script %q: %w", job.ScriptName, err)
	}
	if script.Hash != job.ScriptHash {
		// The script was edited between job creation and dispatch.
		// The job promised the snapshot hash, so running the edited
		// content would silently run something else.
		return fmt.Errorf("script %q changed since job creation", job.ScriptName)
	}

	addr, ok := d.directory.Resolve(target)
	if !ok {
		return fmt.Errorf("target address not found")
	}

	err = d.agents.Run(ctx, addr, remote.AgentRunRequest{
		JobID:         job.JobID,
		ScriptName:    job.ScriptName,
		ScriptHash:    job.ScriptHash,
		ScriptContent: script.Content,
		Args:          job.Args,
		Env:           job.Env,
		CallbackURL:   d.callbackURL,
	})
	if err != nil {
		return err
	}

	d.logger.Debug("run dispatched", "job_id", jobID, "target", target)
	return nil
}

// failRun records a dispatch failure on the run and publishes the
// transition.
func (d *Dispatcher) failRun(ctx context.Context, jobID, target, reason string) {
	run, changed, err := d.store.FailRun(ctx, jobID, target, reason)
	if err != nil {
		d.logger.Error("recording dispatch failure",
			"job_id", jobID,
			"target", target,
			"reason", reason,
			"error", err,
		)
		return
	}
	d.logger.Warn("dispatch failed",
		"job_id", jobID,
		"target", target,
		"reason", reason,
	)
	if changed {
		d.hub.Publish(runEvent(run))
	}
}

// runEvent projects a run onto its event stream representation.
func runEvent(run *remote.Run) remote.RunEvent {
	return remote.RunEvent{
		JobID:     run.JobID,
		Target:    run.Target,
		Status:    run.Status,
		ExitCode:  run.ExitCode,
		Log:       run.Log,
		UpdatedAt: run.UpdatedAt,
	}
}
