// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"sync"

	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
)

// eventBufferSize is the channel capacity for each event subscriber.
// Run updates are small and bursty (one per target per transition); 64
// slots absorb a full fan-out burst on a large job before a slow
// consumer starts losing events.
const eventBufferSize = 64

// Hub fans run events out to per-job subscribers.
//
// The registry is keyed by job ID and reference counted: the first
// subscriber for a job creates the entry, the last one to leave
// removes it. There is no replay — a subscriber sees only events
// published while it is attached. Publishing never blocks: a
// subscriber whose buffer is full misses events and is expected to
// re-sync via the runs endpoint.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*jobChannel
}

// jobChannel is the subscriber set for one job.
type jobChannel struct {
	subscribers map[*hubSubscriber]struct{}
}

type hubSubscriber struct {
	events chan remote.RunEvent
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		jobs:   make(map[string]*jobChannel),
	}
}

// Subscribe attaches a subscriber to a job's event stream. It returns
// the event channel and a cancel function. The cancel function is
// idempotent; after it returns, no more events are delivered and the
// channel is closed.
func (h *Hub) Subscribe(jobID string) (<-chan remote.RunEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := h.jobs[jobID]
	if channel == nil {
		channel = &jobChannel{subscribers: make(map[*hubSubscriber]struct{})}
		h.jobs[jobID] = channel
		h.logger.Debug("event channel created", "job_id", jobID)
	}

	subscriber := &hubSubscriber{events: make(chan remote.RunEvent, eventBufferSize)}
	channel.subscribers[subscriber] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.unsubscribe(jobID, subscriber)
		})
	}
	return subscriber.events, cancel
}

// unsubscribe detaches a subscriber. The last detach for a job removes
// the registry entry entirely.
func (h *Hub) unsubscribe(jobID string, subscriber *hubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := h.jobs[jobID]
	if channel == nil {
		return
	}
	delete(channel.subscribers, subscriber)
	close(subscriber.events)
	if len(channel.subscribers) == 0 {
		delete(h.jobs, jobID)
		h.logger.Debug("event channel removed", "job_id", jobID)
	}
}

// Publish delivers an event to every subscriber of its job. Sends are
// non-blocking: a full subscriber buffer drops the event for that
// subscriber only. Publish never fails the caller — a run update
// commits to the store whether or not anyone is listening.
func (h *Hub) Publish(event remote.RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	channel := h.jobs[event.JobID]
	if channel == nil {
		return
	}
	for subscriber := range channel.subscribers {
		select {
		case subscriber.events <- event:
		default:
			h.logger.Debug("slow subscriber dropped event",
				"job_id", event.JobID,
				"target", event.Target,
			)
		}
	}
}

// SubscriberCount returns the number of subscribers attached to a job.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	channel := h.jobs[jobID]
	if channel == nil {
		return 0
	}
	return len(channel.subscribers)
}
