// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"time"

	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
	"github.com/VNOI-Admin/remotectl/lib/testutil"
)

func TestHubPublishReachesSubscribers(t *testing.T) {
	hub := NewHub(testLogger(t))

	first, cancelFirst := hub.Subscribe("job-1")
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe("job-1")
	defer cancelSecond()
	other, cancelOther := hub.Subscribe("job-2")
	defer cancelOther()

	hub.Publish(remote.RunEvent{JobID: "job-1", Target: "team01", Status: remote.StatusRunning})

	event := testutil.RequireReceive(t, first, time.Second, "first subscriber")
	if event.Target != "team01" || event.Status != remote.StatusRunning {
		t.Errorf("first subscriber got %+v", event)
	}
	testutil.RequireReceive(t, second, time.Second, "second subscriber")

	select {
	case event := <-other:
		t.Errorf("job-2 subscriber received job-1 event: %+v", event)
	default:
	}
}

func TestHubPublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(testLogger(t))

	// Must not panic or block.
	hub.Publish(remote.RunEvent{JobID: "job-1", Target: "team01"})
}

func TestHubCancelClosesChannelAndCleansUp(t *testing.T) {
	hub := NewHub(testLogger(t))

	events, cancel := hub.Subscribe("job-1")
	if got := hub.SubscriberCount("job-1"); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	cancel()
	cancel() // idempotent

	select {
	case _, ok := <-events:
		if ok {
			t.Error("received an event after cancel")
		}
	case <-time.After(time.Second):
		t.Error("subscriber channel not closed after cancel")
	}
	if got := hub.SubscriberCount("job-1"); got != 0 {
		t.Errorf("SubscriberCount after cancel = %d, want 0", got)
	}

	// Publishing after the last unsubscribe is a no-op.
	hub.Publish(remote.RunEvent{JobID: "job-1", Target: "team01"})
}

func TestHubSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewHub(testLogger(t))

	events, cancel := hub.Subscribe("job-1")
	defer cancel()

	// Fill the buffer and then one more; the overflow is dropped, not
	// blocked on.
	for i := 0; i < eventBufferSize+1; i++ {
		hub.Publish(remote.RunEvent{JobID: "job-1", Target: "team01"})
	}

	received := 0
	for {
		select {
		case <-events:
			received++
			continue
		default:
		}
		break
	}
	if received != eventBufferSize {
		t.Errorf("received %d events, want %d", received, eventBufferSize)
	}
}
