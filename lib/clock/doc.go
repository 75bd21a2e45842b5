// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.NewTicker, or time.Sleep directly. Real()
// provides standard library behavior; Fake() provides a deterministic
// clock that advances only when Advance is called.
//
// When a goroutine registers a timer on a FakeClock, use WaitForTimers
// to block until the registration happens before calling Advance. This
// removes the race between timer registration and time advancement that
// plagues tests using time.Sleep for synchronization.
package clock
