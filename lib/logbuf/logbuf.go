// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package logbuf

import "sync"

// MaxLogSize is the byte cap on a run's captured output: 256 KiB.
const MaxLogSize = 256 * 1024

// Truncate returns the MaxLogSize byte prefix of log. Logs at or under
// the cap are returned unchanged.
func Truncate(log string) string {
	if len(log) <= MaxLogSize {
		return log
	}
	return log[:MaxLogSize]
}

// Buffer is a size-capped write buffer for capturing combined process
// output. Writes past the cap are counted but discarded. Buffer is
// safe for concurrent use: stdout and stderr of a child process may
// write from separate goroutines.
type Buffer struct {
	mu      sync.Mutex
	data    []byte
	dropped int64
}

// NewBuffer returns a Buffer capped at MaxLogSize.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Write implements io.Writer. It never returns an error: a full buffer
// silently drops the overflow so the child process is not disturbed.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := MaxLogSize - len(b.data)
	if room > 0 {
		take := min(room, len(p))
		b.data = append(b.data, p[:take]...)
		b.dropped += int64(len(p) - take)
	} else {
		b.dropped += int64(len(p))
	}
	return len(p), nil
}

// String returns the captured prefix.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// Dropped returns the number of bytes discarded past the cap.
func (b *Buffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
