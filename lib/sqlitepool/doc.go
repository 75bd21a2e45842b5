// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the standard SQLite connection pool used
// by remotectl services.
//
// It wraps zombiezen.com/go/sqlite with production defaults: WAL
// journal mode, NORMAL synchronous for process-crash durability without
// fsync-per-commit overhead, memory-mapped I/O for reads, and a busy
// timeout to absorb write contention.
//
// The pool is built on zombiezen's sqlitex.Pool. Callers [Pool.Take] a
// connection, perform work, and [Pool.Put] it back. Connections are NOT
// safe for concurrent use — each goroutine holds its own connection for
// the duration of its work.
//
// The package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. Services write SQL,
// use sqlitex.Execute for cached statements, and manage transactions
// with sqlitex.ImmediateTransaction. No query builder, no ORM.
package sqlitepool
