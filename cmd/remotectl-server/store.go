// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/VNOI-Admin/remotectl/lib/clock"
	"github.com/VNOI-Admin/remotectl/lib/codec"
	"github.com/VNOI-Admin/remotectl/lib/logbuf"
	"github.com/VNOI-Admin/remotectl/lib/schema/remote"
	"github.com/VNOI-Admin/remotectl/lib/sqlitepool"
)

// Store manages SQLite storage for scripts, jobs, runs, and the
// dispatch outbox.
//
// Write path: CreateJob inserts the job, one pending run per target,
// and one outbox row per target in a single IMMEDIATE transaction, so
// a crash between job creation and dispatch loses nothing — the outbox
// worker picks the rows up on restart.
//
// Run state converges through ApplyUpdate, the single merge point for
// agent pushes and sync-refresh pulls. It rejects stale reports, keeps
// terminal states sticky, sets timestamps once, and truncates and
// compresses logs. FailRun handles the one other transition: a
// dispatch failure moving a pending run directly to failed.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// StoreConfig holds the parameters for opening a Store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Clock provides the current time for updated_at stamps and
	// outbox claims.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

const storeSchema = `
	CREATE TABLE IF NOT EXISTS scripts (
		name       TEXT PRIMARY KEY,
		content    TEXT NOT NULL,
		hash       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		job_id      TEXT PRIMARY KEY,
		script_name TEXT NOT NULL,
		script_hash TEXT NOT NULL,
		args        TEXT,
		env         TEXT,
		targets     TEXT NOT NULL,
		created_by  TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_script ON jobs(script_name, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_creator ON jobs(created_by, created_at);

	CREATE TABLE IF NOT EXISTS job_runs (
		job_id       TEXT NOT NULL,
		target       TEXT NOT NULL,
		status       TEXT NOT NULL,
		exit_code    INTEGER,
		log          BLOB,
		log_encoding TEXT NOT NULL DEFAULT 'plain',
		started_at   INTEGER,
		finished_at  INTEGER,
		updated_at   INTEGER NOT NULL,
		reported_at  INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (job_id, target)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON job_runs(status, job_id);

	CREATE TABLE IF NOT EXISTS dispatch_outbox (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id     TEXT NOT NULL,
		target     TEXT NOT NULL,
		payload    BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		claimed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_pending ON dispatch_outbox(claimed_at, id);
`

// OpenStore opens (creating if necessary) the SQLite database and
// applies the schema.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{
		pool:   pool,
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// --- Scripts ---

// CreateScript inserts a new script. Returns ErrAlreadyExists if a
// script with the same name exists.
func (s *Store) CreateScript(ctx context.Context, name, content, hash string) (*remote.Script, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: create script: %w", err)
	}
	defer s.pool.Put(conn)

	now := s.clock.Now()
	err = sqlitex.Execute(conn,
		`INSERT INTO scripts (name, content, hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{name, content, hash, now.UnixNano(), now.UnixNano()},
		})
	if err != nil {
		if sqlite.ErrCode(err) == sqlite.ResultConstraintPrimaryKey {
			return nil, fmt.Errorf("script %q: %w", name, remote.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("store: create script: %w", err)
	}

	return &remote.Script{
		Name:      name,
		Content:   content,
		Hash:      hash,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetScript returns a script by name. Returns ErrNotFound if absent.
func (s *Store) GetScript(ctx context.Context, name string) (*remote.Script, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get script: %w", err)
	}
	defer s.pool.Put(conn)

	return getScript(conn, name)
}

func getScript(conn *sqlite.Conn, name string) (*remote.Script, error) {
	var script *remote.Script
	err := sqlitex.Execute(conn,
		`SELECT name, content, hash, created_at, updated_at FROM scripts WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				script = &remote.Script{
					Name:      stmt.ColumnText(0),
					Content:   stmt.ColumnText(1),
					Hash:      stmt.ColumnText(2),
					CreatedAt: time.Unix(0, stmt.ColumnInt64(3)),
					UpdatedAt: time.Unix(0, stmt.ColumnInt64(4)),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get script: %w", err)
	}
	if script == nil {
		return nil, fmt.Errorf("script %q: %w", name, remote.ErrNotFound)
	}
	return script, nil
}

// UpdateScript replaces a script's content and hash. Returns
// ErrNotFound if the script does not exist.
func (s *Store) UpdateScript(ctx context.Context, name, content, hash string) (*remote.Script, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: update script: %w", err)
	}
	defer s.pool.Put(conn)

	now := s.clock.Now()
	err = sqlitex.Execute(conn,
		`UPDATE scripts SET content = ?, hash = ?, updated_at = ? WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{content, hash, now.UnixNano(), name},
		})
	if err != nil {
		return nil, fmt.Errorf("store: update script: %w", err)
	}
	if conn.Changes() == 0 {
		return nil, fmt.Errorf("script %q: %w", name, remote.ErrNotFound)
	}

	return getScript(conn, name)
}

// DeleteScript removes a script. Returns ErrNotFound if absent. Jobs
// that already snapshot the script's hash are unaffected.
func (s *Store) DeleteScript(ctx context.Context, name string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: delete script: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM scripts WHERE name = ?`, &sqlitex.ExecOptions{
		Args: []any{name},
	})
	if err != nil {
		return fmt.Errorf("store: delete script: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("script %q: %w", name, remote.ErrNotFound)
	}
	return nil
}

// ListScripts returns summaries of all scripts, sorted by name.
// Content is omitted.
func (s *Store) ListScripts(ctx context.Context) ([]remote.ScriptSummary, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list scripts: %w", err)
	}
	defer s.pool.Put(conn)

	var summaries []remote.ScriptSummary
	err = sqlitex.Execute(conn,
		`SELECT name, hash, created_at, updated_at FROM scripts ORDER BY name`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				summaries = append(summaries, remote.ScriptSummary{
					Name:      stmt.ColumnText(0),
					Hash:      stmt.ColumnText(1),
					CreatedAt: time.Unix(0, stmt.ColumnInt64(2)),
					UpdatedAt: time.Unix(0, stmt.ColumnInt64(3)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list scripts: %w", err)
	}
	return summaries, nil
}

// --- Jobs ---

// dispatchTask is the CBOR payload of one outbox row. The payload is
// deliberately minimal: the dispatcher re-reads the job and script at
// send time, so a row survives schema additions to Job.
type dispatchTask struct {
	JobID  string `cbor:"job_id"`
	Target string `cbor:"target"`
}

// CreateJob inserts the job, one pending run per target, and one
// outbox row per target in a single transaction. The caller validates
// the job (script exists, targets are unique) before calling.
func (s *Store) CreateJob(ctx context.Context, job *remote.Job) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	argsJSON, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("store: marshal args: %w", err)
	}
	envJSON, err := json.Marshal(job.Env)
	if err != nil {
		return fmt.Errorf("store: marshal env: %w", err)
	}
	targetsJSON, err := json.Marshal(job.Targets)
	if err != nil {
		return fmt.Errorf("store: marshal targets: %w", err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO jobs (job_id, script_name, script_hash, args, env, targets, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				job.JobID,
				job.ScriptName,
				job.ScriptHash,
				string(argsJSON),
				string(envJSON),
				string(targetsJSON),
				job.CreatedBy,
				job.CreatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}

	now := s.clock.Now()
	for _, target := range job.Targets {
		err = sqlitex.Execute(conn,
			`INSERT INTO job_runs (job_id, target, status, updated_at) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{job.JobID, target, string(remote.StatusPending), now.UnixNano()},
			})
		if err != nil {
			return fmt.Errorf("store: insert run for %s: %w", target, err)
		}

		payload, err := codec.Marshal(dispatchTask{JobID: job.JobID, Target: target})
		if err != nil {
			return fmt.Errorf("store: marshal dispatch task: %w", err)
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO dispatch_outbox (job_id, target, payload, created_at) VALUES (?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{job.JobID, target, payload, now.UnixNano()},
			})
		if err != nil {
			return fmt.Errorf("store: insert outbox row for %s: %w", target, err)
		}
	}

	return nil
}

// GetJob returns a job with its derived status counts. Returns
// ErrNotFound if absent.
func (s *Store) GetJob(ctx context.Context, jobID string) (*remote.Job, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	defer s.pool.Put(conn)

	job, err := getJob(conn, jobID)
	if err != nil {
		return nil, err
	}
	counts, err := statusCounts(conn, jobID)
	if err != nil {
		return nil, err
	}
	job.StatusCounts = counts
	return job, nil
}

func getJob(conn *sqlite.Conn, jobID string) (*remote.Job, error) {
	var job *remote.Job
	var scanErr error
	err := sqlitex.Execute(conn,
		`SELECT job_id, script_name, script_hash, args, env, targets, created_by, created_at
		 FROM jobs WHERE job_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				job, scanErr = scanJob(stmt)
				return scanErr
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %q: %w", jobID, remote.ErrNotFound)
	}
	return job, nil
}

func scanJob(stmt *sqlite.Stmt) (*remote.Job, error) {
	job := &remote.Job{
		JobID:      stmt.ColumnText(0),
		ScriptName: stmt.ColumnText(1),
		ScriptHash: stmt.ColumnText(2),
		CreatedBy:  stmt.ColumnText(6),
		CreatedAt:  time.Unix(0, stmt.ColumnInt64(7)),
	}
	if args := stmt.ColumnText(3); args != "" {
		if err := json.Unmarshal([]byte(args), &job.Args); err != nil {
			return nil, fmt.Errorf("store: unmarshal args for job %s: %w", job.JobID, err)
		}
	}
	if env := stmt.ColumnText(4); env != "" {
		if err := json.Unmarshal([]byte(env), &job.Env); err != nil {
			return nil, fmt.Errorf("store: unmarshal env for job %s: %w", job.JobID, err)
		}
	}
	if targets := stmt.ColumnText(5); targets != "" {
		if err := json.Unmarshal([]byte(targets), &job.Targets); err != nil {
			return nil, fmt.Errorf("store: unmarshal targets for job %s: %w", job.JobID, err)
		}
	}
	return job, nil
}

// statusCounts computes the per-status rollup of a job's runs.
func statusCounts(conn *sqlite.Conn, jobID string) (*remote.StatusCounts, error) {
	counts := &remote.StatusCounts{}
	err := sqlitex.Execute(conn,
		`SELECT status, COUNT(*) FROM job_runs WHERE job_id = ? GROUP BY status`,
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n := stmt.ColumnInt(1)
				switch remote.RunStatus(stmt.ColumnText(0)) {
				case remote.StatusPending:
					counts.Pending = n
				case remote.StatusRunning:
					counts.Running = n
				case remote.StatusSuccess:
					counts.Success = n
				case remote.StatusFailed:
					counts.Failed = n
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: status counts: %w", err)
	}
	return counts, nil
}

// JobFilter specifies the criteria for listing jobs. Zero-valued
// fields are not applied.
type JobFilter struct {
	ScriptName string           // Exact match.
	CreatedBy  string           // Exact match.
	From       time.Time        // Earliest created_at, inclusive.
	To         time.Time        // Latest created_at, inclusive.
	RunStatus  remote.RunStatus // Jobs having at least one run in this status.
	Limit      int              // Max jobs to return (default 50).
	Offset     int              // Rows to skip, for paging.
}

// ListJobs returns jobs matching the filter, newest first, with
// derived status counts, plus the total match count ignoring paging.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]remote.Job, int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list jobs: %w", err)
	}
	defer s.pool.Put(conn)

	var conditions []string
	var args []any

	if filter.ScriptName != "" {
		conditions = append(conditions, "script_name = ?")
		args = append(args, filter.ScriptName)
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.To.UnixNano())
	}
	if filter.RunStatus != "" {
		conditions = append(conditions, "job_id IN (SELECT DISTINCT job_id FROM job_runs WHERE status = ?)")
		args = append(args, string(filter.RunStatus))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM jobs"+where, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("store: count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT job_id, script_name, script_hash, args, env, targets, created_by, created_at
		FROM jobs` + where + ` ORDER BY created_at DESC, job_id LIMIT ? OFFSET ?`
	listArgs := append(append([]any{}, args...), limit, filter.Offset)

	var jobs []remote.Job
	var scanErr error
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: listArgs,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			job, err := scanJob(stmt)
			if err != nil {
				scanErr = err
				return err
			}
			jobs = append(jobs, *job)
			return nil
		},
	})
	if err != nil {
		if scanErr != nil {
			return nil, 0, scanErr
		}
		return nil, 0, fmt.Errorf("store: list jobs: %w", err)
	}

	for i := range jobs {
		counts, err := statusCounts(conn, jobs[i].JobID)
		if err != nil {
			return nil, 0, err
		}
		jobs[i].StatusCounts = counts
	}

	return jobs, total, nil
}

// --- Runs ---

// GetRun returns one run. Returns ErrNotFound if absent.
func (s *Store) GetRun(ctx context.Context, jobID, target string) (*remote.Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	defer s.pool.Put(conn)

	return getRun(conn, jobID, target)
}

const runColumns = `job_id, target, status, exit_code, log, log_encoding,
	started_at, finished_at, updated_at, reported_at`

func getRun(conn *sqlite.Conn, jobID, target string) (*remote.Run, error) {
	var run *remote.Run
	var scanErr error
	err := sqlitex.Execute(conn,
		`SELECT `+runColumns+` FROM job_runs WHERE job_id = ? AND target = ?`,
		&sqlitex.ExecOptions{
			Args: []any{jobID, target},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				run, scanErr = scanRun(stmt)
				return scanErr
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s on %s: %w", jobID, target, remote.ErrNotFound)
	}
	return run, nil
}

func scanRun(stmt *sqlite.Stmt) (*remote.Run, error) {
	run := &remote.Run{
		JobID:      stmt.ColumnText(0),
		Target:     stmt.ColumnText(1),
		Status:     remote.RunStatus(stmt.ColumnText(2)),
		UpdatedAt:  time.Unix(0, stmt.ColumnInt64(8)),
		ReportedAt: time.Unix(0, stmt.ColumnInt64(9)),
	}
	if stmt.ColumnType(3) != sqlite.TypeNull {
		code := stmt.ColumnInt(3)
		run.ExitCode = &code
	}
	if stmt.ColumnType(4) != sqlite.TypeNull {
		blob := make([]byte, stmt.ColumnLen(4))
		stmt.ColumnBytes(4, blob)
		log, err := decodeLog(blob, stmt.ColumnText(5))
		if err != nil {
			return nil, fmt.Errorf("store: decode log for run %s on %s: %w", run.JobID, run.Target, err)
		}
		run.Log = log
	}
	if stmt.ColumnType(6) != sqlite.TypeNull {
		t := time.Unix(0, stmt.ColumnInt64(6))
		run.StartedAt = &t
	}
	if stmt.ColumnType(7) != sqlite.TypeNull {
		t := time.Unix(0, stmt.ColumnInt64(7))
		run.FinishedAt = &t
	}
	return run, nil
}

// ListRuns returns a job's runs sorted by target, optionally filtered
// by status. Returns ErrNotFound if the job does not exist.
func (s *Store) ListRuns(ctx context.Context, jobID string, status remote.RunStatus) ([]remote.Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer s.pool.Put(conn)

	if _, err := getJob(conn, jobID); err != nil {
		return nil, err
	}

	query := `SELECT ` + runColumns + ` FROM job_runs WHERE job_id = ?`
	args := []any{jobID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY target`

	var runs []remote.Run
	var scanErr error
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			run, err := scanRun(stmt)
			if err != nil {
				scanErr = err
				return err
			}
			runs = append(runs, *run)
			return nil
		},
	})
	if err != nil {
		if scanErr != nil {
			return nil, scanErr
		}
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	return runs, nil
}

// ApplyUpdate merges an agent status report into a run. It is the
// single write path for both pushed updates and sync-refresh pulls.
//
// The merge rules, in order:
//   - a report with a ReportedAt older than the stored one is stale
//     and discarded;
//   - terminal runs reject updates, unless allowTerminalOverwrite is
//     set and the stored run is a dispatch failure (failed with no
//     exit code) — a sync refresh may replace a transport error with
//     the agent's own account;
//   - an exit code forces the matching terminal status;
//   - started_at and finished_at are set once and never moved; when
//     a report omits them, a past-pending status stamps started_at and
//     a terminal status stamps finished_at with the report timestamp;
//   - an empty report log leaves the stored log in place; a non-empty
//     one replaces it, truncated to the log cap.
//
// Returns the resulting run and whether anything changed. A discarded
// update is not an error.
func (s *Store) ApplyUpdate(ctx context.Context, jobID, target string, update remote.AgentStatusUpdate, allowTerminalOverwrite bool) (run *remote.Run, changed bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("store: apply update: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, false, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	stored, err := getRun(conn, jobID, target)
	if err != nil {
		return nil, false, err
	}

	reportedAt := update.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = s.clock.Now()
	}
	if reportedAt.Before(stored.ReportedAt) {
		s.logger.Debug("stale report discarded",
			"job_id", jobID,
			"target", target,
			"reported_at", reportedAt,
			"stored_reported_at", stored.ReportedAt,
		)
		return stored, false, nil
	}

	if stored.Status.Terminal() && !(allowTerminalOverwrite && stored.DispatchFailure()) {
		s.logger.Debug("update for terminal run discarded",
			"job_id", jobID,
			"target", target,
			"stored_status", stored.Status,
			"update_status", update.Status,
		)
		return stored, false, nil
	}

	status := update.Status
	if update.ExitCode != nil {
		status = remote.StatusForExitCode(*update.ExitCode)
	}
	if !status.Valid() {
		return nil, false, fmt.Errorf("%w: run status %q", remote.ErrInvalidArgument, update.Status)
	}

	merged := *stored
	merged.Status = status
	merged.ReportedAt = reportedAt
	merged.UpdatedAt = s.clock.Now()
	if update.ExitCode != nil {
		code := *update.ExitCode
		merged.ExitCode = &code
	}
	if merged.StartedAt == nil && update.StartedAt != nil {
		t := *update.StartedAt
		merged.StartedAt = &t
	}
	if merged.StartedAt == nil && status != remote.StatusPending {
		// A report without an explicit start time still proves the run
		// started; the report timestamp is the best bound we have.
		t := reportedAt
		merged.StartedAt = &t
	}
	if merged.FinishedAt == nil && update.FinishedAt != nil {
		t := *update.FinishedAt
		merged.FinishedAt = &t
	}
	if merged.FinishedAt == nil && status.Terminal() {
		t := reportedAt
		merged.FinishedAt = &t
	}
	if update.Log != "" {
		merged.Log = logbuf.Truncate(update.Log)
	}

	if err := writeRun(conn, &merged); err != nil {
		return nil, false, err
	}
	return &merged, true, nil
}

// FailRun marks a pending run failed with a dispatch failure reason.
// A run past pending is left untouched: the agent accepted the work
// and its own reports are authoritative. Returns the resulting run and
// whether the transition was applied.
func (s *Store) FailRun(ctx context.Context, jobID, target, reason string) (run *remote.Run, changed bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("store: fail run: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, false, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	stored, err := getRun(conn, jobID, target)
	if err != nil {
		return nil, false, err
	}
	if stored.Status != remote.StatusPending {
		return stored, false, nil
	}

	now := s.clock.Now()
	merged := *stored
	merged.Status = remote.StatusFailed
	merged.Log = logbuf.Truncate(reason)
	merged.FinishedAt = &now
	merged.UpdatedAt = now

	if err := writeRun(conn, &merged); err != nil {
		return nil, false, err
	}
	return &merged, true, nil
}

// writeRun persists a run's mutable columns.
func writeRun(conn *sqlite.Conn, run *remote.Run) error {
	var exitCode any
	if run.ExitCode != nil {
		exitCode = *run.ExitCode
	}
	var startedAt, finishedAt any
	if run.StartedAt != nil {
		startedAt = run.StartedAt.UnixNano()
	}
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UnixNano()
	}

	var logBlob any
	encoding := logEncodingPlain
	if run.Log != "" {
		blob, enc := encodeLog(run.Log)
		logBlob = blob
		encoding = enc
	}

	err := sqlitex.Execute(conn,
		`UPDATE job_runs SET status = ?, exit_code = ?, log = ?, log_encoding = ?,
			started_at = ?, finished_at = ?, updated_at = ?, reported_at = ?
		 WHERE job_id = ? AND target = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(run.Status),
				exitCode,
				logBlob,
				encoding,
				startedAt,
				finishedAt,
				run.UpdatedAt.UnixNano(),
				run.ReportedAt.UnixNano(),
				run.JobID,
				run.Target,
			},
		})
	if err != nil {
		return fmt.Errorf("store: write run: %w", err)
	}
	return nil
}

// --- Dispatch outbox ---

// OutboxEntry is one claimed dispatch task.
type OutboxEntry struct {
	ID     int64
	JobID  string
	Target string
}

// ClaimPending claims up to limit unclaimed outbox rows, oldest first,
// and returns them. Claimed rows are skipped by later claims until
// completed or reset.
func (s *Store) ClaimPending(ctx context.Context, limit int) (entries []OutboxEntry, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: claim outbox: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	type row struct {
		id      int64
		payload []byte
	}
	var rows []row
	err = sqlitex.Execute(conn,
		`SELECT id, payload FROM dispatch_outbox WHERE claimed_at IS NULL ORDER BY id LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, payload)
				rows = append(rows, row{id: stmt.ColumnInt64(0), payload: payload})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: claim outbox: %w", err)
	}

	now := s.clock.Now().UnixNano()
	for _, r := range rows {
		var task dispatchTask
		if err := codec.Unmarshal(r.payload, &task); err != nil {
			return nil, fmt.Errorf("store: unmarshal dispatch task %d: %w", r.id, err)
		}
		err = sqlitex.Execute(conn,
			`UPDATE dispatch_outbox SET claimed_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{now, r.id}})
		if err != nil {
			return nil, fmt.Errorf("store: mark outbox row %d claimed: %w", r.id, err)
		}
		entries = append(entries, OutboxEntry{ID: r.id, JobID: task.JobID, Target: task.Target})
	}
	return entries, nil
}

// CompleteDispatch removes a finished outbox row. Called after the run
// reached a post-dispatch state (the agent accepted, or FailRun
// recorded the failure) — the outbox guarantees at-least-once
// dispatch, not exactly-once.
func (s *Store) CompleteDispatch(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: complete dispatch: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM dispatch_outbox WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("store: complete dispatch: %w", err)
	}
	return nil
}

// ResetClaims unclaims every in-flight outbox row. Called once at
// worker start: rows claimed by a previous process that crashed before
// completing become pending again.
func (s *Store) ResetClaims(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: reset outbox claims: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE dispatch_outbox SET claimed_at = NULL WHERE claimed_at IS NOT NULL`, nil)
	if err != nil {
		return 0, fmt.Errorf("store: reset outbox claims: %w", err)
	}
	return conn.Changes(), nil
}
