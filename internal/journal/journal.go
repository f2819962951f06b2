// Package journal persists conversion history in a local SQLite database.
// Every batch or watch session is a run; every file the run looked at is an
// entry under that run. The history command reads both back.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run is one invocation of the converter, batch or watch.
type Run struct {
	ID         string
	Mode       string // "batch" or "watch"
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
	Skipped    int
	ElapsedMS  int64
}

// Entry is the recorded outcome for a single source file within a run.
type Entry struct {
	ID         int64
	RunID      string
	SourcePath string
	SizeBytes  int64
	Status     string // "success", "failed" or "skipped"
	OutputPath string
	Attempts   int
	DurationMS int64
	Error      string
}

// Journal is the sole writer to the history database.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Open opens (or creates) the journal database at dbPath and applies any
// pending migrations. The database uses WAL mode with synchronous=FULL so a
// crash mid-run never corrupts history.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun inserts a new run row and returns its ID.
func (j *Journal) BeginRun(ctx context.Context, mode string) (string, error) {
	id := uuid.NewString()
	started := j.nowFunc().UTC()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, mode, started_at) VALUES (?, ?, ?)`,
		id, mode, started.Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("journal: beginning run: %w", err)
	}

	return id, nil
}

// FinishRun stamps the run with its final counters and elapsed time.
func (j *Journal) FinishRun(ctx context.Context, runID string, succeeded, failed, skipped int, elapsed time.Duration) error {
	finished := j.nowFunc().UTC()

	res, err := j.db.ExecContext(ctx,
		`UPDATE runs
		 SET finished_at = ?, succeeded = ?, failed = ?, skipped = ?, elapsed_ms = ?
		 WHERE id = ?`,
		finished.Format(time.RFC3339Nano), succeeded, failed, skipped,
		elapsed.Milliseconds(), runID)
	if err != nil {
		return fmt.Errorf("journal: finishing run %s: %w", runID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("journal: finishing run %s: %w", runID, err)
	}

	if n == 0 {
		return fmt.Errorf("journal: finishing run %s: no such run", runID)
	}

	return nil
}

// RecordEntry appends one per-file outcome under the given run.
func (j *Journal) RecordEntry(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO conversions
		 (run_id, source_path, size_bytes, status, output_path, attempts, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.SourcePath, e.SizeBytes, e.Status, e.OutputPath,
		e.Attempts, e.DurationMS, e.Error)
	if err != nil {
		return fmt.Errorf("journal: recording entry for %s: %w", e.SourcePath, err)
	}

	return nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, mode, started_at, finished_at, succeeded, failed, skipped, elapsed_ms
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run

	for rows.Next() {
		var (
			r                 Run
			started, finished sql.NullString
			succ, fail, skip  sql.NullInt64
			elapsed           sql.NullInt64
		)

		if err := rows.Scan(&r.ID, &r.Mode, &started, &finished, &succ, &fail, &skip, &elapsed); err != nil {
			return nil, fmt.Errorf("journal: scanning run: %w", err)
		}

		if started.Valid {
			r.StartedAt, _ = time.Parse(time.RFC3339Nano, started.String)
		}

		if finished.Valid {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}

		r.Succeeded = int(succ.Int64)
		r.Failed = int(fail.Int64)
		r.Skipped = int(skip.Int64)
		r.ElapsedMS = elapsed.Int64

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: listing runs: %w", err)
	}

	return runs, nil
}

// ListEntries returns all entries of a run in insertion order.
func (j *Journal) ListEntries(ctx context.Context, runID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, source_path, size_bytes, status, output_path, attempts, duration_ms, error
		 FROM conversions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: listing entries for run %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e      Entry
			output sql.NullString
			errMsg sql.NullString
		)

		if err := rows.Scan(&e.ID, &e.RunID, &e.SourcePath, &e.SizeBytes, &e.Status,
			&output, &e.Attempts, &e.DurationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("journal: scanning entry: %w", err)
		}

		e.OutputPath = output.String
		e.Error = errMsg.String

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: listing entries for run %s: %w", runID, err)
	}

	return entries, nil
}
