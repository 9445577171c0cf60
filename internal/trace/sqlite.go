package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createLaunchesTable = `
CREATE TABLE IF NOT EXISTS launches (
    id          TEXT PRIMARY KEY,
    task        TEXT NOT NULL,
    variant     TEXT NOT NULL,
    domain      TEXT NOT NULL,
    points      INTEGER NOT NULL,
    args        INTEGER NOT NULL,
    side_effect INTEGER NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    issued_at   DATETIME NOT NULL,
    finished_at DATETIME
)`

const createFencesTable = `
CREATE TABLE IF NOT EXISTS fences (
    seq       INTEGER PRIMARY KEY,
    issued_at DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Recorder = (*SQLiteRecorder)(nil)

// SQLiteRecorder implements Recorder using SQLite.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLite opens the SQLite database at dbPath and runs migrations. The
// path ":memory:" keeps the trace in memory.
func NewSQLite(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Launches are recorded from many executor goroutines; a single
	// connection serializes writers and keeps the ":memory:" DSN pointing at
	// one database instead of one per pooled connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createLaunchesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create launches table: %w", err)
	}

	if _, err := db.Exec(createFencesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fences table: %w", err)
	}

	return &SQLiteRecorder{db: db}, nil
}

// Close closes the underlying database connection.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

// RecordLaunch inserts a new launch record.
func (r *SQLiteRecorder) RecordLaunch(ctx context.Context, l *Launch) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO launches (
			id, task, variant, domain, points, args, side_effect,
			status, error, duration_ms, issued_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Task, l.Variant, l.Domain, l.Points, l.Args, l.SideEffect,
		l.Status, l.Error, l.DurationMS, l.IssuedAt, l.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert launch: %w", err)
	}
	return nil
}

// CompleteLaunch transitions a launch to a terminal status.
func (r *SQLiteRecorder) CompleteLaunch(ctx context.Context, id, status, errMsg string, durationMS int64) error {
	if !ValidTransition(StatusIssued, status) {
		return fmt.Errorf("complete launch to %q: %w", status, ErrInvalidTransition)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE launches
		SET status = ?, error = ?, duration_ms = ?, finished_at = ?
		WHERE id = ?`,
		status, errMsg, durationMS, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("complete launch: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFence inserts an execution fence record.
func (r *SQLiteRecorder) RecordFence(ctx context.Context, seq int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO fences (seq, issued_at) VALUES (?, ?)", seq, at,
	); err != nil {
		return fmt.Errorf("insert fence: %w", err)
	}
	return nil
}

// Launches returns a paginated list of launches ordered most recent first,
// along with the total count of all launches.
func (r *SQLiteRecorder) Launches(ctx context.Context, limit, offset int) ([]*Launch, int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM launches").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count launches: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, task, variant, domain, points, args, side_effect,
			status, error, duration_ms, issued_at, finished_at
		FROM launches ORDER BY issued_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list launches: %w", err)
	}
	defer rows.Close()

	var launches []*Launch
	for rows.Next() {
		l := &Launch{}
		if err := rows.Scan(
			&l.ID, &l.Task, &l.Variant, &l.Domain, &l.Points, &l.Args, &l.SideEffect,
			&l.Status, &l.Error, &l.DurationMS, &l.IssuedAt, &l.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan launch: %w", err)
		}
		launches = append(launches, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate launches: %w", err)
	}

	return launches, total, nil
}

// GetLaunch retrieves a launch by ID.
func (r *SQLiteRecorder) GetLaunch(ctx context.Context, id string) (*Launch, error) {
	l := &Launch{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, task, variant, domain, points, args, side_effect,
			status, error, duration_ms, issued_at, finished_at
		FROM launches WHERE id = ?`, id,
	).Scan(
		&l.ID, &l.Task, &l.Variant, &l.Domain, &l.Points, &l.Args, &l.SideEffect,
		&l.Status, &l.Error, &l.DurationMS, &l.IssuedAt, &l.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get launch: %w", err)
	}
	return l, nil
}

// Stats summarizes recorded activity.
func (r *SQLiteRecorder) Stats(ctx context.Context) (*Stats, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	s := &Stats{}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM launches").Scan(&s.Launches); err != nil {
		return nil, fmt.Errorf("count launches: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM launches WHERE status = ?", StatusCompleted,
	).Scan(&s.Completed); err != nil {
		return nil, fmt.Errorf("count completed: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM launches WHERE status = ?", StatusFailed,
	).Scan(&s.Failed); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM fences").Scan(&s.Fences); err != nil {
		return nil, fmt.Errorf("count fences: %w", err)
	}
	return s, nil
}
