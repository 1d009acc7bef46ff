package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/faultline/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    status          TEXT NOT NULL,
    devices         INTEGER NOT NULL,
    charges         INTEGER NOT NULL,
    field_points    INTEGER NOT NULL,
    fail_rate       REAL NOT NULL,
    seed            INTEGER NOT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    remaps          INTEGER NOT NULL DEFAULT 0,
    failed_functors TEXT,
    latency_p50_us  INTEGER,
    latency_p99_us  INTEGER,
    error           TEXT,
    duration_ms     INTEGER,
    created_at      DATETIME NOT NULL,
    started_at      DATETIME,
    finished_at     DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeFunctors marshals failed functor indices to a nullable JSON column.
func encodeFunctors(indices []int) (sql.NullString, error) {
	if len(indices) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(indices)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal failed functors: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeFunctors(col sql.NullString) ([]int, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var out []int
	if err := json.Unmarshal([]byte(col.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal failed functors: %w", err)
	}
	return out, nil
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	failed, err := encodeFunctors(r.FailedFunctors)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (
			id, status, devices, charges, field_points, fail_rate, seed,
			attempts, remaps, failed_functors, latency_p50_us, latency_p99_us,
			error, duration_ms, created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Status, r.Devices, r.Charges, r.FieldPoints, r.FailRate, r.Seed,
		r.Attempts, r.Remaps, failed, r.LatencyP50US, r.LatencyP99US,
		r.Error, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r := &model.Run{}
	var failed sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, devices, charges, field_points, fail_rate, seed,
			attempts, remaps, failed_functors, latency_p50_us, latency_p99_us,
			error, duration_ms, created_at, started_at, finished_at
		FROM runs WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.Status, &r.Devices, &r.Charges, &r.FieldPoints, &r.FailRate, &r.Seed,
		&r.Attempts, &r.Remaps, &failed, &r.LatencyP50US, &r.LatencyP99US,
		&r.Error, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if r.FailedFunctors, err = decodeFunctors(failed); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC, along
// with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, status, devices, charges, field_points, fail_rate, seed,
			attempts, remaps, failed_functors, latency_p50_us, latency_p99_us,
			error, duration_ms, created_at, started_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r := &model.Run{}
		var failed sql.NullString
		if err := rows.Scan(
			&r.ID, &r.Status, &r.Devices, &r.Charges, &r.FieldPoints, &r.FailRate, &r.Seed,
			&r.Attempts, &r.Remaps, &failed, &r.LatencyP50US, &r.LatencyP99US,
			&r.Error, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		if r.FailedFunctors, err = decodeFunctors(failed); err != nil {
			return nil, 0, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// UpdateRunStatus updates the status of a run. For terminal statuses
// (completed, degraded, failed), it also sets finished_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	var result sql.Result
	var err error

	if status == model.StatusCompleted || status == model.StatusDegraded || status == model.StatusFailed {
		result, err = s.db.ExecContext(ctx,
			"UPDATE runs SET status = ?, finished_at = ? WHERE id = ?",
			status, time.Now().UTC(), id,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE runs SET status = ? WHERE id = ?",
			status, id,
		)
	}

	if err != nil {
		return fmt.Errorf("update run status: %w", err)
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

// UpdateRun writes the result fields of a finished run.
func (s *SQLiteStore) UpdateRun(ctx context.Context, r *model.Run) error {
	failed, err := encodeFunctors(r.FailedFunctors)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET
			status = ?, attempts = ?, remaps = ?, failed_functors = ?,
			latency_p50_us = ?, latency_p99_us = ?, error = ?, duration_ms = ?,
			started_at = ?, finished_at = ?
		WHERE id = ?`,
		r.Status, r.Attempts, r.Remaps, failed,
		r.LatencyP50US, r.LatencyP99US, r.Error, r.DurationMS,
		r.StartedAt, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
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

// GetRunStats computes aggregate statistics over the entire run history.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{CountByStatus: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM runs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(remaps), 0), COALESCE(SUM(attempts), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM runs WHERE duration_ms IS NOT NULL`,
	).Scan(&stats.TotalRemaps, &stats.TotalAttempts, &stats.AvgDurationMS)
	if err != nil {
		return nil, fmt.Errorf("aggregate run stats: %w", err)
	}

	return stats, nil
}
