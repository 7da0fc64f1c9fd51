package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned by Finish for an unknown run id.
var ErrRunNotFound = errors.New("ledger: run not found")

// Run is one recorded import invocation.
type Run struct {
	ID         string     `json:"id"`
	Tenant     string     `json:"tenant"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Affected   int64      `json:"affected"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Begin records the start of an import and returns its run id.
func (db *DB) Begin(ctx context.Context, tenant, kind string) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO import_runs (id, tenant, kind, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, tenant, kind, StatusRunning, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Finish closes a run with the number of affected rows and its error, if any.
func (db *DB) Finish(ctx context.Context, runID string, affected int64, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := db.ExecContext(ctx, `
		UPDATE import_runs SET status = ?, affected = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		status, affected, msg, time.Now().UnixMilli(), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Recent returns the newest runs of tenant, newest first.
func (db *DB) Recent(ctx context.Context, tenant string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, tenant, kind, status, affected, error, started_at, finished_at
		FROM import_runs
		WHERE tenant = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r          Run
			startedAt  int64
			finishedAt sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Tenant, &r.Kind, &r.Status, &r.Affected, &r.Error, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(startedAt)
		if finishedAt.Valid {
			t := time.UnixMilli(finishedAt.Int64)
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
