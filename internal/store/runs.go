package store

import (
	"context"
	"fmt"
	"time"
)

// Run states.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is the persisted record of one ingestion attempt.
type Run struct {
	ID            string     `db:"id" json:"id"`
	Source        string     `db:"source" json:"source"`
	SHA256        string     `db:"sha256" json:"sha256"`
	Classifier    string     `db:"classifier" json:"classifier"`
	State         string     `db:"state" json:"state"`
	RowsRead      int        `db:"rows_read" json:"rows_read"`
	RowsInserted  int        `db:"rows_inserted" json:"rows_inserted"`
	RowsSkipped   int        `db:"rows_skipped" json:"rows_skipped"`
	RowsTruncated int        `db:"rows_truncated" json:"rows_truncated"`
	Error         *string    `db:"error" json:"error"`
	StartedAt     time.Time  `db:"started_at" json:"started_at"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at"`
}

// RunCounts are the counters reported when a run finishes.
type RunCounts struct {
	Read      int
	Inserted  int
	Skipped   int
	Truncated int
}

func (s *Store) StartRun(ctx context.Context, r Run) error {
	if r.State == "" {
		r.State = RunRunning
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO ingest_runs(id, source, sha256, classifier, state, started_at) VALUES(?,?,?,?,?,?)`,
		r.ID, r.Source, r.SHA256, r.Classifier, r.State, r.StartedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, id, state string, counts RunCounts, errMsg *string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE ingest_runs SET state=?, rows_read=?, rows_inserted=?, rows_skipped=?, rows_truncated=?, error=?, finished_at=? WHERE id=?`,
		state, counts.Read, counts.Inserted, counts.Skipped, counts.Truncated, errMsg, ts, id)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	runs := []Run{}
	err := s.db.SelectContext(ctx, &runs, `SELECT id, source, sha256, classifier, state, rows_read, rows_inserted, rows_skipped, rows_truncated, error, started_at, finished_at
		FROM ingest_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	return runs, nil
}
