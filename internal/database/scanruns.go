package database

import (
	"context"
	"fmt"
)

// InsertScanRun records one pipeline execution.
func (db *DB) InsertScanRun(ctx context.Context, r ScanRun) (int64, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO scan_runs (run_id, run_type, items_found, items_classified, errors, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		r.RunID, r.RunType, r.ItemsFound, r.ItemsClassified, r.Errors, r.DurationMS,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting scan run: %w", err)
	}
	return id, nil
}

// RecentScanRuns returns the latest scan runs, newest first.
func (db *DB) RecentScanRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, run_id, run_type, items_found, items_classified, errors, duration_ms, created_at
		FROM scan_runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ScanRun
	for rows.Next() {
		var r ScanRun
		var runID *string
		if err := rows.Scan(&r.ID, &runID, &r.RunType, &r.ItemsFound, &r.ItemsClassified,
			&r.Errors, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		if runID != nil {
			r.RunID = *runID
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
