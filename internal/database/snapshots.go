package database

import (
	"context"
	"database/sql"
	"fmt"
)

// LatestSnapshot returns the most recent snapshot for a source, or nil if
// the source has never been captured.
func (db *DB) LatestSnapshot(ctx context.Context, sourceID int64) (*WebSnapshot, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, source_id, content_hash, extracted_text, diff_summary, created_at
		FROM web_snapshots WHERE source_id = ? ORDER BY id DESC LIMIT 1`, sourceID,
	)
	var s WebSnapshot
	err := row.Scan(&s.ID, &s.SourceID, &s.ContentHash, &s.ExtractedText, &s.DiffSummary, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot for source %d: %w", sourceID, err)
	}
	return &s, nil
}

// InsertSnapshot appends a snapshot and returns its ID.
func (db *DB) InsertSnapshot(ctx context.Context, s WebSnapshot) (int64, error) {
	return insertSnapshot(ctx, db.conn, s)
}

// RecordChange appends a snapshot and the signal describing it in one
// transaction. buildSignal receives the new snapshot's ID. The returned
// signal is nil if its link collided with an existing one.
func (db *DB) RecordChange(ctx context.Context, snap WebSnapshot, buildSignal func(snapshotID int64) Signal) (*Signal, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning change record: %w", err)
	}
	defer tx.Rollback()

	id, err := insertSnapshot(ctx, tx, snap)
	if err != nil {
		return nil, err
	}

	sig, err := insertSignal(ctx, tx, buildSignal(id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing change record: %w", err)
	}
	return sig, nil
}

// CountSnapshots returns the number of snapshots stored for a source.
func (db *DB) CountSnapshots(ctx context.Context, sourceID int64) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM web_snapshots WHERE source_id = ?", sourceID).Scan(&n)
	return n, err
}

func insertSnapshot(ctx context.Context, q queryer, s WebSnapshot) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO web_snapshots (source_id, content_hash, extracted_text, diff_summary)
		VALUES (?, ?, ?, ?) RETURNING id`,
		s.SourceID, s.ContentHash, s.ExtractedText, s.DiffSummary,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting snapshot for source %d: %w", s.SourceID, err)
	}
	return id, nil
}
