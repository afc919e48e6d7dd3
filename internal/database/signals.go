package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const (
	DefaultSignalLimit = 50
	MaxSignalLimit     = 200
)

const signalColumns = `id, source_id, title, link, pub_date, snippet, quadrant, relevance,
	label, source_name, source_type, source_key, created_at`

const insertSignalSQL = `INSERT INTO signals
	(source_id, title, link, pub_date, snippet, quadrant, relevance, label, source_name, source_type, source_key)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(link) DO NOTHING
	RETURNING id, created_at`

// CreateSignal inserts one signal. If a signal with the same non-null link
// already exists nothing is written and (nil, nil) is returned.
func (db *DB) CreateSignal(ctx context.Context, s Signal) (*Signal, error) {
	return insertSignal(ctx, db.conn, s)
}

// CreateSignals inserts signals in a single transaction, skipping link
// collisions. Any other failure rolls back the whole batch. Returns the rows
// that were actually inserted.
func (db *DB) CreateSignals(ctx context.Context, signals []Signal) ([]Signal, error) {
	if len(signals) == 0 {
		return nil, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning signal batch: %w", err)
	}
	defer tx.Rollback()

	var inserted []Signal
	for _, s := range signals {
		row, err := insertSignal(ctx, tx, s)
		if err != nil {
			return nil, err
		}
		if row != nil {
			inserted = append(inserted, *row)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing signal batch: %w", err)
	}
	return inserted, nil
}

func insertSignal(ctx context.Context, q queryer, s Signal) (*Signal, error) {
	err := q.QueryRowContext(ctx, insertSignalSQL,
		s.SourceID, s.Title, s.Link, s.PubDate, s.Snippet, s.Quadrant, s.Relevance,
		s.Label, s.SourceName, s.SourceType, s.SourceKey,
	).Scan(&s.ID, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inserting signal %q: %w", s.Title, err)
	}
	return &s, nil
}

// QuerySignals returns one page of signals matching f together with the total
// number of matches.
func (db *DB) QuerySignals(ctx context.Context, f SignalFilter) (*SignalPage, error) {
	var conds []string
	var args []any

	if f.Quadrant != "" {
		conds = append(conds, "quadrant = ?")
		args = append(args, f.Quadrant)
	}
	if f.SourceKey != "" {
		conds = append(conds, "source_key = ?")
		args = append(args, f.SourceKey)
	}
	if f.SourceType != "" {
		conds = append(conds, "source_type = ?")
		args = append(args, f.SourceType)
	}
	if f.MinRelevance > 0 {
		conds = append(conds, "relevance >= ?")
		args = append(args, f.MinRelevance)
	}
	if f.MaxRelevance > 0 {
		conds = append(conds, "relevance <= ?")
		args = append(args, f.MaxRelevance)
	}
	if f.From != nil {
		conds = append(conds, "pub_date >= ?")
		args = append(args, FormatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "pub_date <= ?")
		args = append(args, FormatTime(*f.To))
	}
	if f.Search != "" {
		conds = append(conds, "(title LIKE ? ESCAPE '\\' OR label LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(f.Search) + "%"
		args = append(args, pattern, pattern)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := &SignalPage{Limit: clampLimit(f.Limit), Offset: f.Offset}
	if page.Offset < 0 {
		page.Offset = 0
	}

	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM signals"+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("counting signals: %w", err)
	}

	orderCol := "pub_date"
	if f.SortBy == "relevance" {
		orderCol = "relevance"
	}
	orderDir := "DESC"
	if strings.EqualFold(f.SortDir, "asc") {
		orderDir = "ASC"
	}

	query := fmt.Sprintf("SELECT %s FROM signals%s ORDER BY %s %s NULLS LAST, id DESC LIMIT ? OFFSET ?",
		signalColumns, where, orderCol, orderDir)
	rows, err := db.conn.QueryContext(ctx, query, append(args, page.Limit, page.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying signals: %w", err)
	}
	defer rows.Close()

	page.Items = []Signal{}
	for rows.Next() {
		var s Signal
		if err := rows.Scan(&s.ID, &s.SourceID, &s.Title, &s.Link, &s.PubDate, &s.Snippet,
			&s.Quadrant, &s.Relevance, &s.Label, &s.SourceName, &s.SourceType, &s.SourceKey,
			&s.CreatedAt); err != nil {
			return nil, err
		}
		page.Items = append(page.Items, s)
	}
	return page, rows.Err()
}

// CountSignalsByLink returns how many signals carry the given link.
func (db *DB) CountSignalsByLink(ctx context.Context, link string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM signals WHERE link = ?", link).Scan(&n)
	return n, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultSignalLimit
	}
	if limit > MaxSignalLimit {
		return MaxSignalLimit
	}
	return limit
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
