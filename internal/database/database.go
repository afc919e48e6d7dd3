package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open creates or opens a SQLite database at the given path.
//
// Pragmas are passed through the DSN so every pooled connection gets them,
// and write transactions start IMMEDIATE so concurrent batch inserts queue on
// the busy timeout instead of failing on lock upgrade.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := migrate(context.Background(), conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// GetStats returns aggregate counts across the store.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{SignalsByQuadrant: make(map[string]int)}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM signals", &s.Signals},
		{"SELECT COUNT(*) FROM sources WHERE enabled = 1 AND type = 'rss'", &s.FeedSources},
		{"SELECT COUNT(*) FROM sources WHERE enabled = 1 AND type = 'web_monitor'", &s.WebMonitors},
		{"SELECT COUNT(*) FROM web_snapshots", &s.Snapshots},
		{"SELECT COUNT(*) FROM scan_runs", &s.ScanRuns},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting: %w", err)
		}
	}

	rows, err := db.conn.QueryContext(ctx, "SELECT quadrant, COUNT(*) FROM signals GROUP BY quadrant")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var q string
		var n int
		if err := rows.Scan(&q, &n); err != nil {
			return nil, err
		}
		s.SignalsByQuadrant[q] = n
	}
	return s, rows.Err()
}
