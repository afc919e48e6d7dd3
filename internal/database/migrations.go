package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL DEFAULT 'rss' CHECK(type IN ('rss', 'web_monitor')),
    url TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    competitor_key TEXT,
    category TEXT NOT NULL DEFAULT 'industry' CHECK(category IN ('competitor', 'industry')),
    enabled INTEGER NOT NULL DEFAULT 1,
    last_polled_at TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE(type, url)
);

CREATE TABLE IF NOT EXISTS signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER REFERENCES sources(id) ON DELETE SET NULL,
    title TEXT NOT NULL,
    link TEXT UNIQUE,
    pub_date TEXT,
    snippet TEXT,
    quadrant TEXT NOT NULL CHECK(quadrant IN ('competitors', 'industry', 'snigel', 'anomalies')),
    relevance INTEGER NOT NULL CHECK(relevance BETWEEN 1 AND 10),
    label TEXT NOT NULL DEFAULT '',
    source_name TEXT,
    source_type TEXT,
    source_key TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS web_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
    content_hash TEXT NOT NULL,
    extracted_text TEXT NOT NULL,
    diff_summary TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scan_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT,
    run_type TEXT NOT NULL CHECK(run_type IN ('rss_poll', 'web_monitor')),
    items_found INTEGER DEFAULT 0,
    items_classified INTEGER DEFAULT 0,
    errors TEXT,
    duration_ms INTEGER DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sources_type ON sources(type, enabled);
CREATE INDEX IF NOT EXISTS idx_signals_quadrant ON signals(quadrant);
CREATE INDEX IF NOT EXISTS idx_signals_pub_date ON signals(pub_date);
CREATE INDEX IF NOT EXISTS idx_signals_source_key ON signals(source_key);
CREATE INDEX IF NOT EXISTS idx_web_snapshots_source ON web_snapshots(source_id, id);
CREATE INDEX IF NOT EXISTS idx_scan_runs_created ON scan_runs(created_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
