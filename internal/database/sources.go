package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"

	"github.com/TobiSchelling/SignalRadar/internal/config"
)

const sourceColumns = `id, type, url, name, competitor_key, category, enabled, last_polled_at, created_at`

// NormalizeSource validates a source about to be added by hand and fills
// in the default type and category.
func NormalizeSource(s Source) (Source, error) {
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Source{}, errors.New("url must be an absolute http(s) URL")
	}
	s.URL = u.String()
	s.Name = strings.TrimSpace(s.Name)
	if s.CompetitorKey != nil {
		s.CompetitorKey = strPtr(strings.TrimSpace(*s.CompetitorKey))
	}

	switch s.Type {
	case "":
		s.Type = SourceTypeRSS
	case SourceTypeRSS, SourceTypeWebMonitor:
	default:
		return Source{}, fmt.Errorf("unknown source type %q", s.Type)
	}

	switch s.Category {
	case "":
		s.Category = CategoryIndustry
		if s.CompetitorKey != nil {
			s.Category = CategoryCompetitor
		}
	case CategoryCompetitor, CategoryIndustry:
	default:
		return Source{}, fmt.Errorf("unknown category %q", s.Category)
	}

	if s.Type == SourceTypeRSS && s.Category == CategoryCompetitor && s.CompetitorKey == nil {
		return Source{}, errors.New("competitor feeds need a competitor key")
	}
	return s, nil
}

// IsDuplicate reports whether err came from the unique (type, url) constraint.
func IsDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// InsertSource inserts a source and returns its ID.
func (db *DB) InsertSource(ctx context.Context, s Source) (int64, error) {
	return insertSource(ctx, db.conn, s)
}

func insertSource(ctx context.Context, q queryer, s Source) (int64, error) {
	if s.Type == "" {
		s.Type = SourceTypeRSS
	}
	if s.Category == "" {
		s.Category = CategoryIndustry
	}
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO sources (type, url, name, competitor_key, category, enabled)
		VALUES (?, ?, ?, ?, ?, 1)
		RETURNING id`,
		s.Type, s.URL, s.Name, s.CompetitorKey, s.Category,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting source %s: %w", s.URL, err)
	}
	return id, nil
}

// GetSource returns a single source by ID, or nil if it does not exist.
func (db *DB) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	s, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetSources returns enabled sources of the given type, or all enabled
// sources when sourceType is empty.
func (db *DB) GetSources(ctx context.Context, sourceType string) ([]Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE enabled = 1`
	var args []any
	if sourceType != "" {
		query += " AND type = ?"
		args = append(args, sourceType)
	}
	query += " ORDER BY category, competitor_key, id"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// DeleteSource removes a source. Its snapshots go with it; signals keep
// their denormalised source fields.
func (db *DB) DeleteSource(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	return err
}

// MarkSourcePolled stamps last_polled_at on one source.
func (db *DB) MarkSourcePolled(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sources SET last_polled_at = datetime('now') WHERE id = ?", id)
	return err
}

// MarkSourcesPolled stamps last_polled_at on every enabled source of a type.
func (db *DB) MarkSourcesPolled(ctx context.Context, sourceType string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sources SET last_polled_at = datetime('now') WHERE type = ? AND enabled = 1", sourceType)
	return err
}

// SeedSources populates an empty sources table from the config file's
// sources section. Returns the number of rows inserted; 0 if the table
// already had rows.
func (db *DB) SeedSources(ctx context.Context, fs config.FeedSources) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM sources").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting sources: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	inserted := 0
	keys := make([]string, 0, len(fs.Competitors))
	for k := range fs.Competitors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		comp := fs.Competitors[key]
		name := comp.Name
		if name == "" {
			name = key
		}
		for _, u := range comp.Feeds {
			if _, err := insertSource(ctx, tx, Source{
				Type: SourceTypeRSS, URL: u, Name: name,
				CompetitorKey: strPtr(key), Category: CategoryCompetitor,
			}); err != nil {
				return 0, err
			}
			inserted++
		}
	}

	for _, u := range fs.Industry {
		if _, err := insertSource(ctx, tx, Source{
			Type: SourceTypeRSS, URL: u, Name: "Industry", Category: CategoryIndustry,
		}); err != nil {
			return 0, err
		}
		inserted++
	}

	for _, wm := range fs.WebMonitors {
		category := wm.Category
		if category == "" {
			category = CategoryIndustry
			if wm.CompetitorKey != "" {
				category = CategoryCompetitor
			}
		}
		if _, err := insertSource(ctx, tx, Source{
			Type: SourceTypeWebMonitor, URL: wm.URL, Name: wm.Name,
			CompetitorKey: strPtr(wm.CompetitorKey), Category: category,
		}); err != nil {
			return 0, err
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing seed: %w", err)
	}
	log.Printf("Seeded %d sources from config", inserted)
	return inserted, nil
}

// FeedSources builds the grouped feed configuration from enabled RSS sources:
// competitor feeds grouped by competitor key, everything else as industry.
func (db *DB) FeedSources(ctx context.Context) (*config.FeedSources, error) {
	sources, err := db.GetSources(ctx, SourceTypeRSS)
	if err != nil {
		return nil, fmt.Errorf("loading feed sources: %w", err)
	}

	fs := &config.FeedSources{Competitors: make(map[string]config.Competitor)}
	for _, s := range sources {
		if s.Category == CategoryCompetitor && s.CompetitorKey != nil && *s.CompetitorKey != "" {
			key := *s.CompetitorKey
			comp := fs.Competitors[key]
			if comp.Name == "" {
				comp.Name = s.Name
			}
			comp.Feeds = append(comp.Feeds, s.URL)
			fs.Competitors[key] = comp
			continue
		}
		fs.Industry = append(fs.Industry, s.URL)
	}
	return fs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var s Source
	var enabled int
	if err := row.Scan(&s.ID, &s.Type, &s.URL, &s.Name, &s.CompetitorKey,
		&s.Category, &enabled, &s.LastPolledAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Enabled = enabled != 0
	return &s, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
