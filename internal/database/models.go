package database

import "time"

// Quadrants a signal can be filed under.
const (
	QuadrantCompetitors = "competitors"
	QuadrantIndustry    = "industry"
	QuadrantSnigel      = "snigel"
	QuadrantAnomalies   = "anomalies"
)

// Source types and categories.
const (
	SourceTypeRSS        = "rss"
	SourceTypeWebMonitor = "web_monitor"

	CategoryCompetitor = "competitor"
	CategoryIndustry   = "industry"
)

// Scan run types.
const (
	RunTypeRSSPoll    = "rss_poll"
	RunTypeWebMonitor = "web_monitor"
)

// TimeLayout is the text format for timestamps the pipeline writes. It sorts
// lexicographically, which the date filters rely on.
const TimeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// IsQuadrant reports whether q is one of the four known quadrants.
func IsQuadrant(q string) bool {
	switch q {
	case QuadrantCompetitors, QuadrantIndustry, QuadrantSnigel, QuadrantAnomalies:
		return true
	}
	return false
}

// Source is a monitored feed or web page.
type Source struct {
	ID            int64   `json:"id"`
	Type          string  `json:"type"`
	URL           string  `json:"url"`
	Name          string  `json:"name"`
	CompetitorKey *string `json:"competitor_key"`
	Category      string  `json:"category"`
	Enabled       bool    `json:"enabled"`
	LastPolledAt  *string `json:"last_polled_at"`
	CreatedAt     *string `json:"created_at"`
}

// Signal is a persisted, classified unit of intelligence.
type Signal struct {
	ID         int64   `json:"id"`
	SourceID   *int64  `json:"source_id"`
	Title      string  `json:"title"`
	Link       *string `json:"link"`
	PubDate    *string `json:"pub_date"`
	Snippet    *string `json:"snippet"`
	Quadrant   string  `json:"quadrant"`
	Relevance  int     `json:"relevance"`
	Label      string  `json:"label"`
	SourceName *string `json:"source_name"`
	SourceType *string `json:"source_type"`
	SourceKey  *string `json:"source_key"`
	CreatedAt  *string `json:"created_at"`
}

// WebSnapshot is one capture of a monitored page's extracted text.
type WebSnapshot struct {
	ID            int64   `json:"id"`
	SourceID      int64   `json:"source_id"`
	ContentHash   string  `json:"content_hash"`
	ExtractedText string  `json:"-"`
	DiffSummary   string  `json:"diff_summary"`
	CreatedAt     *string `json:"created_at"`
}

// ScanRun is the telemetry record of one pipeline execution.
type ScanRun struct {
	ID              int64   `json:"id"`
	RunID           string  `json:"run_id"`
	RunType         string  `json:"run_type"`
	ItemsFound      int     `json:"items_found"`
	ItemsClassified int     `json:"items_classified"`
	Errors          *string `json:"errors"`
	DurationMS      int64   `json:"duration_ms"`
	CreatedAt       *string `json:"created_at"`
}

// SignalFilter narrows a signal query. Zero values mean "no constraint".
type SignalFilter struct {
	Quadrant     string
	SourceKey    string
	SourceType   string
	MinRelevance int
	MaxRelevance int
	From         *time.Time
	To           *time.Time
	Search       string
	SortBy       string // "date" (default) or "relevance"
	SortDir      string // "desc" (default) or "asc"
	Limit        int
	Offset       int
}

// SignalPage is one page of query results plus the total match count.
type SignalPage struct {
	Items  []Signal `json:"items"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	Signals           int            `json:"signals"`
	SignalsByQuadrant map[string]int `json:"signals_by_quadrant"`
	FeedSources       int            `json:"feed_sources"`
	WebMonitors       int            `json:"web_monitors"`
	Snapshots         int            `json:"snapshots"`
	ScanRuns          int            `json:"scan_runs"`
}
