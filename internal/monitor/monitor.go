package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/SignalRadar/internal/config"
	"github.com/TobiSchelling/SignalRadar/internal/database"
)

const (
	changeRelevance   = 5
	changeLabelLength = 60
)

// Outcome of checking one page.
type Outcome int

const (
	Unchanged Outcome = iota
	Baseline
	Changed
)

func (o Outcome) String() string {
	switch o {
	case Baseline:
		return "baseline"
	case Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// Store is the persistence the monitor needs.
type Store interface {
	LatestSnapshot(ctx context.Context, sourceID int64) (*database.WebSnapshot, error)
	InsertSnapshot(ctx context.Context, s database.WebSnapshot) (int64, error)
	RecordChange(ctx context.Context, snap database.WebSnapshot, buildSignal func(snapshotID int64) database.Signal) (*database.Signal, error)
}

// Result describes one check.
type Result struct {
	Outcome Outcome
	Summary string
	Signal  *database.Signal
}

// Monitor detects content changes on monitored pages.
type Monitor struct {
	store      Store
	pages      PageGetter
	summarizer Summarizer
	maxChars   int
	now        func() time.Time
}

// New creates a monitor.
func New(store Store, pages PageGetter, summarizer Summarizer, cfg config.Monitor) *Monitor {
	maxChars := cfg.MaxTextChars
	if maxChars <= 0 {
		maxChars = DefaultMaxTextChars
	}
	return &Monitor{
		store:      store,
		pages:      pages,
		summarizer: summarizer,
		maxChars:   maxChars,
		now:        time.Now,
	}
}

// Check fetches a page and compares it with the last snapshot. An identical
// hash writes nothing. The first capture stores a baseline without a signal.
// A changed hash stores a snapshot plus one signal describing the change.
func (m *Monitor) Check(ctx context.Context, src database.Source) (*Result, error) {
	page, err := m.pages.Get(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	text := ExtractText(page.HTML, m.maxChars)
	hash := HashText(text)

	last, err := m.store.LatestSnapshot(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	if last != nil && last.ContentHash == hash {
		log.Printf("No change: %s", src.URL)
		return &Result{Outcome: Unchanged}, nil
	}

	if last == nil {
		_, err := m.store.InsertSnapshot(ctx, database.WebSnapshot{
			SourceID:      src.ID,
			ContentHash:   hash,
			ExtractedText: text,
			DiffSummary:   SummaryBaseline,
		})
		if err != nil {
			return nil, err
		}
		log.Printf("Initial snapshot: %s", src.URL)
		return &Result{Outcome: Baseline, Summary: SummaryBaseline}, nil
	}

	summary := m.summarizer.Summarize(ctx, last.ExtractedText, text, src.URL)
	name := displayName(src, page)
	pubDate := database.FormatTime(m.now())

	snap := database.WebSnapshot{
		SourceID:      src.ID,
		ContentHash:   hash,
		ExtractedText: text,
		DiffSummary:   summary,
	}
	sig, err := m.store.RecordChange(ctx, snap, func(snapshotID int64) database.Signal {
		return database.Signal{
			SourceID:   &src.ID,
			Title:      "Web change: " + name,
			Link:       ptr(changeLink(src.URL, snapshotID)),
			PubDate:    &pubDate,
			Snippet:    &summary,
			Quadrant:   QuadrantFor(src),
			Relevance:  changeRelevance,
			Label:      truncate(summary, changeLabelLength),
			SourceName: &name,
			SourceType: ptr(database.SourceTypeWebMonitor),
			SourceKey:  src.CompetitorKey,
		}
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Change detected: %s", src.URL)
	return &Result{Outcome: Changed, Summary: summary, Signal: sig}, nil
}

// QuadrantFor infers a change signal's quadrant from its source.
func QuadrantFor(src database.Source) string {
	switch {
	case src.CompetitorKey != nil && *src.CompetitorKey != "":
		return database.QuadrantCompetitors
	case src.Category == database.CategoryIndustry:
		return database.QuadrantIndustry
	default:
		return database.QuadrantAnomalies
	}
}

// changeLink makes each detected change addressable on its own, so the
// unique link constraint does not swallow later changes to the same page.
func changeLink(pageURL string, snapshotID int64) string {
	base, _, _ := strings.Cut(pageURL, "#")
	return fmt.Sprintf("%s#change-%d", base, snapshotID)
}

func displayName(src database.Source, page *Page) string {
	if name := strings.TrimSpace(src.Name); name != "" {
		return name
	}
	if title := PageTitle(page.HTML, page.URL); title != "" {
		return title
	}
	return src.URL
}

func ptr(s string) *string { return &s }
