package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/SignalRadar/internal/classify"
	"github.com/TobiSchelling/SignalRadar/internal/collect"
	"github.com/TobiSchelling/SignalRadar/internal/config"
	"github.com/TobiSchelling/SignalRadar/internal/database"
	"github.com/TobiSchelling/SignalRadar/internal/llm"
	"github.com/TobiSchelling/SignalRadar/internal/monitor"
)

// Result summarises one pipeline run. It mirrors the ScanRun written for
// the run.
type Result struct {
	RunID      string
	RunType    string
	ItemsFound int
	// Signals stored by a feed run, or changes detected by a monitor sweep.
	Stored   int
	Errors   []string
	Duration time.Duration
	// Err is set when the run aborted before completing.
	Err error
}

// Summary is a one-line description for CLI output.
func (r *Result) Summary() string {
	if r.Err != nil {
		return fmt.Sprintf("failed after %s: %v", r.Duration.Round(time.Millisecond), r.Err)
	}
	noun := "new signals"
	if r.RunType == database.RunTypeWebMonitor {
		noun = "changes"
	}
	s := fmt.Sprintf("%d items, %d %s (%s)", r.ItemsFound, r.Stored, noun, r.Duration.Round(time.Millisecond))
	if len(r.Errors) > 0 {
		s += fmt.Sprintf(", %d errors", len(r.Errors))
	}
	return s
}

// Pipeline runs feed ingestion and web monitoring against the store.
type Pipeline struct {
	db         *database.DB
	aggregator *collect.Aggregator
	classifier *classify.Classifier
	monitor    *monitor.Monitor
}

// New wires prepared components together.
func New(db *database.DB, agg *collect.Aggregator, cl *classify.Classifier, mon *monitor.Monitor) *Pipeline {
	return &Pipeline{db: db, aggregator: agg, classifier: cl, monitor: mon}
}

// FromConfig builds every component from configuration. Without a usable
// LLM backend, classification falls back to the heuristic and change
// summaries to placeholders.
func FromConfig(ctx context.Context, cfg *config.Config, db *database.DB) *Pipeline {
	provider := llm.New(ctx, cfg.Classification)
	if provider != nil {
		log.Printf("Using LLM provider %s", provider.Name())
	} else {
		log.Println("No LLM provider available, using heuristic classification")
	}

	fetcher := collect.NewFeedFetcher(cfg.Feeds.Timeout, cfg.Feeds.UserAgent)
	cache := collect.NewCache[[]collect.Group](cfg.Feeds.CacheTTL, nil)
	agg := collect.NewAggregator(fetcher, cache, collect.OptionsFromConfig(cfg.Feeds))

	mon := monitor.New(db,
		monitor.NewPageFetcher(cfg.Monitor.Timeout, cfg.Monitor.UserAgent),
		monitor.NewLLMSummarizer(provider),
		cfg.Monitor,
	)

	return New(db, agg, classify.NewFromProvider(provider, cfg.Classification), mon)
}

// Aggregator exposes the feed aggregator for cached reads and invalidation.
func (p *Pipeline) Aggregator() *collect.Aggregator {
	return p.aggregator
}

// PollFeeds fetches every configured feed fresh, classifies the items and
// stores those not seen before.
func (p *Pipeline) PollFeeds(ctx context.Context) *Result {
	r := newResult(database.RunTypeRSSPoll)
	start := time.Now()
	r.logf("Starting feed poll...")

	err := guard(func() error { return p.pollFeeds(ctx, r) })
	r.Duration = time.Since(start)
	if err != nil {
		r.Err = err
		r.logf("Feed poll error: %v", err)
	} else {
		r.logf("Feed poll complete: %s", r.Summary())
	}
	p.record(ctx, r)
	return r
}

func (p *Pipeline) pollFeeds(ctx context.Context, r *Result) error {
	sources, err := p.db.FeedSources(ctx)
	if err != nil {
		return fmt.Errorf("loading sources: %w", err)
	}

	p.aggregator.Invalidate()

	var competitors []collect.Group
	var industry collect.Group
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		competitors, err = p.aggregator.Competitors(gctx, sources.Competitors)
		return err
	})
	g.Go(func() error {
		var err error
		industry, err = p.aggregator.Industry(gctx, sources.Industry)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetching feeds: %w", err)
	}

	var items []collect.FeedItem
	for _, grp := range competitors {
		items = append(items, grp.Items...)
	}
	items = append(items, industry.Items...)
	r.ItemsFound = len(items)

	classified := p.classifier.Classify(ctx, items)
	if err := ctx.Err(); err != nil {
		return err
	}

	signals := make([]database.Signal, 0, len(classified))
	for _, c := range classified {
		if c.Link == "" {
			continue
		}
		signals = append(signals, toSignal(c))
	}

	inserted, err := p.db.CreateSignals(ctx, signals)
	if err != nil {
		return fmt.Errorf("storing signals: %w", err)
	}
	r.Stored = len(inserted)

	if err := p.db.MarkSourcesPolled(ctx, database.SourceTypeRSS); err != nil {
		r.logf("Error marking feeds polled: %v", err)
	}
	return nil
}

// PollWebMonitors checks every enabled monitored page once. A failing page
// is logged and skipped; the others are still checked.
func (p *Pipeline) PollWebMonitors(ctx context.Context) *Result {
	r := newResult(database.RunTypeWebMonitor)
	start := time.Now()
	r.logf("Starting web monitor poll...")

	err := guard(func() error { return p.pollWebMonitors(ctx, r) })
	r.Duration = time.Since(start)
	if err != nil {
		r.Err = err
		r.logf("Web monitor error: %v", err)
	} else {
		r.logf("Web monitor complete: %s", r.Summary())
	}
	p.record(ctx, r)
	return r
}

func (p *Pipeline) pollWebMonitors(ctx context.Context, r *Result) error {
	sources, err := p.db.GetSources(ctx, database.SourceTypeWebMonitor)
	if err != nil {
		return fmt.Errorf("loading web monitors: %w", err)
	}
	r.ItemsFound = len(sources)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := p.monitor.Check(ctx, src)
		if err != nil {
			r.logf("Web monitor error for %s: %v", src.URL, err)
			r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", src.URL, err))
			continue
		}
		if res.Outcome == monitor.Changed {
			r.Stored++
		}
		if err := p.db.MarkSourcePolled(ctx, src.ID); err != nil {
			r.logf("Error marking %s polled: %v", src.URL, err)
		}
	}
	return nil
}

// guard runs fn, converting a panic into an error so the run is still
// recorded.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return fn()
}

// record writes the run's ScanRun. It runs even when ctx is cancelled so
// interrupted runs still leave a trace.
func (p *Pipeline) record(ctx context.Context, r *Result) {
	run := database.ScanRun{
		RunID:           r.RunID,
		RunType:         r.RunType,
		ItemsFound:      r.ItemsFound,
		ItemsClassified: r.Stored,
		DurationMS:      r.Duration.Milliseconds(),
	}
	errs := r.Errors
	if r.Err != nil {
		errs = append([]string{r.Err.Error()}, errs...)
	}
	if len(errs) > 0 {
		joined := strings.Join(errs, "; ")
		run.Errors = &joined
	}
	if _, err := p.db.InsertScanRun(context.WithoutCancel(ctx), run); err != nil {
		r.logf("Error recording scan run: %v", err)
	}
}

func newResult(runType string) *Result {
	return &Result{RunID: uuid.NewString(), RunType: runType}
}

func (r *Result) logf(format string, args ...any) {
	log.Printf("[%s %s] "+format, append([]any{r.RunType, r.RunID[:8]}, args...)...)
}

func toSignal(c classify.Classified) database.Signal {
	sig := database.Signal{
		Title:      c.Title,
		Link:       ptr(c.Link),
		Snippet:    ptr(c.Snippet),
		Quadrant:   c.Quadrant,
		Relevance:  c.Relevance,
		Label:      c.Label,
		SourceType: ptr(c.SourceType),
		SourceKey:  ptr(c.SourceKey),
	}
	if !c.Published.IsZero() {
		sig.PubDate = ptr(database.FormatTime(c.Published))
	}
	name := c.SourceName
	if name == "" {
		name = c.Source
	}
	sig.SourceName = ptr(name)
	return sig
}

func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
