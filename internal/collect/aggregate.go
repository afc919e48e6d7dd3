package collect

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/SignalRadar/internal/config"
)

// Cache families.
const (
	FamilyCompetitors = "competitors"
	FamilyIndustry    = "industry"
)

const (
	dedupPrefixLength      = 60
	defaultCompetitorLimit = 15
	defaultIndustryLimit   = 30

	industryKey  = "industry"
	industryName = "Industry"
)

// Group is the aggregated item list for one competitor or for the industry
// feeds.
type Group struct {
	Key   string     `json:"key"`
	Name  string     `json:"name"`
	Items []FeedItem `json:"items"`
}

// Options tunes the aggregator. Zero values fall back to defaults.
type Options struct {
	CompetitorLimit  int
	IndustryLimit    int
	GroupConcurrency int
}

// OptionsFromConfig maps feed settings to aggregator options.
func OptionsFromConfig(cfg config.Feeds) Options {
	return Options{
		CompetitorLimit:  cfg.CompetitorLimit,
		IndustryLimit:    cfg.IndustryLimit,
		GroupConcurrency: cfg.GroupConcurrency,
	}
}

// Aggregator fetches feed groups, deduplicates and ranks their items, and
// caches the result per family.
type Aggregator struct {
	fetcher Fetcher
	cache   *Cache[[]Group]
	opts    Options
}

// NewAggregator wires a fetcher to a cache.
func NewAggregator(fetcher Fetcher, cache *Cache[[]Group], opts Options) *Aggregator {
	if opts.CompetitorLimit <= 0 {
		opts.CompetitorLimit = defaultCompetitorLimit
	}
	if opts.IndustryLimit <= 0 {
		opts.IndustryLimit = defaultIndustryLimit
	}
	return &Aggregator{fetcher: fetcher, cache: cache, opts: opts}
}

// Competitors returns one group per competitor, ordered by key. Feeds of a
// single competitor are fetched one at a time; different competitors may be
// fetched concurrently.
func (a *Aggregator) Competitors(ctx context.Context, competitors map[string]config.Competitor) ([]Group, error) {
	return a.cache.GetOrLoad(ctx, FamilyCompetitors, func(ctx context.Context) ([]Group, error) {
		keys := make([]string, 0, len(competitors))
		for k := range competitors {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		groups := make([]Group, len(keys))
		g := new(errgroup.Group)
		if a.opts.GroupConcurrency > 0 {
			g.SetLimit(a.opts.GroupConcurrency)
		}
		for i, key := range keys {
			comp := competitors[key]
			name := comp.Name
			if name == "" {
				name = key
			}
			g.Go(func() error {
				items := a.fetchGroup(ctx, comp.Feeds, a.opts.CompetitorLimit)
				for j := range items {
					items[j].SourceType = SourceTypeCompetitor
					items[j].SourceKey = key
					items[j].SourceName = name
				}
				groups[i] = Group{Key: key, Name: name, Items: items}
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log.Printf("Fetched %d competitor groups", len(groups))
		return groups, nil
	})
}

// Industry returns the single industry group.
func (a *Aggregator) Industry(ctx context.Context, feeds []string) (Group, error) {
	groups, err := a.cache.GetOrLoad(ctx, FamilyIndustry, func(ctx context.Context) ([]Group, error) {
		items := a.fetchGroup(ctx, feeds, a.opts.IndustryLimit)
		for j := range items {
			items[j].SourceType = SourceTypeIndustry
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []Group{{Key: industryKey, Name: industryName, Items: items}}, nil
	})
	if err != nil || len(groups) == 0 {
		return Group{}, err
	}
	return groups[0], nil
}

// Invalidate discards cached results for both families. Call it whenever
// the source configuration changes.
func (a *Aggregator) Invalidate() {
	a.cache.Invalidate()
	log.Printf("Feed cache invalidated")
}

// CacheStatus reports the state of each cache family.
func (a *Aggregator) CacheStatus() map[string]EntryStatus {
	return map[string]EntryStatus{
		FamilyCompetitors: a.cache.Status(FamilyCompetitors),
		FamilyIndustry:    a.cache.Status(FamilyIndustry),
	}
}

// fetchGroup fetches feeds sequentially, then dedups, sorts and caps.
func (a *Aggregator) fetchGroup(ctx context.Context, feeds []string, limit int) []FeedItem {
	var all []FeedItem
	for _, u := range feeds {
		if ctx.Err() != nil {
			break
		}
		all = append(all, a.fetchOne(ctx, u)...)
	}
	return rank(all, limit)
}

// fetchOne runs the fetcher for one URL. A panicking fetcher counts as a
// failed feed.
func (a *Aggregator) fetchOne(ctx context.Context, feedURL string) (items []FeedItem) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Feed error [%s]: panic: %v", truncate(feedURL, 80), r)
			items = nil
		}
	}()
	return a.fetcher.Fetch(ctx, feedURL)
}

// rank deduplicates items, orders them newest first and keeps at most limit.
func rank(items []FeedItem, limit int) []FeedItem {
	items = Dedupe(items)
	sortByDate(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Dedupe keeps the first item for each DedupKey, in input order.
func Dedupe(items []FeedItem) []FeedItem {
	seen := make(map[string]bool, len(items))
	out := make([]FeedItem, 0, len(items))
	for _, it := range items {
		k := DedupKey(it.Title)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// DedupKey lowercases the title, keeps its first 60 runes, drops
// punctuation and collapses whitespace.
func DedupKey(title string) string {
	prefix := truncate(strings.ToLower(title), dedupPrefixLength)
	var sb strings.Builder
	for _, r := range prefix {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// sortByDate orders items newest first. Undated items keep their relative
// order at the end.
func sortByDate(items []FeedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return published(items[i]).After(published(items[j]))
	})
}

func published(it FeedItem) time.Time {
	if it.Published.IsZero() {
		return time.Unix(0, 0)
	}
	return it.Published
}
