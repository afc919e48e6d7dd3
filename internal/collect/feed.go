package collect

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/rss"
)

const (
	snippetLength      = 300
	defaultFeedTimeout = 10 * time.Second
	defaultFeedAccept  = "application/rss+xml, application/atom+xml, application/xml, text/xml"
	defaultFeedAgent   = "SignalRadar/1.0 (Competitive Intelligence)"
)

// Source type tags attached to items during aggregation.
const (
	SourceTypeCompetitor = "competitor"
	SourceTypeIndustry   = "industry"
)

// FeedItem is a normalised feed entry. It lives for one fetch cycle.
type FeedItem struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	PubDate   string    `json:"pub_date"`
	Published time.Time `json:"-"`
	Source    string    `json:"source"`
	Snippet   string    `json:"snippet"`

	// Set by the aggregation step.
	SourceType string `json:"source_type,omitempty"`
	SourceKey  string `json:"source_key,omitempty"`
	SourceName string `json:"source_name,omitempty"`
}

// Fetcher turns a feed URL into items. Implementations never fail: a broken
// feed yields no items.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) []FeedItem
}

// FeedFetcher fetches RSS/Atom/JSON feeds over HTTP.
type FeedFetcher struct {
	timeout   time.Duration
	userAgent string
	client    *http.Client
}

// NewFeedFetcher creates a fetcher with a per-feed timeout.
func NewFeedFetcher(timeout time.Duration, userAgent string) *FeedFetcher {
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	if userAgent == "" {
		userAgent = defaultFeedAgent
	}
	return &FeedFetcher{
		timeout:   timeout,
		userAgent: userAgent,
		client:    &http.Client{Transport: acceptTransport{http.DefaultTransport}},
	}
}

// Fetch parses one feed. Network, timeout and parse errors are logged and
// reported as an empty result.
func (f *FeedFetcher) Fetch(ctx context.Context, feedURL string) []FeedItem {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// gofeed parsers keep per-parse state, so each fetch gets its own.
	parser := gofeed.NewParser()
	parser.UserAgent = f.userAgent
	parser.Client = f.client
	parser.RSSTranslator = sourceTranslator{}

	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		log.Printf("Feed error [%s]: %v", truncate(feedURL, 80), err)
		return nil
	}

	items := make([]FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		items = append(items, normalizeItem(it, feed.Title))
	}
	return items
}

// sourceTranslator keeps the RSS <source> element, which the default
// translation drops, under Custom["source"].
type sourceTranslator struct{}

func (sourceTranslator) Translate(feed any) (*gofeed.Feed, error) {
	out, err := (&gofeed.DefaultRSSTranslator{}).Translate(feed)
	if err != nil {
		return nil, err
	}
	rssFeed, ok := feed.(*rss.Feed)
	if !ok || len(rssFeed.Items) != len(out.Items) {
		return out, nil
	}
	for i, ri := range rssFeed.Items {
		if ri == nil || ri.Source == nil || out.Items[i] == nil {
			continue
		}
		title := strings.TrimSpace(ri.Source.Title)
		if title == "" {
			continue
		}
		if out.Items[i].Custom == nil {
			out.Items[i].Custom = make(map[string]string)
		}
		out.Items[i].Custom["source"] = title
	}
	return out, nil
}

// acceptTransport advertises feed content types on every request.
type acceptTransport struct {
	next http.RoundTripper
}

func (t acceptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept", defaultFeedAccept)
	}
	return t.next.RoundTrip(req)
}

func normalizeItem(it *gofeed.Item, feedTitle string) FeedItem {
	item := FeedItem{
		Title:  strings.TrimSpace(it.Title),
		Link:   strings.TrimSpace(it.Link),
		Source: itemSource(it, feedTitle),
	}

	switch {
	case it.PublishedParsed != nil:
		item.Published = it.PublishedParsed.UTC()
		item.PubDate = it.Published
	case it.UpdatedParsed != nil:
		item.Published = it.UpdatedParsed.UTC()
		item.PubDate = it.Updated
	case it.Published != "":
		item.PubDate = it.Published
		if t, err := dateparse.ParseAny(it.Published); err == nil {
			item.Published = t.UTC()
		}
	}

	body := it.Content
	if strings.TrimSpace(body) == "" {
		body = it.Description
	}
	item.Snippet = truncate(plainText(body), snippetLength)

	return item
}

// itemSource picks the label for an item: creator, then the item's <source>,
// then the author, then the feed title.
func itemSource(it *gofeed.Item, feedTitle string) string {
	if it.DublinCoreExt != nil {
		for _, c := range it.DublinCoreExt.Creator {
			if c = strings.TrimSpace(c); c != "" {
				return c
			}
		}
	}
	if src := strings.TrimSpace(it.Custom["source"]); src != "" {
		return src
	}
	if it.Author != nil && strings.TrimSpace(it.Author.Name) != "" {
		return strings.TrimSpace(it.Author.Name)
	}
	return strings.TrimSpace(feedTitle)
}

// plainText strips markup from feed HTML and collapses whitespace.
func plainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
