package classify

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/SignalRadar/internal/collect"
	"github.com/TobiSchelling/SignalRadar/internal/config"
	"github.com/TobiSchelling/SignalRadar/internal/database"
)

const (
	defaultChunkSize    = 40
	defaultRelevance    = 5
	fallbackLabelLength = 40
	maxLabelLength      = 60
	promptSnippetLength = 150
)

// PromptItem is one item as presented to the classification backend. Index
// is local to the chunk.
type PromptItem struct {
	Index      int    `json:"index"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Source     string `json:"source"`
	SourceType string `json:"sourceType"`
}

// Verdict is a backend answer for one item before validation. Relevance is
// zero when the backend omitted it or sent something non-numeric.
type Verdict struct {
	Index     int
	Quadrant  string
	Relevance float64
	Label     string
}

// Backend classifies one chunk. An error makes the whole chunk fall back to
// the heuristic.
type Backend interface {
	Classify(ctx context.Context, items []PromptItem) ([]Verdict, error)
}

// Classified is a feed item with its final classification.
type Classified struct {
	collect.FeedItem
	Quadrant  string `json:"quadrant"`
	Relevance int    `json:"relevance"`
	Label     string `json:"label"`
}

// Classifier splits items into chunks, classifies the chunks concurrently
// and merges the answers back into input order.
type Classifier struct {
	backend        Backend
	chunkSize      int
	maxConcurrency int
}

// New creates a classifier. A nil backend classifies everything with the
// heuristic.
func New(backend Backend, cfg config.Classification) *Classifier {
	size := cfg.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	return &Classifier{backend: backend, chunkSize: size, maxConcurrency: cfg.MaxConcurrency}
}

// Classify returns exactly one record per input item, in input order. It
// does not fail: chunks whose backend call fails get the heuristic.
func (c *Classifier) Classify(ctx context.Context, items []collect.FeedItem) []Classified {
	out := make([]Classified, len(items))
	if len(items) == 0 {
		return out
	}

	if c.backend == nil {
		for i, it := range items {
			out[i] = Heuristic(it)
		}
		log.Printf("Classified %d items with heuristic (no backend)", len(items))
		return out
	}

	var chunks [][]collect.FeedItem
	for start := 0; start < len(items); start += c.chunkSize {
		end := min(start+c.chunkSize, len(items))
		chunks = append(chunks, items[start:end])
	}

	results := make([][]Verdict, len(chunks))
	failed := make([]bool, len(chunks))

	g := new(errgroup.Group)
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for ci, chunk := range chunks {
		g.Go(func() error {
			verdicts, err := c.classifyChunk(ctx, chunk)
			if err != nil {
				log.Printf("Classification error (chunk %d): %v", ci, err)
				failed[ci] = true
				return nil
			}
			results[ci] = verdicts
			return nil
		})
	}
	_ = g.Wait()

	fallbacks := 0
	for ci, chunk := range chunks {
		base := ci * c.chunkSize
		filled := make([]bool, len(chunk))
		for _, v := range results[ci] {
			if v.Index < 0 || v.Index >= len(chunk) || filled[v.Index] {
				continue
			}
			filled[v.Index] = true
			out[base+v.Index] = apply(chunk[v.Index], v)
		}
		for li, it := range chunk {
			if !filled[li] {
				out[base+li] = Heuristic(it)
				fallbacks++
			}
		}
		if !failed[ci] && len(results[ci]) != len(chunk) {
			log.Printf("Chunk %d: backend returned %d of %d classifications", ci, len(results[ci]), len(chunk))
		}
	}

	log.Printf("Classified %d items in %d chunks (%d heuristic)", len(items), len(chunks), fallbacks)
	return out
}

// classifyChunk calls the backend for one chunk, turning a panic into an
// error so the chunk falls back like any other failure.
func (c *Classifier) classifyChunk(ctx context.Context, chunk []collect.FeedItem) (verdicts []Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			verdicts, err = nil, fmt.Errorf("backend panic: %v", r)
		}
	}()
	return c.backend.Classify(ctx, promptItems(chunk))
}

// Heuristic classifies by source type alone.
func Heuristic(it collect.FeedItem) Classified {
	q := database.QuadrantIndustry
	if it.SourceType == collect.SourceTypeCompetitor {
		q = database.QuadrantCompetitors
	}
	return Classified{
		FeedItem:  it,
		Quadrant:  q,
		Relevance: defaultRelevance,
		Label:     truncate(it.Title, fallbackLabelLength),
	}
}

func apply(it collect.FeedItem, v Verdict) Classified {
	label := strings.TrimSpace(v.Label)
	if label == "" {
		label = truncate(it.Title, fallbackLabelLength)
	}
	return Classified{
		FeedItem:  it,
		Quadrant:  NormalizeQuadrant(v.Quadrant),
		Relevance: NormalizeRelevance(v.Relevance),
		Label:     truncate(label, maxLabelLength),
	}
}

// NormalizeQuadrant maps unknown quadrants to anomalies.
func NormalizeQuadrant(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	if database.IsQuadrant(q) {
		return q
	}
	return database.QuadrantAnomalies
}

// NormalizeRelevance rounds to an integer in [1,10]. Zero and NaN mean
// "not given" and become 5.
func NormalizeRelevance(r float64) int {
	if math.IsNaN(r) {
		return defaultRelevance
	}
	n := math.Round(r)
	if n == 0 {
		return defaultRelevance
	}
	return int(max(1, min(10, n)))
}

func promptItems(chunk []collect.FeedItem) []PromptItem {
	items := make([]PromptItem, len(chunk))
	for i, it := range chunk {
		st := it.SourceType
		if st == "" {
			st = "unknown"
		}
		items[i] = PromptItem{
			Index:      i,
			Title:      it.Title,
			Snippet:    truncate(it.Snippet, promptSnippetLength),
			Source:     it.Source,
			SourceType: st,
		}
	}
	return items
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
