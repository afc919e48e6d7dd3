package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/SignalRadar/internal/config"
	"github.com/TobiSchelling/SignalRadar/internal/database"
	"github.com/TobiSchelling/SignalRadar/internal/llm"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response string
	err      error
	calls    int
	last     llm.Request
}

func (m *mockProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	m.calls++
	m.last = req
	return m.response, m.err
}

func (m *mockProvider) Name() string { return "mock" }

// pageServer serves a body that tests can swap between checks.
type pageServer struct {
	mu   sync.Mutex
	body string
	srv  *httptest.Server
}

func newPageServer(t *testing.T, body string) *pageServer {
	t.Helper()
	ps := &pageServer{body: body}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, ps.body)
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *pageServer) set(body string) {
	ps.mu.Lock()
	ps.body = body
	ps.mu.Unlock()
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addSource(t *testing.T, db *database.DB, src database.Source) database.Source {
	t.Helper()
	src.Type = database.SourceTypeWebMonitor
	id, err := db.InsertSource(context.Background(), src)
	require.NoError(t, err)
	got, err := db.GetSource(context.Background(), id)
	require.NoError(t, err)
	return *got
}

func page(body string) string {
	return "<html><head><title>NFM News</title><script>var x = 1;</script></head><body>" +
		"<nav>Home | Products</nav><main><h1>News</h1><p>" + body + "</p></main>" +
		"<footer>Copyright</footer></body></html>"
}

func newMonitor(db *database.DB, provider llm.Provider) *Monitor {
	return New(db, NewPageFetcher(5*time.Second, ""), NewLLMSummarizer(provider), config.Monitor{})
}

func TestCheckStateMachine(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	ps := newPageServer(t, page("NFM launches the Thor vest."))
	key := "nfm"
	src := addSource(t, db, database.Source{URL: ps.srv.URL + "/news", Name: "NFM news", CompetitorKey: &key, Category: database.CategoryCompetitor})

	provider := &mockProvider{response: "**NFM** added a new vest to its catalogue."}
	m := newMonitor(db, provider)

	res, err := m.Check(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, Baseline, res.Outcome)
	assert.Equal(t, SummaryBaseline, res.Summary)
	assert.Nil(t, res.Signal)
	assert.Equal(t, 0, provider.calls)

	snap, err := db.LatestSnapshot(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "News NFM launches the Thor vest.", snap.ExtractedText)

	res, err = m.Check(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Outcome)
	n, _ := db.CountSnapshots(ctx, src.ID)
	assert.Equal(t, 1, n, "unchanged page must not write a snapshot")

	ps.set(page("NFM launches the Thor vest and the Loke plate carrier."))
	res, err = m.Check(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, Changed, res.Outcome)
	assert.Equal(t, "NFM added a new vest to its catalogue.", res.Summary)
	require.NotNil(t, res.Signal)

	sig := res.Signal
	assert.Equal(t, "Web change: NFM news", sig.Title)
	assert.Equal(t, database.QuadrantCompetitors, sig.Quadrant)
	assert.Equal(t, 5, sig.Relevance)
	assert.Equal(t, "NFM added a new vest to its catalogue.", sig.Label)
	assert.Equal(t, database.SourceTypeWebMonitor, *sig.SourceType)
	assert.Equal(t, "nfm", *sig.SourceKey)
	assert.True(t, strings.HasPrefix(*sig.Link, src.URL+"#change-"))

	assert.Contains(t, provider.last.Prompt, "Thor vest and the Loke")
	assert.Contains(t, provider.last.Prompt, src.URL)

	n, _ = db.CountSnapshots(ctx, src.ID)
	assert.Equal(t, 2, n)

	// A second change to the same page gets its own signal.
	ps.set(page("Everything is different now."))
	res, err = m.Check(ctx, src)
	require.NoError(t, err)
	require.NotNil(t, res.Signal)
	assert.NotEqual(t, *sig.Link, *res.Signal.Link)
}

func TestCheckPlaceholders(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	ps := newPageServer(t, page("v1"))
	src := addSource(t, db, database.Source{URL: ps.srv.URL, Name: "Trade fair", Category: database.CategoryIndustry})

	noKey := newMonitor(db, nil)
	_, err := noKey.Check(ctx, src)
	require.NoError(t, err)

	ps.set(page("v2"))
	res, err := noKey.Check(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, SummaryNoBackend, res.Summary)
	assert.Equal(t, database.QuadrantIndustry, res.Signal.Quadrant)

	failing := newMonitor(db, &mockProvider{err: errors.New("timeout")})
	ps.set(page("v3"))
	res, err = failing.Check(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, SummaryFailed, res.Summary)
}

func TestCheckFetchErrorWritesNothing(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	src := addSource(t, db, database.Source{URL: srv.URL, Category: database.CategoryIndustry})

	_, err := newMonitor(db, nil).Check(ctx, src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)

	n, _ := db.CountSnapshots(ctx, src.ID)
	assert.Equal(t, 0, n)

	_, err = newMonitor(db, nil).Check(ctx, database.Source{ID: src.ID, URL: "http://127.0.0.1:1/"})
	assert.ErrorIs(t, err, ErrFetch)
}

func TestPageFetcherFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>moved here</body></html>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p, err := NewPageFetcher(time.Second, "").Get(context.Background(), srv.URL+"/old")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/new", p.URL)
	assert.Equal(t, "moved here", ExtractText(p.HTML, 0))
}

func TestPageFetcherDecodesCharset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "Försvarsmakten" in Latin-1.
		w.Write([]byte("<html><body>F\xf6rsvarsmakten</body></html>"))
	}))
	defer srv.Close()

	p, err := NewPageFetcher(time.Second, "").Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Försvarsmakten", ExtractText(p.HTML, 0))
}

func TestExtractTextStripsChromeAndCaps(t *testing.T) {
	html := `<html><body><header>Top</header><nav>Menu</nav><div role="navigation">Links</div>
	<article>  Real   content
	here </article><aside>Ads</aside><style>p{}</style><footer>Bottom</footer></body></html>`
	assert.Equal(t, "Real content here", ExtractText(html, 0))
	assert.Equal(t, "Real", ExtractText(html, 4))
}

func TestHashText(t *testing.T) {
	assert.Equal(t, HashText("a"), HashText("a"))
	assert.NotEqual(t, HashText("a"), HashText("b"))
	assert.Len(t, HashText(""), 64)
}

func TestQuadrantFor(t *testing.T) {
	key := "savotta"
	empty := ""
	assert.Equal(t, database.QuadrantCompetitors, QuadrantFor(database.Source{CompetitorKey: &key, Category: database.CategoryIndustry}))
	assert.Equal(t, database.QuadrantIndustry, QuadrantFor(database.Source{Category: database.CategoryIndustry}))
	assert.Equal(t, database.QuadrantAnomalies, QuadrantFor(database.Source{CompetitorKey: &empty, Category: database.CategoryCompetitor}))
}

func TestChangeLink(t *testing.T) {
	assert.Equal(t, "https://nfm.no/news#change-7", changeLink("https://nfm.no/news", 7))
	assert.Equal(t, "https://nfm.no/news#change-8", changeLink("https://nfm.no/news#top", 8))
}

func TestDisplayNameFallsBackToPageTitle(t *testing.T) {
	p := &Page{URL: "https://nfm.no/news", HTML: page("Some body text that is long enough to be an article.")}
	assert.Equal(t, "Named", displayName(database.Source{Name: "Named", URL: p.URL}, p))
	name := displayName(database.Source{URL: p.URL}, p)
	assert.NotEmpty(t, name)

	bare := &Page{URL: "https://nfm.no/x", HTML: ""}
	assert.Equal(t, "https://nfm.no/x", displayName(database.Source{URL: bare.URL}, bare))
}
