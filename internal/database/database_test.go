package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/SignalRadar/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func testSignal(title, link string) Signal {
	return Signal{
		Title:     title,
		Link:      ptr(link),
		Quadrant:  QuadrantIndustry,
		Relevance: 5,
		Label:     title,
	}
}

func TestCreateSignal(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	s, err := db.CreateSignal(ctx, testSignal("Test", "https://example.com/a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s == nil || s.ID == 0 {
		t.Fatal("expected inserted signal with ID")
	}
	if s.CreatedAt == nil {
		t.Error("expected created_at to be returned")
	}
}

func TestCreateSignalDuplicateLinkIsNoop(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.CreateSignal(ctx, testSignal("First", "https://example.com/dup")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s, err := db.CreateSignal(ctx, testSignal("Second", "https://example.com/dup"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != nil {
		t.Error("expected nil for duplicate link")
	}

	page, err := db.QuerySignals(ctx, SignalFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected 1 signal, got %d", page.Total)
	}
	if page.Items[0].Title != "First" {
		t.Errorf("expected original row kept, got %q", page.Items[0].Title)
	}
}

func TestCreateSignalNullLinksDoNotCollide(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s := testSignal("No link", "")
		s.Link = nil
		row, err := db.CreateSignal(ctx, s)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if row == nil {
			t.Fatal("expected null-link signal to be inserted")
		}
	}
}

func TestCreateSignalsBatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	db.CreateSignal(ctx, testSignal("Existing", "https://example.com/1"))

	inserted, err := db.CreateSignals(ctx, []Signal{
		testSignal("One again", "https://example.com/1"),
		testSignal("Two", "https://example.com/2"),
		testSignal("Three", "https://example.com/3"),
		testSignal("Two dup in batch", "https://example.com/2"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inserted) != 2 {
		t.Errorf("expected 2 inserted, got %d", len(inserted))
	}
}

func TestCreateSignalsRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	bad := testSignal("Bad", "https://example.com/bad")
	bad.Quadrant = "nonsense" // violates CHECK constraint

	_, err := db.CreateSignals(ctx, []Signal{
		testSignal("Good", "https://example.com/good"),
		bad,
	})
	if err == nil {
		t.Fatal("expected error from constraint violation")
	}

	n, _ := db.CountSignalsByLink(ctx, "https://example.com/good")
	if n != 0 {
		t.Errorf("expected batch rolled back, found %d rows", n)
	}
}

func TestCreateSignalConcurrentSameLink(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := db.CreateSignal(ctx, testSignal(fmt.Sprintf("single %d", i), "https://example.com/race"))
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := db.CreateSignals(ctx, []Signal{
				testSignal(fmt.Sprintf("batch %d", i), "https://example.com/race"),
				testSignal(fmt.Sprintf("other %d", i), fmt.Sprintf("https://example.com/other/%d", i)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	n, err := db.CountSignalsByLink(ctx, "https://example.com/race")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected exactly 1 row for contested link, got %d", n)
	}
}

func TestQuerySignalsFilters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mk := func(title, link, quadrant, key string, relevance int, pub string) Signal {
		s := testSignal(title, link)
		s.Quadrant = quadrant
		s.Relevance = relevance
		s.SourceKey = strPtr(key)
		s.SourceType = ptr("competitor")
		if pub != "" {
			s.PubDate = ptr(pub)
		}
		return s
	}

	_, err := db.CreateSignals(ctx, []Signal{
		mk("NFM wins contract", "https://a.com/1", QuadrantCompetitors, "nfm", 9, "2026-03-01T10:00:00Z"),
		mk("Savotta opens factory", "https://a.com/2", QuadrantCompetitors, "savotta", 6, "2026-03-05T10:00:00Z"),
		mk("Eurosatory dates announced", "https://a.com/3", QuadrantIndustry, "", 4, "2026-02-20T10:00:00Z"),
		mk("Undated armour item", "https://a.com/4", QuadrantIndustry, "", 7, ""),
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}

	page, _ := db.QuerySignals(ctx, SignalFilter{Quadrant: QuadrantCompetitors})
	if page.Total != 2 {
		t.Errorf("quadrant filter: expected 2, got %d", page.Total)
	}

	page, _ = db.QuerySignals(ctx, SignalFilter{SourceKey: "nfm"})
	if page.Total != 1 || page.Items[0].Title != "NFM wins contract" {
		t.Errorf("source key filter: unexpected result %+v", page.Items)
	}

	page, _ = db.QuerySignals(ctx, SignalFilter{MinRelevance: 6, MaxRelevance: 8})
	if page.Total != 2 {
		t.Errorf("relevance bounds: expected 2, got %d", page.Total)
	}

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	page, _ = db.QuerySignals(ctx, SignalFilter{From: &from})
	if page.Total != 2 {
		t.Errorf("from date: expected 2, got %d", page.Total)
	}

	page, _ = db.QuerySignals(ctx, SignalFilter{Search: "ARMOUR"})
	if page.Total != 1 {
		t.Errorf("case-insensitive search: expected 1, got %d", page.Total)
	}

	page, _ = db.QuerySignals(ctx, SignalFilter{Search: "100%"})
	if page.Total != 0 {
		t.Errorf("escaped search: expected 0, got %d", page.Total)
	}
}

func TestQuerySignalsSortAndPaging(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		s := testSignal(fmt.Sprintf("Item %d", i), fmt.Sprintf("https://a.com/%d", i))
		s.Relevance = i
		s.PubDate = ptr(fmt.Sprintf("2026-03-0%dT00:00:00Z", i))
		db.CreateSignal(ctx, s)
	}
	undated := testSignal("Undated", "https://a.com/undated")
	db.CreateSignal(ctx, undated)

	page, err := db.QuerySignals(ctx, SignalFilter{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 6 || len(page.Items) != 2 {
		t.Fatalf("expected total 6 / page 2, got %d / %d", page.Total, len(page.Items))
	}
	if page.Items[0].Title != "Item 5" {
		t.Errorf("expected newest first, got %q", page.Items[0].Title)
	}

	page, _ = db.QuerySignals(ctx, SignalFilter{Limit: 10, Offset: 5})
	if len(page.Items) != 1 || page.Items[0].Title != "Undated" {
		t.Errorf("expected undated signal last, got %+v", page.Items)
	}

	page, _ = db.QuerySignals(ctx, SignalFilter{SortBy: "relevance", SortDir: "asc", Limit: 1})
	if page.Items[0].Relevance != 1 {
		t.Errorf("expected lowest relevance first, got %d", page.Items[0].Relevance)
	}
}

func TestQuerySignalsLimitClamp(t *testing.T) {
	db := openTestDB(t)

	page, err := db.QuerySignals(context.Background(), SignalFilter{Limit: 5000, Offset: -3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Limit != MaxSignalLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxSignalLimit, page.Limit)
	}
	if page.Offset != 0 {
		t.Errorf("expected offset 0, got %d", page.Offset)
	}

	page, _ = db.QuerySignals(context.Background(), SignalFilter{})
	if page.Limit != DefaultSignalLimit {
		t.Errorf("expected default limit %d, got %d", DefaultSignalLimit, page.Limit)
	}
}

func TestSeedSourcesAndFeedSources(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fs := config.FeedSources{
		Competitors: map[string]config.Competitor{
			"nfm":     {Name: "NFM Group", Feeds: []string{"https://f.com/nfm1", "https://f.com/nfm2"}},
			"savotta": {Name: "Savotta", Feeds: []string{"https://f.com/sav"}},
		},
		Industry: []string{"https://f.com/ind"},
		WebMonitors: []config.WebMonitor{
			{URL: "https://nfm.no/news", Name: "NFM News", CompetitorKey: "nfm"},
		},
	}

	n, err := db.SeedSources(ctx, fs)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 seeded, got %d", n)
	}

	n, _ = db.SeedSources(ctx, fs)
	if n != 0 {
		t.Errorf("expected second seed to be skipped, got %d", n)
	}

	got, err := db.FeedSources(ctx)
	if err != nil {
		t.Fatalf("feed sources: %v", err)
	}
	if len(got.Competitors) != 2 {
		t.Fatalf("expected 2 competitors, got %d", len(got.Competitors))
	}
	if got.Competitors["nfm"].Name != "NFM Group" || len(got.Competitors["nfm"].Feeds) != 2 {
		t.Errorf("unexpected nfm group: %+v", got.Competitors["nfm"])
	}
	if len(got.Industry) != 1 {
		t.Errorf("expected 1 industry feed, got %d", len(got.Industry))
	}

	monitors, _ := db.GetSources(ctx, SourceTypeWebMonitor)
	if len(monitors) != 1 {
		t.Fatalf("expected 1 web monitor, got %d", len(monitors))
	}
	if monitors[0].Category != CategoryCompetitor {
		t.Errorf("expected competitor category inferred, got %q", monitors[0].Category)
	}
}

func TestMarkSourcePolled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.InsertSource(ctx, Source{Type: SourceTypeWebMonitor, URL: "https://x.com", Name: "X"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.MarkSourcePolled(ctx, id); err != nil {
		t.Fatalf("mark: %v", err)
	}
	s, _ := db.GetSource(ctx, id)
	if s == nil || s.LastPolledAt == nil {
		t.Error("expected last_polled_at to be set")
	}

	missing, err := db.GetSource(ctx, 9999)
	if err != nil || missing != nil {
		t.Errorf("expected nil for missing source, got %+v / %v", missing, err)
	}
}

func TestSnapshotsLatestAndRecordChange(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	srcID, _ := db.InsertSource(ctx, Source{Type: SourceTypeWebMonitor, URL: "https://x.com/p", Name: "X"})

	latest, err := db.LatestSnapshot(ctx, srcID)
	if err != nil || latest != nil {
		t.Fatalf("expected no snapshot, got %+v / %v", latest, err)
	}

	db.InsertSnapshot(ctx, WebSnapshot{SourceID: srcID, ContentHash: "h1", ExtractedText: "one", DiffSummary: "Initial snapshot captured"})

	sig, err := db.RecordChange(ctx,
		WebSnapshot{SourceID: srcID, ContentHash: "h2", ExtractedText: "two", DiffSummary: "Changed"},
		func(id int64) Signal {
			return testSignal("Web change: X", fmt.Sprintf("https://x.com/p#change-%d", id))
		})
	if err != nil {
		t.Fatalf("record change: %v", err)
	}
	if sig == nil {
		t.Fatal("expected signal to be inserted")
	}

	latest, _ = db.LatestSnapshot(ctx, srcID)
	if latest.ContentHash != "h2" {
		t.Errorf("expected latest hash h2, got %q", latest.ContentHash)
	}
	n, _ := db.CountSnapshots(ctx, srcID)
	if n != 2 {
		t.Errorf("expected 2 snapshots, got %d", n)
	}
}

func TestScanRuns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	errText := "boom"
	db.InsertScanRun(ctx, ScanRun{RunID: "a", RunType: RunTypeRSSPoll, ItemsFound: 10, ItemsClassified: 4, DurationMS: 1200})
	db.InsertScanRun(ctx, ScanRun{RunID: "b", RunType: RunTypeWebMonitor, Errors: &errText, DurationMS: 30})

	runs, err := db.RecentScanRuns(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].RunID != "b" || runs[0].Errors == nil || *runs[0].Errors != "boom" {
		t.Errorf("expected newest run first with error, got %+v", runs[0])
	}

	stats, err := db.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ScanRuns != 2 {
		t.Errorf("expected 2 scan runs in stats, got %d", stats.ScanRuns)
	}
}

func TestNormalizeSource(t *testing.T) {
	s, err := NormalizeSource(Source{URL: " https://nfm.no/feed ", CompetitorKey: ptr("nfm")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Type != SourceTypeRSS || s.Category != CategoryCompetitor || s.URL != "https://nfm.no/feed" {
		t.Errorf("unexpected defaults: %+v", s)
	}

	s, err = NormalizeSource(Source{URL: "https://x.com", CompetitorKey: ptr("  ")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.CompetitorKey != nil || s.Category != CategoryIndustry {
		t.Errorf("blank competitor key should become an industry source: %+v", s)
	}

	bad := []Source{
		{URL: "nfm.no/feed"},
		{URL: "ftp://nfm.no"},
		{URL: "https://x.com", Type: "podcast"},
		{URL: "https://x.com", Category: "other"},
		{URL: "https://x.com", Category: CategoryCompetitor},
	}
	for _, b := range bad {
		if _, err := NormalizeSource(b); err == nil {
			t.Errorf("expected error for %+v", b)
		}
	}
}

func TestInsertSourceDuplicate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	src := Source{Type: SourceTypeRSS, URL: "https://x.com/feed", Name: "X", Category: CategoryIndustry}
	if _, err := db.InsertSource(ctx, src); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := db.InsertSource(ctx, src)
	if !IsDuplicate(err) {
		t.Errorf("expected duplicate error, got %v", err)
	}
	if IsDuplicate(nil) {
		t.Error("nil is not a duplicate")
	}
}
