package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/TobiSchelling/SignalRadar/internal/collect"
	"github.com/TobiSchelling/SignalRadar/internal/database"
)

const recentRunsLimit = 10

// Server is the read API over stored signals and cached feeds, plus source
// management.
type Server struct {
	db    *database.DB
	feeds *collect.Aggregator
	mux   *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, feeds *collect.Aggregator) *Server {
	s := &Server{db: db, feeds: feeds, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/signals", s.handleSignals)
	s.mux.HandleFunc("GET /api/feeds/competitors", s.handleCompetitorFeeds)
	s.mux.HandleFunc("GET /api/feeds/industry", s.handleIndustryFeeds)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/sources", s.handleListSources)
	s.mux.HandleFunc("POST /api/sources", s.handleAddSource)
	s.mux.HandleFunc("DELETE /api/sources/{id}", s.handleDeleteSource)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	f, err := parseSignalFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.db.QuerySignals(r.Context(), f)
	if err != nil {
		log.Printf("Error querying signals: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCompetitorFeeds(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.FeedSources(r.Context())
	if err != nil {
		log.Printf("Error loading sources: %v", err)
		writeError(w, http.StatusInternalServerError, "loading sources failed")
		return
	}
	groups, err := s.feeds.Competitors(r.Context(), sources.Competitors)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleIndustryFeeds(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.FeedSources(r.Context())
	if err != nil {
		log.Printf("Error loading sources: %v", err)
		writeError(w, http.StatusInternalServerError, "loading sources failed")
		return
	}
	group, err := s.feeds.Industry(r.Context(), sources.Industry)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, group.Items)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		log.Printf("Error loading stats: %v", err)
		writeError(w, http.StatusInternalServerError, "loading stats failed")
		return
	}
	runs, err := s.db.RecentScanRuns(r.Context(), recentRunsLimit)
	if err != nil {
		log.Printf("Error loading scan runs: %v", err)
		writeError(w, http.StatusInternalServerError, "loading scan runs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":       stats,
		"cache":       s.feeds.CacheStatus(),
		"recent_runs": runs,
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.GetSources(r.Context(), r.URL.Query().Get("type"))
	if err != nil {
		log.Printf("Error loading sources: %v", err)
		writeError(w, http.StatusInternalServerError, "loading sources failed")
		return
	}
	if sources == nil {
		sources = []database.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

type sourceRequest struct {
	Type          string `json:"type"`
	URL           string `json:"url"`
	Name          string `json:"name"`
	CompetitorKey string `json:"competitor_key"`
	Category      string `json:"category"`
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	src, err := req.source()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.db.InsertSource(r.Context(), src)
	if err != nil {
		if database.IsDuplicate(err) {
			writeError(w, http.StatusConflict, "source already exists")
			return
		}
		log.Printf("Error adding source: %v", err)
		writeError(w, http.StatusInternalServerError, "adding source failed")
		return
	}
	s.feeds.Invalidate()

	created, err := s.db.GetSource(r.Context(), id)
	if err != nil || created == nil {
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}

	existing, err := s.db.GetSource(r.Context(), id)
	if err != nil {
		log.Printf("Error loading source %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "loading source failed")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}

	if err := s.db.DeleteSource(r.Context(), id); err != nil {
		log.Printf("Error deleting source %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "deleting source failed")
		return
	}
	s.feeds.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (req sourceRequest) source() (database.Source, error) {
	src := database.Source{
		Type:     req.Type,
		URL:      req.URL,
		Name:     req.Name,
		Category: req.Category,
	}
	if req.CompetitorKey != "" {
		key := req.CompetitorKey
		src.CompetitorKey = &key
	}
	return database.NormalizeSource(src)
}

func parseSignalFilter(q url.Values) (database.SignalFilter, error) {
	f := database.SignalFilter{
		Quadrant:   q.Get("quadrant"),
		SourceKey:  q.Get("source_key"),
		SourceType: q.Get("source_type"),
		Search:     strings.TrimSpace(q.Get("q")),
		SortBy:     q.Get("sort"),
		SortDir:    q.Get("dir"),
	}
	if f.Quadrant != "" && !database.IsQuadrant(f.Quadrant) {
		return f, fmt.Errorf("unknown quadrant %q", f.Quadrant)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"min_relevance", &f.MinRelevance},
		{"max_relevance", &f.MaxRelevance},
		{"limit", &f.Limit},
		{"offset", &f.Offset},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("%s must be an integer", p.name)
		}
		*p.dst = n
	}

	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := dateparse.ParseIn(v, time.UTC)
		if err != nil {
			return f, fmt.Errorf("%s: unrecognised date %q", name, v)
		}
		*dst = &t
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve listens on localhost until ctx is cancelled, then shuts down.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
