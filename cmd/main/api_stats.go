package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS page_views (
    path          TEXT    PRIMARY KEY,
    total_hits    INTEGER NOT NULL DEFAULT 1,
    first_seen    INTEGER NOT NULL,
    last_seen     INTEGER NOT NULL
);
`

// PageViews is the view count of a single page.
type PageViews struct {
	Path      string    `json:"path"`
	TotalHits int64     `json:"total_hits"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// StatsSummary provides a high-level overview of all collected stats.
type StatsSummary struct {
	TotalViews  int64 `json:"total_views"`
	UniquePages int64 `json:"unique_pages"`
}

// StatsAPI records page views and serves them through the admin API.
type StatsAPI struct {
	db     *sql.DB
	logger *slog.Logger
}

// openStatsDB opens the sqlite database at dataSource, creating its parent
// directory and schema if needed.
func openStatsDB(dataSource string) (*sql.DB, error) {
	// Strip any query options from the path before creating its directory.
	path, _, _ := strings.Cut(strings.TrimPrefix(dataSource, "file:"), "?")
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(sqliteDriver, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = setupStatsSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup stats schema: %w", err)
	}
	return db, nil
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats/summary", s.handleSummary)
	mux.HandleFunc("/api/stats/top_pages", s.handleTopPages)
}

// LogPageView counts one view of the page served at path.
func (s *StatsAPI) LogPageView(ctx context.Context, path string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO page_views (path, first_seen, last_seen) VALUES (?, ?, ?)
        ON CONFLICT(path) DO UPDATE SET total_hits = total_hits + 1, last_seen = ?
    `, path, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert page_views: %w", err)
	}
	return nil
}

// Summary returns the totals across all pages.
func (s *StatsAPI) Summary(ctx context.Context) (StatsSummary, error) {
	var summary StatsSummary
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(total_hits), 0), COUNT(*) FROM page_views").
		Scan(&summary.TotalViews, &summary.UniquePages)
	if err != nil {
		return StatsSummary{}, fmt.Errorf("failed to query stats summary: %w", err)
	}
	return summary, nil
}

// TopPages returns up to limit pages, most viewed first.
func (s *StatsAPI) TopPages(ctx context.Context, limit int) ([]PageViews, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path, total_hits, first_seen, last_seen FROM page_views ORDER BY total_hits DESC, path LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []PageViews{}
	for rows.Next() {
		var views PageViews
		var first, last int64
		if err = rows.Scan(&views.Path, &views.TotalHits, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan top pages: %w", err)
		}
		views.FirstSeen = time.Unix(first, 0).UTC()
		views.LastSeen = time.Unix(last, 0).UTC()
		results = append(results, views)
	}
	return results, rows.Err()
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	summary, err := s.Summary(r.Context())
	if err != nil {
		s.logger.Error("Failed to query stats summary", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTopPages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	pages, err := s.TopPages(r.Context(), 100)
	if err != nil {
		s.logger.Error("Failed to query top pages", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, pages)
}
