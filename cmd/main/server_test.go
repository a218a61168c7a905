package main

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testSite holds the paths of a temporary site created by setupTestSite.
type testSite struct {
	configPath string
	htmlDir    string
	staticDir  string
}

// setupTestSite writes a config and a small set of pages, templates and
// static files to a temp dir. mutate may adjust the config before it is
// saved.
func setupTestSite(tb testing.TB, mutate func(*Config)) testSite {
	tb.Helper()

	dir := tb.TempDir()
	site := testSite{
		configPath: filepath.Join(dir, "config.json"),
		htmlDir:    filepath.Join(dir, "html"),
		staticDir:  filepath.Join(dir, "static"),
	}
	templateDir := filepath.Join(site.htmlDir, "template")

	files := map[string]string{
		filepath.Join(site.htmlDir, "app.html"):      `<body><#header>{{ path }}|{{ title = none }}</body>`,
		filepath.Join(site.htmlDir, "about.htm"):     `about {{ site }}`,
		filepath.Join(site.htmlDir, "404.html"):      `missing {{ path }}`,
		filepath.Join(templateDir, "header.html"):    `<h1>{{ title = Home }} - {{ site }}</h1>`,
		filepath.Join(site.staticDir, "style.css"):   `body {}`,
		filepath.Join(site.staticDir, "js", "a.js"):  `let a;`,
		filepath.Join(site.staticDir, "about"):       `static about`,
		filepath.Join(site.staticDir, "empty", ".k"): ``,
	}
	for path, text := range files {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			tb.Fatalf("failed to create dir for %s: %v", path, err)
		}
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			tb.Fatalf("failed to write %s: %v", path, err)
		}
	}

	config := DefaultConfig()
	config.Server.StaticPath = site.staticDir
	config.Server.StaticRoute = "/static"
	config.Server.HTMLPath = site.htmlDir
	config.Server.TemplatePath = templateDir
	config.Server.PrintRequests = false
	config.Server.UseCacheFile = false
	config.Server.DatabasePath = filepath.Join(dir, "data", "stats.db")
	config.Server.Pages = []PageRoute{
		{Path: "/", File: "app.html"},
		{Path: "/titled", File: "app.html", Keywords: map[string]any{"title": "Titled", "path": "override"}},
		{Path: "/broken", File: "gone.html"},
	}
	config.Render.MappingContext = map[string]any{"site": "Station"}
	if mutate != nil {
		mutate(config)
	}

	data, err := marshalConfig(site.configPath, config)
	if err != nil {
		tb.Fatalf("failed to marshal config: %v", err)
	}
	if err = os.WriteFile(site.configPath, data, 0644); err != nil {
		tb.Fatalf("failed to write config: %v", err)
	}
	return site
}

// setupTestServer opens a Server over a site from setupTestSite.
func setupTestServer(tb testing.TB, site testSite, logger *slog.Logger) (*Server, *sql.DB) {
	tb.Helper()

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cm, err := NewConfigManager(site.configPath)
	if err != nil {
		tb.Fatalf("NewConfigManager failed: %v", err)
	}
	cm.SetLogger(logger)

	db, err := openStatsDB(cm.Get().Server.DatabasePath)
	if err != nil {
		tb.Fatalf("openStatsDB failed: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })

	server, err := NewServer(cm, logger, db, make(chan string, 1))
	if err != nil {
		tb.Fatalf("NewServer failed: %v", err)
	}
	return server, db
}

func doRequest(handler http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestServer_Pages(t *testing.T) {
	server, _ := setupTestServer(t, setupTestSite(t, nil), nil)
	handler := server.Handler()

	header := "<!-- [render] header:start --><h1>Home - Station</h1><!-- [render] header:end -->"
	testCases := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   string
	}{
		{"route", "/", http.StatusOK, "<body>" + header + "/|none</body>"},
		{"route keywords", "/titled", http.StatusOK, "<body>" + header + "override|Titled</body>"},
		{"auto page htm", "/about", http.StatusOK, "about Station"},
		{"auto page not nested", "/x/about", http.StatusNotFound, "missing /x/about"},
		{"not found page", "/nope", http.StatusNotFound, "missing /nope"},
		{"missing page file", "/broken", http.StatusInternalServerError, "Server Error! File Not Found.\n"},
		{"static", "/static/style.css", http.StatusOK, "body {}"},
		{"static nested", "/static/js/a.js", http.StatusOK, "let a;"},
		{"static directory", "/static/empty", http.StatusNotFound, "missing /static/empty"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(handler, http.MethodGet, tc.target)
			if rr.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tc.wantStatus)
			}
			if got := rr.Body.String(); got != tc.wantBody {
				t.Errorf("body = %q, want %q", got, tc.wantBody)
			}
		})
	}
}

func TestServer_StaticTakesPrecedence(t *testing.T) {
	site := setupTestSite(t, func(c *Config) { c.Server.StaticRoute = "/" })
	server, _ := setupTestServer(t, site, nil)

	rr := doRequest(server.Handler(), http.MethodGet, "/about")
	if rr.Code != http.StatusOK || rr.Body.String() != "static about" {
		t.Errorf("expected static file, got %d %q", rr.Code, rr.Body.String())
	}

	// The static route never claims the bare root.
	rr = doRequest(server.Handler(), http.MethodGet, "/")
	if !strings.HasPrefix(rr.Body.String(), "<body>") {
		t.Errorf("expected app page at root, got %q", rr.Body.String())
	}
}

func TestServer_StaticTraversal(t *testing.T) {
	server, _ := setupTestServer(t, setupTestSite(t, nil), nil)

	// Bypass the mux, which would redirect the unclean path.
	req := httptest.NewRequest(http.MethodGet, "/static/style.css", nil)
	req.URL.Path = "/static/../../config.json"
	if server.serveStatic(httptest.NewRecorder(), req) {
		t.Error("expected path outside the static dir to be rejected")
	}
}

func TestServer_AutoPageDisabled(t *testing.T) {
	site := setupTestSite(t, func(c *Config) { c.Server.UseAutoPage = false })
	server, _ := setupTestServer(t, site, nil)

	rr := doRequest(server.Handler(), http.MethodGet, "/about")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestServer_NotFoundWithoutPage(t *testing.T) {
	site := setupTestSite(t, nil)
	if err := os.Remove(filepath.Join(site.htmlDir, "404.html")); err != nil {
		t.Fatalf("failed to remove 404 page: %v", err)
	}
	server, _ := setupTestServer(t, site, nil)

	rr := doRequest(server.Handler(), http.MethodGet, "/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if !strings.Contains(rr.Body.String(), "404 page not found") {
		t.Errorf("expected default not found body, got %q", rr.Body.String())
	}
}

func TestServer_NonGetIsNotFound(t *testing.T) {
	server, _ := setupTestServer(t, setupTestSite(t, nil), nil)

	rr := doRequest(server.Handler(), http.MethodPost, "/")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

func TestServer_LogsPageViews(t *testing.T) {
	server, _ := setupTestServer(t, setupTestSite(t, nil), nil)
	handler := server.Handler()

	for _, target := range []string{"/", "/", "/about", "/nope", "/static/style.css"} {
		doRequest(handler, http.MethodGet, target)
	}

	pages, err := server.statsAPI.TopPages(context.Background(), 10)
	if err != nil {
		t.Fatalf("TopPages failed: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 viewed pages, got %d: %+v", len(pages), pages)
	}
	if pages[0].Path != "/" || pages[0].TotalHits != 2 {
		t.Errorf("unexpected top page: %+v", pages[0])
	}
	if pages[1].Path != "/about" || pages[1].TotalHits != 1 {
		t.Errorf("unexpected second page: %+v", pages[1])
	}
}

func TestServer_PrintRequests(t *testing.T) {
	site := setupTestSite(t, func(c *Config) { c.Server.PrintRequests = true })
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	server, _ := setupTestServer(t, site, logger)

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	req.AddCookie(&http.Cookie{Name: "developers", Value: "true"})
	server.Handler().ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "msg=Request") || !strings.Contains(out, "path=/about") {
		t.Errorf("expected request log line, got %q", out)
	}
	if !strings.Contains(out, "Request from developer") {
		t.Errorf("expected developer log line, got %q", out)
	}
}

func TestServer_GlobalFollowsConfigUpdate(t *testing.T) {
	site := setupTestSite(t, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cm, err := NewConfigManager(site.configPath)
	if err != nil {
		t.Fatalf("NewConfigManager failed: %v", err)
	}
	cm.SetLogger(logger)
	db, err := openStatsDB(cm.Get().Server.DatabasePath)
	if err != nil {
		t.Fatalf("openStatsDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	server, err := NewServer(cm, logger, db, make(chan string, 1))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	updated := cm.Get()
	updated.Render = &RenderConfig{MappingContext: map[string]any{"site": "Updated"}}
	if err = cm.Update(updated); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	rr := doRequest(server.Handler(), http.MethodGet, "/about")
	if got := rr.Body.String(); got != "about Updated" {
		t.Errorf("body = %q, want %q", got, "about Updated")
	}
}
