package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Quperqwq/message-station/pkg/render"
	"github.com/Quperqwq/message-station/pkg/store"
)

// notFoundPage is rendered, with a 404 status, for GET requests that match
// no page or static file.
const notFoundPage = "404.html"

type Server struct {
	config      Config
	db          *sql.DB
	logger      *slog.Logger
	store       *store.FileStore
	renderer    *render.Renderer
	routes      map[string]PageRoute
	templateAPI *TemplateAPI
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	dispatchAPI *DispatchAPI
	mux         *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	fs, err := store.New(logger, config.Server.HTMLPath, config.Server.TemplatePath, config.Server.UseCacheFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create page store: %w", err)
	}
	renderer := render.New(logger, fs)
	cm.SetRenderer(renderer)

	routes := make(map[string]PageRoute, len(config.Server.Pages))
	for _, route := range config.Server.Pages {
		routes[route.Path] = route
	}

	server := &Server{
		config:      config,
		db:          db,
		logger:      logger,
		store:       fs,
		renderer:    renderer,
		routes:      routes,
		templateAPI: NewTemplateAPI(fs, renderer, logger),
		statsAPI:    NewStatsAPI(db, logger),
		serverAPI:   NewServerAPI(cm, actionChan, logger),
		dispatchAPI: NewDispatchAPI(logger),
		mux:         http.NewServeMux(),
	}
	registerBuiltinTargets(server.dispatchAPI, renderer, fs)

	server.templateAPI.RegisterRoutes(server.mux)
	server.statsAPI.RegisterRoutes(server.mux)
	server.serverAPI.RegisterRoutes(server.mux)
	server.dispatchAPI.RegisterRoutes(server.mux)
	server.mux.HandleFunc("/", server.handlePage)

	return server, nil
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	if s.config.Server.PrintRequests {
		return s.logRequests(s.mux)
	}
	return s.mux
}

// logRequests logs every request before passing it on.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info("Request", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		if cookie, err := r.Cookie("developers"); err == nil && strings.EqualFold(cookie.Value, "true") {
			s.logger.Debug("Request from developer", "remote_addr", r.RemoteAddr)
		}
		next.ServeHTTP(w, r)
	})
}

// handlePage serves, in order: static files, configured page routes, auto
// pages, and finally the 404 page.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.handleNotFound(w, r)
		return
	}
	if s.serveStatic(w, r) {
		return
	}
	if route, ok := s.routes[r.URL.Path]; ok {
		s.servePage(w, r, route.File, route.Keywords, http.StatusOK)
		return
	}
	if file, ok := s.autoPage(r.URL.Path); ok {
		s.servePage(w, r, file, nil, http.StatusOK)
		return
	}
	s.handleNotFound(w, r)
}

// autoPage maps /name to name.html or name.htm when auto pages are enabled.
func (s *Server) autoPage(urlPath string) (string, bool) {
	if !s.config.Server.UseAutoPage {
		return "", false
	}
	name := strings.TrimPrefix(urlPath, "/")
	if name == "" {
		return "", false
	}
	for _, ext := range []string{".html", ".htm"} {
		if _, err := s.store.Page(name + ext); err == nil {
			return name + ext, true
		}
	}
	return "", false
}

// serveStatic writes the file under the static route matching the request,
// reporting whether there was one. Directories are never listed.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	route := s.config.Server.StaticRoute
	if !strings.HasSuffix(route, "/") {
		route += "/"
	}
	rel, ok := strings.CutPrefix(r.URL.Path, route)
	if !ok || rel == "" || s.config.Server.StaticPath == "" {
		return false
	}
	name := filepath.Join(s.config.Server.StaticPath, filepath.FromSlash(path.Clean("/"+rel)))
	info, err := os.Stat(name)
	if err != nil || info.IsDir() {
		return false
	}
	http.ServeFile(w, r, name)
	return true
}

// servePage renders a page file and writes it with the given status.
func (s *Server) servePage(w http.ResponseWriter, r *http.Request, file string, keywords map[string]any, status int) {
	text, err := s.store.Page(file)
	if err != nil {
		s.logger.Error("Failed to read page", "file", file, "error", err)
		http.Error(w, "Server Error! File Not Found.", http.StatusInternalServerError)
		return
	}

	request := render.Merge(render.Context{"path": r.URL.Path}, keywords)
	body := s.renderer.Render(text, request)

	if status == http.StatusOK {
		if err = s.statsAPI.LogPageView(r.Context(), r.URL.Path); err != nil {
			s.logger.Warn("Failed to log page view", "path", r.URL.Path, "error", err)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, err := s.store.Page(notFoundPage); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("Failed to read 404 page", "error", err)
		}
		http.NotFound(w, r)
		return
	}
	s.logger.Debug("Serving 404 page", "path", r.URL.Path)
	s.servePage(w, r, notFoundPage, nil, http.StatusNotFound)
}
