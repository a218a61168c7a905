package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/Quperqwq/message-station/pkg/render"
	"github.com/Quperqwq/message-station/pkg/store"
)

// maxTemplateSize caps request bodies for template uploads and previews.
const maxTemplateSize = 1 << 20

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	store    *store.FileStore
	renderer *render.Renderer
	logger   *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(fs *store.FileStore, renderer *render.Renderer, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		store:    fs,
		renderer: renderer,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// handleRefresh reloads pages and templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := t.store.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns a list of all available template names.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, t.store.TemplateNames())
}

// handlePreview renders the request body as a page. Query parameters become
// request keywords.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateSize))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}

	keywords := render.Context{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			keywords[key] = values[len(values)-1]
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, t.renderer.Render(string(body), keywords))
}

// handleFile manages CRUD operations for a single template.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !slices.Contains(t.store.TemplateNames(), name) {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, t.store.TemplateText(name))

	case http.MethodPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateSize))
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = t.store.WriteTemplate(name, string(body)); err != nil {
			t.respondStoreError(w, err)
			return
		}
		t.logger.Info("Template written via API", "template", name)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := t.store.DeleteTemplate(name); err != nil {
			t.respondStoreError(w, err)
			return
		}
		t.logger.Info("Template deleted via API", "template", name)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (t *TemplateAPI) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidName):
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
	case errors.Is(err, store.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Template not found")
	default:
		t.logger.Error("Template store operation failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
