package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Quperqwq/message-station/pkg/render"
)

// DispatchRequest is the body of a POST /api call. The "target" field picks
// the handler; every other field is handler specific.
type DispatchRequest map[string]any

// Target returns the handler name of the request.
func (req DispatchRequest) Target() string {
	target, _ := req["target"].(string)
	return target
}

// DispatchResponse is the body written back for every POST /api call.
type DispatchResponse struct {
	Valid      bool   `json:"valid"`
	Message    string `json:"message,omitempty"`
	DetMessage string `json:"det_message,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// DispatchError is returned by handlers to mark the call invalid. Message
// is a short machine-readable code, Detail is for humans.
type DispatchError struct {
	Message string
	Detail  string
}

func (e *DispatchError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ": " + e.Detail
}

// DispatchFunc handles one API target. The returned data is sent as the
// response's "data" field.
type DispatchFunc func(ctx context.Context, req DispatchRequest) (any, error)

// DispatchAPI routes POST /api calls to handlers registered by target name.
type DispatchAPI struct {
	logger   *slog.Logger
	handlers map[string]DispatchFunc
	mu       sync.RWMutex
}

// NewDispatchAPI creates a DispatchAPI with no targets.
func NewDispatchAPI(logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{
		logger:   logger,
		handlers: map[string]DispatchFunc{},
	}
}

// Handle registers fn for target, replacing any previous handler.
func (d *DispatchAPI) Handle(target string, fn DispatchFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[target] = fn
}

func (d *DispatchAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api", d.handleDispatch)
}

func (d *DispatchAPI) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req DispatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTemplateSize)).Decode(&req); err != nil || req == nil {
		respondWithJSON(w, http.StatusOK, DispatchResponse{Message: "bad_request"})
		return
	}

	target := req.Target()
	d.mu.RLock()
	fn, ok := d.handlers[target]
	d.mu.RUnlock()
	if !ok {
		respondWithJSON(w, http.StatusOK, DispatchResponse{Message: "target_not_found"})
		return
	}

	d.logger.Debug("Dispatching API call", "target", target)
	data, err := fn(r.Context(), req)
	if err != nil {
		res := DispatchResponse{Message: "internal_error", DetMessage: err.Error()}
		var de *DispatchError
		if errors.As(err, &de) {
			res.Message, res.DetMessage = de.Message, de.Detail
		} else {
			d.logger.Error("API target failed", "target", target, "error", err)
		}
		respondWithJSON(w, http.StatusOK, res)
		return
	}
	respondWithJSON(w, http.StatusOK, DispatchResponse{Valid: true, Data: data})
}

// registerBuiltinTargets adds the targets every server provides.
func registerBuiltinTargets(d *DispatchAPI, renderer *render.Renderer, templates render.Store) {
	d.Handle("version", func(_ context.Context, _ DispatchRequest) (any, error) {
		return currentVersion(), nil
	})
	d.Handle("templates", func(_ context.Context, _ DispatchRequest) (any, error) {
		return templates.TemplateNames(), nil
	})
	d.Handle("render", func(_ context.Context, req DispatchRequest) (any, error) {
		body, ok := req["body"].(string)
		if !ok {
			return nil, &DispatchError{Message: "bad_request", Detail: "body must be a string"}
		}
		var keywords render.Context
		switch kw := req["keywords"].(type) {
		case nil:
		case map[string]any:
			keywords = kw
		default:
			return nil, &DispatchError{Message: "bad_request", Detail: "keywords must be an object"}
		}
		return renderer.Render(body, keywords), nil
	})
}
