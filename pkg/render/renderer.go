package render

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Store is the source of the templates that inclusion tags refer to.
type Store interface {
	// TemplateNames lists the names that can be included, without file
	// extensions.
	TemplateNames() []string

	// TemplateText returns the raw text of a template. It is only called
	// with names returned by TemplateNames.
	TemplateText(name string) string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithClock sets the function used to read the current time when building
// the default keyword layer. It defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		r.now = now
	}
}

// WithGlobal sets the initial global keyword layer.
func WithGlobal(global Context) Option {
	return func(r *Renderer) {
		r.global = Merge(global)
	}
}

// Renderer resolves inclusion and substitution tags in page text.
// All methods are concurrent-safe.
type Renderer struct {
	logger *slog.Logger
	store  Store
	now    func() time.Time
	global Context
	mu     sync.RWMutex
}

// New creates a Renderer reading templates from store. A nil store renders
// every inclusion tag as empty text.
func New(logger *slog.Logger, store Store, opts ...Option) *Renderer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Renderer{
		logger: logger,
		store:  store,
		now:    time.Now,
		global: Context{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetGlobal replaces the global keyword layer. Renders already in progress
// keep the layer they started with.
func (r *Renderer) SetGlobal(global Context) {
	global = Merge(global)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = global
}

// Global returns a copy of the global keyword layer.
func (r *Renderer) Global() Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Merge(r.global)
}

// Render returns body with every inclusion tag replaced by the rendered
// template it names and every substitution tag replaced by its keyword.
// request holds the highest-precedence keywords and only applies to body
// itself, not to the templates it includes.
func (r *Renderer) Render(body string, request Context) string {
	defaults := DefaultContext(r.now())
	global := r.Global()

	expanded := r.expandInclusions(body, Merge(defaults, global))
	return substitute(expanded, Merge(defaults, global, request))
}

// expandInclusions replaces the inclusion tags in body. base is the keyword
// layer every included template starts from. Inclusion tags inside an
// included template are not expanded.
func (r *Renderer) expandInclusions(body string, base Context) string {
	tag, ok := nextInclusion(body, 0)
	if !ok {
		return body
	}
	known := r.knownTemplates()

	var out strings.Builder
	out.Grow(len(body))
	last := 0
	for ok {
		out.WriteString(body[last:tag.start])
		out.WriteString(r.include(tag.content, base, known))
		last = tag.end
		tag, ok = nextInclusion(body, tag.end)
	}
	out.WriteString(body[last:])
	return out.String()
}

func (r *Renderer) include(content string, base Context, known map[string]struct{}) string {
	name, params := parseInclusion(content)
	if _, ok := known[name]; !ok {
		r.logger.Debug("Skipping inclusion of unknown template", "template", name)
		return ""
	}
	nested := base
	if len(params) > 0 {
		nested = Merge(base, params)
	}
	fragment := substitute(r.store.TemplateText(name), nested)
	return makeNote(name, ":start") + fragment + makeNote(name, ":end")
}

func (r *Renderer) knownTemplates() map[string]struct{} {
	if r.store == nil {
		return nil
	}
	names := r.store.TemplateNames()
	known := make(map[string]struct{}, len(names))
	for _, name := range names {
		known[name] = struct{}{}
	}
	return known
}

// makeNote builds the HTML comment that marks where an included template
// starts or ends.
func makeNote(parts ...string) string {
	return "<!-- [render] " + strings.Join(parts, "") + " -->"
}
