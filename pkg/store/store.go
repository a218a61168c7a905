package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

var (
	// ErrNotFound is returned when a page or template doesn't exist.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidName is returned for names that are empty or would leave
	// the store's directories.
	ErrInvalidName = errors.New("invalid file name")

	// ErrInvalidPath is returned by New when a store directory is missing.
	ErrInvalidPath = errors.New("invalid path")
)

// FileStore serves raw page and template text from two directories.
// All methods are concurrent-safe.
type FileStore struct {
	logger      *slog.Logger
	htmlDir     string
	templateDir string
	useCache    bool

	// filled by Refresh when useCache is set
	pages     map[string]string // file name -> text
	templates map[string]string // template name -> text
	mu        sync.RWMutex
}

// New creates a FileStore over htmlDir and templateDir. With useCache set,
// the files are read once here and again on every Refresh; otherwise every
// lookup goes to disk.
func New(logger *slog.Logger, htmlDir, templateDir string, useCache bool) (*FileStore, error) {
	for _, dir := range []string{htmlDir, templateDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPath, dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, dir)
		}
	}
	s := &FileStore{
		logger:      logger,
		htmlDir:     htmlDir,
		templateDir: templateDir,
		useCache:    useCache,
	}
	if useCache {
		if err := s.Refresh(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Refresh reloads every page and template into the cache. It is a no-op for
// stores that don't cache.
func (s *FileStore) Refresh() error {
	if !s.useCache {
		return nil
	}
	s.logger.Info("Loading page files...", "dir", s.htmlDir)
	pageFiles, err := scanDir(s.htmlDir)
	if err != nil {
		s.logger.Error("failed to list page files", "error", err)
		return err
	}
	pages := make(map[string]string, len(pageFiles))
	for _, file := range pageFiles {
		text, err := os.ReadFile(filepath.Join(s.htmlDir, file))
		if err != nil {
			return fmt.Errorf("failed to read page %q: %w", file, err)
		}
		pages[file] = string(text)
	}

	s.logger.Info("Loading template files...", "dir", s.templateDir)
	templateFiles, err := templateFileMap(s.templateDir)
	if err != nil {
		s.logger.Error("failed to list template files", "error", err)
		return err
	}
	templates := make(map[string]string, len(templateFiles))
	for name, file := range templateFiles {
		text, err := os.ReadFile(filepath.Join(s.templateDir, file))
		if err != nil {
			return fmt.Errorf("failed to read template %q: %w", file, err)
		}
		templates[name] = string(text)
	}

	s.mu.Lock()
	s.pages = pages
	s.templates = templates
	s.mu.Unlock()
	s.logger.Info("Loaded page and template files", "pages", len(pages), "templates", len(templates))
	return nil
}

// TemplateNames returns the sorted names of all templates, without file
// extensions.
func (s *FileStore) TemplateNames() []string {
	var names []string
	if s.useCache {
		s.mu.RLock()
		names = make([]string, 0, len(s.templates))
		for name := range s.templates {
			names = append(names, name)
		}
		s.mu.RUnlock()
	} else {
		files, err := templateFileMap(s.templateDir)
		if err != nil {
			s.logger.Warn("Failed to list template files", "dir", s.templateDir, "error", err)
			return nil
		}
		names = make([]string, 0, len(files))
		for name := range files {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// TemplateText returns the raw text of the named template, or an empty
// string if it doesn't exist.
func (s *FileStore) TemplateText(name string) string {
	if s.useCache {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.templates[name]
	}
	file, err := s.templateFile(name)
	if err != nil {
		return ""
	}
	text, err := os.ReadFile(filepath.Join(s.templateDir, file))
	if err != nil {
		s.logger.Warn("Failed to read template file", "template", name, "error", err)
		return ""
	}
	return string(text)
}

// Page returns the raw text of the page stored under filename, which must
// include its extension.
func (s *FileStore) Page(filename string) (string, error) {
	if !validName(filename) || !isHTML(filename) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	if s.useCache {
		s.mu.RLock()
		defer s.mu.RUnlock()
		text, ok := s.pages[filename]
		if !ok {
			return "", fmt.Errorf("page %q: %w", filename, ErrNotFound)
		}
		return text, nil
	}
	text, err := os.ReadFile(filepath.Join(s.htmlDir, filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("page %q: %w", filename, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read page %q: %w", filename, err)
	}
	return string(text), nil
}

// PageNames returns the sorted file names of all pages.
func (s *FileStore) PageNames() []string {
	if s.useCache {
		s.mu.RLock()
		names := make([]string, 0, len(s.pages))
		for name := range s.pages {
			names = append(names, name)
		}
		s.mu.RUnlock()
		sort.Strings(names)
		return names
	}
	names, err := scanDir(s.htmlDir)
	if err != nil {
		s.logger.Warn("Failed to list page files", "dir", s.htmlDir, "error", err)
		return nil
	}
	return names
}

// WriteTemplate atomically replaces the named template with text, creating
// it as name.html if it doesn't exist yet.
func (s *FileStore) WriteTemplate(name, text string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	file, err := s.templateFile(name)
	if errors.Is(err, ErrNotFound) {
		file = name + ".html"
	} else if err != nil {
		return err
	}
	if err = atomic.WriteFile(filepath.Join(s.templateDir, file), strings.NewReader(text)); err != nil {
		return fmt.Errorf("failed to write template %q: %w", name, err)
	}
	if s.useCache {
		s.mu.Lock()
		s.templates[name] = text
		s.mu.Unlock()
	}
	return nil
}

// DeleteTemplate removes the named template from disk and from the cache.
func (s *FileStore) DeleteTemplate(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	file, err := s.templateFile(name)
	if err != nil {
		return err
	}
	if err = os.Remove(filepath.Join(s.templateDir, file)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("template %q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to delete template %q: %w", name, err)
	}
	if s.useCache {
		s.mu.Lock()
		delete(s.templates, name)
		s.mu.Unlock()
	}
	return nil
}

// HTMLDir returns the directory pages are read from.
func (s *FileStore) HTMLDir() string {
	return s.htmlDir
}

// TemplateDir returns the directory templates are read from.
func (s *FileStore) TemplateDir() string {
	return s.templateDir
}

// templateFile maps a template name to its file name on disk.
func (s *FileStore) templateFile(name string) (string, error) {
	files, err := templateFileMap(s.templateDir)
	if err != nil {
		return "", err
	}
	file, ok := files[name]
	if !ok {
		return "", fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	return file, nil
}

// templateFileMap lists the HTML files in dir keyed by name without
// extension. When both name.html and name.htm exist, name.html wins.
func templateFileMap(dir string) (map[string]string, error) {
	files, err := scanDir(dir)
	if err != nil {
		return nil, err
	}
	res := make(map[string]string, len(files))
	for _, file := range files {
		ext := filepath.Ext(file)
		name := strings.TrimSuffix(file, ext)
		if existing, ok := res[name]; ok && filepath.Ext(existing) == ".html" {
			continue
		}
		res[name] = file
	}
	return res, nil
}

// scanDir returns the sorted names of the regular HTML files directly
// inside dir.
func scanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %q: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isHTML(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	return files, nil
}

func isHTML(name string) bool {
	switch filepath.Ext(name) {
	case ".html", ".htm":
		return true
	}
	return false
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}
