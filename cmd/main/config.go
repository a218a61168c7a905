package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Quperqwq/message-station/pkg/render"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// PageRoute maps a URL path to a page file in the html directory.
type PageRoute struct {
	Path string `json:"path" yaml:"path"`
	File string `json:"file" yaml:"file"`
	// Keywords are handed to the renderer along with the request path and
	// take precedence over every other keyword layer.
	Keywords map[string]any `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// ServerConfig holds the configuration for the HTTP server.
type ServerConfig struct {
	ServerAddr    string      `json:"server_addr" yaml:"server_addr"`
	LogLevel      string      `json:"log_level" yaml:"log_level"`
	StaticPath    string      `json:"static_path" yaml:"static_path"`
	StaticRoute   string      `json:"static_route" yaml:"static_route"`
	HTMLPath      string      `json:"html_path" yaml:"html_path"`
	TemplatePath  string      `json:"template_path" yaml:"template_path"`
	PrintRequests bool        `json:"print_requests" yaml:"print_requests"`
	UseCacheFile  bool        `json:"use_cache_file" yaml:"use_cache_file"`
	UseAutoPage   bool        `json:"use_auto_page" yaml:"use_auto_page"`
	DatabasePath  string      `json:"database_path" yaml:"database_path"`
	Pages         []PageRoute `json:"pages" yaml:"pages"`
}

// RenderConfig holds the settings of the page renderer.
type RenderConfig struct {
	// MappingContext is the global keyword layer, applied on top of the
	// renderer's defaults for every page and included template.
	MappingContext map[string]any `json:"mapping_context" yaml:"mapping_context"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server *ServerConfig `json:"server_config" yaml:"server_config"`
	Render *RenderConfig `json:"render_config" yaml:"render_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:    "0.0.0.0:27000",
		LogLevel:      "info",
		StaticPath:    "./src/static",
		StaticRoute:   "/",
		HTMLPath:      "./src/html",
		TemplatePath:  "./src/html/template",
		PrintRequests: true,
		UseCacheFile:  true,
		UseAutoPage:   true,
		DatabasePath:  "./data/message_station.db",
		Pages: []PageRoute{
			{Path: "/", File: "app.html"},
			{Path: "/dev", File: "dev.html"},
			{Path: "/status/404", File: "404.html"},
		},
	}
}

// DefaultRenderConfig creates a renderer configuration with default values.
func DefaultRenderConfig() *RenderConfig {
	return &RenderConfig{
		MappingContext: map[string]any{},
	}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: DefaultServerConfig(),
		Render: DefaultRenderConfig(),
	}
}

// isYAML reports whether the config at path should be read as YAML rather
// than JSON.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from a JSON or YAML file at the given
// path, picking the format by extension. If the file doesn't exist, it
// creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	// sections missing from the file fall back to their defaults
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Render == nil {
		config.Render = DefaultRenderConfig()
	}
	return config, nil
}

// ConfigManager handles thread-safe access to the configuration and keeps
// the renderer's global keyword layer in sync with it.
type ConfigManager struct {
	config     *Config
	mu         sync.RWMutex
	configPath string
	logger     *slog.Logger
	renderer   *render.Renderer
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	return &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}, nil
}

// SetRenderer registers the renderer to receive config updates.
func (cm *ConfigManager) SetRenderer(r *render.Renderer) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.renderer = r
	if r != nil {
		r.SetGlobal(cm.config.Render.MappingContext)
	}
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update replaces the configuration, saves it to disk and pushes the new
// global keyword layer to the renderer. Server settings only take effect
// after a restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Render == nil {
		return fmt.Errorf("config must contain both server_config and render_config")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := marshalConfig(cm.configPath, &newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig
	if cm.renderer != nil {
		cm.renderer.SetGlobal(newConfig.Render.MappingContext)
	}
	cm.logger.Info("Configuration updated", "path", cm.configPath)
	return nil
}
