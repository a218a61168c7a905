package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Quperqwq/message-station/pkg/render"
	"github.com/Quperqwq/message-station/pkg/store"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	render.Version = Version
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command. Running it without a subcommand
// starts the server.
func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "message-station",
		Short:         "HTTP server that renders HTML pages from reusable templates",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the JSON or YAML config file")
	cmd.AddCommand(newServeCmd(&configPath), newRenderCmd(&configPath), newVersionCmd())
	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(*configPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := currentVersion()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n", info.Version, info.Commit, info.BuildDate)
		},
	}
}

// newRenderCmd renders one page from the html directory to stdout, the same
// way the server would for a request.
func newRenderCmd(configPath *string) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "render <page>",
		Short: "Render a page file to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keywords, err := parseKeywords(sets)
			if err != nil {
				return err
			}
			config, err := LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := newLogger(config.Server.LogLevel, cmd.ErrOrStderr())
			return renderPage(cmd.OutOrStdout(), logger, config, args[0], keywords)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "request keyword as key=value (repeatable)")
	return cmd
}

func renderPage(out io.Writer, logger *slog.Logger, config *Config, file string, keywords render.Context) error {
	fs, err := store.New(logger, config.Server.HTMLPath, config.Server.TemplatePath, config.Server.UseCacheFile)
	if err != nil {
		return fmt.Errorf("failed to create page store: %w", err)
	}
	text, err := fs.Page(file)
	if err != nil {
		return err
	}
	renderer := render.New(logger, fs, render.WithGlobal(config.Render.MappingContext))
	_, err = io.WriteString(out, renderer.Render(text, keywords))
	return err
}

func parseKeywords(sets []string) (render.Context, error) {
	keywords := render.Context{}
	for _, set := range sets {
		key, value, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid keyword %q, expected key=value", set)
		}
		keywords[key] = value
	}
	return keywords, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// serve runs the server until it is shut down, restarting it with a freshly
// loaded config whenever a restart is requested.
func serve(configPath string) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan // Wait for a signal
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for {
		action, err := run(configPath, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Message station has shut down.")
	return nil
}

// run hosts the server once, and returns whenever the server is shutdown or restarted
func run(configPath string, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get()

	logger := newLogger(config.Server.LogLevel, os.Stdout)
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...")

	db, err := openStatsDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	server, err := NewServer(cm, logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	httpServer := &http.Server{
		Addr:              config.Server.ServerAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting message station server", "address", httpServer.Addr,
			"cache_mode", config.Server.UseCacheFile, "auto_page", config.Server.UseAutoPage)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			actionChan <- actionShutdown
		}
	}()

	action := <-actionChan // Block here until API or OS signal sends an action.

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	return action, nil
}
