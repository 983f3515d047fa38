// cmd/smart-context-mcp/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/randalmurphy/smart-context-mcp/internal/config"
	"github.com/randalmurphy/smart-context-mcp/internal/indexer"
	"github.com/randalmurphy/smart-context-mcp/internal/intent"
	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
)

const (
	serverName    = "smart-context-mcp"
	serverVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "smart-context-mcp",
	Short: "MCP server for project-aware code intelligence",
	Long:  `An MCP (Model Context Protocol) server exposing search, relationship analysis, and transactional editing tools over a single project tree.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long:  `Start the MCP server listening on stdin/stdout for JSON-RPC messages.`,
	RunE:  runServe,
}

var (
	projectRoot string
	configPath  string
	logFile     string
)

func init() {
	serveCmd.Flags().StringVar(&projectRoot, "root", "", "Project root to serve (defaults to the working directory)")
	serveCmd.Flags().StringVar(&configPath, "config", "", "Config file path (defaults to <root>/.smart-context/config.yaml)")
	serveCmd.Flags().StringVar(&logFile, "log-file", "", "Log file path (defaults to <root>/.smart-context/logs/server.log)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	root := projectRoot
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return err
		}
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(root, ".smart-context", "config.yaml")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()

	// Logging goes to a file or nowhere; stdout is the transport.
	logger, cleanup, err := setupLogging(cfg, root)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()

	logger.Info("starting MCP server", "name", serverName, "version", serverVersion, "root", root)

	// One server instance per project store.
	lock, err := acquireLock(cfg, root)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	engine, err := intent.NewEngine(root, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.Close()

	router := intent.NewRouter(engine)
	server := mcp.NewServer(serverName, serverVersion, router, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background watcher keeps the index warm between requests; requests
	// still run their own freshness pass.
	if cfg.EngineMode != "test" {
		watcher := indexer.NewWatcher(engine.Indexer, 0, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("filesystem watcher unavailable", "error", err)
		}
	}

	if cfg.Heartbeat {
		go heartbeat(ctx, logger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case err := <-done:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
		select {
		case <-done:
			logger.Info("server stopped")
			return nil
		case <-time.After(time.Duration(cfg.ShutdownTimeoutMs) * time.Millisecond):
			logger.Error("shutdown timeout exceeded, forcing exit")
			cleanup()
			os.Exit(1)
			return nil
		}
	}
}

func acquireLock(cfg *config.Config, root string) (*flock.Flock, error) {
	dataDir := cfg.DataDirFor(root)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(dataDir, "index.db.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire project lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another smart-context process already serves %s", root)
	}
	return lock, nil
}

func heartbeat(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("heartbeat")
		}
	}
}

func setupLogging(cfg *config.Config, root string) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Logging.Level)

	if !cfg.Logging.ToFile && logFile == "" {
		logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
		return logger, func() {}, nil
	}

	path := logFile
	if path == "" {
		logDir := cfg.LogDir(root)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		path = filepath.Join(logDir, "server.log")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { _ = f.Close() }, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
