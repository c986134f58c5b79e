package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/a3tai/mcp-form-assistant/internal/config"
	"github.com/a3tai/mcp-form-assistant/internal/logging"
	"github.com/a3tai/mcp-form-assistant/internal/mcp"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// loggerOptions configures logging based on the server mode. In stdio mode
// stdout carries the protocol, so only errors are logged unless debugging.
func loggerOptions(cfg *config.Config) logging.Options {
	return logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Quiet:  cfg.IsStdioMode() && !cfg.IsDebug(),
	}
}

// run creates the MCP server and serves until ctx is cancelled or the
// transport stops.
func run(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...mcp.Option) error {
	opts = append([]mcp.Option{mcp.WithLogger(logger)}, opts...)
	server, err := mcp.NewServer(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Server stopped", nil)
	return nil
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion(os.Stdout)
			return
		}
	}

	// Load configuration from flags first
	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	logger := logging.New(loggerOptions(cfg))
	defer func() { _ = logger.Sync() }()

	logger.Debug("Starting with configuration", map[string]interface{}{"config": cfg.String()})

	// Set up context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Form assistant stopped with error", nil)
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "MCP Form Assistant\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", gitCommit)
	fmt.Fprintf(w, "Built with: %s\n", runtime.Version())
}
