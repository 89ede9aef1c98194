package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedbridge/feedbridge/internal/coordinator"
	"github.com/feedbridge/feedbridge/internal/coordinator/config"
)

const (
	appVersion      = "0.1.0"
	shutdownTimeout = 5 * time.Second
	sweepInterval   = config.DefaultNotificationSweepInterval
)

var (
	version    = flag.Bool("version", false, "Print version and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	httpMode   = flag.Bool("http", false, "Serve MCP over HTTP/SSE instead of stdio")
	configPath = flag.String("config", "", "Path to YAML config file")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("feedbridge v%s\n", appVersion)
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	httpAddr := os.Getenv("FEEDBRIDGE_MCP_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	logger.Info("Starting feedbridge",
		"version", appVersion,
		"debug", *debug,
		"listen_addr", cfg.ListenAddr,
		"session_timeout", cfg.SessionTimeout,
		"shutdown_grace", cfg.ShutdownGrace,
		"retry_cap", cfg.RetryCap,
	)

	coord := coordinator.NewWithWebSocket(cfg, logger)
	mcpServer := coordinator.NewMCPServer(coordinator.MCPConfig{
		Name:    "feedbridge",
		Version: appVersion,
	}, coord, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Serve the agent-facing MCP surface. The UI WebSocket listener is
	// started lazily by the coordinator on the first submitted request.
	go func() {
		if *httpMode {
			logger.Info("Serving MCP over HTTP/SSE", "addr", httpAddr)
			if err := mcpServer.ServeHTTP(httpAddr); err != nil {
				logger.Error("MCP server error", "error", err)
				cancel()
			}
		} else {
			logger.Info("Serving MCP on stdio")
			if err := mcpServer.Serve(); err != nil {
				logger.Error("MCP server error", "error", err)
				cancel()
			}
		}
	}()

	// Evict aged notifications in the background.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := coord.SweepNotifications(); removed > 0 {
					logger.Info("Evicted aged notifications", "count", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context canceled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("feedbridge shutdown complete")
}
