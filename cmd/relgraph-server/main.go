package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/systemshift/relgraph/internal/server/app"
	"github.com/systemshift/relgraph/internal/server/config"
	"github.com/systemshift/relgraph/internal/server/logging"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("invalid configuration", logging.Err(err))
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start relationship engine", logging.Err(err))
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start subscription dispatch", logging.Err(err))
		a.Close()
		os.Exit(1)
	}

	// Serve blocks until SIGINT/SIGTERM, then shuts down gracefully
	serveErr := a.Serve(ctx, cfg.Port, cfg.ShutdownTimeout)
	if err := a.Close(); err != nil {
		logger.Warn("error during close", logging.Err(err))
	}
	if serveErr != nil {
		logger.Error("server stopped", logging.Err(serveErr))
		os.Exit(1)
	}
}
