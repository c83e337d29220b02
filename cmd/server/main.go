// Package main is the entry point for the fleetchat server.
//
// The main package stays minimal. Its job is to:
// 1. Read configuration (.env file, then environment variables)
// 2. Create the logger
// 3. Start the application and stop it on SIGINT / SIGTERM
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/fleetchat/internal/config"
	"github.com/sakif/fleetchat/internal/server"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Log levels (from least to most severe): Debug → Info → Warn → Error
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		// JWT_SECRET must be a long random string, e.g. JWT_SECRET=$(openssl rand -hex 32)
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	if !cfg.Google.Enabled() && !cfg.GitHub.Enabled() {
		logger.Info("no federated provider configured, only username/password sign-in is available")
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
