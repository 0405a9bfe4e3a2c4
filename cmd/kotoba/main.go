package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ashita-ai/kotoba"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	level := slog.LevelInfo
	if os.Getenv("KOTOBA_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := kotoba.New(
		kotoba.WithLogger(logger),
		kotoba.WithVersion(version),
	)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
