package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: false,
		Level:     cfg.SlogLevel(),
	}))

	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := NewPostgreSQLDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to init the database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	media, err := NewMediaStore(cfg)
	if err != nil {
		slog.Error("Failed to init the media store", "error", err)
		os.Exit(1)
	}

	server := NewAPIServer(db, media, cfg)
	if err := server.Run(ctx); err != nil {
		slog.Error("Server run error", "error", err)
		os.Exit(1)
	}
}
