package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PurpleCreativity/Amethyst-sub001/internal/bot"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/config"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/store"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/sweep"
	"github.com/PurpleCreativity/Amethyst-sub001/internal/web"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logging
	setupLogging(cfg.LogLevel)

	slog.Info("Starting Amethyst")

	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Open the shared profile store
	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Create and start the bot
	b, err := bot.New(cfg, st)
	if err != nil {
		slog.Error("Failed to create bot", "error", err)
		os.Exit(1)
	}
	if err := b.Start(ctx); err != nil {
		slog.Error("Failed to start bot", "error", err)
		os.Exit(1)
	}

	// Background rank-lock sweeper
	sweeper, err := sweep.New(st, time.Duration(cfg.RankSweepMinutes)*time.Minute)
	if err != nil {
		slog.Error("Failed to create sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	// Companion web service (OAuth linking + guild API + metrics)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return web.NewServer(cfg, st).Run(gctx)
	})

	slog.Info("Amethyst is running. Press Ctrl+C to stop.")

	if err := g.Wait(); err != nil {
		slog.Error("Service error", "error", err)
	}

	slog.Info("Shutting down...")

	if err := sweeper.Stop(); err != nil {
		slog.Error("Error stopping sweeper", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := b.Stop(stopCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	slog.Info("Amethyst stopped")
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
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

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
