// Command watcher streams order books and trades from two spot venues,
// derives cross-venue metrics and alerts, and serves them over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"spotwatch/internal/api"
	"spotwatch/internal/config"
	"spotwatch/internal/engine"
)

const defaultConfigPath = "configs/config.json"

func main() {
	path := os.Getenv("WATCHER_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", "path", path, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("starting watcher",
		"seeds", cfg.SeedSymbols,
		"venue_b_pairs", cfg.VenueBPairs,
		"max_symbols", cfg.MaxSymbols,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, logger)
	srv := api.NewServer(eng, eng.REST(), cfg.DepthLimit, cfg.Port, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("api server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Warn("api shutdown", "error", err)
	}
	wg.Wait()
	logger.Info("watcher stopped")
}

// newLogger builds the process logger from the configured level and
// format (text or json).
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
