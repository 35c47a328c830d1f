// recorder connects to a statboard server and persists connection state
// transitions and latency samples to PostgreSQL for the dashboard's
// audit/history view.
// Usage: go run ./cmd/recorder --config configs/statboard.example.yaml
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

	"golang.org/x/sync/errgroup"

	"github.com/statboard/statboard/client"
	"github.com/statboard/statboard/internal/config"
	"github.com/statboard/statboard/internal/database"
	"github.com/statboard/statboard/internal/recorder"
	"github.com/statboard/statboard/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/statboard.example.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if !cfg.Recorder.Enabled {
		logger.Error("recorder.enabled must be true for this binary")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	pool, err := database.Connect(ctx, cfg.Recorder.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	cli := client.New(cfg.ClientConfig(), logger)
	defer cli.Close()

	rec := recorder.New(recorder.Config{
		BatchSize:     cfg.Recorder.BatchSize,
		FlushInterval: cfg.Recorder.FlushInterval,
	}, cli, pool, logger)

	if err := rec.Start(ctx); err != nil {
		logger.Error("failed to start recorder", "error", err)
		os.Exit(1)
	}

	if err := cli.Connect(cfg.Server.URL); err != nil {
		logger.Error("invalid target", "url", cfg.Server.URL, "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		readyCtx, readyCancel := context.WithTimeout(gctx, 30*time.Second)
		defer readyCancel()
		if err := cli.WaitForReady(readyCtx); err != nil {
			return fmt.Errorf("connection never became ready: %w", err)
		}
		logger.Info("recording connection history", "url", cfg.Server.URL)
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("recorder failed", "error", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := rec.Stop(stopCtx); err != nil {
		logger.Warn("recorder stop failed", "error", err)
	}

	stats := rec.Stats()
	logger.Info("recorder summary",
		"inserts", stats.Inserts,
		"flushes", stats.Flushes,
		"errors", stats.Errors,
		"dropped", stats.Dropped,
	)
}
