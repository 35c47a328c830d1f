// monitor connects to a statboard server and streams connection state
// transitions, latency samples, and server-pushed events to the console.
// Usage: go run ./cmd/monitor --config configs/statboard.example.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statboard/statboard"
	"github.com/statboard/statboard/client"
	"github.com/statboard/statboard/internal/config"
	"github.com/statboard/statboard/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/statboard.example.yaml", "path to config file")
	urlOverride := flag.String("url", "", "server url (overrides config)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	target := cfg.Server.URL
	if *urlOverride != "" {
		target = *urlOverride
	}

	cli := client.New(cfg.ClientConfig(), logger)
	defer cli.Close()

	cli.On(statboard.TopicStateChanged, func(_ string, payload any) {
		logger.Info("state changed", "state", payload)
	})
	cli.On(statboard.TopicLatencyUpdated, func(_ string, payload any) {
		if rtt, ok := payload.(time.Duration); ok {
			logger.Info("latency", "rtt", rtt)
		}
	})
	cli.On(statboard.TopicLatencyDegraded, func(_ string, payload any) {
		logger.Warn("latency degraded", "reason", payload)
	})
	cli.On(statboard.TopicDetailsChanged, func(_ string, payload any) {
		details, ok := payload.(statboard.Details)
		if !ok {
			return
		}
		logger.Debug("details",
			"state", details.State,
			"attempts", details.ReconnectAttempts,
			"events", len(details.Events),
		)
	})

	if err := cli.Connect(target); err != nil {
		logger.Error("invalid target", "url", target, "error", err)
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

	readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readyCancel()
	if err := cli.WaitForReady(readyCtx); err != nil {
		logger.Error("connection never became ready", "error", err)
		os.Exit(1)
	}

	// Quick round trip so a misconfigured server fails loudly.
	payload, err := cli.Request(ctx, "ping", nil, 0)
	if err != nil {
		logger.Warn("initial ping failed", "error", err)
	} else {
		logger.Info("server reachable", "payload", json.RawMessage(payload))
	}

	<-ctx.Done()

	details := cli.Details()
	logger.Info("final connection details",
		"state", details.State,
		"latency", details.Latency,
		"reconnects", details.ReconnectAttempts,
		"history", len(details.Events),
	)
}
