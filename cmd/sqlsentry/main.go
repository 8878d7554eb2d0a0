// Package main is the entry point for the sqlsentry monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sqlsentry/internal/checkpoint"
	"sqlsentry/internal/config"
	"sqlsentry/internal/detect"
	"sqlsentry/internal/logstore"
	"sqlsentry/internal/monitor"
	"sqlsentry/internal/notify"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		configPath  string
	)
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	if showVersion {
		fmt.Printf("sqlsentry %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateMonitor(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"clickhouse", cfg.Store.ClickHouse.Addrs,
		"table", cfg.Store.Mapping.Table,
		"poll_interval", cfg.Monitor.PollInterval,
		"checkpoint_backend", cfg.Checkpoint.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := logstore.NewClient(cfg.Store.ClickHouse)
	if err != nil {
		slog.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}

	if err := logstore.EnsureSchema(ctx, client, cfg.Store.Mapping); err != nil {
		slog.Error("failed to ensure query-log schema", "error", err)
		os.Exit(1)
	}

	reader, err := logstore.NewReader(client, cfg.Store.Mapping, cfg.Store.Reader, logger)
	if err != nil {
		slog.Error("failed to build log reader", "error", err)
		os.Exit(1)
	}

	checkpoints, err := checkpoint.New(ctx, cfg.Checkpoint)
	if err != nil {
		slog.Error("failed to open checkpoint store", "error", err)
		os.Exit(1)
	}

	notifier, err := notify.NewTelegram(cfg.Telegram, logger)
	if err != nil {
		slog.Error("failed to authorize telegram bot", "error", err)
		os.Exit(1)
	}

	classifier := detect.NewClassifier(detect.NewMatcher())
	mon := monitor.New(cfg.Monitor, reader, notifier, checkpoints, classifier, logger)

	// /status and /start replies share the notifier's bot session.
	bot := notify.NewCommandBot(notifier, mon, logger)
	go bot.Run(ctx)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	runErr := mon.Run(ctx)

	if err := checkpoints.Close(); err != nil {
		slog.Error("checkpoint store close error", "error", err)
	}
	if err := client.Close(); err != nil {
		slog.Error("clickhouse close error", "error", err)
	}

	if runErr != nil {
		slog.Error("monitor exited with error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
