// Package main is the entry point for the Kafka to ClickHouse ingest bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sqlsentry/internal/bridge"
	"sqlsentry/internal/config"
	"sqlsentry/internal/logstore"
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
		fmt.Printf("sqlsentry-ingest %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"brokers", cfg.Bridge.Brokers,
		"topic", cfg.Bridge.Topic,
		"group", cfg.Bridge.GroupID,
		"clickhouse", cfg.Store.ClickHouse.Addrs,
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

	writer, err := logstore.NewBatchWriter(client, cfg.Store.Mapping, cfg.Store.Writer, logger)
	if err != nil {
		slog.Error("failed to build batch writer", "error", err)
		os.Exit(1)
	}

	br, err := bridge.New(cfg.Bridge, writer, logger)
	if err != nil {
		slog.Error("failed to build bridge", "error", err)
		os.Exit(1)
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	runErr := br.Run(ctx)

	if err := br.Close(); err != nil {
		slog.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		slog.Error("batch writer close error", "error", err)
	}
	if err := client.Close(); err != nil {
		slog.Error("clickhouse close error", "error", err)
	}

	bm := br.Metrics()
	wm := writer.Metrics()
	slog.Info("shutdown complete",
		"consumed", bm.Consumed,
		"skipped", bm.Skipped,
		"errors", bm.Errors,
		"written", wm.Written,
		"batches", wm.Batches,
	)

	if runErr != nil {
		slog.Error("bridge exited with error", "error", runErr)
		os.Exit(1)
	}
}
