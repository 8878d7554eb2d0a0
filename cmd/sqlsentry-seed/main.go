// Package main seeds the query log with sample records so the monitor
// pipeline can be exercised end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"sqlsentry/internal/config"
	"sqlsentry/internal/logstore"
)

var version = "dev"

// dangerousSamples each trip a different rule, so one seeding run
// produces alerts with distinct reasons. A wide SELECT that matches no
// rule is appended at seed time; only a trained model catches that one.
var dangerousSamples = []string{
	"DROP TABLE users; -- cleanup",
	"DELETE FROM orders",
	"SELECT * FROM accounts WHERE login = 'x' OR 1=1",
}

var benignTemplates = []string{
	"SELECT id, email FROM users WHERE id = %d",
	"SELECT count(*) FROM orders WHERE customer_id = %d",
	"UPDATE sessions SET last_seen = now() WHERE session_id = %d",
	"INSERT INTO audit_log (actor_id, action) VALUES (%d, 'login')",
	"SELECT sku, qty FROM inventory WHERE warehouse_id = %d LIMIT 50",
}

var seedUsers = []string{"app", "reporting", "billing"}

func main() {
	var (
		showVersion bool
		configPath  string
		normal      int
		dangerous   bool
	)
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.IntVar(&normal, "normal", 200, "Number of benign records to seed")
	flag.BoolVar(&dangerous, "dangerous", true, "Seed the dangerous samples as well")
	flag.Parse()

	if showVersion {
		fmt.Printf("sqlsentry-seed %s\n", version)
		os.Exit(0)
	}
	if normal < 0 {
		normal = 0
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

	ctx := context.Background()

	client, err := logstore.NewClient(cfg.Store.ClickHouse)
	if err != nil {
		slog.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := logstore.EnsureSchema(ctx, client, cfg.Store.Mapping); err != nil {
		slog.Error("failed to ensure query-log schema", "error", err)
		os.Exit(1)
	}

	writer, err := logstore.NewBatchWriter(client, cfg.Store.Mapping, cfg.Store.Writer, logger)
	if err != nil {
		slog.Error("failed to build batch writer", "error", err)
		os.Exit(1)
	}

	// Benign rows spread over the past hour form a training window.
	// Dangerous rows get current timestamps so a running monitor picks
	// them up on its next poll.
	now := time.Now().UTC()
	step := time.Hour / time.Duration(normal+1)
	for i := 0; i < normal; i++ {
		rec := logstore.Record{
			ID:        uuid.NewString(),
			Timestamp: now.Add(-time.Hour + time.Duration(i+1)*step),
			Query:     fmt.Sprintf(benignTemplates[i%len(benignTemplates)], i+1),
			User:      seedUsers[i%len(seedUsers)],
			Database:  "shop",
		}
		if err := writer.Write(rec); err != nil {
			slog.Error("failed to write benign record", "error", err)
			os.Exit(1)
		}
	}

	planted := 0
	if dangerous {
		samples := append(append([]string(nil), dangerousSamples...), wideSelect())
		for i, q := range samples {
			rec := logstore.Record{
				ID:        uuid.NewString(),
				Timestamp: now.Add(time.Duration(i) * time.Millisecond),
				Query:     q,
				User:      "intern",
				Database:  "shop",
			}
			if err := writer.Write(rec); err != nil {
				slog.Error("failed to write dangerous record", "error", err)
				os.Exit(1)
			}
			planted++
		}
	}

	if err := writer.Close(); err != nil {
		slog.Error("failed to flush seed records", "error", err)
		os.Exit(1)
	}

	slog.Info("seeding complete",
		"benign", normal,
		"dangerous", planted,
		"table", cfg.Store.Mapping.Table,
	)
}

// wideSelect builds a sprawling projection far outside the benign
// templates in both length and column count.
func wideSelect() string {
	cols := make([]string, 120)
	for i := range cols {
		cols[i] = fmt.Sprintf("col_%d", i)
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM accounts"
}
