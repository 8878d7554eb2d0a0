// Package main provides the live terminal viewer for the query log.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"sqlsentry/internal/config"
	"sqlsentry/internal/detect"
	"sqlsentry/internal/logstore"
	"sqlsentry/internal/tui"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		configPath  string
	)
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	if showVersion {
		fmt.Printf("sqlsentry-top %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client, err := logstore.NewClient(cfg.Store.ClickHouse)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot connect to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	// The alternate screen owns the terminal, so component logs are
	// discarded rather than written over the view.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reader, err := logstore.NewReader(client, cfg.Store.Mapping, cfg.Store.Reader, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := tui.Run(reader, detect.NewMatcher(), cfg.Viewer); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
