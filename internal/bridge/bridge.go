// Package bridge consumes query-log messages from Kafka and feeds them
// into the ClickHouse batch writer.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"sqlsentry/internal/logstore"
)

// Config holds Kafka consumer settings.
type Config struct {
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	GroupID  string        `yaml:"group_id"`
	MinBytes int           `yaml:"min_bytes"`
	MaxBytes int           `yaml:"max_bytes"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// DefaultConfig returns settings for a local broker.
func DefaultConfig() Config {
	return Config{
		Brokers:  []string{"localhost:9092"},
		Topic:    "db-query-logs",
		GroupID:  "sqlsentry-ingest",
		MinBytes: 10e3,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("bridge: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("bridge: topic is required")
	}
	if c.GroupID == "" {
		return errors.New("bridge: consumer group id is required")
	}
	return nil
}

// RecordWriter accepts normalized records. *logstore.BatchWriter
// implements it.
type RecordWriter interface {
	Write(rec logstore.Record) error
}

// fetcher is the slice of *kafka.Reader the loop needs.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Bridge moves messages from one topic into the log store. Offsets
// commit only after the writer has accepted the record, so a crash
// replays uncommitted messages instead of losing them.
type Bridge struct {
	reader  fetcher
	writer  RecordWriter
	logger  *slog.Logger
	backoff time.Duration

	metrics bridgeMetrics
}

type bridgeMetrics struct {
	consumed atomic.Uint64
	skipped  atomic.Uint64
	errors   atomic.Uint64
}

// New builds a bridge reading from the configured topic.
func New(cfg Config, writer RecordWriter, logger *slog.Logger) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		StartOffset:    kafka.FirstOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	logger.Info("bridge initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"group", cfg.GroupID,
	)

	return &Bridge{
		reader:  reader,
		writer:  writer,
		logger:  logger,
		backoff: time.Second,
	}, nil
}

// Run consumes until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			b.metrics.errors.Add(1)
			b.logger.Error("failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.backoff):
			}
			continue
		}

		rec, err := ParseRecord(msg.Value)
		if err != nil {
			// Committed anyway: reprocessing cannot fix it.
			b.metrics.skipped.Add(1)
			b.logger.Warn("skipping unparsable message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			b.commit(ctx, msg)
			continue
		}

		if err := b.writer.Write(rec); err != nil {
			// Leave the offset uncommitted so a restart replays it.
			b.metrics.errors.Add(1)
			b.logger.Error("failed to write record",
				"record_id", rec.ID,
				"offset", msg.Offset,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.backoff):
			}
			continue
		}

		b.commit(ctx, msg)
		b.metrics.consumed.Add(1)
	}
}

func (b *Bridge) commit(ctx context.Context, msg kafka.Message) {
	if err := b.reader.CommitMessages(ctx, msg); err != nil {
		b.logger.Error("failed to commit offset",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
}

// Close releases the Kafka reader.
func (b *Bridge) Close() error {
	if err := b.reader.Close(); err != nil {
		return fmt.Errorf("bridge: close reader: %w", err)
	}
	return nil
}

// Metrics returns consumption counters.
func (b *Bridge) Metrics() Metrics {
	return Metrics{
		Consumed: b.metrics.consumed.Load(),
		Skipped:  b.metrics.skipped.Load(),
		Errors:   b.metrics.errors.Load(),
	}
}

// Metrics holds bridge counters.
type Metrics struct {
	Consumed uint64 `json:"consumed"`
	Skipped  uint64 `json:"skipped"`
	Errors   uint64 `json:"errors"`
}
