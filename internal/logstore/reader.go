package logstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReaderConfig tunes the checkpointed poll.
type ReaderConfig struct {
	// PageSize caps the records returned per poll; backlogs drain across
	// successive cycles instead of one unbounded read.
	PageSize int `yaml:"page_size"`

	// InitialLookback bounds the very first poll when no checkpoint exists.
	InitialLookback time.Duration `yaml:"initial_lookback"`
}

// DefaultReaderConfig returns the default poll settings.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		PageSize:        100,
		InitialLookback: time.Minute,
	}
}

// Reader pulls query-log records newer than a cursor from the store.
type Reader struct {
	client  *Client
	mapping Mapping
	config  ReaderConfig
	logger  *slog.Logger
}

// NewReader validates the mapping and builds a Reader.
func NewReader(client *Client, mapping Mapping, cfg ReaderConfig, logger *slog.Logger) (*Reader, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	def := DefaultReaderConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.InitialLookback <= 0 {
		cfg.InitialLookback = def.InitialLookback
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{client: client, mapping: mapping, config: cfg, logger: logger}, nil
}

// Poll returns records strictly newer than cursor, ascending by timestamp,
// capped at the page size. A nil cursor bounds the scan to the configured
// lookback window rather than all history. newCursor is the timestamp of the
// last row seen (processed or skipped), or the input cursor when the page is
// empty. Rows missing their query text are logged and skipped individually;
// a bad row never aborts the batch.
func (r *Reader) Poll(ctx context.Context, cursor *time.Time) ([]Record, *time.Time, error) {
	since := time.Now().Add(-r.config.InitialLookback)
	if cursor != nil {
		since = *cursor
	}

	rows, err := r.client.Query(ctx, r.pollQuery(), since)
	if err != nil {
		return nil, cursor, wrapQueryError("Poll", r.mapping.Table, err)
	}
	defer rows.Close()

	records, skipped, lastSeen := r.collect(rows)
	if err := rows.Err(); err != nil {
		return nil, cursor, wrapQueryError("Poll", r.mapping.Table, err)
	}

	if skipped > 0 {
		r.logger.Warn("skipped malformed records",
			"table", r.mapping.Table,
			"skipped", skipped,
			"kept", len(records),
		)
	}

	// Unreadable rows carry no timestamp to advance past; if a whole page is
	// unreadable the mapping is wrong and retrying would spin forever.
	if len(records) == 0 && skipped > 0 && lastSeen == nil {
		return nil, cursor, &StoreError{
			Op:    "Poll",
			Table: r.mapping.Table,
			Err:   fmt.Errorf("%w: every row in page unreadable, check table mapping", ErrMalformedRecord),
		}
	}

	newCursor := cursor
	if lastSeen != nil {
		newCursor = lastSeen
	}
	return records, newCursor, nil
}

// Recent returns up to limit of the newest records, newest first. Training
// does not care about order; the live viewer wants newest first.
func (r *Reader) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.client.Query(ctx, r.recentQuery(limit))
	if err != nil {
		return nil, wrapQueryError("Recent", r.mapping.Table, err)
	}
	defer rows.Close()

	records, skipped, _ := r.collect(rows)
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError("Recent", r.mapping.Table, err)
	}
	if skipped > 0 {
		r.logger.Debug("skipped malformed records in sample", "skipped", skipped)
	}
	return records, nil
}

// Ping checks connectivity to the store.
func (r *Reader) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}

func (r *Reader) pollQuery() string {
	m := r.mapping
	return fmt.Sprintf(
		"SELECT `%s`, `%s`, `%s`, `%s` FROM `%s` WHERE `%s` > ? ORDER BY `%s` ASC LIMIT %d",
		m.TimestampColumn, m.QueryColumn, m.UserColumn, m.DatabaseColumn,
		m.Table, m.TimestampColumn, m.TimestampColumn, r.config.PageSize,
	)
}

func (r *Reader) recentQuery(limit int) string {
	m := r.mapping
	return fmt.Sprintf(
		"SELECT `%s`, `%s`, `%s`, `%s` FROM `%s` ORDER BY `%s` DESC LIMIT %d",
		m.TimestampColumn, m.QueryColumn, m.UserColumn, m.DatabaseColumn,
		m.Table, m.TimestampColumn, limit,
	)
}

// rowScanner is the slice of driver.Rows that collect consumes.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
}

// collect drains rows into records. It returns the skipped-row count and the
// timestamp of the last row it could read, which may trail a skipped row so
// the cursor still moves past it.
func (r *Reader) collect(rows rowScanner) (records []Record, skipped int, lastSeen *time.Time) {
	for rows.Next() {
		var (
			ts    time.Time
			query string
			user  *string
			db    *string
		)
		if err := rows.Scan(&ts, &query, &user, &db); err != nil {
			skipped++
			r.logger.Warn("dropping unreadable row", "table", r.mapping.Table, "error", err)
			continue
		}

		seen := ts
		lastSeen = &seen

		if query == "" {
			skipped++
			r.logger.Warn("dropping record with empty query text", "timestamp", ts)
			continue
		}

		rec := Record{Timestamp: ts, Query: query}
		if user != nil {
			rec.User = *user
		}
		if db != nil {
			rec.Database = *db
		}
		records = append(records, rec)
	}
	return records, skipped, lastSeen
}
