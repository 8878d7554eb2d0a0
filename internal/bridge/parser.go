package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sqlsentry/internal/logstore"
)

// ErrUnparsable marks messages that can never become a valid record.
// The bridge commits these to keep a poison message from wedging the
// partition.
var ErrUnparsable = errors.New("bridge: unparsable message")

// envelope accepts the field spellings common log shippers emit for
// database query logs.
type envelope struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Ts        string `json:"ts"`
	Query     string `json:"query"`
	Message   string `json:"message"`
	Postgres  struct {
		Message string `json:"message"`
	} `json:"postgresql"`
	User     string `json:"user"`
	Username string `json:"username"`
	Database string `json:"database"`
	DB       string `json:"db"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseRecord normalizes one Kafka message into a query-log record.
// Records without an id get one assigned; records without a parsable
// timestamp get the arrival time.
func ParseRecord(data []byte) (logstore.Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return logstore.Record{}, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}

	query := firstNonEmpty(env.Query, env.Postgres.Message, env.Message)
	if strings.TrimSpace(query) == "" {
		return logstore.Record{}, fmt.Errorf("%w: no query text", ErrUnparsable)
	}

	rec := logstore.Record{
		ID:        env.ID,
		Timestamp: parseTimestamp(firstNonEmpty(env.Timestamp, env.Ts)),
		Query:     query,
		User:      firstNonEmpty(env.User, env.Username),
		Database:  firstNonEmpty(env.Database, env.DB),
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return rec, nil
}

func parseTimestamp(raw string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
