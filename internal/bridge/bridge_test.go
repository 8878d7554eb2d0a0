package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"sqlsentry/internal/logstore"
)

func TestParseRecordFieldAliases(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		wantQuery string
		wantUser  string
		wantDB    string
	}{
		{
			name:      "canonical fields",
			payload:   `{"id":"q-1","timestamp":"2026-03-14T09:26:53Z","query":"SELECT 1","user":"app","database":"orders"}`,
			wantQuery: "SELECT 1",
			wantUser:  "app",
			wantDB:    "orders",
		},
		{
			name:      "postgresql message",
			payload:   `{"ts":"2026-03-14T09:26:53Z","postgresql":{"message":"SELECT * FROM t"},"username":"pg","db":"main"}`,
			wantQuery: "SELECT * FROM t",
			wantUser:  "pg",
			wantDB:    "main",
		},
		{
			name:      "bare message",
			payload:   `{"message":"UPDATE t SET a = 1 WHERE id = 2"}`,
			wantQuery: "UPDATE t SET a = 1 WHERE id = 2",
		},
		{
			name:      "query wins over message",
			payload:   `{"query":"SELECT 2","message":"ignored"}`,
			wantQuery: "SELECT 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseRecord([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseRecord: %v", err)
			}
			if rec.Query != tt.wantQuery {
				t.Errorf("Query = %q, want %q", rec.Query, tt.wantQuery)
			}
			if rec.User != tt.wantUser {
				t.Errorf("User = %q, want %q", rec.User, tt.wantUser)
			}
			if rec.Database != tt.wantDB {
				t.Errorf("Database = %q, want %q", rec.Database, tt.wantDB)
			}
		})
	}
}

func TestParseRecordRejectsGarbage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "plain text line"},
		{"no query text", `{"id":"x","user":"app"}`},
		{"whitespace query", `{"query":"   "}`},
		{"empty object", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord([]byte(tt.payload))
			if !errors.Is(err, ErrUnparsable) {
				t.Errorf("ParseRecord = %v, want ErrUnparsable", err)
			}
		})
	}
}

func TestParseRecordAssignsID(t *testing.T) {
	rec, err := ParseRecord([]byte(`{"query":"SELECT 1"}`))
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Errorf("assigned id %q is not a uuid: %v", rec.ID, err)
	}

	rec, err = ParseRecord([]byte(`{"id":"shipper-7","query":"SELECT 1"}`))
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if rec.ID != "shipper-7" {
		t.Errorf("existing id replaced: %q", rec.ID)
	}
}

func TestParseRecordTimestamps(t *testing.T) {
	want := time.Date(2026, 3, 14, 9, 26, 53, 500000000, time.UTC)

	tests := []struct {
		name string
		raw  string
	}{
		{"rfc3339 nano", "2026-03-14T09:26:53.5Z"},
		{"offset zone", "2026-03-14T11:26:53.5+02:00"},
		{"no zone", "2026-03-14T09:26:53.5"},
		{"space separated", "2026-03-14 09:26:53.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseRecord([]byte(`{"query":"SELECT 1","timestamp":"` + tt.raw + `"}`))
			if err != nil {
				t.Fatalf("ParseRecord: %v", err)
			}
			if !rec.Timestamp.Equal(want) {
				t.Errorf("Timestamp = %v, want %v", rec.Timestamp, want)
			}
		})
	}
}

func TestParseRecordUnparsableTimestampFallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	rec, err := ParseRecord([]byte(`{"query":"SELECT 1","timestamp":"yesterday-ish"}`))
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	after := time.Now().UTC()

	if rec.Timestamp.Before(before) || rec.Timestamp.After(after) {
		t.Errorf("fallback timestamp %v outside [%v, %v]", rec.Timestamp, before, after)
	}
}

type fakeFetcher struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	commits []int64
	closed  bool
}

func (f *fakeFetcher) FetchMessage(context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.commits = append(f.commits, m.Offset)
	}
	return nil
}

func (f *fakeFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type mockWriter struct {
	recs      []logstore.Record
	failFirst int
	failed    int
}

func (m *mockWriter) Write(rec logstore.Record) error {
	if m.failed < m.failFirst {
		m.failed++
		return errors.New("batch insert failed")
	}
	m.recs = append(m.recs, rec)
	return nil
}

func testBridge(f fetcher, w RecordWriter) *Bridge {
	return &Bridge{
		reader:  f,
		writer:  w,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		backoff: time.Millisecond,
	}
}

func msg(offset int64, payload string) kafka.Message {
	return kafka.Message{Offset: offset, Value: []byte(payload)}
}

func TestRunConsumesSkipsAndCommits(t *testing.T) {
	ff := &fakeFetcher{msgs: []kafka.Message{
		msg(0, `{"query":"SELECT 1"}`),
		msg(1, `not json at all`),
		msg(2, `{"query":"SELECT 2"}`),
	}}
	mw := &mockWriter{}
	b := testBridge(ff, mw)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(mw.recs) != 2 {
		t.Errorf("wrote %d records, want 2", len(mw.recs))
	}
	// The poison message commits too, otherwise it blocks the partition.
	if len(ff.commits) != 3 {
		t.Errorf("committed %d offsets, want 3: %v", len(ff.commits), ff.commits)
	}

	m := b.Metrics()
	if m.Consumed != 2 || m.Skipped != 1 || m.Errors != 0 {
		t.Errorf("metrics = %+v, want 2 consumed, 1 skipped", m)
	}
}

func TestRunLeavesOffsetUncommittedOnWriteFailure(t *testing.T) {
	ff := &fakeFetcher{msgs: []kafka.Message{
		msg(5, `{"query":"SELECT 1"}`),
	}}
	mw := &mockWriter{failFirst: 1}
	b := testBridge(ff, mw)

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(ff.commits) != 0 {
		t.Errorf("failed write committed offsets %v, want none", ff.commits)
	}
	if got := b.Metrics().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestBridgeConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.Brokers = nil
	if err := bad.Validate(); err == nil {
		t.Error("missing brokers accepted")
	}

	bad = DefaultConfig()
	bad.Topic = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing topic accepted")
	}

	bad = DefaultConfig()
	bad.GroupID = ""
	if err := bad.Validate(); err == nil {
		t.Error("missing group id accepted")
	}
}
