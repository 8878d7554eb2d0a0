package logstore

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testReader(t *testing.T) *Reader {
	t.Helper()
	r, err := NewReader(nil, DefaultMapping(), DefaultReaderConfig(), slog.Default())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	return r
}

func TestMappingValidate(t *testing.T) {
	if err := DefaultMapping().Validate(); err != nil {
		t.Errorf("default mapping invalid: %v", err)
	}

	bad := []Mapping{
		{Table: "logs; DROP TABLE x", TimestampColumn: "ts", QueryColumn: "q", UserColumn: "u", DatabaseColumn: "d"},
		{Table: "logs", TimestampColumn: "ts`", QueryColumn: "q", UserColumn: "u", DatabaseColumn: "d"},
		{Table: "logs", TimestampColumn: "", QueryColumn: "q", UserColumn: "u", DatabaseColumn: "d"},
		{Table: "1logs", TimestampColumn: "ts", QueryColumn: "q", UserColumn: "u", DatabaseColumn: "d"},
	}
	for _, m := range bad {
		if err := m.Validate(); !errors.Is(err, ErrInvalidMapping) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidMapping", m, err)
		}
	}
}

func TestNewReaderRejectsBadMapping(t *testing.T) {
	m := DefaultMapping()
	m.QueryColumn = "query text"
	if _, err := NewReader(nil, m, DefaultReaderConfig(), nil); !errors.Is(err, ErrInvalidMapping) {
		t.Errorf("NewReader error = %v, want ErrInvalidMapping", err)
	}
}

func TestPollQueryShape(t *testing.T) {
	r := testReader(t)
	q := r.pollQuery()

	for _, want := range []string{
		"FROM `query_logs`",
		"WHERE `ts` > ?",
		"ORDER BY `ts` ASC",
		"LIMIT 100",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("poll query %q missing %q", q, want)
		}
	}
}

func TestRecentQueryShape(t *testing.T) {
	r := testReader(t)
	q := r.recentQuery(250)

	for _, want := range []string{
		"ORDER BY `ts` DESC",
		"LIMIT 250",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("recent query %q missing %q", q, want)
		}
	}
}

// fakeRow drives one Scan call of fakeRows.
type fakeRow struct {
	ts      time.Time
	query   string
	user    *string
	db      *string
	scanErr error
}

type fakeRows struct {
	rows []fakeRow
	pos  int
}

func (f *fakeRows) Next() bool {
	return f.pos < len(f.rows)
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.pos]
	f.pos++
	if row.scanErr != nil {
		return row.scanErr
	}
	*(dest[0].(*time.Time)) = row.ts
	*(dest[1].(*string)) = row.query
	*(dest[2].(**string)) = row.user
	*(dest[3].(**string)) = row.db
	return nil
}

func strptr(s string) *string { return &s }

func TestCollectSkipsMalformedRows(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: []fakeRow{
		{ts: base, query: "SELECT 1", user: strptr("app"), db: strptr("shop")},
		{ts: base.Add(time.Second), query: ""}, // missing query text
		{scanErr: errors.New("type mismatch")},
		{ts: base.Add(3 * time.Second), query: "SELECT 2"},
	}}

	r := testReader(t)
	records, skipped, lastSeen := r.collect(rows)

	if len(records) != 2 {
		t.Fatalf("collect kept %d records, want 2", len(records))
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if records[0].Query != "SELECT 1" || records[0].User != "app" || records[0].Database != "shop" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].User != "" || records[1].Database != "" {
		t.Errorf("nulls not mapped to empty strings: %+v", records[1])
	}
	if lastSeen == nil || !lastSeen.Equal(base.Add(3*time.Second)) {
		t.Errorf("lastSeen = %v, want %v", lastSeen, base.Add(3*time.Second))
	}
}

func TestCollectAdvancesPastTrailingEmptyRow(t *testing.T) {
	// The cursor must move past a skipped row, or polling would re-read it
	// forever.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := &fakeRows{rows: []fakeRow{
		{ts: base, query: "SELECT 1"},
		{ts: base.Add(time.Minute), query: ""},
	}}

	r := testReader(t)
	records, skipped, lastSeen := r.collect(rows)

	if len(records) != 1 || skipped != 1 {
		t.Fatalf("records=%d skipped=%d, want 1/1", len(records), skipped)
	}
	if lastSeen == nil || !lastSeen.Equal(base.Add(time.Minute)) {
		t.Errorf("lastSeen = %v, want the skipped row's timestamp", lastSeen)
	}
}

func TestCollectEmpty(t *testing.T) {
	r := testReader(t)
	records, skipped, lastSeen := r.collect(&fakeRows{})
	if len(records) != 0 || skipped != 0 || lastSeen != nil {
		t.Errorf("collect(empty) = %d records, %d skipped, lastSeen=%v", len(records), skipped, lastSeen)
	}
}

func TestStoreErrorWrapping(t *testing.T) {
	err := wrapQueryError("Poll", "query_logs", errors.New("boom"))

	if !IsQueryError(err) {
		t.Error("IsQueryError = false")
	}
	if IsConnectionError(err) {
		t.Error("IsConnectionError = true for query error")
	}

	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatal("errors.As(*StoreError) failed")
	}
	if se.Op != "Poll" || se.Table != "query_logs" {
		t.Errorf("StoreError context = %+v", se)
	}
	if !strings.Contains(se.Error(), "query_logs") {
		t.Errorf("Error() = %q, table missing", se.Error())
	}
}
