package logstore

import (
	"fmt"
	"regexp"
	"time"
)

// Record is one query-log row. User and Database are empty when the store
// holds NULL. ID is assigned at ingest; the reader does not select it back.
type Record struct {
	ID        string
	Timestamp time.Time
	Query     string
	User      string
	Database  string
}

// Mapping names the table and columns the reader and writer touch. Shippers
// disagree on field naming, so the record-to-query-text mapping is
// configuration rather than code. Names are validated as plain identifiers
// before they are interpolated into SQL.
type Mapping struct {
	Table           string `yaml:"table" validate:"required,identifier"`
	TimestampColumn string `yaml:"timestamp_column" validate:"required,identifier"`
	QueryColumn     string `yaml:"query_column" validate:"required,identifier"`
	UserColumn      string `yaml:"user_column" validate:"required,identifier"`
	DatabaseColumn  string `yaml:"database_column" validate:"required,identifier"`
}

// DefaultMapping matches the schema EnsureSchema creates.
func DefaultMapping() Mapping {
	return Mapping{
		Table:           "query_logs",
		TimestampColumn: "ts",
		QueryColumn:     "query",
		UserColumn:      "user",
		DatabaseColumn:  "database",
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is a plain SQL identifier.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Validate rejects mappings with names that are not plain SQL identifiers.
func (m Mapping) Validate() error {
	names := []string{m.Table, m.TimestampColumn, m.QueryColumn, m.UserColumn, m.DatabaseColumn}
	for _, name := range names {
		if !ValidIdentifier(name) {
			return fmt.Errorf("%w: %q", ErrInvalidMapping, name)
		}
	}
	return nil
}
