package logstore

import (
	"context"
	"fmt"
)

// EnsureSchema creates the query-log table when it is missing. The table is
// sorted by timestamp, which is the only access path the reader uses. User
// and database are nullable because not every shipper knows them.
func EnsureSchema(ctx context.Context, client *Client, m Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}

	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			record_id String,
			%s DateTime64(3),
			%s String,
			%s Nullable(String),
			%s Nullable(String)
		)
		ENGINE = MergeTree()
		ORDER BY %s
	`,
		quoteIdent(m.Table),
		quoteIdent(m.TimestampColumn),
		quoteIdent(m.QueryColumn),
		quoteIdent(m.UserColumn),
		quoteIdent(m.DatabaseColumn),
		quoteIdent(m.TimestampColumn),
	)

	if err := client.Exec(ctx, ddl); err != nil {
		return wrapQueryError("EnsureSchema", m.Table, err)
	}
	return nil
}

// quoteIdent backquotes an already-validated identifier so reserved words
// like "database" stay usable as column names.
func quoteIdent(name string) string {
	return "`" + name + "`"
}
