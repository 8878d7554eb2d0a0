package notify

import (
	"fmt"
	"strings"
	"time"

	"sqlsentry/internal/redact"
)

// DefaultQueryLimit caps how much of a flagged query an alert carries.
const DefaultQueryLimit = 500

// Alert holds the fields of a dangerous-query notification.
type Alert struct {
	Time     time.Time
	User     string
	Database string
	Reason   string
	Query    string
}

// FormatAlert renders a dangerous-query alert. The query is truncated to
// queryLimit runes and secrets are masked before anything leaves the
// process.
func FormatAlert(a Alert, queryLimit int) string {
	if queryLimit <= 0 {
		queryLimit = DefaultQueryLimit
	}

	var b strings.Builder
	b.WriteString("🚨 DANGEROUS QUERY DETECTED 🚨\n\n")
	fmt.Fprintf(&b, "Time: %s\n", a.Time.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "User: %s\n", orUnknown(a.User))
	fmt.Fprintf(&b, "Database: %s\n", orUnknown(a.Database))
	fmt.Fprintf(&b, "Reason: %s\n", a.Reason)
	fmt.Fprintf(&b, "Query: %s", truncate(a.Query, queryLimit))

	return redact.Secrets(b.String())
}

// FormatFailure renders an operational warning, such as the monitor
// falling back to rule-only classification.
func FormatFailure(component string, err error) string {
	var b strings.Builder
	b.WriteString("⚠️ MONITOR DEGRADED\n\n")
	fmt.Fprintf(&b, "Component: %s\n", component)
	fmt.Fprintf(&b, "Error: %s", redact.Error(err))
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
