package detect

import "testing"

func TestMatchDangerousShapes(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"DROP DATABASE production", "drop-database"},
		{"drop   database x", "drop-database"},
		{"DROP TABLE users", "drop-table"},
		{"TRUNCATE TABLE audit_log", "truncate-table"},
		{"DELETE FROM users", "delete-without-where"},
		{"delete from orders;", "delete-without-where"},
		{"ALTER TABLE users DROP COLUMN email", "alter-table-drop"},
		{"SELECT 1; -- hide the rest", "comment-injection"},
		{"SELECT * FROM accounts WHERE 1=1", "tautology"},
		{"SELECT * FROM t WHERE 1 = 1", "tautology"},
		{"SELECT a FROM t UNION SELECT password FROM pg_shadow", "union-select"},
		{"INSERT INTO users VALUES (1, 'x')", "blind-insert"},
		{"UPDATE users SET admin=true", "update-without-where"},
	}

	m := NewMatcher()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			name, ok := m.Match(tt.query)
			if !ok {
				t.Fatalf("Match(%q) found nothing, want %q", tt.query, tt.want)
			}
			if name != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.query, name, tt.want)
			}
		})
	}
}

func TestMatchCaseInsensitive(t *testing.T) {
	m := NewMatcher()

	upper, okU := m.Match("DROP DATABASE x")
	lower, okL := m.Match("drop database x")
	if !okU || !okL {
		t.Fatalf("case variants not both matched: upper=%v lower=%v", okU, okL)
	}
	if upper != lower {
		t.Errorf("case variants cite different rules: %q vs %q", upper, lower)
	}
}

func TestMatchQualifiedStatementsPass(t *testing.T) {
	queries := []string{
		"DELETE FROM users WHERE id = 5",
		"delete from sessions where expired_at < now()",
		"UPDATE users SET name='x' WHERE id=7",
		"SELECT name FROM users WHERE id=5",
		"INSERT INTO users (id, name) SELECT id, name FROM staged WHERE ok",
		"COMMIT",
		"",
	}

	m := NewMatcher()
	for _, q := range queries {
		if name, ok := m.Match(q); ok {
			t.Errorf("Match(%q) = %q, want no match", q, name)
		}
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	// Several rules apply; the earliest in the list names the verdict.
	m := NewMatcher()
	name, ok := m.Match("DROP DATABASE prod; -- 1=1 UNION SELECT")
	if !ok {
		t.Fatal("expected a match")
	}
	if name != "drop-database" {
		t.Errorf("Match() = %q, want %q", name, "drop-database")
	}
}

func TestMatchArbitraryInput(t *testing.T) {
	// Garbage, huge, and non-UTF-8 input must not panic.
	inputs := []string{
		"\xff\xfe\x00 broken bytes",
		"😀'); DROP TABLE students;--",
		string(make([]byte, 1<<16)),
	}

	m := NewMatcher()
	for _, q := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Match panicked on %q: %v", q[:16], r)
				}
			}()
			m.Match(q)
		}()
	}
}

func TestMatcherLen(t *testing.T) {
	if got := NewMatcher().Len(); got != 10 {
		t.Errorf("Len() = %d, want 10", got)
	}
}
