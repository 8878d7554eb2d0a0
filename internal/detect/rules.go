package detect

import "regexp"

// Rule is one known-dangerous query shape. When guard is set, the rule is
// suppressed if the guard matches anywhere in the query: RE2 has no negative
// lookahead, so "DELETE without WHERE" is expressed as a statement pattern
// plus a WHERE guard.
type Rule struct {
	Name    string
	pattern *regexp.Regexp
	guard   *regexp.Regexp
}

func (r Rule) matches(query string) bool {
	if !r.pattern.MatchString(query) {
		return false
	}
	return r.guard == nil || !r.guard.MatchString(query)
}

var whereGuard = regexp.MustCompile(`(?i)\bwhere\b`)

// defaultRules returns the built-in rule list. Order decides which name a
// verdict cites when several rules would fire.
func defaultRules() []Rule {
	return []Rule{
		{Name: "drop-database", pattern: regexp.MustCompile(`(?i)drop\s+database`)},
		{Name: "drop-table", pattern: regexp.MustCompile(`(?i)drop\s+table`)},
		{Name: "truncate-table", pattern: regexp.MustCompile(`(?i)truncate\s+table`)},
		{Name: "delete-without-where", pattern: regexp.MustCompile(`(?i)delete\s+from\s+\w+`), guard: whereGuard},
		{Name: "alter-table-drop", pattern: regexp.MustCompile(`(?i)alter\s+table\s+\w+\s+drop`)},
		{Name: "comment-injection", pattern: regexp.MustCompile(`;\s*--`)},
		{Name: "tautology", pattern: regexp.MustCompile(`1\s*=\s*1`)},
		{Name: "union-select", pattern: regexp.MustCompile(`(?i)union\s+select`)},
		{Name: "blind-insert", pattern: regexp.MustCompile(`(?i)insert\s+into\s+\w+\s+values`)},
		{Name: "update-without-where", pattern: regexp.MustCompile(`(?i)update\s+\w+\s+set\s+\w+\s*=`), guard: whereGuard},
	}
}

// Matcher tests queries against an ordered rule list. First match wins.
type Matcher struct {
	rules []Rule
}

// NewMatcher returns a Matcher loaded with the built-in rules.
func NewMatcher() *Matcher {
	return &Matcher{rules: defaultRules()}
}

// Match returns the name of the first rule the query violates. Arbitrary
// UTF-8 input is safe; unmatched queries return ("", false).
func (m *Matcher) Match(query string) (string, bool) {
	for _, r := range m.rules {
		if r.matches(query) {
			return r.Name, true
		}
	}
	return "", false
}

// Len reports how many rules the matcher holds.
func (m *Matcher) Len() int {
	return len(m.rules)
}
