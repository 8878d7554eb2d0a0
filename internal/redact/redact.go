// Package redact masks credential material in strings bound for logs or alerts.
package redact

import "regexp"

// Masked is the replacement for credential values.
const Masked = "[REDACTED]"

var (
	// Quoted secrets inside SQL statements: password 'x', identified by 'x',
	// encrypted password = 'x'.
	sqlSecretPattern = regexp.MustCompile(`(?i)\b(password|passwd|identified\s+by|encrypted\s+password)(\s*=?\s*)'[^']*'`)

	// key=value credential pairs as they appear in DSNs and driver errors.
	kvSecretPattern = regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api[_-]?key|access[_-]?key)(\s*=\s*)[^\s&;,'"]+`)

	// Telegram bot tokens: numeric bot ID, colon, long opaque suffix. No
	// leading boundary, the id usually follows "bot" in API URLs.
	botTokenPattern = regexp.MustCompile(`\d{6,10}:[A-Za-z0-9_-]{30,}`)
)

// Secrets returns s with credential-bearing fragments masked. Safe on
// arbitrary input; non-matching strings come back unchanged.
func Secrets(s string) string {
	if s == "" {
		return s
	}
	s = sqlSecretPattern.ReplaceAllString(s, "${1}${2}'"+Masked+"'")
	s = kvSecretPattern.ReplaceAllString(s, "${1}${2}"+Masked)
	s = botTokenPattern.ReplaceAllString(s, Masked)
	return s
}

// Error masks the error's message. Nil yields the empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Secrets(err.Error())
}
