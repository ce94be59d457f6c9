// Package redact masks secrets and personal data before they reach logs or output.
package redact

import (
	"strings"
	"unicode/utf8"
)

// Email keeps the domain and the first two characters of the local part.
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}

	if utf8.RuneCountInString(local) > 2 {
		r := []rune(local)
		local = string(r[:2]) + "***"
	} else {
		local = "***"
	}
	return local + "@" + domain
}

// Tail keeps the last four characters of a token so two values can be told apart.
func Tail(token string) string {
	if len(token) <= 8 {
		return Token()
	}
	return "..." + token[len(token)-4:]
}

func Token() string    { return "[REDACTED_TOKEN]" }
func Password() string { return "[REDACTED_PASSWORD]" }
