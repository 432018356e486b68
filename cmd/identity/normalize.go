package identity

import "strings"

const (
	minEmailLen = 5
	maxEmailLen = 256
)

// NormalizeEmail trims surrounding whitespace.
// Case is kept: stored emails are compared byte for byte.
func NormalizeEmail(s string) string {
	return strings.TrimSpace(s)
}

// ValidEmail is the minimal shape check applied before a login code is mailed.
func ValidEmail(s string) bool {
	if len(s) < minEmailLen || len(s) > maxEmailLen {
		return false
	}
	return strings.Contains(s, "@") && strings.Contains(s, ".")
}
