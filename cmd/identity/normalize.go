package identity

import "strings"

// NormalizeEmail returns the canonical comparison key for an email address.
// Emails are stored as given (trimmed) and compared through this key.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeRoleName trims a role name. Role names are case-sensitive.
func NormalizeRoleName(s string) string {
	return strings.TrimSpace(s)
}
