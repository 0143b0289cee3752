package util

import (
	"html"
	"regexp"
	"strings"
)

var (
	emailRe    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9\-]{1,38}[a-z0-9]$`)
)

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// NormalizeEmail lowercases and trims an email address. Uniqueness checks
// always run on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// IsValidEmail reports whether the (normalized) address looks deliverable.
func IsValidEmail(email string) bool {
	return len(email) <= 254 && emailRe.MatchString(email)
}

// IsValidUsername reports whether the (normalized) username is acceptable:
// 3-40 chars, lowercase alphanumeric with inner hyphens.
func IsValidUsername(username string) bool {
	return usernameRe.MatchString(username)
}

// ContainsSuspicious flags strings carrying script-like payloads
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
