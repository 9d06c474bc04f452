package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// It is used when logging state values, where only a prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
//	SafeTruncate("very-long-state-abc123", 8) // "very-lon"
//	SafeTruncate("short", 10)                 // "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so that a redirect base configured
// as "http://localhost:8000/oauth/callback/" joins cleanly with a service name.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}
