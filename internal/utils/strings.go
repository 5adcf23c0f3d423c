// Package utils provides common utility functions.
package utils

// MaskKey masks an API key for safe logging (shows first 8 and last 4 chars).
// Use this to avoid logging sensitive credentials in plain text.
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// MaskSessionKey shortens a session key for log lines without exposing enough
// of it to replay.
func MaskSessionKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:12] + "..."
}
