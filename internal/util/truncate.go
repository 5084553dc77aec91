package util

import "fmt"

// DefaultLogMaxLen is the default maximum length for truncated log output.
const DefaultLogMaxLen = 1000

// TruncateLog truncates long strings for security event logging.
func TruncateLog(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + fmt.Sprintf("... [truncated, %d chars total]", len(r))
}

// TruncateBytes is a convenience wrapper for TruncateLog that accepts []byte
// and uses DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// MaskSecret keeps the first and last four characters of a credential.
// Short secrets are fully masked.
func MaskSecret(s string) string {
	if len(s) <= 12 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
