package util

import (
	"regexp"
)

// MaxSanitizeLength bounds the input scanned by SanitizeString
const MaxSanitizeLength = 64 * 1024

var sensitivePatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	// key=value pairs in ADO-style connection strings and URIs
	{regexp.MustCompile(`(?i)\b(password|pwd|_auth|token|secret)\s*=\s*[^;&\s]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)"(password|token|secret)"\s*:\s*"[^"]*"`), `"$1":"REDACTED"`},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer REDACTED"},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`), "REDACTED_JWT"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "REDACTED_AWS_KEY"},
	{regexp.MustCompile(`(?i)\b(hvs|s)\.[a-zA-Z0-9]{20,}`), "REDACTED_VAULT_TOKEN"},
}

// SanitizeError renders err with credentials removed, for logs and diagnostic pages
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString removes passwords, tokens and keys from s
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}
	for _, p := range sensitivePatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}
