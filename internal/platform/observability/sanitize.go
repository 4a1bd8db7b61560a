package observability

import (
	"strings"
	"unicode"
)

const maxLoggedValueLen = 256

// sanitizeString strips control characters and caps the length so request
// supplied values cannot inject newlines into the log stream.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxLoggedValueLen
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)

	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute bounds the chi route pattern recorded on request logs and spans.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds the HTTP method recorded on request logs.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID truncates identifiers before they reach logs.
func SanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}
