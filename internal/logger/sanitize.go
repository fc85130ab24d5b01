package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxPathLength bounds request paths in log output
const MaxPathLength = 256

// SanitizePath makes a request path safe for structured logs: valid UTF-8,
// no control characters, bounded length.
func SanitizePath(path string) string {
	if path == "" {
		return ""
	}

	if !utf8.ValidString(path) {
		path = strings.ToValidUTF8(path, "")
	}

	var builder strings.Builder
	builder.Grow(len(path))
	for _, r := range path {
		if unicode.IsPrint(r) || r == ' ' || r == '\t' {
			builder.WriteRune(r)
		}
	}
	path = builder.String()

	if len(path) > MaxPathLength {
		path = path[:MaxPathLength] + "..."
	}

	return path
}
