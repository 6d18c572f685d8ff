package protocol

import (
	"regexp"
	"strings"
)

// The platform side builds JSON through native string conversion, which
// leaks artifacts into otherwise valid lines: collection-to-string dumps,
// duplicated type-tag keys from concatenated templates, and trailing commas
// ahead of closing braces. Sanitize repairs the known cases before parsing.
// It is idempotent: an already clean line passes through byte-identical.

var (
	// Collection dumps like System.Collections.Generic.List`1[System.Double]
	// appear where an array literal was intended.
	collectionDumpRe = regexp.MustCompile("System\\.Collections\\.[A-Za-z0-9_.]+`1\\[[^\\]]*\\]")

	// Concatenated templates duplicate the type tag: "type":"x","type":"x".
	duplicateTypeRe = regexp.MustCompile(`("type"\s*:\s*"[A-Za-z0-9_]+")(\s*,\s*"type"\s*:\s*"[A-Za-z0-9_]+")+`)
)

// Sanitize strips the known non-JSON artifacts from one wire line.
func Sanitize(line string) string {
	s := strings.TrimSpace(line)
	if s == "" {
		return s
	}

	if strings.Contains(s, "System.Collections.") {
		s = collectionDumpRe.ReplaceAllString(s, "[]")
	}
	if strings.Count(s, `"type"`) > 1 {
		s = duplicateTypeRe.ReplaceAllString(s, "$1")
	}
	s = stripTrailingCommas(s)

	return s
}

// stripTrailingCommas removes commas that sit directly before a closing
// brace or bracket. It tracks string literals so a comma inside a value,
// like {"reason":"a,}"}, is left alone.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
			b.WriteByte(ch)
		case ',':
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\r' || s[j] == '\n') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				i = j - 1 // drop the comma and the whitespace run
				continue
			}
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
