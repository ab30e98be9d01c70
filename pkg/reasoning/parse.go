package reasoning

import (
	"encoding/json"
	"strings"
)

// Parse-or-default utilities. Model output frequently wraps JSON in prose or
// markdown fences; every stage goes through this single extraction policy so
// fallback behavior is testable in one place instead of per call site.

// UnmarshalObject extracts the first JSON object from raw model output and
// unmarshals it into v. Returns false when no parsable object is present; v is
// left untouched in that case.
func UnmarshalObject(raw string, v interface{}) bool {
	candidate, ok := extract(raw, '{', '}')
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(candidate), v) == nil
}

// UnmarshalArray extracts the first JSON array from raw model output and
// unmarshals it into v. Returns false when no parsable array is present.
func UnmarshalArray(raw string, v interface{}) bool {
	candidate, ok := extract(raw, '[', ']')
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(candidate), v) == nil
}

// CleanField normalizes a single-field text response: strips fences, quotes
// and surrounding whitespace, and collapses to the first line. Returns
// fallback when nothing usable remains.
func CleanField(raw string, fallback string) string {
	s := stripFences(raw)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	return s
}

// extract returns the outermost balanced region delimited by open/close,
// starting at the first occurrence of open. Strings a model wraps in fences or
// prose still parse; truly malformed output does not.
func extract(raw string, open, close byte) (string, bool) {
	s := stripFences(raw)
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// stripFences removes a surrounding markdown code fence if present
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag on the fence line.
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if len(first) <= 10 && !strings.ContainsAny(first, "{}[]") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
