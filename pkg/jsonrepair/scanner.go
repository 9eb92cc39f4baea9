package jsonrepair

import "strings"

// scanPairs is the last-resort strategy. It walks the characters between the
// outermost braces, splitting top-level key-value pairs on commas that are
// not nested inside strings or brackets, and builds the mapping from raw
// substrings. Because it never interprets a full grammar it tolerates
// partially broken escaping.
func scanPairs(raw string) (map[string]any, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	inner := raw[start+1 : end]

	result := make(map[string]any)
	for _, pair := range splitTopLevel(inner) {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		key = strings.Trim(strings.TrimSpace(key), `"'`)
		if key == "" {
			continue
		}
		result[key] = scanValue(strings.TrimSpace(value))
	}
	if len(result) == 0 {
		return nil, false
	}
	return result, true
}

// splitTopLevel splits s on commas at brace/bracket depth zero outside
// quotes, with escape look-ahead.
func splitTopLevel(s string) []string {
	var parts []string
	var current strings.Builder
	braceDepth, bracketDepth := 0, 0
	inQuote := false
	escaped := false

	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			current.WriteRune(r)
			escaped = true
			continue
		}
		if r == '"' {
			inQuote = !inQuote
		}
		if !inQuote {
			switch r {
			case '{':
				braceDepth++
			case '}':
				braceDepth--
			case '[':
				bracketDepth++
			case ']':
				bracketDepth--
			}
		}
		if r == ',' && braceDepth == 0 && bracketDepth == 0 && !inQuote {
			if p := strings.TrimSpace(current.String()); p != "" {
				parts = append(parts, p)
			}
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if p := strings.TrimSpace(current.String()); p != "" {
		parts = append(parts, p)
	}
	return parts
}

// scanValue interprets a raw value substring: bracketed values are split
// recursively with the same top-level logic, quoted strings are unquoted,
// anything else is kept as the raw trimmed text.
func scanValue(v string) any {
	if strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]") {
		items := splitTopLevel(strings.TrimSpace(v[1 : len(v)-1]))
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, scanValue(item))
		}
		return out
	}
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return strings.ReplaceAll(v[1:len(v)-1], `\"`, `"`)
	}
	if len(v) >= 2 && strings.HasPrefix(v, `'`) && strings.HasSuffix(v, `'`) {
		return v[1 : len(v)-1]
	}
	return v
}
