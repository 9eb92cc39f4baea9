// Package jsonrepair recovers a JSON object from unreliable LLM output.
//
// Completion providers are asked for strict JSON but routinely wrap it in
// markdown fences, append trailer tags, use single quotes or bare keys, or
// emit broken escaping. Parse works through a ladder of progressively more
// aggressive strategies and never panics on malformed input.
package jsonrepair

import (
	"encoding/json"
	"regexp"
	"strings"
)

const sampleLimit = 200

// ParseError reports that no strategy could recover an object from the input.
type ParseError struct {
	Reason string
	Sample string
}

func (e *ParseError) Error() string {
	return "jsonrepair: " + e.Reason + ": " + e.Sample
}

// Parse extracts a single JSON-like object from raw text.
//
// Strategies, in order:
//  1. strict parse of the input as-is
//  2. strip wrapper tags and fences, apply textual repairs, strict parse
//  3. tolerant literal parse (single quotes, bare keys, trailing commas)
//  4. raw scan of top-level key/value pairs between the outermost braces
func Parse(raw string) (map[string]any, error) {
	if m, ok := strictObject(raw); ok {
		return m, nil
	}

	cleaned := Clean(raw)
	if m, ok := strictObject(cleaned); ok {
		return m, nil
	}

	for _, candidate := range []string{strings.TrimSpace(raw), strings.TrimSpace(cleaned)} {
		if !looksDelimited(candidate) {
			continue
		}
		if v, err := parseLiteral(candidate); err == nil {
			if m, ok := v.(map[string]any); ok {
				return m, nil
			}
		}
	}

	if m, ok := scanPairs(raw); ok {
		return m, nil
	}

	return nil, &ParseError{Reason: "unrecoverable", Sample: sample(raw)}
}

func sample(s string) string {
	if len(s) > sampleLimit {
		return s[:sampleLimit]
	}
	return s
}

func strictObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, m != nil
}

func looksDelimited(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

var (
	reFence      = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	reStyleTag   = regexp.MustCompile(`(?s)<userStyle>.*?</userStyle>`)
	rePipeTag    = regexp.MustCompile(`<\|[^>]+\|>`)
	reGenericTag = regexp.MustCompile(`(?s)<[a-zA-Z0-9_]+>.*?</[a-zA-Z0-9_]+>`)
	reBareKey    = regexp.MustCompile(`([{,]\s*)([A-Za-z0-9_]+)\s*:`)
	reQuotedKey  = regexp.MustCompile(`([{,]\s*)'([^']*)'\s*:`)
	reQuotedVal  = regexp.MustCompile(`:\s*'((?:[^'\\]|\\.)*)'`)
	reTrailComma = regexp.MustCompile(`,\s*([}\]])`)
)

// escape placeholders, guarding already-valid sequences during quote repair
var escapeGuards = [][2]string{
	{`\\`, "\x00BS\x00"},
	{`\"`, "\x00QT\x00"},
	{`\n`, "\x00NL\x00"},
	{`\t`, "\x00TB\x00"},
	{`\r`, "\x00CR\x00"},
	{`\b`, "\x00BK\x00"},
	{`\f`, "\x00FF\x00"},
}

// Clean applies the textual repair pass of strategy 2. The repairs run in a
// fixed order: escaping fixes first, then key quoting, then trailing-comma
// removal, because the later passes assume normalized quoting.
func Clean(s string) string {
	// Unwrap a fenced block if one contains the object.
	if m := reFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else {
		s = strings.ReplaceAll(s, "```json", "")
		s = strings.ReplaceAll(s, "```", "")
	}

	s = reStyleTag.ReplaceAllString(s, "")
	s = rePipeTag.ReplaceAllString(s, "")
	s = reGenericTag.ReplaceAllString(s, "")

	for _, g := range escapeGuards {
		s = strings.ReplaceAll(s, g[0], g[1])
	}
	s = escapeStrayQuotes(s)
	for _, g := range escapeGuards {
		s = strings.ReplaceAll(s, g[1], g[0])
	}

	s = reBareKey.ReplaceAllString(s, `$1"$2":`)
	s = reQuotedKey.ReplaceAllString(s, `$1"$2":`)
	s = reQuotedVal.ReplaceAllString(s, `: "$1"`)
	s = reTrailComma.ReplaceAllString(s, `$1`)

	return strings.TrimSpace(s)
}

// escapeStrayQuotes escapes double quotes that sit in the middle of string
// content rather than delimiting it. A quote is treated as structural when
// its nearest non-space neighbors are JSON syntax characters or the input
// boundary; anything else is assumed to be prose and gets escaped.
func escapeStrayQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i, r := range runes {
		if r != '"' {
			b.WriteRune(r)
			continue
		}
		prev := prevSignificant(runes, i)
		next := nextSignificant(runes, i)
		structural := prev == 0 || next == 0 ||
			strings.ContainsRune("{[:,", prev) ||
			strings.ContainsRune("}],:,", next)
		if structural {
			b.WriteRune(r)
		} else {
			b.WriteString(`\"`)
		}
	}
	return b.String()
}

func prevSignificant(runes []rune, i int) rune {
	for j := i - 1; j >= 0; j-- {
		if runes[j] != ' ' && runes[j] != '\n' && runes[j] != '\t' && runes[j] != '\r' {
			return runes[j]
		}
	}
	return 0
}

func nextSignificant(runes []rune, i int) rune {
	for j := i + 1; j < len(runes); j++ {
		if runes[j] != ' ' && runes[j] != '\n' && runes[j] != '\t' && runes[j] != '\r' {
			return runes[j]
		}
	}
	return 0
}
