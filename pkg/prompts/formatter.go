// Package prompts renders system prompts for the completion provider:
// placeholder substitution from layered context sources, typed formatting
// of structured values, and the user-message framings for generation,
// analysis and summarization calls.
package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// NotSpecified is substituted for nil placeholder values.
const NotSpecified = "[Not Specified]"

// Fixed placeholder names that are always available to story generation
// regardless of what the context sources carry.
const (
	KeySummary = "current_summary"
	KeyLore    = "original_tale_context"
)

var placeholderPattern = regexp.MustCompile(`\{([^}]+)\}`)

// ValueFormatter renders a non-scalar value for a specific field.
type ValueFormatter func(value any) string

// Render substitutes every {name} placeholder in template from the ordered
// sources, highest precedence first. The first source containing the key
// wins; there is no cross-source merging. Placeholders found in no source
// are left literal and returned as diagnostics. All occurrences of a
// resolved placeholder are replaced.
func Render(template string, sources []map[string]any, formatters map[string]ValueFormatter) (string, []string) {
	var missing []string
	resolved := make(map[string]struct{})

	out := template
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := match[1]
		if _, done := resolved[name]; done {
			continue
		}
		resolved[name] = struct{}{}

		value, found := lookup(name, sources)
		if !found {
			missing = append(missing, name)
			continue
		}
		out = strings.ReplaceAll(out, "{"+name+"}", FormatValue(name, value, formatters))
	}
	return out, missing
}

func lookup(name string, sources []map[string]any) (any, bool) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if v, ok := src[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// FormatValue renders a context value for prompt insertion. A registered
// formatter takes over for non-scalar values; otherwise generic rules
// apply.
func FormatValue(name string, value any, formatters map[string]ValueFormatter) string {
	switch value.(type) {
	case nil, string, bool, int, int64, float64:
		// scalars ignore registered formatters
	default:
		if f, ok := formatters[name]; ok {
			return f(value)
		}
	}

	switch v := value.(type) {
	case nil:
		return NotSpecified
	case string:
		return v
	case bool:
		return fmt.Sprintf("%v", v)
	case int, int64, float64:
		return fmt.Sprintf("%v", v)
	case []any:
		if isRecordList(v) {
			return FormatRecordList(v)
		}
		if len(v) == 0 {
			return fmt.Sprintf("[%s not specified or empty]", name)
		}
		return name + ": " + joinScalars(v)
	case map[string]any:
		if len(v) == 0 {
			return fmt.Sprintf("[%s not specified or empty]", name)
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s: %v", k, v[k])
		}
		return name + ": " + strings.Join(pairs, "; ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FormatRecordList renders a list of records as a human-readable
// enumeration: each record's name plus its trait/wish descriptors in
// parentheses.
func FormatRecordList(records []any) string {
	formatted := make([]string, 0, len(records))
	for _, item := range records {
		switch rec := item.(type) {
		case map[string]any:
			name, _ := rec["name"].(string)
			if name == "" {
				name = "Unnamed Character"
			}
			var descriptors []string
			if trait, _ := rec["trait"].(string); trait != "" {
				descriptors = append(descriptors, "Trait: "+trait)
			}
			if wish, _ := rec["wish"].(string); wish != "" {
				descriptors = append(descriptors, "Wish: "+wish)
			}
			if len(descriptors) > 0 {
				formatted = append(formatted, fmt.Sprintf("%s (%s)", name, strings.Join(descriptors, ", ")))
			} else {
				formatted = append(formatted, name)
			}
		case string:
			formatted = append(formatted, rec)
		default:
			formatted = append(formatted, fmt.Sprintf("%v", rec))
		}
	}
	return strings.Join(formatted, ", ")
}

func isRecordList(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, item := range list {
		if _, ok := item.(map[string]any); ok {
			return true
		}
	}
	return false
}

func joinScalars(list []any) string {
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = fmt.Sprintf("%v", item)
	}
	return strings.Join(parts, ", ")
}

// ListFormatter builds a formatter that joins scalar list values with a
// lead-in phrase, or substitutes emptyText for an empty list.
func ListFormatter(leadIn, emptyText string) ValueFormatter {
	return func(value any) string {
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			return emptyText
		}
		return leadIn + joinScalars(list)
	}
}

// RecordListFormatter builds a formatter that enumerates a record list with
// a lead-in phrase, or substitutes emptyText for an empty list.
func RecordListFormatter(leadIn, emptyText string) ValueFormatter {
	return func(value any) string {
		list, ok := value.([]any)
		if !ok || len(list) == 0 {
			return emptyText
		}
		return leadIn + FormatRecordList(list)
	}
}

// DefaultFormatters returns the field formatters story generation uses.
func DefaultFormatters() map[string]ValueFormatter {
	return map[string]ValueFormatter{
		"side_characters": RecordListFormatter("Side characters: ", "[No side characters specified]"),
		"magic_elements":  ListFormatter("Magical elements involved: ", "[No magic elements specified]"),
		"last_choices":    ListFormatter("Previous choices offered: ", "[No previous choices recorded]"),
	}
}
