package state

import "reflect"

// ignorableScalars are the sentinel spellings an analysis response uses to
// mean "no change". They are shared by the merge engine and response
// validation so the convention cannot drift between call sites.
var ignorableScalars = map[string]struct{}{
	"":                 {},
	"unchanged":        {},
	"unknown":          {},
	"Unknown":          {},
	"N/A":              {},
	"[Not Applicable]": {},
}

// IsIgnorable reports whether v is a no-change sentinel.
func IsIgnorable(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, ignore := ignorableScalars[s]
	return ignore
}

// Merge deep-merges a sparse analysis delta into an existing story context
// and reports whether any field actually changed. Neither input is mutated;
// both are treated as JSON trees (map[string]any / []any / scalars).
//
// Rules per key:
//   - absent in existing: added, unless the value is a non-list ignorable
//     sentinel. Lists are always written so the field gets established.
//   - both maps: recursive merge; nil sub-values never overwrite.
//   - both lists: merged by record identity ("name", then "id") when both
//     sides are record lists; otherwise delta items not already present are
//     appended, preserving existing order.
//   - otherwise: overwrite, unless the new value is ignorable or equal.
func Merge(existing StoryContext, delta map[string]any) (StoryContext, bool) {
	merged := make(StoryContext, len(existing)+len(delta))
	for k, v := range existing {
		merged[k] = deepCopy(v)
	}

	changed := false
	for key, newValue := range delta {
		existingValue, present := merged[key]
		if !present {
			if _, isList := newValue.([]any); !isList && IsIgnorable(newValue) {
				continue
			}
			merged[key] = deepCopy(newValue)
			changed = true
			continue
		}

		if em, ok := existingValue.(map[string]any); ok {
			if nm, ok := newValue.(map[string]any); ok {
				if mergeMaps(em, nm) {
					changed = true
				}
				continue
			}
		}
		if el, ok := existingValue.([]any); ok {
			if nl, ok := newValue.([]any); ok {
				out, listChanged := mergeLists(el, nl)
				merged[key] = out
				if listChanged {
					changed = true
				}
				continue
			}
		}

		// Scalar overwrite, also covering type mismatches.
		if IsIgnorable(newValue) || reflect.DeepEqual(existingValue, newValue) {
			continue
		}
		merged[key] = deepCopy(newValue)
		changed = true
	}
	return merged, changed
}

// mergeMaps merges source into target in place. target must be a private
// copy. Nil source values never overwrite; nested maps recurse.
func mergeMaps(target, source map[string]any) bool {
	changed := false
	for k, v := range source {
		tv, ok := target[k]
		if !ok {
			if v != nil {
				target[k] = deepCopy(v)
				changed = true
			}
			continue
		}
		if tm, ok := tv.(map[string]any); ok {
			if sm, ok := v.(map[string]any); ok {
				if mergeMaps(tm, sm) {
					changed = true
				}
				continue
			}
		}
		if v == nil || reflect.DeepEqual(tv, v) {
			continue
		}
		target[k] = deepCopy(v)
		changed = true
	}
	return changed
}

// mergeLists merges source into target, returning the merged list. target
// must be a private copy. When both sides are non-empty lists of records
// sharing an identity field, matched records are field-merged and unmatched
// source records appended; otherwise source items not already present are
// appended.
func mergeLists(target, source []any) ([]any, bool) {
	if len(source) == 0 {
		return target, false
	}

	idKey := identityKey(target, source)
	if idKey == "" {
		changed := false
		for _, item := range source {
			if !containsValue(target, item) {
				target = append(target, deepCopy(item))
				changed = true
			}
		}
		return target, changed
	}

	index := make(map[string]int, len(target))
	for i, item := range target {
		if m, ok := item.(map[string]any); ok {
			if id, ok := m[idKey].(string); ok {
				index[id] = i
			}
		}
	}

	changed := false
	for _, item := range source {
		m, ok := item.(map[string]any)
		if !ok {
			if !containsValue(target, item) {
				target = append(target, deepCopy(item))
				changed = true
			}
			continue
		}
		id, ok := m[idKey].(string)
		if !ok {
			if !containsValue(target, item) {
				target = append(target, deepCopy(item))
				changed = true
			}
			continue
		}
		if i, matched := index[id]; matched {
			if tm, ok := target[i].(map[string]any); ok {
				if mergeMaps(tm, m) {
					changed = true
				}
			}
			continue
		}
		target = append(target, deepCopy(item))
		index[id] = len(target) - 1
		changed = true
	}
	return target, changed
}

// identityKey picks the record-identity field when both lists are non-empty
// lists of records carrying it: "name" is tried first, then "id".
func identityKey(target, source []any) string {
	if len(target) == 0 || len(source) == 0 {
		return ""
	}
	tm, ok := target[0].(map[string]any)
	if !ok {
		return ""
	}
	sm, ok := source[0].(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"name", "id"} {
		_, inTarget := tm[key]
		_, inSource := sm[key]
		if inTarget && inSource {
			return key
		}
	}
	return ""
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
