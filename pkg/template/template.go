// Package template defines the static authored seed a narrative session is
// instantiated from: lore text, initial story elements, and the prompt set
// that drives generation, analysis and summarization.
package template

import (
	"fmt"
	"sort"
)

// Prompt is a system prompt active for a range of turns. TurnEnd nil means
// the range is open-ended.
type Prompt struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	TurnStart    int    `json:"turn_start"`
	TurnEnd      *int   `json:"turn_end,omitempty"`
}

// Covers reports whether the prompt's turn range contains turn.
func (p Prompt) Covers(turn int) bool {
	if turn < p.TurnStart {
		return false
	}
	return p.TurnEnd == nil || turn <= *p.TurnEnd
}

// StoryTemplate is a base story: the authored material shared by every
// session started from it.
type StoryTemplate struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`

	// LoreText is the original tale the template was authored from; it is
	// always available to the formatter as original_tale_context.
	LoreText string `json:"lore_text"`

	// InitialElements is the pre-computed analysis of LoreText, produced
	// once at authoring time. Sessions copy it as their starting context.
	InitialElements map[string]any `json:"initial_elements,omitempty"`

	// InitialSummary seeds a new session's running summary.
	InitialSummary string `json:"initial_summary,omitempty"`

	Prompts        []Prompt `json:"prompts"`
	AnalysisPrompt string   `json:"analysis_prompt"`
	SummaryPrompt  string   `json:"summary_prompt"`

	IsActive bool `json:"is_active"`
}

// SelectPrompt returns the active system prompt for the given turn: among
// prompts whose range covers the turn, the one with the largest TurnStart
// wins, ties broken by smallest ID for determinism. The boolean is false
// when no prompt applies; callers treat that as a configuration error
// rather than falling back to a default.
func (t *StoryTemplate) SelectPrompt(turn int) (Prompt, bool) {
	var candidates []Prompt
	for _, p := range t.Prompts {
		if p.Covers(turn) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return Prompt{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].TurnStart != candidates[j].TurnStart {
			return candidates[i].TurnStart > candidates[j].TurnStart
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// Validate checks the template for authoring errors.
func (t *StoryTemplate) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("template id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("template %s: title is required", t.ID)
	}
	if t.LoreText == "" {
		return fmt.Errorf("template %s: lore_text is required", t.ID)
	}
	if len(t.Prompts) == 0 {
		return fmt.Errorf("template %s: at least one prompt is required", t.ID)
	}
	seen := make(map[string]struct{}, len(t.Prompts))
	for _, p := range t.Prompts {
		if p.ID == "" {
			return fmt.Errorf("template %s: prompt id is required", t.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("template %s: duplicate prompt id %q", t.ID, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.SystemPrompt == "" {
			return fmt.Errorf("template %s: prompt %s: system_prompt is required", t.ID, p.ID)
		}
		if p.TurnStart < 0 {
			return fmt.Errorf("template %s: prompt %s: turn_start must be >= 0", t.ID, p.ID)
		}
		if p.TurnEnd != nil && *p.TurnEnd < p.TurnStart {
			return fmt.Errorf("template %s: prompt %s: turn_end precedes turn_start", t.ID, p.ID)
		}
	}
	if t.AnalysisPrompt == "" {
		return fmt.Errorf("template %s: analysis_prompt is required", t.ID)
	}
	if t.SummaryPrompt == "" {
		return fmt.Errorf("template %s: summary_prompt is required", t.ID)
	}
	if _, ok := t.SelectPrompt(0); !ok {
		return fmt.Errorf("template %s: no prompt covers turn 0", t.ID)
	}
	return nil
}
