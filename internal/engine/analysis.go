package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/storyloom/narrative-engine/internal/logger"
	"github.com/storyloom/narrative-engine/internal/services"
	"github.com/storyloom/narrative-engine/pkg/chat"
	"github.com/storyloom/narrative-engine/pkg/jsonrepair"
	"github.com/storyloom/narrative-engine/pkg/prompts"
	"github.com/storyloom/narrative-engine/pkg/state"
	"github.com/storyloom/narrative-engine/pkg/template"
)

// analysisFields are the element keys the analysis prompt is shown, in a
// fixed shape so the model compares against a stable structure.
var analysisFields = []string{
	"side_characters", "initial_task", "magic_elements", "obstacle",
	"reward", "main_character_trait", "main_character_wish",
	"cliffhanger_situation", "main_character", "setting", "language",
}

var analysisListFields = map[string]bool{
	"side_characters": true,
	"magic_elements":  true,
}

// prepareElements projects the session context onto the fixed analysis
// shape. Missing fields appear empty rather than absent.
func prepareElements(ctx state.StoryContext) map[string]any {
	out := make(map[string]any, len(analysisFields))
	for _, key := range analysisFields {
		value, ok := ctx[key]
		if !ok || value == nil {
			if analysisListFields[key] {
				value = []any{}
			} else {
				value = ""
			}
		}
		out[key] = value
	}
	return out
}

// runAnalysis extracts new or changed story elements from recent text and
// merges them into the session context. Runs in the background; failures
// are logged, never surfaced.
func (e *Engine) runAnalysis(ctx context.Context, id uuid.UUID, systemPrompt string, texts []string, model string) {
	log := logger.WithSession(e.logger, id.String())

	s, err := e.store.LoadSession(ctx, id)
	if err != nil {
		logger.WithError(log, err).Error("Analysis aborted, session unavailable")
		return
	}
	if s == nil {
		log.Error("Analysis aborted, session missing")
		return
	}

	existingJSON, err := json.MarshalIndent(prepareElements(s.Context), "", "  ")
	if err != nil {
		logger.WithError(log, err).Error("Analysis aborted, cannot marshal elements")
		return
	}

	userMessage := prompts.AnalysisUserMessage(string(existingJSON), texts)
	raw, err := e.provider.Complete(ctx, services.CompletionRequest{
		SystemPrompt: systemPrompt,
		History:      []chat.Message{chat.User(userMessage)},
		Model:        model,
		JSONMode:     true,
	})
	if err != nil {
		logger.WithError(log, err).Error("Analysis call failed")
		return
	}

	delta, err := jsonrepair.Parse(raw)
	if err != nil {
		logger.WithError(log, err).Warn("Analysis response unusable")
		return
	}
	if len(delta) == 0 {
		log.Info("Analysis returned no elements")
		return
	}

	// Merge against the live context, not the snapshot from turn time.
	changed := false
	if _, err := e.store.UpdateSession(ctx, id, func(cur *state.Session) error {
		merged, didChange := state.Merge(cur.Context, delta)
		cur.Context = merged
		changed = didChange
		return nil
	}); err != nil {
		logger.WithError(log, err).Error("Failed to persist analyzed context")
		return
	}

	if changed {
		log.Info("Story context updated from analysis")
	} else {
		log.Info("Analysis produced no context changes")
	}
}

// AnalyzeTemplate extracts initial story elements from a template's lore
// text. Used at authoring time to seed InitialElements.
func (e *Engine) AnalyzeTemplate(ctx context.Context, tmpl *template.StoryTemplate) (map[string]any, error) {
	if tmpl.LoreText == "" {
		return nil, fmt.Errorf("template %s has no lore text to analyze", tmpl.ID)
	}

	userMessage := prompts.AnalysisUserMessage("{}", []string{tmpl.LoreText})
	raw, err := e.provider.Complete(ctx, services.CompletionRequest{
		SystemPrompt: tmpl.AnalysisPrompt,
		History:      []chat.Message{chat.User(userMessage)},
		Model:        e.cfg.AnalysisModel,
		JSONMode:     true,
	})
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	elements, err := jsonrepair.Parse(raw)
	if err != nil {
		return nil, &GenerationError{RawText: raw, Err: err}
	}
	return elements, nil
}
