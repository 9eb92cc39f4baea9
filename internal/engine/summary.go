package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/storyloom/narrative-engine/internal/logger"
	"github.com/storyloom/narrative-engine/internal/services"
	"github.com/storyloom/narrative-engine/pkg/chat"
	"github.com/storyloom/narrative-engine/pkg/prompts"
	"github.com/storyloom/narrative-engine/pkg/state"
)

// minSummaryLength guards against the model replying with an apology or
// a fragment instead of a summary. Shorter replies keep the old summary.
const minSummaryLength = 10

// generateSummary folds recent developments into the existing summary and
// returns the accepted text, or the existing summary when the reply is
// unusable.
func (e *Engine) generateSummary(ctx context.Context, systemPrompt, existing string, developments []string, model string) (string, error) {
	userMessage := prompts.SummaryUserMessage(existing, developments)
	raw, err := e.provider.Complete(ctx, services.CompletionRequest{
		SystemPrompt: systemPrompt,
		History:      []chat.Message{chat.User(userMessage)},
		Model:        model,
	})
	if err != nil {
		return existing, err
	}

	updated := strings.TrimSpace(raw)
	if len(updated) < minSummaryLength {
		e.logger.Warn("Generated summary too short, keeping existing", "length", len(updated))
		return existing, nil
	}
	return updated, nil
}

// runSummary is the background summarization task. Failures are logged,
// never surfaced.
func (e *Engine) runSummary(ctx context.Context, id uuid.UUID, systemPrompt, existing string, developments []string, model string) {
	log := logger.WithSession(e.logger, id.String())

	updated, err := e.generateSummary(ctx, systemPrompt, existing, developments, model)
	if err != nil {
		logger.WithError(log, err).Error("Summary call failed")
		return
	}
	if updated == existing {
		return
	}

	if _, err := e.store.UpdateSession(ctx, id, func(cur *state.Session) error {
		cur.Summary = updated
		return nil
	}); err != nil {
		logger.WithError(log, err).Error("Failed to persist summary")
		return
	}
	log.Info("Summary updated")
}

// Summarize forces a synchronous summary update over the recent
// transcript and returns the new summary.
func (e *Engine) Summarize(ctx context.Context, id uuid.UUID, debug *DebugOptions) (string, error) {
	s, err := e.GetSession(ctx, id)
	if err != nil {
		return "", err
	}

	tmpl, err := e.store.GetTemplate(ctx, s.TemplateID)
	if err != nil {
		return "", err
	}
	if tmpl == nil {
		return "", ErrTemplateNotFound
	}

	systemPrompt := tmpl.SummaryPrompt
	model := e.cfg.SummaryModel
	if debug != nil {
		if debug.SummarySystemPrompt != "" {
			systemPrompt = debug.SummarySystemPrompt
		}
		if debug.SummaryModel != "" {
			model = debug.SummaryModel
		}
	}

	updated, err := e.generateSummary(ctx, systemPrompt, s.Summary, s.RecentTexts(e.cfg.SummaryWindow), model)
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	if updated != s.Summary {
		if _, err := e.store.UpdateSession(ctx, id, func(cur *state.Session) error {
			cur.Summary = updated
			return nil
		}); err != nil {
			return "", err
		}
	}
	return updated, nil
}
