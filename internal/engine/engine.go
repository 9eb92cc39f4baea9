// Package engine orchestrates narrative turns: validating the player's
// action, assembling the layered system prompt, calling the completion
// provider, committing the turn, and scheduling background context
// analysis and summarization.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/narrative-engine/internal/services"
	"github.com/storyloom/narrative-engine/internal/storage"
	"github.com/storyloom/narrative-engine/pkg/chat"
	"github.com/storyloom/narrative-engine/pkg/jsonrepair"
	"github.com/storyloom/narrative-engine/pkg/prompts"
	"github.com/storyloom/narrative-engine/pkg/state"
	"github.com/storyloom/narrative-engine/pkg/template"
)

// Config tunes models and windows for one engine instance. Zero values
// fall back to defaults.
type Config struct {
	StoryModel    string
	AnalysisModel string
	SummaryModel  string

	// Temperature for story generation. Background calls use provider
	// defaults unless overridden per request.
	Temperature *float32

	MaxTokens int

	// HistoryLimit caps how many transcript entries the generation
	// prompt sees.
	HistoryLimit int

	// AnalysisWindow and SummaryWindow cap the transcript slices handed
	// to the background tasks.
	AnalysisWindow int
	SummaryWindow  int

	// Triggers sets the background task cadence. A zero interval takes
	// the default; a negative interval disables that task.
	Triggers state.TriggerPolicy
}

const (
	defaultHistoryLimit   = 10
	defaultAnalysisWindow = 6
	defaultSummaryWindow  = 10
)

// Engine coordinates storage, the completion provider, and the prompt
// formatter for narrative sessions.
type Engine struct {
	store    storage.Store
	provider services.CompletionProvider
	logger   *slog.Logger
	cfg      Config
	tasks    *taskRunner
}

// New creates an engine. Zero config fields get defaults.
func New(store storage.Store, provider services.CompletionProvider, logger *slog.Logger, cfg Config) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.AnalysisWindow <= 0 {
		cfg.AnalysisWindow = defaultAnalysisWindow
	}
	if cfg.SummaryWindow <= 0 {
		cfg.SummaryWindow = defaultSummaryWindow
	}
	if cfg.Triggers.AnalysisInterval == 0 {
		cfg.Triggers.AnalysisInterval = state.DefaultAnalysisInterval
	}
	if cfg.Triggers.SummaryInterval == 0 {
		cfg.Triggers.SummaryInterval = state.DefaultSummaryInterval
	}

	return &Engine{
		store:    store,
		provider: provider,
		logger:   logger,
		cfg:      cfg,
		tasks:    newTaskRunner(logger),
	}
}

// Wait blocks until all background tasks spawned so far have finished.
func (e *Engine) Wait() {
	e.tasks.Wait()
}

// DebugOptions override prompts and models for a single request. Intended
// for authoring tools, never for players.
type DebugOptions struct {
	SystemPrompt        string
	SummarySystemPrompt string
	StoryModel          string
	SummaryModel        string
	Temperature         *float32

	// Fields are extra placeholder values that outrank every other
	// context source during prompt rendering.
	Fields map[string]any
}

// TurnRequest is one player action against a session at a specific turn.
type TurnRequest struct {
	SessionID  uuid.UUID
	TurnNumber int
	Action     state.Action
	Debug      *DebugOptions
}

// TurnResult is the outcome of a committed turn. Summary is the running
// summary as of the turn, before any background update lands.
type TurnResult struct {
	SessionID   uuid.UUID
	StoryText   string
	Choices     []string
	Summary     string
	NextTurn    int
	RawResponse string
}

// CreateSession starts a new session from a template. The session copies
// the template's initial elements and summary.
func (e *Engine) CreateSession(ctx context.Context, userID, templateID string) (*state.Session, error) {
	tmpl, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	s := state.NewSession(userID, templateID)
	s.Title = tmpl.Title
	s.Summary = tmpl.InitialSummary
	if len(tmpl.InitialElements) > 0 {
		merged, _ := state.Merge(nil, tmpl.InitialElements)
		s.Context = merged
	}

	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}

	e.logger.Info("Session created", "session_id", s.ID, "template", templateID, "user", userID)
	return s, nil
}

// GetSession loads a session or returns ErrSessionNotFound.
func (e *Engine) GetSession(ctx context.Context, id uuid.UUID) (*state.Session, error) {
	s, err := e.store.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// AdvanceTurn runs one full narrative turn. On success the action and the
// generated segment are committed to the transcript, the turn counter
// advances, and eligible background tasks are scheduled.
func (e *Engine) AdvanceTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := req.Action.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	s, err := e.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Completed {
		return nil, fmt.Errorf("%w: %s", ErrSessionCompleted, s.ID)
	}
	if req.TurnNumber != s.CurrentTurn {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrTurnConflict, s.CurrentTurn, req.TurnNumber)
	}

	tmpl, err := e.store.GetTemplate(ctx, s.TemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, s.TemplateID)
	}

	systemPrompt, err := e.buildSystemPrompt(s, tmpl, req.Debug)
	if err != nil {
		return nil, err
	}

	// The action joins the history before generation; it is the model's
	// cue for what happens next.
	action := req.Action.Format()
	history := append(s.RecentTexts(0), action)

	window := history
	if len(window) > e.cfg.HistoryLimit {
		window = window[len(window)-e.cfg.HistoryLimit:]
	}
	userMessage := prompts.GenerationUserMessage(window, len(history))

	model := e.cfg.StoryModel
	temperature := e.cfg.Temperature
	if req.Debug != nil {
		if req.Debug.StoryModel != "" {
			model = req.Debug.StoryModel
		}
		if req.Debug.Temperature != nil {
			temperature = req.Debug.Temperature
		}
	}

	raw, err := e.provider.Complete(ctx, services.CompletionRequest{
		SystemPrompt: systemPrompt,
		History:      []chat.Message{chat.User(userMessage)},
		Model:        model,
		Temperature:  temperature,
		MaxTokens:    e.cfg.MaxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return nil, &GenerationError{Err: err}
	}

	storyText, choices, err := parseSegment(raw)
	if err != nil {
		e.logger.Error("Unusable story response", "session_id", s.ID, "error", err)
		return nil, &GenerationError{RawText: raw, Err: err}
	}
	if len(choices) < 2 {
		e.logger.Warn("Story response offered fewer than 2 choices", "session_id", s.ID, "choices", choices)
	}

	completedTurn := s.CurrentTurn
	now := time.Now().UTC()
	committed, err := e.store.CommitTurn(ctx, s.ID, completedTurn, func(cur *state.Session) error {
		cur.Transcript = append(cur.Transcript,
			state.TurnRecord{Turn: completedTurn, Type: req.Action.EntryType(), Content: action, CreatedAt: now},
			state.TurnRecord{Turn: completedTurn, Type: state.EntryStory, Content: storyText, CreatedAt: now},
		)
		cur.CurrentTurn = completedTurn + 1
		cur.LastChoices = choices
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: session advanced concurrently", ErrTurnConflict)
		}
		return nil, err
	}

	e.scheduleBackground(s.ID, tmpl, committed, completedTurn, req.Debug)

	result := &TurnResult{
		SessionID: s.ID,
		StoryText: storyText,
		Choices:   choices,
		Summary:   s.Summary,
		NextTurn:  committed.CurrentTurn,
	}
	if req.Debug != nil {
		result.RawResponse = raw
	}

	e.logger.Info("Turn committed", "session_id", s.ID, "turn", completedTurn, "next_turn", committed.CurrentTurn)
	return result, nil
}

// scheduleBackground spawns analysis and summarization when the completed
// turn hits a trigger interval.
func (e *Engine) scheduleBackground(id uuid.UUID, tmpl *template.StoryTemplate, committed *state.Session, completedTurn int, debug *DebugOptions) {
	analysisModel := e.cfg.AnalysisModel
	summaryModel := e.cfg.SummaryModel
	summaryPrompt := tmpl.SummaryPrompt
	if debug != nil {
		if debug.SummaryModel != "" {
			analysisModel = debug.SummaryModel
			summaryModel = debug.SummaryModel
		}
		if debug.SummarySystemPrompt != "" {
			summaryPrompt = debug.SummarySystemPrompt
		}
	}

	if e.cfg.Triggers.ShouldAnalyze(completedTurn) {
		texts := committed.RecentTexts(e.cfg.AnalysisWindow)
		prompt := tmpl.AnalysisPrompt
		e.logger.Info("Scheduling context analysis", "session_id", id, "turn", completedTurn)
		e.tasks.Go("analysis", func(ctx context.Context) {
			e.runAnalysis(ctx, id, prompt, texts, analysisModel)
		})
	}

	if e.cfg.Triggers.ShouldSummarize(completedTurn) {
		texts := committed.RecentTexts(e.cfg.SummaryWindow)
		existing := committed.Summary
		e.logger.Info("Scheduling summary update", "session_id", id, "turn", completedTurn)
		e.tasks.Go("summary", func(ctx context.Context) {
			e.runSummary(ctx, id, summaryPrompt, existing, texts, summaryModel)
		})
	}
}

// buildSystemPrompt renders the turn's system prompt from the layered
// context sources. Debug fields outrank built-in fields, which outrank
// the session context, which outranks the template's initial elements,
// which outrank the special summary and lore fields.
func (e *Engine) buildSystemPrompt(s *state.Session, tmpl *template.StoryTemplate, debug *DebugOptions) (string, error) {
	text := ""
	if debug != nil && debug.SystemPrompt != "" {
		text = debug.SystemPrompt
	} else {
		p, ok := tmpl.SelectPrompt(s.CurrentTurn)
		if !ok {
			return "", fmt.Errorf("%w: template %s, turn %d", ErrNoPromptTemplate, tmpl.ID, s.CurrentTurn)
		}
		text = p.SystemPrompt
	}

	builtin := map[string]any{
		"current_turn_number": s.CurrentTurn,
		"language":            tmpl.Language,
		"base_story_title":    tmpl.Title,
		"last_choices":        toAnySlice(s.LastChoices),
	}
	special := map[string]any{
		prompts.KeySummary: s.Summary,
		prompts.KeyLore:    tmpl.LoreText,
	}

	sources := []map[string]any{
		builtin,
		s.Context,
		tmpl.InitialElements,
		special,
	}
	if debug != nil && len(debug.Fields) > 0 {
		sources = append([]map[string]any{debug.Fields}, sources...)
	}

	rendered, missing := prompts.Render(text, sources, prompts.DefaultFormatters())
	if len(missing) > 0 {
		e.logger.Warn("Unresolved prompt placeholders", "session_id", s.ID, "placeholders", missing)
	}
	return rendered, nil
}

// parseSegment extracts the story text and next choices from a model
// response, running it through the repair ladder first.
func parseSegment(raw string) (string, []string, error) {
	parsed, err := jsonrepair.Parse(raw)
	if err != nil {
		return "", nil, err
	}

	storyText, ok := parsed["storySegment"].(string)
	if !ok || storyText == "" {
		return "", nil, fmt.Errorf("response has no usable storySegment field")
	}

	rawChoices, ok := parsed["choices"].([]any)
	if !ok {
		return "", nil, fmt.Errorf("response has no usable choices list")
	}
	choices := make([]string, 0, len(rawChoices))
	for _, c := range rawChoices {
		if text, ok := c.(string); ok {
			choices = append(choices, text)
		} else {
			choices = append(choices, fmt.Sprintf("%v", c))
		}
	}
	return storyText, choices, nil
}

// CompleteSession marks a session finished; further turns fail until the
// session is reopened.
func (e *Engine) CompleteSession(ctx context.Context, id uuid.UUID) (*state.Session, error) {
	return e.setCompleted(ctx, id, true)
}

// ReopenSession re-enables turns on a completed session. The turn counter
// is preserved.
func (e *Engine) ReopenSession(ctx context.Context, id uuid.UUID) (*state.Session, error) {
	return e.setCompleted(ctx, id, false)
}

func (e *Engine) setCompleted(ctx context.Context, id uuid.UUID, completed bool) (*state.Session, error) {
	if _, err := e.GetSession(ctx, id); err != nil {
		return nil, err
	}
	s, err := e.store.UpdateSession(ctx, id, func(cur *state.Session) error {
		cur.Completed = completed
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Session completion updated", "session_id", id, "completed", completed)
	return s, nil
}

// DeleteSession removes a session permanently.
func (e *Engine) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := e.GetSession(ctx, id); err != nil {
		return err
	}
	if err := e.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	e.logger.Info("Session deleted", "session_id", id)
	return nil
}

// ListTemplates exposes the active templates for session creation.
func (e *Engine) ListTemplates(ctx context.Context) (map[string]string, error) {
	return e.store.ListTemplates(ctx)
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
