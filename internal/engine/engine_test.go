package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/narrative-engine/internal/services"
	"github.com/storyloom/narrative-engine/internal/storage"
	"github.com/storyloom/narrative-engine/pkg/state"
	"github.com/storyloom/narrative-engine/pkg/template"
)

func intp(v int) *int { return &v }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTemplate() *template.StoryTemplate {
	return &template.StoryTemplate{
		ID:       "red_riding_hood",
		Title:    "Little Red Riding Hood",
		Language: "English",
		LoreText: "Once upon a time there was a girl with a red hood.",
		InitialElements: map[string]any{
			"main_character": "Red",
			"setting":        "the deep forest",
		},
		InitialSummary: "Red is asked to bring food to her grandmother.",
		Prompts: []template.Prompt{
			{ID: "opening", Name: "Opening", SystemPrompt: "Narrate {base_story_title} in {language}. Setting: {setting}. Obstacle: {obstacle}. Summary so far: {current_summary}", TurnStart: 0, TurnEnd: intp(5)},
			{ID: "late", Name: "Late", SystemPrompt: "Drive toward the ending. Summary: {current_summary}", TurnStart: 6},
		},
		AnalysisPrompt: "Extract new or changed story elements as JSON.",
		SummaryPrompt:  "Update the story summary.",
		IsActive:       true,
	}
}

func testEngine(t *testing.T, responses ...string) (*Engine, *storage.MockStore, *services.MockProvider) {
	t.Helper()

	store := storage.NewMockStore()
	store.Templates["red_riding_hood"] = testTemplate()
	provider := services.NewMockProvider(responses...)
	eng := New(store, provider, testLogger(), Config{StoryModel: "test-model"})
	return eng, store, provider
}

func seedSession(t *testing.T, eng *Engine, store *storage.MockStore) *state.Session {
	t.Helper()

	s, err := eng.CreateSession(context.Background(), "user-1", "red_riding_hood")
	require.NoError(t, err)
	return s
}

const segmentJSON = `{"storySegment": "Red stepped onto the shadowed path.", "choices": ["Follow the flowers", "Stay on the trail"]}`

func TestNew_DefaultsTriggerIntervalsIndependently(t *testing.T) {
	store := storage.NewMockStore()
	provider := services.NewMockProvider()

	eng := New(store, provider, testLogger(), Config{
		Triggers: state.TriggerPolicy{AnalysisInterval: 5},
	})
	assert.Equal(t, 5, eng.cfg.Triggers.AnalysisInterval)
	assert.Equal(t, state.DefaultSummaryInterval, eng.cfg.Triggers.SummaryInterval)

	eng = New(store, provider, testLogger(), Config{
		Triggers: state.TriggerPolicy{SummaryInterval: -1},
	})
	assert.Equal(t, state.DefaultAnalysisInterval, eng.cfg.Triggers.AnalysisInterval)
	assert.False(t, eng.cfg.Triggers.ShouldSummarize(3))
}

func TestCreateSession_SeedsFromTemplate(t *testing.T) {
	eng, store, _ := testEngine(t)

	s := seedSession(t, eng, store)
	assert.Equal(t, "Little Red Riding Hood", s.Title)
	assert.Equal(t, "Red is asked to bring food to her grandmother.", s.Summary)
	assert.Equal(t, "Red", s.Context["main_character"])
	assert.Equal(t, 0, s.CurrentTurn)

	// The session context is a copy, not a live view of the template.
	s.Context["main_character"] = "mutated"
	assert.Equal(t, "Red", store.Templates["red_riding_hood"].InitialElements["main_character"])
}

func TestCreateSession_UnknownTemplate(t *testing.T) {
	eng, _, _ := testEngine(t)

	_, err := eng.CreateSession(context.Background(), "user-1", "nope")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestAdvanceTurn_CommitsActionAndSegment(t *testing.T) {
	eng, store, provider := testEngine(t, segmentJSON)
	s := seedSession(t, eng, store)

	res, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter the forest"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Red stepped onto the shadowed path.", res.StoryText)
	assert.Equal(t, []string{"Follow the flowers", "Stay on the trail"}, res.Choices)
	assert.Equal(t, 1, res.NextTurn)
	assert.Empty(t, res.RawResponse, "raw response is debug-only")

	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentTurn)
	assert.Equal(t, []string{"Follow the flowers", "Stay on the trail"}, updated.LastChoices)
	require.Len(t, updated.Transcript, 2)
	assert.Equal(t, state.EntryChoice, updated.Transcript[0].Type)
	assert.Equal(t, "My choice: Enter the forest", updated.Transcript[0].Content)
	assert.Equal(t, state.EntryStory, updated.Transcript[1].Type)

	// The system prompt was rendered from the layered sources and the
	// user message carries the framed history.
	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].SystemPrompt, "Narrate Little Red Riding Hood in English.")
	assert.Contains(t, calls[0].SystemPrompt, "Setting: the deep forest.")
	assert.Contains(t, calls[0].SystemPrompt, "{obstacle}", "unknown placeholders stay literal")
	assert.Contains(t, calls[0].SystemPrompt, "Red is asked to bring food to her grandmother.")
	require.Len(t, calls[0].History, 1)
	assert.Contains(t, calls[0].History[0].Content, "[Start of History]")
	assert.Contains(t, calls[0].History[0].Content, "My choice: Enter the forest")
	assert.True(t, calls[0].JSONMode)
	assert.Equal(t, "test-model", calls[0].Model)

	eng.Wait()
	assert.Len(t, provider.Calls(), 1, "turn 0 schedules no background work")
}

func TestAdvanceTurn_TurnMismatch(t *testing.T) {
	eng, store, _ := testEngine(t, segmentJSON)
	s := seedSession(t, eng, store)

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 3,
		Action:     state.Action{Choice: "Enter"},
	})
	assert.ErrorIs(t, err, ErrTurnConflict)
}

func TestAdvanceTurn_ConcurrentCommitConflict(t *testing.T) {
	eng, store, _ := testEngine(t, segmentJSON)
	s := seedSession(t, eng, store)

	store.CommitTurnFunc = func(ctx context.Context, id uuid.UUID, expectedTurn int, mutate func(*state.Session) error) (*state.Session, error) {
		return nil, storage.ErrConflict
	}

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})
	assert.ErrorIs(t, err, ErrTurnConflict)
}

func TestAdvanceTurn_InvalidAction(t *testing.T) {
	eng, store, _ := testEngine(t, segmentJSON)
	s := seedSession(t, eng, store)

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{SessionID: s.ID})
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID: s.ID,
		Action:    state.Action{Choice: "a", FreeText: "b"},
	})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestAdvanceTurn_CompletedSession(t *testing.T) {
	eng, store, _ := testEngine(t, segmentJSON)
	s := seedSession(t, eng, store)

	_, err := eng.CompleteSession(context.Background(), s.ID)
	require.NoError(t, err)

	_, err = eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})
	assert.ErrorIs(t, err, ErrSessionCompleted)

	_, err = eng.ReopenSession(context.Background(), s.ID)
	require.NoError(t, err)

	_, err = eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})
	assert.NoError(t, err)
}

func TestAdvanceTurn_SessionNotFound(t *testing.T) {
	eng, _, _ := testEngine(t, segmentJSON)

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  uuid.New(),
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAdvanceTurn_NoPromptForTurn(t *testing.T) {
	eng, store, _ := testEngine(t, segmentJSON)

	tmpl := testTemplate()
	tmpl.Prompts = []template.Prompt{
		{ID: "late", SystemPrompt: "x", TurnStart: 5},
	}
	store.Templates["red_riding_hood"] = tmpl
	s := state.NewSession("user-1", "red_riding_hood")
	store.Sessions[s.ID] = s

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})
	assert.ErrorIs(t, err, ErrNoPromptTemplate)
}

func TestAdvanceTurn_UnparseableResponse(t *testing.T) {
	eng, store, _ := testEngine(t, "I am sorry, I cannot continue this story.")
	s := seedSession(t, eng, store)

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "I am sorry, I cannot continue this story.", genErr.RawText)

	// Nothing was committed.
	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.CurrentTurn)
	assert.Empty(t, updated.Transcript)
}

func TestAdvanceTurn_MissingChoices(t *testing.T) {
	raw := `{"storySegment": "The wolf grins."}`
	eng, store, _ := testEngine(t, raw)
	s := seedSession(t, eng, store)

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, raw, genErr.RawText)

	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.CurrentTurn)
	assert.Empty(t, updated.Transcript)
}

func TestAdvanceTurn_WrongTypedChoices(t *testing.T) {
	eng, store, _ := testEngine(t, `{"storySegment": "The wolf grins.", "choices": "go left"}`)
	s := seedSession(t, eng, store)

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)

	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.Transcript)
}

func TestAdvanceTurn_SingleChoiceAccepted(t *testing.T) {
	eng, store, _ := testEngine(t, `{"storySegment": "The door slams shut.", "choices": ["Pound on it"]}`)
	s := seedSession(t, eng, store)

	res, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Pound on it"}, res.Choices)
	assert.Equal(t, 1, res.NextTurn)
}

func TestAdvanceTurn_RepairsSloppyResponse(t *testing.T) {
	fenced := "```json\n{storySegment: 'Red ran.', choices: ['Hide', \"Shout\"],}\n```"
	eng, store, _ := testEngine(t, fenced)
	s := seedSession(t, eng, store)

	res, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{FreeText: "run away"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Red ran.", res.StoryText)
	assert.Equal(t, []string{"Hide", "Shout"}, res.Choices)

	updated, _ := eng.GetSession(context.Background(), s.ID)
	assert.Equal(t, state.EntryUserInput, updated.Transcript[0].Type)
	assert.Equal(t, "My custom action: run away", updated.Transcript[0].Content)
}

func advanceTo(t *testing.T, eng *Engine, store *storage.MockStore, s *state.Session, turn int) {
	t.Helper()
	_, err := store.UpdateSession(context.Background(), s.ID, func(cur *state.Session) error {
		cur.CurrentTurn = turn
		return nil
	})
	require.NoError(t, err)
}

func TestAdvanceTurn_TriggersAnalysis(t *testing.T) {
	swimJSON := `{"storySegment": "You swim across.", "choices": ["Climb the bank", "Rest"]}`
	analysisDelta := `{"obstacle": "a cold river", "setting": "unchanged"}`
	eng, store, provider := testEngine(t, swimJSON, analysisDelta)
	s := seedSession(t, eng, store)

	_, err := store.UpdateSession(context.Background(), s.ID, func(cur *state.Session) error {
		cur.CurrentTurn = 2
		cur.Transcript = []state.TurnRecord{
			{Turn: 0, Type: state.EntryChoice, Content: "My choice: go left"},
			{Turn: 0, Type: state.EntryStory, Content: "You see a river."},
			{Turn: 1, Type: state.EntryChoice, Content: "My choice: swim"},
		}
		return nil
	})
	require.NoError(t, err)

	res, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 2,
		Action:     state.Action{Choice: "swim"},
	})
	require.NoError(t, err)
	assert.Equal(t, "You swim across.", res.StoryText)
	assert.Equal(t, []string{"Climb the bank", "Rest"}, res.Choices)
	assert.Equal(t, 3, res.NextTurn)
	eng.Wait()

	calls := provider.Calls()
	require.Len(t, calls, 2, "completed turn 2 triggers analysis, summary interval not hit")
	assert.Equal(t, "Extract new or changed story elements as JSON.", calls[1].SystemPrompt)
	assert.Contains(t, calls[1].History[0].Content, "--- START TEXT ---")
	assert.Contains(t, calls[1].History[0].Content, "My choice: swim")
	assert.Contains(t, calls[1].History[0].Content, "You swim across.", "analysis sees the fresh segment")

	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.CurrentTurn)
	assert.Equal(t, []string{"Climb the bank", "Rest"}, updated.LastChoices)
	assert.Equal(t, "Red is asked to bring food to her grandmother.", updated.Summary, "summary untouched at turn 2")
	assert.Equal(t, "a cold river", updated.Context["obstacle"])
	assert.Equal(t, "the deep forest", updated.Context["setting"], "sentinel values never overwrite")
}

func TestAdvanceTurn_ConcurrentCallsOneWins(t *testing.T) {
	eng, store, _ := testEngine(t, segmentJSON)
	s := seedSession(t, eng, store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.AdvanceTurn(context.Background(), TurnRequest{
				SessionID:  s.ID,
				TurnNumber: 0,
				Action:     state.Action{Choice: "Enter"},
			})
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
		} else {
			assert.ErrorIs(t, err, ErrTurnConflict)
		}
	}
	assert.Equal(t, 1, committed, "exactly one concurrent advance commits")

	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.CurrentTurn)
	assert.Len(t, updated.Transcript, 2)
}

func TestAdvanceTurn_TriggersSummary(t *testing.T) {
	eng, store, provider := testEngine(t, segmentJSON, "Red met a wolf and chose to keep walking toward the cottage.")
	s := seedSession(t, eng, store)
	advanceTo(t, eng, store, s, 3)

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 3,
		Action:     state.Action{Choice: "Keep walking"},
	})
	require.NoError(t, err)
	eng.Wait()

	calls := provider.Calls()
	require.Len(t, calls, 2, "completed turn 3 triggers summarization")
	assert.Equal(t, "Update the story summary.", calls[1].SystemPrompt)
	assert.Contains(t, calls[1].History[0].Content, "Existing Summary:")

	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Red met a wolf and chose to keep walking toward the cottage.", updated.Summary)
}

func TestAdvanceTurn_ShortSummaryKeepsExisting(t *testing.T) {
	eng, store, _ := testEngine(t, segmentJSON, "Sorry.")
	s := seedSession(t, eng, store)
	advanceTo(t, eng, store, s, 3)

	_, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 3,
		Action:     state.Action{Choice: "Keep walking"},
	})
	require.NoError(t, err)
	eng.Wait()

	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Red is asked to bring food to her grandmother.", updated.Summary)
}

func TestAdvanceTurn_DebugOverrides(t *testing.T) {
	eng, store, provider := testEngine(t, segmentJSON)
	s := seedSession(t, eng, store)

	temp := float32(0.2)
	res, err := eng.AdvanceTurn(context.Background(), TurnRequest{
		SessionID:  s.ID,
		TurnNumber: 0,
		Action:     state.Action{Choice: "Enter"},
		Debug: &DebugOptions{
			SystemPrompt: "Debug prompt for {base_story_title}. Setting: {setting}.",
			StoryModel:   "debug-model",
			Temperature:  &temp,
			Fields:       map[string]any{"setting": "a moonlit glade"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, segmentJSON, res.RawResponse)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Debug prompt for Little Red Riding Hood. Setting: a moonlit glade.", calls[0].SystemPrompt, "debug fields outrank session context")
	assert.Equal(t, "debug-model", calls[0].Model)
	require.NotNil(t, calls[0].Temperature)
	assert.InDelta(t, 0.2, float64(*calls[0].Temperature), 0.0001)
}

func TestDeleteSession(t *testing.T) {
	eng, store, _ := testEngine(t)
	s := seedSession(t, eng, store)

	require.NoError(t, eng.DeleteSession(context.Background(), s.ID))

	_, err := eng.GetSession(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = eng.DeleteSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSummarize_Manual(t *testing.T) {
	eng, store, provider := testEngine(t, "Red reached the cottage and sensed something was wrong.")
	s := seedSession(t, eng, store)

	got, err := eng.Summarize(context.Background(), s.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Red reached the cottage and sensed something was wrong.", got)

	updated, err := eng.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, got, updated.Summary)

	require.Len(t, provider.Calls(), 1)
}

func TestSummarize_ProviderError(t *testing.T) {
	eng, store, provider := testEngine(t)
	provider.CompleteFunc = func(ctx context.Context, req services.CompletionRequest) (string, error) {
		return "", errors.New("provider down")
	}
	s := seedSession(t, eng, store)

	_, err := eng.Summarize(context.Background(), s.ID, nil)
	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)
}

func TestAnalyzeTemplate(t *testing.T) {
	eng, _, provider := testEngine(t, `{"main_character": "Red", "magic_elements": ["talking wolf"]}`)

	elements, err := eng.AnalyzeTemplate(context.Background(), testTemplate())
	require.NoError(t, err)
	assert.Equal(t, "Red", elements["main_character"])

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].History[0].Content, "Once upon a time there was a girl with a red hood.")
}
