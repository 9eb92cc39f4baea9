package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoryContext is the evolving structured-fact store for one session:
// characters introduced, items found, open obstacles, and so on. Values are
// scalars, lists of scalars, or lists of records keyed by "name"/"id".
// It is mutated only through Merge.
type StoryContext = map[string]any

// Transcript entry types.
const (
	EntryChoice    = "choice"
	EntryUserInput = "userInput"
	EntryStory     = "story"
)

// TurnRecord is one immutable transcript entry. The ordered sequence of
// records for a session is the session's transcript.
type TurnRecord struct {
	Turn      int       `json:"turn"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one user's in-progress story instantiated from a template.
// CurrentTurn always equals the count of completed turns.
type Session struct {
	ID          uuid.UUID    `json:"id"`
	UserID      string       `json:"user_id"`
	TemplateID  string       `json:"template_id"`
	Title       string       `json:"title"`
	CurrentTurn int          `json:"current_turn"`
	Transcript  []TurnRecord `json:"transcript,omitempty"`
	Context     StoryContext `json:"context,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	LastChoices []string     `json:"last_choices,omitempty"`
	Completed   bool         `json:"completed"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewSession creates a session at turn 0 with an empty transcript. Context,
// summary and title are seeded by the caller from the chosen template.
func NewSession(userID, templateID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         uuid.New(),
		UserID:     userID,
		TemplateID: templateID,
		Transcript: make([]TurnRecord, 0),
		Context:    make(StoryContext),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// RecentTexts returns the content of the most recent limit transcript
// entries, oldest first. A non-positive limit returns the full transcript.
func (s *Session) RecentTexts(limit int) []string {
	records := s.Transcript
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Content
	}
	return texts
}

// DeepCopy returns an independent copy of the session, suitable for handing
// to a background goroutine.
func (s *Session) DeepCopy() (*Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	var cp Session
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session copy: %w", err)
	}
	return &cp, nil
}

// Action is a user's move for one turn: exactly one of Choice or FreeText.
type Action struct {
	Choice   string `json:"choice,omitempty"`
	FreeText string `json:"customInput,omitempty"`
}

// Validate checks that exactly one of the two action forms is present.
func (a Action) Validate() error {
	if a.Choice == "" && a.FreeText == "" {
		return fmt.Errorf("action requires a choice or custom input")
	}
	if a.Choice != "" && a.FreeText != "" {
		return fmt.Errorf("action cannot carry both a choice and custom input")
	}
	return nil
}

// EntryType returns the transcript entry type for this action.
func (a Action) EntryType() string {
	if a.FreeText != "" {
		return EntryUserInput
	}
	return EntryChoice
}

// Format renders the action as transcript text.
func (a Action) Format() string {
	if a.Choice != "" {
		return "My choice: " + a.Choice
	}
	return "My custom action: " + a.FreeText
}
