package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound means the session id has no stored record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTemplateNotFound means the story template id has no stored record.
	ErrTemplateNotFound = errors.New("story template not found")

	// ErrTurnConflict means the caller's turn number does not match the
	// session's current turn. The client should refresh and retry.
	ErrTurnConflict = errors.New("turn number mismatch")

	// ErrInvalidAction means the action carried neither or both of a
	// choice and free text.
	ErrInvalidAction = errors.New("invalid action")

	// ErrNoPromptTemplate means no system prompt covers the current turn.
	// This is a template configuration error, not a player error.
	ErrNoPromptTemplate = errors.New("no system prompt configured for this turn")

	// ErrSessionCompleted means the session is marked completed and
	// accepts no further turns until reopened.
	ErrSessionCompleted = errors.New("session is completed")
)

// GenerationError reports a failed or unusable model response. RawText
// retains the unparsed model output for debugging.
type GenerationError struct {
	RawText string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("story generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
