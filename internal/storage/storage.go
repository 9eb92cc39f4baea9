// Package storage persists narrative sessions in Redis and serves story
// templates from the filesystem.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/storyloom/narrative-engine/pkg/state"
	"github.com/storyloom/narrative-engine/pkg/template"
)

// ErrConflict is returned by CommitTurn when the session advanced past the
// expected turn between read and write.
var ErrConflict = errors.New("session modified concurrently")

// Store defines the persistence interface for sessions and templates.
// Load methods return (nil, nil) when the record does not exist.
type Store interface {
	// CreateSession persists a new session. It fails if the id exists.
	CreateSession(ctx context.Context, s *state.Session) error

	// LoadSession fetches a session by id, or (nil, nil) if absent.
	LoadSession(ctx context.Context, id uuid.UUID) (*state.Session, error)

	// DeleteSession removes a session. Deleting a missing session is not
	// an error.
	DeleteSession(ctx context.Context, id uuid.UUID) error

	// UpdateSession atomically applies mutate to the stored session and
	// persists the result. Returns the updated session.
	UpdateSession(ctx context.Context, id uuid.UUID, mutate func(*state.Session) error) (*state.Session, error)

	// CommitTurn is UpdateSession guarded by an expected turn number:
	// if the stored session's CurrentTurn differs, ErrConflict is
	// returned and nothing is written.
	CommitTurn(ctx context.Context, id uuid.UUID, expectedTurn int, mutate func(*state.Session) error) (*state.Session, error)

	// GetTemplate loads a story template by id, or (nil, nil) if absent.
	GetTemplate(ctx context.Context, id string) (*template.StoryTemplate, error)

	// ListTemplates maps template id to title for every active template.
	ListTemplates(ctx context.Context) (map[string]string, error)

	Ping(ctx context.Context) error
	Close() error
}
