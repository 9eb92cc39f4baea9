package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/storyloom/narrative-engine/pkg/state"
	"github.com/storyloom/narrative-engine/pkg/template"
)

// MockStore is an in-memory Store for testing. Individual operations can
// be overridden with the Func fields; by default they work against the
// Sessions and Templates maps.
type MockStore struct {
	LoadSessionFunc func(ctx context.Context, id uuid.UUID) (*state.Session, error)
	GetTemplateFunc func(ctx context.Context, id string) (*template.StoryTemplate, error)
	CommitTurnFunc  func(ctx context.Context, id uuid.UUID, expectedTurn int, mutate func(*state.Session) error) (*state.Session, error)

	Sessions  map[uuid.UUID]*state.Session
	Templates map[string]*template.StoryTemplate

	// Track calls for testing
	CommitTurnCalls    []int
	UpdateSessionCalls int

	mu sync.Mutex
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		Sessions:  make(map[uuid.UUID]*state.Session),
		Templates: make(map[string]*template.StoryTemplate),
	}
}

func (m *MockStore) CreateSession(ctx context.Context, s *state.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.Sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	cp, err := s.DeepCopy()
	if err != nil {
		return err
	}
	m.Sessions[s.ID] = cp
	return nil
}

func (m *MockStore) LoadSession(ctx context.Context, id uuid.UUID) (*state.Session, error) {
	if m.LoadSessionFunc != nil {
		return m.LoadSessionFunc(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.Sessions[id]
	if !ok {
		return nil, nil
	}
	return s.DeepCopy()
}

func (m *MockStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Sessions, id)
	return nil
}

func (m *MockStore) UpdateSession(ctx context.Context, id uuid.UUID, mutate func(*state.Session) error) (*state.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateSessionCalls++
	return m.applyLocked(id, -1, mutate)
}

func (m *MockStore) CommitTurn(ctx context.Context, id uuid.UUID, expectedTurn int, mutate func(*state.Session) error) (*state.Session, error) {
	if m.CommitTurnFunc != nil {
		return m.CommitTurnFunc(ctx, id, expectedTurn, mutate)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.CommitTurnCalls = append(m.CommitTurnCalls, expectedTurn)
	return m.applyLocked(id, expectedTurn, mutate)
}

func (m *MockStore) applyLocked(id uuid.UUID, expectedTurn int, mutate func(*state.Session) error) (*state.Session, error) {
	s, ok := m.Sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if expectedTurn >= 0 && s.CurrentTurn != expectedTurn {
		return nil, ErrConflict
	}

	cp, err := s.DeepCopy()
	if err != nil {
		return nil, err
	}
	if err := mutate(cp); err != nil {
		return nil, err
	}
	m.Sessions[id] = cp

	out, err := cp.DeepCopy()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MockStore) GetTemplate(ctx context.Context, id string) (*template.StoryTemplate, error) {
	if m.GetTemplateFunc != nil {
		return m.GetTemplateFunc(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.Templates[id]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (m *MockStore) ListTemplates(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.Templates))
	for id, t := range m.Templates {
		if t.IsActive {
			out[id] = t.Title
		}
	}
	return out, nil
}

func (m *MockStore) Ping(ctx context.Context) error { return nil }

func (m *MockStore) Close() error { return nil }
