package services

import (
	"context"
	"sync"
)

// MockProvider is a CompletionProvider for tests. Responses are served in
// order from the Responses queue unless CompleteFunc is set; every call is
// recorded.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, req CompletionRequest) (string, error)
	PingFunc     func(ctx context.Context) error

	// Responses are returned one per Complete call when CompleteFunc is
	// nil. The last response repeats once the queue is exhausted.
	Responses []string

	CompleteCalls []CompletionRequest
	PingCalls     int

	mu sync.Mutex
}

// NewMockProvider creates a mock that replies with the given responses in
// order.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{Responses: responses}
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CompleteCalls = append(m.CompleteCalls, req)

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	idx := len(m.CompleteCalls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

func (m *MockProvider) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PingCalls++
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Calls returns a copy of the recorded Complete calls.
func (m *MockProvider) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]CompletionRequest, len(m.CompleteCalls))
	copy(out, m.CompleteCalls)
	return out
}

var _ CompletionProvider = (*MockProvider)(nil)
