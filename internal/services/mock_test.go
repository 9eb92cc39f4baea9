package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/narrative-engine/pkg/chat"
)

func TestMockProvider_ResponseQueue(t *testing.T) {
	mock := NewMockProvider("first", "second")

	got, err := mock.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "narrate",
		History:      []chat.Message{chat.User("go left")},
	})
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, _ = mock.Complete(context.Background(), CompletionRequest{})
	assert.Equal(t, "second", got)

	// Queue exhausted, last response repeats.
	got, _ = mock.Complete(context.Background(), CompletionRequest{})
	assert.Equal(t, "second", got)

	calls := mock.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "narrate", calls[0].SystemPrompt)
	assert.Equal(t, "go left", calls[0].History[0].Content)
}

func TestMockProvider_CompleteFunc(t *testing.T) {
	mock := &MockProvider{
		CompleteFunc: func(ctx context.Context, req CompletionRequest) (string, error) {
			return "", errors.New("provider down")
		},
	}

	_, err := mock.Complete(context.Background(), CompletionRequest{})
	assert.Error(t, err)
	assert.Len(t, mock.Calls(), 1)
}
