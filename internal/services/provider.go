// Package services holds the completion provider abstraction and its
// OpenRouter implementation.
package services

import (
	"context"

	"github.com/storyloom/narrative-engine/pkg/chat"
)

// CompletionRequest is a single chat completion call. Model empty means
// the provider's configured default. Temperature nil means the provider
// default.
type CompletionRequest struct {
	SystemPrompt string
	History      []chat.Message
	Model        string
	Temperature  *float32
	MaxTokens    int
	JSONMode     bool
}

// CompletionProvider defines the interface for chat completion backends.
type CompletionProvider interface {
	// Complete sends one chat completion request and returns the raw
	// assistant text. No parsing or repair happens at this layer.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Ping verifies the provider is reachable and credentialed.
	Ping(ctx context.Context) error
}
