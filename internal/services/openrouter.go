package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultTimeout = 120 * time.Second

// OpenRouterService is a CompletionProvider backed by the OpenRouter API.
// OpenRouter speaks the OpenAI chat completion protocol, so the client is
// an OpenAI client pointed at a different base URL.
type OpenRouterService struct {
	client       *openai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewOpenRouterService creates an OpenRouter completion provider.
// baseURL empty means the public OpenRouter endpoint.
func NewOpenRouterService(apiKey, baseURL, defaultModel string, logger *slog.Logger) *OpenRouterService {
	config := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	config.BaseURL = baseURL
	config.HTTPClient = &http.Client{
		Timeout: defaultTimeout,
	}

	return &OpenRouterService{
		client:       openai.NewClientWithConfig(config),
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// Complete sends a chat completion request and returns the assistant text.
func (s *OpenRouterService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	ccr := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		ccr.Temperature = *req.Temperature
	}
	if req.JSONMode {
		ccr.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completion returned no content")
	}

	s.logger.Debug("Chat completion finished",
		"model", model,
		"duration", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return resp.Choices[0].Message.Content, nil
}

// Ping verifies connectivity by listing models.
func (s *OpenRouterService) Ping(ctx context.Context) error {
	if _, err := s.client.ListModels(ctx); err != nil {
		return fmt.Errorf("provider unreachable: %w", err)
	}
	return nil
}

var _ CompletionProvider = (*OpenRouterService)(nil)
