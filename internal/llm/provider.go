// Package llm abstracts the remote completion endpoint behind a Provider
// interface with two implementations: an HTTP client for the hosted chat
// API and a direct Ollama client for local models.
package llm

import (
	"context"

	"github.com/dpapantzikos/cvchat/internal/chat"
)

// CompletionRequest is a provider-agnostic completion call.
type CompletionRequest struct {
	// Model overrides the provider's default model when non-empty.
	Model       string
	Messages    []chat.Message
	MaxTokens   int
	Temperature float64
}

// TokenUsage reports token accounting when the provider supplies it.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the assistant's reply.
type CompletionResponse struct {
	Content string
	Usage   TokenUsage
}

// Provider produces completions. Errors are *chat.Error values so the
// orchestrator's retry policy can classify them.
type Provider interface {
	// Complete sends the conversation window and returns the reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Ping reports whether the provider is reachable.
	Ping(ctx context.Context) error
}
