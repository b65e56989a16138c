package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/dpapantzikos/cvchat/internal/chat"
)

const defaultOllamaBase = "http://localhost:11434"

// OllamaConfig configures the local-model provider.
type OllamaConfig struct {
	// BaseURL of the Ollama server. Defaults to http://localhost:11434.
	BaseURL string
	// Model is the default model when CompletionRequest.Model is empty.
	Model string
	// Timeout for each completion call. Defaults to 30s.
	Timeout time.Duration
}

// ollamaProvider implements Provider against a local Ollama server.
type ollamaProvider struct {
	cfg    OllamaConfig
	client *api.Client
}

var _ Provider = (*ollamaProvider)(nil)

// NewOllama returns a Provider backed by an Ollama server.
func NewOllama(cfg OllamaConfig) (Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	return &ollamaProvider{
		cfg:    cfg,
		client: api.NewClient(parsed, http.DefaultClient),
	}, nil
}

// Complete runs a non-streaming chat call against Ollama.
func (p *ollamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var sb strings.Builder
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, classifyOllama(err)
	}
	if sb.Len() == 0 {
		return nil, chat.NewError(chat.KindServer, "ollama returned an empty reply")
	}
	return &CompletionResponse{Content: sb.String()}, nil
}

// Ping lists models on the server, the cheapest round trip the API offers.
func (p *ollamaProvider) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := p.client.List(ctx); err != nil {
		return classifyOllama(err)
	}
	return nil
}

// classifyOllama maps an Ollama client error onto the error taxonomy.
func classifyOllama(err error) *chat.Error {
	var se api.StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode, nil, "")
	}
	return classifyTransport(err)
}
