package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dpapantzikos/cvchat/common/redact"
	"github.com/dpapantzikos/cvchat/internal/chat"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPConfig configures the hosted completion client.
type HTTPConfig struct {
	// BaseURL is the completion endpoint. Required.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// Model is the default model when CompletionRequest.Model is empty.
	Model string
	// Timeout for each HTTP request. Defaults to 30s.
	Timeout time.Duration
}

// httpProvider implements Provider against the hosted chat API. The
// endpoint answers either `{success, data}` or an OpenAI-style
// `{choices:[{message:{content}}]}` body; both are accepted.
type httpProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ Provider = (*httpProvider)(nil)

// NewHTTP returns a Provider backed by the hosted completion endpoint.
func NewHTTP(cfg HTTPConfig) Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &httpProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- wire types ---

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"maxTokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type wireResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data"`
	Usage   *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends the conversation window to the completion endpoint.
func (p *httpProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body := wireRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, chat.WrapError(chat.KindContent, "marshal completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL, bytes.NewReader(data))
	if err != nil {
		return nil, chat.WrapError(chat.KindNetwork, "build completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chat.WrapError(chat.KindNetwork, "read completion response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode, respBody, p.cfg.APIKey)
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, chat.WrapError(chat.KindServer, "decode completion response", err)
	}

	out := &CompletionResponse{}
	if wire.Usage != nil {
		out.Usage = TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	switch {
	case wire.Success && wire.Data != "":
		out.Content = wire.Data
	case len(wire.Choices) > 0 && wire.Choices[0].Message.Content != "":
		out.Content = wire.Choices[0].Message.Content
	default:
		return nil, chat.NewError(chat.KindServer, "completion response carried no content")
	}
	return out, nil
}

// Ping issues a GET against the endpoint. Any response the server manages
// to send counts as reachable except 5xx.
func (p *httpProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL, nil)
	if err != nil {
		return chat.WrapError(chat.KindNetwork, "build ping request", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return chat.NewError(chat.KindServer, fmt.Sprintf("endpoint unhealthy: status %d", resp.StatusCode))
	}
	return nil
}

// classifyTransport maps a transport-level failure onto the error taxonomy.
// Deadline and abort both surface as timeout; everything else is network.
func classifyTransport(err error) *chat.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return chat.WrapError(chat.KindTimeout, "request aborted", err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return chat.WrapError(chat.KindTimeout, "request timed out", err)
	}
	return chat.WrapError(chat.KindNetwork, "request failed", err)
}

// classifyStatus maps a non-2xx completion status onto the error taxonomy.
// The error body is remote text; any echoed credential is stripped before
// it can reach a log line.
func classifyStatus(status int, body []byte, apiKey string) *chat.Error {
	msg := fmt.Sprintf("completion endpoint returned status %d", status)
	var wire wireResponse
	if json.Unmarshal(body, &wire) == nil && wire.Error != nil && wire.Error.Message != "" {
		msg = redact.String(wire.Error.Message, apiKey)
	}

	switch {
	case status == http.StatusBadRequest:
		return chat.NewError(chat.KindContent, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return chat.NewError(chat.KindAuth, msg)
	case status == http.StatusTooManyRequests:
		return chat.NewError(chat.KindRateLimit, msg)
	case status >= 500:
		return chat.NewError(chat.KindServer, msg)
	default:
		return chat.NewError(chat.KindNetwork, msg)
	}
}
