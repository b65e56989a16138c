// Package tts turns assistant replies into audio. The client speaks the
// remote synthesis contract; the service composes cache lookup, synthesis
// with retry, cache insert and playback.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
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

const (
	defaultTimeout = 60 * time.Second

	// MaxTextLen is the ceiling enforced before a synthesis call is issued.
	MaxTextLen = 2000

	defaultOutputFormat = "mp3_44100_128"
)

// VoiceSettings tunes the synthesized voice. Zero values are omitted from
// the request so the endpoint applies its own defaults.
type VoiceSettings struct {
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarityBoost,omitempty"`
}

// Config configures the synthesis client.
type Config struct {
	// BaseURL is the synthesis endpoint. Required.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// VoiceID selects the voice. Required by the endpoint.
	VoiceID string
	// ModelID selects the synthesis model.
	ModelID string
	// OutputFormat defaults to mp3_44100_128.
	OutputFormat string
	// Timeout for each synthesis request. Defaults to 60s.
	Timeout  time.Duration
	Settings VoiceSettings
}

// Synthesizer produces audio for a piece of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Client calls the remote synthesis endpoint.
type Client struct {
	cfg    Config
	client *http.Client
}

var _ Synthesizer = (*Client)(nil)

// NewClient returns a synthesis client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaultOutputFormat
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type synthRequest struct {
	Text          string         `json:"text"`
	VoiceID       string         `json:"voiceId"`
	ModelID       string         `json:"modelId"`
	OutputFormat  string         `json:"outputFormat"`
	VoiceSettings *VoiceSettings `json:"voiceSettings,omitempty"`
}

type synthResponse struct {
	Success   bool   `json:"success"`
	AudioData string `json:"audioData"`
	Error     string `json:"error"`
}

// Synthesize sends text to the endpoint and returns the decoded audio.
// Text over MaxTextLen fails before any network traffic.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if len(text) > MaxTextLen {
		return nil, chat.NewError(chat.KindTextTooLong,
			fmt.Sprintf("text is %d characters, limit is %d", len(text), MaxTextLen))
	}

	body := synthRequest{
		Text:         text,
		VoiceID:      c.cfg.VoiceID,
		ModelID:      c.cfg.ModelID,
		OutputFormat: c.cfg.OutputFormat,
	}
	if c.cfg.Settings != (VoiceSettings{}) {
		settings := c.cfg.Settings
		body.VoiceSettings = &settings
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, chat.WrapError(chat.KindTTSAPI, "marshal synthesis request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(data))
	if err != nil {
		return nil, chat.WrapError(chat.KindNetwork, "build synthesis request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, chat.WrapError(chat.KindTimeout, "synthesis aborted", err)
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, chat.WrapError(chat.KindTimeout, "synthesis timed out", err)
		}
		return nil, chat.WrapError(chat.KindNetwork, "synthesis request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, chat.WrapError(chat.KindNetwork, "read synthesis response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifySynthStatus(resp.StatusCode, respBody, c.cfg.APIKey)
	}

	var wire synthResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, chat.WrapError(chat.KindTTSAPI, "decode synthesis response", err)
	}
	if !wire.Success || wire.AudioData == "" {
		msg := redact.String(wire.Error, c.cfg.APIKey)
		if msg == "" {
			msg = "synthesis returned no audio"
		}
		return nil, chat.NewError(chat.KindTTSAPI, msg)
	}

	audio, err := base64.StdEncoding.DecodeString(wire.AudioData)
	if err != nil {
		return nil, chat.WrapError(chat.KindTTSAPI, "decode audio payload", err)
	}
	return audio, nil
}

// classifySynthStatus maps a non-2xx synthesis status onto the error
// taxonomy. 5xx is flagged retryable explicitly; the rest are terminal.
// Remote error text is stripped of any echoed credential first.
func classifySynthStatus(status int, body []byte, apiKey string) *chat.Error {
	msg := fmt.Sprintf("synthesis endpoint returned status %d", status)
	var wire synthResponse
	if json.Unmarshal(body, &wire) == nil && wire.Error != "" {
		msg = redact.String(wire.Error, apiKey)
	}

	switch {
	case status == http.StatusNotFound:
		return chat.NewError(chat.KindVoiceNotFound, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return chat.NewError(chat.KindAuth, msg)
	case status == http.StatusTooManyRequests:
		return chat.NewError(chat.KindRateLimit, msg)
	case status >= 500:
		return &chat.Error{Kind: chat.KindTTSAPI, Message: msg, Retryable: true}
	default:
		return chat.NewError(chat.KindTTSAPI, msg)
	}
}
