package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dpapantzikos/cvchat/internal/chat"
)

func testRequest() CompletionRequest {
	return CompletionRequest{
		Messages: []chat.Message{
			{ID: "m1", Role: chat.RoleUser, Content: "What did you work on last?"},
		},
		MaxTokens:   256,
		Temperature: 0.7,
	}
}

func TestComplete_SuccessDataShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body wireRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "cv-chat" {
			t.Errorf("expected model cv-chat, got %q", body.Model)
		}
		if len(body.Messages) != 1 || body.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %+v", body.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    "I built a chat widget.",
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 7, "total_tokens": 17},
		})
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL, Model: "cv-chat"})
	resp, err := p.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.Content != "I built a chat widget." {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Fatalf("expected usage 17, got %d", resp.Usage.TotalTokens)
	}
}

func TestComplete_ChoicesShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "Hello from choices."}},
			},
		})
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if resp.Content != "Hello from choices." {
		t.Fatalf("unexpected content %q", resp.Content)
	}
}

func TestComplete_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		kind      chat.Kind
		retryable bool
	}{
		{http.StatusBadRequest, chat.KindContent, false},
		{http.StatusUnauthorized, chat.KindAuth, false},
		{http.StatusForbidden, chat.KindAuth, false},
		{http.StatusTooManyRequests, chat.KindRateLimit, true},
		{http.StatusInternalServerError, chat.KindServer, true},
		{http.StatusBadGateway, chat.KindServer, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "nope"}})
		}))

		p := NewHTTP(HTTPConfig{BaseURL: srv.URL})
		_, err := p.Complete(context.Background(), testRequest())
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if got := chat.KindOf(err); got != tc.kind {
			t.Fatalf("status %d: expected kind %s, got %s", tc.status, tc.kind, got)
		}
		if got := chat.IsRetryable(err); got != tc.retryable {
			t.Fatalf("status %d: expected retryable=%v, got %v", tc.status, tc.retryable, got)
		}
	}
}

func TestComplete_ErrorBodyMessageSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "messages must not be empty"}})
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *chat.Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *chat.Error, got %T", err)
	}
	if ce.Message != "messages must not be empty" {
		t.Fatalf("expected endpoint message surfaced, got %q", ce.Message)
	}
}

func TestComplete_ErrorBodyRedactsAPIKey(t *testing.T) {
	const key = "sk-live-very-secret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "invalid key: Bearer " + key},
		})
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL, APIKey: key})
	_, err := p.Complete(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error")
	}
	var ce *chat.Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *chat.Error, got %T", err)
	}
	if strings.Contains(ce.Message, key) {
		t.Fatalf("expected API key stripped from error message, got %q", ce.Message)
	}
	if !strings.Contains(ce.Message, "[REDACTED]") {
		t.Fatalf("expected redaction placeholder in message, got %q", ce.Message)
	}
}

func TestComplete_TimeoutMapsToTimeoutKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := p.Complete(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := chat.KindOf(err); got != chat.KindTimeout {
		t.Fatalf("expected timeout kind, got %s", got)
	}
	if !chat.IsRetryable(err) {
		t.Fatal("expected timeout to be retryable")
	}
}

func TestComplete_ConnectionRefusedMapsToNetwork(t *testing.T) {
	p := NewHTTP(HTTPConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := p.Complete(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected network error")
	}
	if got := chat.KindOf(err); got != chat.KindNetwork {
		t.Fatalf("expected network kind, got %s", got)
	}
}

func TestComplete_EmptyBodyIsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewHTTP(HTTPConfig{BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected error for content-free response")
	}
	if got := chat.KindOf(err); got != chat.KindServer {
		t.Fatalf("expected server kind, got %s", got)
	}
}

func TestPing(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer healthy.Close()

	p := NewHTTP(HTTPConfig{BaseURL: healthy.URL})
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("expected any non-5xx response to count as reachable, got %v", err)
	}

	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	p = NewHTTP(HTTPConfig{BaseURL: sick.URL})
	if err := p.Ping(context.Background()); err == nil {
		t.Fatal("expected 5xx to report unhealthy")
	}
}
