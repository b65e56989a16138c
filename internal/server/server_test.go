package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dpapantzikos/cvchat/common/retry"
	"github.com/dpapantzikos/cvchat/internal/archive"
	"github.com/dpapantzikos/cvchat/internal/chat"
	"github.com/dpapantzikos/cvchat/internal/llm"
	"github.com/dpapantzikos/cvchat/internal/persona"
)

type fakeProvider struct {
	reply   string
	err     error
	pingErr error
	calls   int
}

func (f *fakeProvider) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply}, nil
}

func (f *fakeProvider) Ping(context.Context) error { return f.pingErr }

func newTestServer(t *testing.T, provider llm.Provider, profile *persona.Profile) (*httptest.Server, *archive.Store) {
	t.Helper()
	store, err := archive.New(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := Config{
		Retry: retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2, ShouldRetry: chat.IsRetryable},
	}
	srv := httptest.NewServer(New(provider, store, profile, cfg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func postChat(t *testing.T, url string, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url+"/api/chat", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post chat: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestChat_NewConversation(t *testing.T) {
	provider := &fakeProvider{reply: "I'm a data analyst in Copenhagen."}
	srv, store := newTestServer(t, provider, nil)

	resp, body := postChat(t, srv.URL, map[string]any{"message": "What do you do?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["response"] != "I'm a data analyst in Copenhagen." {
		t.Fatalf("unexpected response %v", body["response"])
	}
	id, _ := body["conversation_id"].(string)
	if id == "" {
		t.Fatal("expected a generated conversation id")
	}

	msgs, err := store.Messages(context.Background(), id)
	if err != nil {
		t.Fatalf("expected conversation archived, got %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 archived messages, got %d", len(msgs))
	}
}

func TestChat_ContinuesConversation(t *testing.T) {
	provider := &fakeProvider{reply: "reply"}
	srv, store := newTestServer(t, provider, nil)

	_, first := postChat(t, srv.URL, map[string]any{"message": "first question"})
	id := first["conversation_id"].(string)

	resp, second := postChat(t, srv.URL, map[string]any{"message": "second question", "conversation_id": id})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if second["conversation_id"] != id {
		t.Fatalf("expected same conversation id, got %v", second["conversation_id"])
	}

	msgs, _ := store.Messages(context.Background(), id)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 archived messages, got %d", len(msgs))
	}
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	provider := &fakeProvider{reply: "reply"}
	srv, _ := newTestServer(t, provider, nil)

	resp, body := postChat(t, srv.URL, map[string]any{"message": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["kind"] != "content" {
		t.Fatalf("expected content kind, got %v", body["kind"])
	}
	if provider.calls != 0 {
		t.Fatalf("expected no provider call, got %d", provider.calls)
	}
}

func TestChat_ProviderErrorMapped(t *testing.T) {
	provider := &fakeProvider{err: chat.NewError(chat.KindRateLimit, "429")}
	srv, _ := newTestServer(t, provider, nil)

	resp, body := postChat(t, srv.URL, map[string]any{"message": "hello"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if body["kind"] != "rate_limit" {
		t.Fatalf("expected rate_limit kind, got %v", body["kind"])
	}
	if body["retryAfterMs"] == nil {
		t.Fatal("expected a suggested retry delay")
	}
}

func TestChat_FallbackWhenProviderDown(t *testing.T) {
	provider := &fakeProvider{err: chat.NewError(chat.KindNetwork, "down")}
	store, err := archive.New(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := Config{
		Retry:        retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2, ShouldRetry: chat.IsRetryable},
		UseFallbacks: true,
	}
	srv := httptest.NewServer(New(provider, store, persona.Default(), cfg, nil).Handler())
	t.Cleanup(srv.Close)

	resp, body := postChat(t, srv.URL, map[string]any{"message": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected fallback 200, got %d", resp.StatusCode)
	}
	if body["response"] == "" {
		t.Fatal("expected a fallback reply")
	}
}

func TestChat_HandlerLogsCarryTraceID(t *testing.T) {
	provider := &fakeProvider{err: chat.NewError(chat.KindNetwork, "down")}
	store, err := archive.New(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	cfg := Config{
		Retry:        retry.Config{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2, ShouldRetry: chat.IsRetryable},
		UseFallbacks: true,
	}
	srv := httptest.NewServer(New(provider, store, persona.Default(), cfg, logger).Handler())
	t.Cleanup(srv.Close)

	postChat(t, srv.URL, map[string]any{"message": "hello"})

	out := logs.String()
	if !strings.Contains(out, "completion failed") {
		t.Fatalf("expected fallback warning in logs, got %q", out)
	}
	warnLine := ""
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "completion failed") {
			warnLine = line
			break
		}
	}
	if !strings.Contains(warnLine, "trace_id=t_") {
		t.Fatalf("expected inner handler log to carry the request trace ID, got %q", warnLine)
	}
}

func TestConversations_ListGetDelete(t *testing.T) {
	provider := &fakeProvider{reply: "reply"}
	srv, _ := newTestServer(t, provider, nil)

	_, first := postChat(t, srv.URL, map[string]any{"message": "hello"})
	id := first["conversation_id"].(string)

	resp, err := http.Get(srv.URL + "/api/conversations")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var summaries []archive.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != id {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	resp, err = http.Get(srv.URL + "/api/conversations/" + id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var conv struct {
		ConversationID string         `json:"conversation_id"`
		Messages       []chat.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv.Messages))
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/conversations/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(srv.URL + "/api/conversations/" + id)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestConversations_GetUnknownIs404(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{reply: "x"}, nil)

	resp, err := http.Get(srv.URL + "/api/conversations/no-such-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{reply: "x"}, nil)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status   string `json:"status"`
		Provider string `json:"provider"`
		Database string `json:"database"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Provider != "connected" || health.Database != "connected" {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestHealth_DegradedWhenProviderDown(t *testing.T) {
	srv, _ := newTestServer(t, &fakeProvider{reply: "x", pingErr: errors.New("down")}, nil)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var health struct {
		Status   string `json:"status"`
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "degraded" || health.Provider != "disconnected" {
		t.Fatalf("unexpected health: %+v", health)
	}
}
