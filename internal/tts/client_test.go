package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dpapantzikos/cvchat/internal/chat"
)

func TestSynthesize_DecodesAudio(t *testing.T) {
	audio := []byte("mp3-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "Hello" || req.VoiceID != "nova" || req.ModelID != "tts-1" {
			t.Errorf("unexpected request: %+v", req)
		}
		if req.OutputFormat != defaultOutputFormat {
			t.Errorf("expected default output format, got %q", req.OutputFormat)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success":   true,
			"audioData": base64.StdEncoding.EncodeToString(audio),
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, VoiceID: "nova", ModelID: "tts-1"})
	got, err := c.Synthesize(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if string(got) != string(audio) {
		t.Fatalf("expected %q, got %q", audio, got)
	}
}

func TestSynthesize_RejectsOverlongTextLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, VoiceID: "nova"})
	_, err := c.Synthesize(context.Background(), strings.Repeat("a", MaxTextLen+1))
	if err == nil {
		t.Fatal("expected error for overlong text")
	}
	if got := chat.KindOf(err); got != chat.KindTextTooLong {
		t.Fatalf("expected text_too_long, got %s", got)
	}
	if chat.IsRetryable(err) {
		t.Fatal("expected text_too_long to be terminal")
	}
	if called {
		t.Fatal("expected no network call for overlong text")
	}
}

func TestSynthesize_ApplicationLevelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "synthesis backend down"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, VoiceID: "nova"})
	_, err := c.Synthesize(context.Background(), "Hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := chat.KindOf(err); got != chat.KindTTSAPI {
		t.Fatalf("expected tts_api, got %s", got)
	}
	if !strings.Contains(err.Error(), "synthesis backend down") {
		t.Fatalf("expected endpoint message surfaced, got %v", err)
	}
}

func TestSynthesize_ErrorBodyRedactsAPIKey(t *testing.T) {
	const key = "el-live-very-secret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "key " + key + " is not authorized",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, VoiceID: "nova", APIKey: key})
	_, err := c.Synthesize(context.Background(), "Hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), key) {
		t.Fatalf("expected API key stripped from error message, got %v", err)
	}
	if !strings.Contains(err.Error(), "[REDACTED]") {
		t.Fatalf("expected redaction placeholder in message, got %v", err)
	}
}

func TestSynthesize_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		kind      chat.Kind
		retryable bool
	}{
		{http.StatusNotFound, chat.KindVoiceNotFound, false},
		{http.StatusUnauthorized, chat.KindAuth, false},
		{http.StatusTooManyRequests, chat.KindRateLimit, true},
		{http.StatusInternalServerError, chat.KindTTSAPI, true},
		{http.StatusConflict, chat.KindTTSAPI, false},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		c := NewClient(Config{BaseURL: srv.URL, VoiceID: "nova"})
		_, err := c.Synthesize(context.Background(), "Hello")
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

func TestSynthesize_BadBase64(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "audioData": "not base64!!"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, VoiceID: "nova"})
	_, err := c.Synthesize(context.Background(), "Hello")
	if err == nil {
		t.Fatal("expected error for undecodable audio")
	}
	if got := chat.KindOf(err); got != chat.KindTTSAPI {
		t.Fatalf("expected tts_api, got %s", got)
	}
}
