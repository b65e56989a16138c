// Package server exposes the chat pipeline over HTTP: one endpoint for
// conversation turns, CRUD over archived conversations and a health probe.
// Conversations are keyed by UUID in the SQLite archive so a visitor can
// resume a thread by replaying its id.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dpapantzikos/cvchat/common/logging"
	"github.com/dpapantzikos/cvchat/common/retry"
	"github.com/dpapantzikos/cvchat/common/trace"
	"github.com/dpapantzikos/cvchat/internal/archive"
	"github.com/dpapantzikos/cvchat/internal/chat"
	"github.com/dpapantzikos/cvchat/internal/contextwin"
	"github.com/dpapantzikos/cvchat/internal/llm"
	"github.com/dpapantzikos/cvchat/internal/persona"
)

const defaultListLimit = 10

// Config holds options for the HTTP façade.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Window bounds the history sent to the provider per turn.
	Window contextwin.Options

	// Retry wraps the completion call.
	Retry retry.Config

	// ListLimit caps GET /api/conversations. Defaults to 10.
	ListLimit int

	// UseFallbacks answers with a canned persona reply when the provider
	// is unreachable, matching the widget's degraded mode.
	UseFallbacks bool
}

// Server is the HTTP façade over the chat pipeline.
type Server struct {
	provider llm.Provider
	archive  *archive.Store
	profile  *persona.Profile
	cfg      Config
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New wires the façade. profile may be nil; archive and provider are
// required.
func New(provider llm.Provider, store *archive.Store, profile *persona.Profile, cfg Config, logger *slog.Logger) *Server {
	if cfg.Window.MaxMessages == 0 && cfg.Window.MaxTokenBudget == 0 {
		cfg.Window = contextwin.DefaultOptions()
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = chat.IsRetryable
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = defaultListLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		provider: provider,
		archive:  store,
		profile:  profile,
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	return s
}

// Handler returns the routed handler wrapped in the trace/logging
// middleware.
func (s *Server) Handler() http.Handler {
	return s.withTrace(s.mux)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// --- wire types ---

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type chatResponse struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	RetryAfterMS int64  `json:"retryAfterMs,omitempty"`
}

type conversationResponse struct {
	ConversationID string         `json:"conversation_id"`
	Messages       []chat.Message `json:"messages"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
	Database string `json:"database"`
}

// --- handlers ---

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, chat.NewError(chat.KindContent, "invalid request body"))
		return
	}

	userMsg := chat.NewMessage(chat.RoleUser, req.Message)
	if err := chat.ValidateOutgoing([]chat.Message{userMsg}); err != nil {
		s.writeError(w, err)
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	history, err := s.archive.Messages(r.Context(), conversationID)
	if err != nil && !errors.Is(err, archive.ErrNotFound) {
		logging.WithTrace(r.Context(), s.logger).Error("load conversation", "conversation_id", conversationID, "error", err)
		s.writeError(w, chat.NewError(chat.KindServer, "conversation unavailable"))
		return
	}

	reply, err := s.completeTurn(r.Context(), history, userMsg)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.archive.Append(r.Context(), conversationID, userMsg, reply); err != nil {
		// The visitor already has a reply; losing the archive row is not
		// worth failing the turn over.
		logging.WithTrace(r.Context(), s.logger).Error("archive conversation turn", "conversation_id", conversationID, "error", err)
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		Response:       reply.Content,
		ConversationID: conversationID,
		Timestamp:      reply.Timestamp,
	})
}

// completeTurn builds the provider window and runs the retry-wrapped
// completion call, falling back to a canned persona reply when enabled.
func (s *Server) completeTurn(ctx context.Context, history []chat.Message, userMsg chat.Message) (chat.Message, error) {
	window := contextwin.Optimize(append(chat.CloneMessages(history), userMsg), s.cfg.Window)
	req := llm.CompletionRequest{Messages: window.Messages}
	if s.profile != nil {
		req.Messages = append([]chat.Message{s.profile.SystemMessage()}, req.Messages...)
		req.Model = s.profile.Completion.Model
		req.MaxTokens = s.profile.Completion.MaxTokens
		req.Temperature = s.profile.Completion.Temperature
	}

	var resp *llm.CompletionResponse
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		var callErr error
		resp, callErr = s.provider.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		cerr := chat.WrapUnknown(err)
		if s.cfg.UseFallbacks && s.profile != nil {
			if fb := s.profile.Fallback(); fb != "" {
				logging.WithTrace(ctx, s.logger).Warn("completion failed, answering with fallback",
					"kind", cerr.Kind, "error", err)
				return chat.NewMessage(chat.RoleAssistant, fb), nil
			}
		}
		return chat.Message{}, cerr
	}
	return chat.NewMessage(chat.RoleAssistant, resp.Content), nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.archive.List(r.Context(), s.cfg.ListLimit)
	if err != nil {
		logging.WithTrace(r.Context(), s.logger).Error("list conversations", "error", err)
		s.writeError(w, chat.NewError(chat.KindServer, "conversations unavailable"))
		return
	}
	if summaries == nil {
		summaries = []archive.Summary{}
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgs, err := s.archive.Messages(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found", Kind: "not_found"})
		return
	}
	if err != nil {
		logging.WithTrace(r.Context(), s.logger).Error("get conversation", "conversation_id", id, "error", err)
		s.writeError(w, chat.NewError(chat.KindServer, "conversation unavailable"))
		return
	}
	s.writeJSON(w, http.StatusOK, conversationResponse{ConversationID: id, Messages: msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.archive.Delete(r.Context(), id)
	if errors.Is(err, archive.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "conversation not found", Kind: "not_found"})
		return
	}
	if err != nil {
		logging.WithTrace(r.Context(), s.logger).Error("delete conversation", "conversation_id", id, "error", err)
		s.writeError(w, chat.NewError(chat.KindServer, "conversation unavailable"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "conversation deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	providerStatus := "connected"
	if err := s.provider.Ping(ctx); err != nil {
		providerStatus = "disconnected"
	}
	dbStatus := "connected"
	if err := s.archive.Ping(ctx); err != nil {
		dbStatus = "disconnected"
	}

	status := "healthy"
	if providerStatus == "disconnected" || dbStatus == "disconnected" {
		status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:   status,
		Provider: providerStatus,
		Database: dbStatus,
	})
}

// --- helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError renders an error using the taxonomy's user-facing text and
// suggested retry delay.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := chat.KindOf(err)
	resp := errorResponse{
		Error: kind.UserMessage(),
		Kind:  string(kind),
	}
	if d := kind.SuggestedRetryDelay(); d > 0 {
		resp.RetryAfterMS = d.Milliseconds()
	}
	s.writeJSON(w, statusForKind(kind), resp)
}

// statusForKind maps an error kind onto the HTTP status the façade answers
// with.
func statusForKind(kind chat.Kind) int {
	switch kind {
	case chat.KindContent, chat.KindTextTooLong:
		return http.StatusBadRequest
	case chat.KindAuth:
		return http.StatusBadGateway
	case chat.KindRateLimit:
		return http.StatusTooManyRequests
	case chat.KindTimeout:
		return http.StatusGatewayTimeout
	case chat.KindNetwork, chat.KindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withTrace assigns every request a trace ID and logs its outcome.
func (s *Server) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := trace.GenerateID()
		ctx := trace.WithTraceID(r.Context(), traceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.logger.Info("http request",
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", fmt.Sprintf("%.1fms", float64(time.Since(start).Microseconds())/1000),
		)
	})
}
