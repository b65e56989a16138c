// Package session is the service façade of the chat pipeline. It validates
// outgoing messages, gates them through the rate limiter, bounds the
// history with the context optimizer, calls the completion provider through
// the retry policy and keeps the persisted snapshot current.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dpapantzikos/cvchat/common/retry"
	"github.com/dpapantzikos/cvchat/internal/chat"
	"github.com/dpapantzikos/cvchat/internal/contextwin"
	"github.com/dpapantzikos/cvchat/internal/llm"
	"github.com/dpapantzikos/cvchat/internal/persona"
	"github.com/dpapantzikos/cvchat/internal/ratelimit"
	"github.com/dpapantzikos/cvchat/internal/snapshot"
)

// Config tunes the orchestrator.
type Config struct {
	// Window bounds the history sent to the provider.
	Window contextwin.Options

	// Retry wraps the completion call. ShouldRetry defaults to the error
	// taxonomy's retryability.
	Retry retry.Config

	// SessionMaxAge expires a restored snapshot. Defaults to 1h.
	SessionMaxAge time.Duration

	// UseFallbacks answers with a canned persona reply when the provider
	// is unreachable instead of surfacing the error.
	UseFallbacks bool
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Window:        contextwin.DefaultOptions(),
		Retry:         retry.DefaultConfig,
		SessionMaxAge: time.Hour,
		UseFallbacks:  true,
	}
}

// Orchestrator composes the chat pipeline. Safe for concurrent use.
type Orchestrator struct {
	mu         sync.Mutex
	transcript []chat.Message

	provider llm.Provider
	limiter  *ratelimit.Limiter
	store    *snapshot.Store
	profile  *persona.Profile
	cfg      Config
	logger   *slog.Logger
}

// New wires an orchestrator. limiter, store and profile may each be nil;
// the corresponding step is skipped.
func New(provider llm.Provider, limiter *ratelimit.Limiter, store *snapshot.Store, profile *persona.Profile, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.Window.MaxMessages == 0 && cfg.Window.MaxTokenBudget == 0 {
		cfg.Window = contextwin.DefaultOptions()
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = chat.IsRetryable
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		provider: provider,
		limiter:  limiter,
		store:    store,
		profile:  profile,
		cfg:      cfg,
		logger:   logger,
	}
}

// Restore loads the persisted session into the transcript, clearing it
// instead when it has expired. Returns the number of restored messages.
func (o *Orchestrator) Restore(ctx context.Context) int {
	if o.store == nil {
		return 0
	}
	if o.store.ShouldExpire(ctx, o.cfg.SessionMaxAge) {
		o.logger.Info("session expired, clearing snapshot")
		o.store.Clear(ctx)
		return 0
	}
	msgs := o.store.Load(ctx)
	o.mu.Lock()
	o.transcript = msgs
	o.mu.Unlock()
	return len(msgs)
}

// Send runs one conversation turn: validate, gate, optimize, complete,
// append, persist. The returned message is the assistant's reply.
//
// Validation happens before the rate limiter records anything, so a
// rejected send never consumes rate-limit budget.
func (o *Orchestrator) Send(ctx context.Context, text string) (chat.Message, error) {
	userMsg := chat.NewMessage(chat.RoleUser, text)
	if err := chat.ValidateOutgoing([]chat.Message{userMsg}); err != nil {
		return chat.Message{}, err
	}

	if o.limiter != nil {
		if d := o.limiter.CanSend(text); !d.Allowed {
			return chat.Message{}, &chat.Error{Kind: chat.KindRateLimit, Message: d.Reason, Retryable: true}
		}
	}

	o.mu.Lock()
	o.transcript = append(o.transcript, userMsg)
	history := chat.CloneMessages(o.transcript)
	o.mu.Unlock()

	if o.limiter != nil {
		o.limiter.RecordSend()
	}

	window := contextwin.Optimize(history, o.cfg.Window)
	req := llm.CompletionRequest{Messages: window.Messages}
	if o.profile != nil {
		req.Messages = append([]chat.Message{o.profile.SystemMessage()}, req.Messages...)
		req.Model = o.profile.Completion.Model
		req.MaxTokens = o.profile.Completion.MaxTokens
		req.Temperature = o.profile.Completion.Temperature
	}

	var resp *llm.CompletionResponse
	err := retry.Do(ctx, o.cfg.Retry, func() error {
		var callErr error
		resp, callErr = o.provider.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		cerr := chat.WrapUnknown(err)
		if o.cfg.UseFallbacks && o.profile != nil {
			if fb := o.profile.Fallback(); fb != "" {
				o.logger.Warn("completion failed, answering with fallback",
					"kind", cerr.Kind, "error", err)
				reply := chat.NewMessage(chat.RoleAssistant, fb)
				o.append(ctx, reply)
				return reply, nil
			}
		}
		// The user's message stays in the transcript so the conversation
		// can resume once the provider recovers.
		o.persist(ctx)
		return chat.Message{}, cerr
	}

	reply := chat.NewMessage(chat.RoleAssistant, resp.Content)
	o.append(ctx, reply)
	return reply, nil
}

// Messages returns a copy of the transcript.
func (o *Orchestrator) Messages() []chat.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return chat.CloneMessages(o.transcript)
}

// Clear drops the transcript and the persisted snapshot.
func (o *Orchestrator) Clear(ctx context.Context) {
	o.mu.Lock()
	o.transcript = nil
	o.mu.Unlock()
	if o.store != nil {
		o.store.Clear(ctx)
	}
}

// Greeting returns the persona's opening line, or "".
func (o *Orchestrator) Greeting() string {
	if o.profile == nil {
		return ""
	}
	return o.profile.Greeting
}

// Describe translates an error into the user-facing message and suggested
// retry delay. A pure lookup, no side effects.
func (o *Orchestrator) Describe(err error) (string, time.Duration) {
	kind := chat.KindOf(err)
	return kind.UserMessage(), kind.SuggestedRetryDelay()
}

// append records the assistant reply and persists the transcript. Snapshot
// failures are absorbed: the conversation continues unpersisted.
func (o *Orchestrator) append(ctx context.Context, msg chat.Message) {
	o.mu.Lock()
	o.transcript = append(o.transcript, msg)
	o.mu.Unlock()
	o.persist(ctx)
}

func (o *Orchestrator) persist(ctx context.Context) {
	if o.store == nil {
		return
	}
	o.mu.Lock()
	msgs := chat.CloneMessages(o.transcript)
	o.mu.Unlock()
	if !o.store.Save(ctx, msgs) {
		o.logger.Warn("session snapshot not persisted", "messages", len(msgs))
	}
}
