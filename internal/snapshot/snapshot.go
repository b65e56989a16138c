// Package snapshot persists the visible conversation as a single keyed,
// size-bounded, time-bounded record and restores it on load.
//
// The store degrades rather than fails: when the serialized payload would
// push usage into the quota buffer it writes a reduced window, and when the
// backend still reports a quota failure it clears everything and retries
// once with a hard floor of the most recent messages. Component-local
// failures are logged and reported as a boolean — they never propagate as
// errors into the caller's control flow.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dpapantzikos/cvchat/internal/chat"
)

var (
	// ErrNotFound is returned by a Backend when no snapshot exists.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrQuotaExceeded is returned by a Backend when a write cannot fit.
	ErrQuotaExceeded = errors.New("snapshot: quota exceeded")
)

// Backend is the raw keyed byte store underneath the Store. Implementations
// hold exactly one record.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
	Usage(ctx context.Context) (Usage, error)
}

// Usage describes how full the backend is.
type Usage struct {
	UsedBytes      int64
	AvailableBytes int64
	Percentage     float64
}

// Config holds the store's policy knobs.
type Config struct {
	// MaxMessages caps the persisted transcript, keeping the most recent.
	// Default 50.
	MaxMessages int

	// QuotaBuffer is the fraction of the quota kept free. When a write
	// would push usage above (1 - QuotaBuffer) of capacity, a reduced
	// window is written instead. Default 0.10.
	QuotaBuffer float64

	// MaxAge is the session age after which ShouldExpire reports true when
	// the caller does not supply a threshold. Default 60 minutes.
	MaxAge time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessages: 50,
		QuotaBuffer: 0.10,
		MaxAge:      time.Hour,
	}
}

// reducedFloor is the hard floor used for the final clear-and-retry write.
const reducedFloor = 10

// envelope is the persisted document shape. There is no version field;
// loading tolerates absent or extra fields and drops what it cannot
// validate rather than failing.
type envelope struct {
	Messages []json.RawMessage `json:"messages"`
	SavedAt  string            `json:"savedAt"`
}

// rawMessage mirrors chat.Message with loose string typing so one malformed
// entry never poisons the whole snapshot.
type rawMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Store is the quota-aware snapshot store.
type Store struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Store over backend. If logger is nil the default slog
// logger is used.
func New(backend Backend, cfg Config, logger *slog.Logger) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultConfig().MaxMessages
	}
	if cfg.QuotaBuffer <= 0 || cfg.QuotaBuffer >= 1 {
		cfg.QuotaBuffer = DefaultConfig().QuotaBuffer
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{backend: backend, cfg: cfg, logger: logger, now: time.Now}
}

// Save persists msgs (most recent MaxMessages of them), overwriting any
// previous snapshot. It returns false when even the degraded write path
// failed; it never returns an error.
func (s *Store) Save(ctx context.Context, msgs []chat.Message) bool {
	window := tail(msgs, s.cfg.MaxMessages)
	payload, err := s.marshal(window)
	if err != nil {
		s.logger.Warn("snapshot: marshal failed", "err", err)
		return false
	}

	// Pre-flight: would this write push usage into the quota buffer?
	if u, err := s.backend.Usage(ctx); err == nil {
		capacity := u.UsedBytes + u.AvailableBytes
		threshold := int64(float64(capacity) * (1 - s.cfg.QuotaBuffer))
		if capacity > 0 && int64(len(payload)) > threshold {
			reduced := tail(window, s.cfg.MaxMessages/2)
			if p, err := s.marshal(reduced); err == nil {
				s.logger.Debug("snapshot: writing reduced window",
					"full", len(window), "reduced", len(reduced))
				window, payload = reduced, p
			}
		}
	}

	err = s.backend.Write(ctx, payload)
	if errors.Is(err, ErrQuotaExceeded) {
		// Single reduced retry only — no retry loop.
		if derr := s.backend.Delete(ctx); derr != nil {
			s.logger.Warn("snapshot: clear before retry failed", "err", derr)
		}
		floor := tail(window, reducedFloor)
		payload, merr := s.marshal(floor)
		if merr == nil {
			err = s.backend.Write(ctx, payload)
		} else {
			err = merr
		}
	}
	if err != nil {
		s.logger.Warn("snapshot: save failed", "err", err, "messages", len(window))
		return false
	}
	return true
}

// Load restores the persisted transcript. Malformed individual messages are
// silently dropped; when the top-level structure itself is invalid the
// snapshot is cleared and an empty transcript returned. Load never fails.
func (s *Store) Load(ctx context.Context) []chat.Message {
	data, err := s.backend.Read(ctx)
	if errors.Is(err, ErrNotFound) {
		return []chat.Message{}
	}
	if err != nil {
		s.logger.Warn("snapshot: read failed", "err", err)
		return []chat.Message{}
	}

	env, ok := s.decodeEnvelope(ctx, data)
	if !ok {
		return []chat.Message{}
	}

	msgs := make([]chat.Message, 0, len(env.Messages))
	for _, raw := range env.Messages {
		var rm rawMessage
		if err := json.Unmarshal(raw, &rm); err != nil {
			continue
		}
		role := chat.Role(rm.Role)
		if rm.ID == "" || !role.Valid() {
			continue
		}
		ts, err := time.Parse(time.RFC3339, rm.Timestamp)
		if err != nil {
			continue
		}
		msgs = append(msgs, chat.Message{
			ID:        rm.ID,
			Role:      role,
			Content:   rm.Content,
			Timestamp: ts,
		})
	}
	return msgs
}

// Clear deletes the persisted snapshot.
func (s *Store) Clear(ctx context.Context) {
	if err := s.backend.Delete(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("snapshot: clear failed", "err", err)
	}
}

// GetUsage reports the backend's storage usage. On error it returns a zero
// Usage — callers render "unknown" rather than failing.
func (s *Store) GetUsage(ctx context.Context) Usage {
	u, err := s.backend.Usage(ctx)
	if err != nil {
		s.logger.Debug("snapshot: usage unavailable", "err", err)
		return Usage{}
	}
	return u
}

// Age returns how long ago the snapshot was saved, or zero when no snapshot
// exists or its timestamp cannot be read.
func (s *Store) Age(ctx context.Context) time.Duration {
	data, err := s.backend.Read(ctx)
	if err != nil {
		return 0
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0
	}
	savedAt, err := time.Parse(time.RFC3339, env.SavedAt)
	if err != nil {
		return 0
	}
	age := s.now().Sub(savedAt)
	if age < 0 {
		return 0
	}
	return age
}

// ShouldExpire reports whether the snapshot is older than maxAge. A
// non-positive maxAge falls back to the configured default.
func (s *Store) ShouldExpire(ctx context.Context, maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = s.cfg.MaxAge
	}
	age := s.Age(ctx)
	return age > 0 && age > maxAge
}

// decodeEnvelope validates the top-level document shape against the
// embedded JSON schema and decodes it. Structurally invalid documents clear
// the snapshot.
func (s *Store) decodeEnvelope(ctx context.Context, data []byte) (envelope, bool) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		s.logger.Warn("snapshot: stored document is not JSON, clearing", "err", err)
		s.Clear(ctx)
		return envelope{}, false
	}
	if err := envelopeSchema.Validate(generic); err != nil {
		s.logger.Warn("snapshot: stored document failed schema validation, clearing", "err", err)
		s.Clear(ctx)
		return envelope{}, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.Clear(ctx)
		return envelope{}, false
	}
	return env, true
}

// marshal builds the persisted document for a message window.
func (s *Store) marshal(msgs []chat.Message) ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(rawMessage{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}
	return json.Marshal(envelope{
		Messages: raw,
		SavedAt:  s.now().UTC().Format(time.RFC3339),
	})
}

// tail returns the most recent n messages (the whole slice when it is
// already short enough). n below 1 is clamped to 1.
func tail(msgs []chat.Message, n int) []chat.Message {
	if n < 1 {
		n = 1
	}
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
