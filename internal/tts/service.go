package tts

import (
	"context"
	"log/slog"

	"github.com/dpapantzikos/cvchat/common/retry"
	"github.com/dpapantzikos/cvchat/internal/audiocache"
	"github.com/dpapantzikos/cvchat/internal/chat"
	"github.com/dpapantzikos/cvchat/internal/playback"
)

// AudioPlayer is the playback surface the service needs. Satisfied by
// *playback.Manager.
type AudioPlayer interface {
	Play(ctx context.Context, messageID string, src playback.Source) error
	Stop()
}

// Service speaks assistant messages aloud: cache lookup first, synthesis
// through its own retry policy on a miss, cache insert, then playback.
type Service struct {
	synth   Synthesizer
	cache   *audiocache.Cache
	player  AudioPlayer
	retry   retry.Config
	voiceID string
	modelID string
	logger  *slog.Logger
}

// NewService wires the speak pipeline. The retry policy defaults to the
// standard backoff with the chat retryability predicate when zero.
func NewService(synth Synthesizer, cache *audiocache.Cache, player AudioPlayer, voiceID, modelID string, cfg retry.Config, logger *slog.Logger) *Service {
	if cfg.MaxRetries == 0 && cfg.BaseDelay == 0 {
		cfg = retry.DefaultConfig
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = chat.IsRetryable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		synth:   synth,
		cache:   cache,
		player:  player,
		retry:   cfg,
		voiceID: voiceID,
		modelID: modelID,
		logger:  logger,
	}
}

// byteSource plays audio the cache declined to hold.
type byteSource []byte

func (b byteSource) Bytes() ([]byte, error) { return b, nil }

// Speak plays the message's audio, synthesizing it on a cache miss.
func (s *Service) Speak(ctx context.Context, msg chat.Message) error {
	if handle := s.cache.PlayableHandle(msg.Content, s.voiceID, s.modelID); handle != nil {
		return s.player.Play(ctx, msg.ID, handle)
	}

	var audio []byte
	err := retry.Do(ctx, s.retry, func() error {
		var synthErr error
		audio, synthErr = s.synth.Synthesize(ctx, msg.Content)
		return synthErr
	})
	if err != nil {
		return chat.WrapUnknown(err)
	}

	if handle := s.cache.Set(msg.Content, audio, s.voiceID, s.modelID); handle != nil {
		return s.player.Play(ctx, msg.ID, handle)
	}
	// Oversized for the cache; play the buffer directly.
	s.logger.Debug("tts: playing uncached audio", "message_id", msg.ID, "size", len(audio))
	return s.player.Play(ctx, msg.ID, byteSource(audio))
}

// Stop halts any active playback.
func (s *Service) Stop() {
	s.player.Stop()
}
