// Package playback owns the single active audio slot. At most one clip is
// ever playing; starting a new clip stops and releases the previous one.
// Volume fades run in discrete steps on their own goroutine and every fade
// is cancelable, so rapid start/stop sequences leak neither timers nor
// clips.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dpapantzikos/cvchat/internal/chat"
)

// State is the playback slot state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Source yields the audio bytes for a clip. The cache's playable handle
// satisfies it; the manager only borrows the bytes and never owns the
// cached buffer.
type Source interface {
	Bytes() ([]byte, error)
}

// Player is the playback primitive. Implementations wrap whatever audio
// backend is available; tests use an in-memory fake.
type Player interface {
	Load(ctx context.Context, data []byte) (Clip, error)
}

// Clip is one loaded audio stream. Completion is delivered by callback, not
// polled. Release frees the player-side resource and must be called exactly
// once per clip; the manager guarantees that.
type Clip interface {
	Play() error
	Stop()
	SetVolume(v float64) error
	OnComplete(fn func())
	Release()
}

// Config holds the fade behavior.
type Config struct {
	// FadeIn ramps volume 0 → target after Play. Default 100ms.
	FadeIn time.Duration

	// FadeOut ramps volume target → 0 before an explicit Stop releases
	// the clip. Default 200ms.
	FadeOut time.Duration

	// FadeSteps is the number of discrete volume steps per fade. Default 5.
	FadeSteps int

	// Volume is the initial target volume in [0, 1]. Default 1.
	Volume float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FadeIn:    100 * time.Millisecond,
		FadeOut:   200 * time.Millisecond,
		FadeSteps: 5,
		Volume:    1,
	}
}

// Manager drives the single playback slot. Safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	player    Player
	cfg       Config
	logger    *slog.Logger
	state     State
	messageID string
	clip      Clip
	volume    float64

	// gen invalidates callbacks and fades from superseded playbacks. Every
	// transition that releases the clip bumps it.
	gen        uint64
	fadeCancel chan struct{}
}

// NewManager wires a manager around a playback primitive. If logger is nil
// the default slog logger is used.
func NewManager(player Player, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.FadeIn <= 0 {
		cfg.FadeIn = def.FadeIn
	}
	if cfg.FadeOut <= 0 {
		cfg.FadeOut = def.FadeOut
	}
	if cfg.FadeSteps <= 0 {
		cfg.FadeSteps = def.FadeSteps
	}
	if cfg.Volume <= 0 || cfg.Volume > 1 {
		cfg.Volume = def.Volume
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		player: player,
		cfg:    cfg,
		logger: logger,
		volume: cfg.Volume,
	}
}

// State returns the current slot state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentMessageID returns the message whose audio occupies the slot, or ""
// when idle.
func (m *Manager) CurrentMessageID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messageID
}

// SetVolume updates the target volume, clamped to [0, 1], and applies it to
// the active clip immediately.
func (m *Manager) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = v
	if m.clip != nil && m.state == StatePlaying {
		if err := m.clip.SetVolume(v); err != nil {
			m.logger.Debug("playback: volume change failed", "error", err)
		}
	}
}

// Play loads src and starts it with a fade-in, stopping and releasing any
// active clip first. Returns a playback-kind error when the source, load or
// start fails; a preempted Play returns nil without playing.
func (m *Manager) Play(ctx context.Context, messageID string, src Source) error {
	data, err := src.Bytes()
	if err != nil {
		return chat.WrapError(chat.KindAudioPlayback, "read audio source", err)
	}

	m.mu.Lock()
	m.stopLocked()
	m.gen++
	gen := m.gen
	m.state = StateLoading
	m.messageID = messageID
	m.mu.Unlock()

	clip, err := m.player.Load(ctx, data)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.state = StateIdle
			m.messageID = ""
		}
		m.mu.Unlock()
		return chat.WrapError(chat.KindAudioPlayback, "load audio", err)
	}

	m.mu.Lock()
	if m.gen != gen {
		// Superseded while loading. The new playback owns the slot.
		m.mu.Unlock()
		clip.Release()
		return nil
	}
	m.clip = clip
	m.state = StatePlaying
	cancel := make(chan struct{})
	m.fadeCancel = cancel
	target := m.volume
	m.mu.Unlock()

	clip.OnComplete(func() { m.completed(gen) })

	if err := clip.SetVolume(0); err != nil {
		m.logger.Debug("playback: initial volume failed", "error", err)
	}
	if err := clip.Play(); err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.stopLocked()
		}
		m.mu.Unlock()
		return chat.WrapError(chat.KindAudioPlayback, "start audio", err)
	}

	go m.fade(clip, 0, target, m.cfg.FadeIn, cancel, nil)
	return nil
}

// Stop fades the active clip out and releases it. The fade runs on its own
// goroutine; a Play issued mid-fade cancels it and takes the slot
// immediately. Stopping an idle manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	if m.clip == nil {
		// Still loading. Invalidate so the pending Load result is released
		// on arrival.
		m.gen++
		m.state = StateIdle
		m.messageID = ""
		m.mu.Unlock()
		return
	}
	m.cancelFadeLocked()
	clip := m.clip
	gen := m.gen
	from := m.volume
	cancel := make(chan struct{})
	m.fadeCancel = cancel
	m.mu.Unlock()

	go m.fade(clip, from, 0, m.cfg.FadeOut, cancel, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			return
		}
		m.stopLocked()
	})
}

// completed handles the clip's completion callback. Stale generations are
// ignored so a completed clip never disturbs its successor.
func (m *Manager) completed(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.clip == nil {
		return
	}
	m.cancelFadeLocked()
	m.gen++
	m.clip.Release()
	m.clip = nil
	m.state = StateIdle
	m.messageID = ""
}

// stopLocked stops and releases the active clip immediately and resets the
// slot. Must be called with mu held.
func (m *Manager) stopLocked() {
	m.cancelFadeLocked()
	if m.clip != nil {
		m.gen++
		m.clip.Stop()
		m.clip.Release()
		m.clip = nil
	}
	m.state = StateIdle
	m.messageID = ""
}

// cancelFadeLocked cancels any in-flight fade. Must be called with mu held.
func (m *Manager) cancelFadeLocked() {
	if m.fadeCancel != nil {
		close(m.fadeCancel)
		m.fadeCancel = nil
	}
}

// fade ramps the clip volume from → to in discrete steps, then runs done.
// Closing cancel aborts the ramp; done is skipped on abort.
func (m *Manager) fade(clip Clip, from, to float64, dur time.Duration, cancel chan struct{}, done func()) {
	steps := m.cfg.FadeSteps
	interval := dur / time.Duration(steps)
	for i := 1; i <= steps; i++ {
		select {
		case <-cancel:
			return
		case <-time.After(interval):
		}
		v := from + (to-from)*float64(i)/float64(steps)
		if err := clip.SetVolume(v); err != nil {
			m.logger.Debug("playback: fade step failed", "error", err)
			break
		}
	}
	if done != nil {
		done()
	}
}
