// Command cvchat runs the CV-chat backend: an HTTP façade for the portfolio
// widget, a terminal REPL against the same pipeline, and maintenance
// helpers for the persisted session.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dpapantzikos/cvchat/common/logging"
	"github.com/dpapantzikos/cvchat/common/retry"
	"github.com/dpapantzikos/cvchat/common/version"
	"github.com/dpapantzikos/cvchat/internal/archive"
	"github.com/dpapantzikos/cvchat/internal/audiocache"
	"github.com/dpapantzikos/cvchat/internal/chat"
	"github.com/dpapantzikos/cvchat/internal/config"
	"github.com/dpapantzikos/cvchat/internal/contextwin"
	"github.com/dpapantzikos/cvchat/internal/llm"
	"github.com/dpapantzikos/cvchat/internal/persona"
	"github.com/dpapantzikos/cvchat/internal/playback"
	"github.com/dpapantzikos/cvchat/internal/ratelimit"
	"github.com/dpapantzikos/cvchat/internal/server"
	"github.com/dpapantzikos/cvchat/internal/session"
	"github.com/dpapantzikos/cvchat/internal/snapshot"
	"github.com/dpapantzikos/cvchat/internal/tts"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cvchat",
		Short:         "CV chat backend for the portfolio widget",
		Long:          "cvchat serves the portfolio's CV-chat widget: conversation turns against a language model, bounded context windows, rate limiting, persisted sessions and optional spoken replies.",
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newChatCmd(), newClearCmd())
	return root
}

// deps is the composition root: every service is constructed here and
// passed down explicitly.
type deps struct {
	cfg      *config.Config
	profile  *persona.Profile
	provider llm.Provider
}

func loadDeps() (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	profile := persona.Default()
	if cfg.PersonaPath != "" {
		profile, err = persona.Load(cfg.PersonaPath)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Model != "" {
		profile.Completion.Model = cfg.Model
	}
	if cfg.MaxTokens > 0 {
		profile.Completion.MaxTokens = cfg.MaxTokens
	}

	provider, err := buildProvider(cfg, profile)
	if err != nil {
		return nil, err
	}
	return &deps{cfg: cfg, profile: profile, provider: provider}, nil
}

func buildProvider(cfg *config.Config, profile *persona.Profile) (llm.Provider, error) {
	switch cfg.Provider {
	case "http":
		return llm.NewHTTP(llm.HTTPConfig{
			BaseURL: cfg.APIBaseURL,
			APIKey:  cfg.APIKey,
			Model:   profile.Completion.Model,
			Timeout: cfg.CompletionTimeout,
		}), nil
	default:
		return llm.NewOllama(llm.OllamaConfig{
			BaseURL: cfg.OllamaHost,
			Model:   profile.Completion.Model,
			Timeout: cfg.CompletionTimeout,
		})
	}
}

func (d *deps) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries:  d.cfg.RetryMax,
		BaseDelay:   d.cfg.RetryBaseDelay,
		Multiplier:  2,
		MaxDelay:    d.cfg.RetryMaxDelay,
		ShouldRetry: chat.IsRetryable,
	}
}

func (d *deps) windowOptions() contextwin.Options {
	opts := contextwin.DefaultOptions()
	opts.MaxMessages = d.cfg.WindowMaxMessages
	opts.MaxTokenBudget = d.cfg.WindowMaxTokens
	return opts
}

// snapshotStore builds the session snapshot store: Redis when configured,
// a local file otherwise.
func (d *deps) snapshotStore() (*snapshot.Store, error) {
	cfg := snapshot.DefaultConfig()
	cfg.MaxMessages = d.cfg.SnapshotMaxMessages
	cfg.MaxAge = d.cfg.SessionMaxAge

	var backend snapshot.Backend
	if d.cfg.RedisURL != "" {
		opts, err := redis.ParseURL(d.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		backend = snapshot.NewRedisBackend(redis.NewClient(opts), snapshot.DefaultRedisKey, 0, 0)
	} else {
		var err error
		backend, err = snapshot.NewFileBackend(d.cfg.SnapshotPath, 0)
		if err != nil {
			return nil, err
		}
	}
	return snapshot.New(backend, cfg, nil), nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP façade for the chat widget",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps()
			if err != nil {
				return err
			}

			store, err := archive.New(d.cfg.ArchivePath)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := server.New(d.provider, store, d.profile, server.Config{
				Addr:         d.cfg.HTTPAddr,
				Window:       d.windowOptions(),
				Retry:        d.retryConfig(),
				UseFallbacks: d.cfg.UseFallbacks,
			}, nil)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the CV assistant from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps()
			if err != nil {
				return err
			}

			store, err := d.snapshotStore()
			if err != nil {
				return err
			}

			limiter := ratelimit.New(ratelimit.Config{
				Cooldown:        d.cfg.RateCooldown,
				MaxPerWindow:    d.cfg.RateMaxPerWindow,
				MaxMessageChars: d.cfg.RateMaxMessageChars,
			})
			defer limiter.Close()

			orch := session.New(d.provider, limiter, store, d.profile, session.Config{
				Window:        d.windowOptions(),
				Retry:         d.retryConfig(),
				SessionMaxAge: d.cfg.SessionMaxAge,
				UseFallbacks:  d.cfg.UseFallbacks,
			}, nil)

			speaker, closeSpeaker := buildSpeaker(d)
			if closeSpeaker != nil {
				defer closeSpeaker()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if n := orch.Restore(ctx); n > 0 {
				fmt.Printf("(restored %d messages from the previous session)\n", n)
			} else if g := orch.Greeting(); g != "" {
				fmt.Println(g)
			}

			return repl(ctx, orch, speaker)
		},
	}
}

// voiceSettings is the merged speech configuration: env knobs win, the
// persona's voice block fills the gaps.
type voiceSettings struct {
	enabled      bool
	voiceID      string
	modelID      string
	outputFormat string
}

func resolveVoice(cfg *config.Config, profile *persona.Profile) voiceSettings {
	v := voiceSettings{
		enabled: cfg.TTSEnabled,
		voiceID: cfg.TTSVoiceID,
		modelID: cfg.TTSModelID,
	}
	if profile == nil {
		return v
	}
	if !v.enabled {
		v.enabled = profile.Voice.Enabled
	}
	if v.voiceID == "" {
		v.voiceID = profile.Voice.VoiceID
	}
	if v.modelID == "" {
		v.modelID = profile.Voice.ModelID
	}
	v.outputFormat = profile.Voice.OutputFormat
	return v
}

// buildSpeaker wires the TTS pipeline when enabled. The returned close
// function releases the cache and stops playback.
func buildSpeaker(d *deps) (*tts.Service, func()) {
	voice := resolveVoice(d.cfg, d.profile)
	if !voice.enabled {
		return nil, nil
	}
	if d.cfg.TTSBaseURL == "" {
		slog.Warn("voice enabled but no synthesis endpoint configured, replies stay silent")
		return nil, nil
	}

	cache := audiocache.New(audiocache.Config{
		MaxEntries:   d.cfg.CacheMaxEntries,
		MaxSizeBytes: d.cfg.CacheMaxSizeBytes,
		MaxAge:       d.cfg.CacheMaxAge,
	}, nil)

	manager := playback.NewManager(playback.NewExecPlayer(d.cfg.AudioPlayer, "-q"), playback.DefaultConfig(), nil)

	client := tts.NewClient(tts.Config{
		BaseURL:      d.cfg.TTSBaseURL,
		APIKey:       d.cfg.TTSAPIKey,
		VoiceID:      voice.voiceID,
		ModelID:      voice.modelID,
		OutputFormat: voice.outputFormat,
		Timeout:      d.cfg.TTSTimeout,
	})

	svc := tts.NewService(client, cache, manager, voice.voiceID, voice.modelID, d.retryConfig(), nil)
	return svc, func() {
		manager.Stop()
		cache.Close()
	}
}

func repl(ctx context.Context, orch *session.Orchestrator, speaker *tts.Service) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Print("> ")
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			orch.Clear(ctx)
			fmt.Println("(session cleared)")
			fmt.Print("> ")
			continue
		}

		reply, err := orch.Send(ctx, line)
		if err != nil {
			msg, delay := orch.Describe(err)
			if delay > 0 {
				fmt.Printf("%s (try again in %s)\n", msg, delay)
			} else {
				fmt.Println(msg)
			}
			fmt.Print("> ")
			continue
		}

		fmt.Println(reply.Content)
		if speaker != nil {
			if err := speaker.Speak(ctx, reply); err != nil {
				msg, _ := orch.Describe(err)
				fmt.Println("(audio unavailable:", msg+")")
			}
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop the persisted chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDeps()
			if err != nil {
				return err
			}
			store, err := d.snapshotStore()
			if err != nil {
				return err
			}
			store.Clear(cmd.Context())
			fmt.Println("session cleared")
			return nil
		},
	}
}
