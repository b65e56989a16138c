// Package config loads the environment-sourced configuration surface.
// Every knob has a safe default so the widget backend runs with zero
// configuration beyond a reachable model endpoint.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration.
type Config struct {
	// Logging
	LogLevel  string `env:"CVCHAT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CVCHAT_LOG_FORMAT" envDefault:"text"`

	// HTTP façade
	HTTPAddr string `env:"CVCHAT_HTTP_ADDR" envDefault:":8080"`

	// Completion provider: "ollama" or "http"
	Provider          string        `env:"CVCHAT_PROVIDER" envDefault:"ollama"`
	APIBaseURL        string        `env:"CVCHAT_API_BASE_URL"`
	APIKey            string        `env:"CVCHAT_API_KEY"`
	Model             string        `env:"CVCHAT_MODEL"`
	MaxTokens         int           `env:"CVCHAT_MAX_TOKENS" envDefault:"0"`
	CompletionTimeout time.Duration `env:"CVCHAT_COMPLETION_TIMEOUT" envDefault:"30s"`
	OllamaHost        string        `env:"CVCHAT_OLLAMA_HOST" envDefault:"http://localhost:11434"`

	// Persona file; the built-in CV persona is used when empty.
	PersonaPath  string `env:"CVCHAT_PERSONA_FILE"`
	UseFallbacks bool   `env:"CVCHAT_USE_FALLBACKS" envDefault:"true"`

	// Context window
	WindowMaxMessages int `env:"CVCHAT_WINDOW_MAX_MESSAGES" envDefault:"20"`
	WindowMaxTokens   int `env:"CVCHAT_WINDOW_MAX_TOKENS" envDefault:"2000"`

	// Rate limiting
	RateCooldown        time.Duration `env:"CVCHAT_RATE_COOLDOWN" envDefault:"3s"`
	RateMaxPerWindow    int           `env:"CVCHAT_RATE_MAX_PER_MINUTE" envDefault:"10"`
	RateMaxMessageChars int           `env:"CVCHAT_RATE_MAX_MESSAGE_CHARS" envDefault:"200"`

	// Retry policy
	RetryMax       int           `env:"CVCHAT_RETRY_MAX" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"CVCHAT_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay  time.Duration `env:"CVCHAT_RETRY_MAX_DELAY" envDefault:"10s"`

	// Session snapshot; RedisURL switches the backend from file to Redis.
	SnapshotPath        string        `env:"CVCHAT_SNAPSHOT_PATH" envDefault:"cvchat-session.json"`
	SnapshotMaxMessages int           `env:"CVCHAT_SNAPSHOT_MAX_MESSAGES" envDefault:"50"`
	SessionMaxAge       time.Duration `env:"CVCHAT_SESSION_MAX_AGE" envDefault:"1h"`
	RedisURL            string        `env:"CVCHAT_REDIS_URL"`

	// Conversation archive (SQLite)
	ArchivePath string `env:"CVCHAT_ARCHIVE_PATH" envDefault:"cvchat.db"`

	// Text to speech
	TTSEnabled bool          `env:"CVCHAT_TTS_ENABLED" envDefault:"false"`
	TTSBaseURL string        `env:"CVCHAT_TTS_BASE_URL"`
	TTSAPIKey  string        `env:"CVCHAT_TTS_API_KEY"`
	TTSVoiceID string        `env:"CVCHAT_TTS_VOICE_ID"`
	TTSModelID string        `env:"CVCHAT_TTS_MODEL_ID"`
	TTSTimeout time.Duration `env:"CVCHAT_TTS_TIMEOUT" envDefault:"60s"`

	// AudioPlayer is the host command used to play synthesized clips.
	AudioPlayer string `env:"CVCHAT_AUDIO_PLAYER" envDefault:"mpg123"`

	// Audio cache
	CacheMaxEntries   int           `env:"CVCHAT_CACHE_MAX_ENTRIES" envDefault:"50"`
	CacheMaxSizeBytes int64         `env:"CVCHAT_CACHE_MAX_SIZE_BYTES" envDefault:"10485760"`
	CacheMaxAge       time.Duration `env:"CVCHAT_CACHE_MAX_AGE" envDefault:"30m"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case "ollama", "http":
	default:
		return fmt.Errorf("CVCHAT_PROVIDER must be \"ollama\" or \"http\", got %q", c.Provider)
	}
	if c.Provider == "http" && c.APIBaseURL == "" {
		return fmt.Errorf("CVCHAT_API_BASE_URL is required with the http provider")
	}
	if c.TTSEnabled && c.TTSBaseURL == "" {
		return fmt.Errorf("CVCHAT_TTS_BASE_URL is required when TTS is enabled")
	}
	return nil
}
