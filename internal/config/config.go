// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and environment variables over the defaults.
// - Errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"runtime"
	"strings"
)

// Judge providers.
const (
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderScripted   = "scripted"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log lines.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DebounceMS is the quiet period after the last candidate fragment
	// before the buffered utterance is analyzed.
	DebounceMS int `koanf:"debounce_ms"`

	// AdversarialThreshold is the bluff score at or above which follow-ups
	// are delivered aggressively.
	AdversarialThreshold int `koanf:"adversarial_threshold"`

	// DifficultyWeightedScoring scores with the session's difficulty
	// weights instead of the fixed 0.4/0.4/0.2 split.
	DifficultyWeightedScoring bool `koanf:"difficulty_weighted_scoring"`

	JudgeProvider   string `koanf:"judge_provider"`
	JudgeModel      string `koanf:"judge_model"`
	JudgeTimeoutMS  int    `koanf:"judge_timeout_ms"`
	JudgeMaxRetries int    `koanf:"judge_max_retries"`

	GeminiAPIKey      string `koanf:"gemini_api_key"`
	OpenRouterAPIKey  string `koanf:"openrouter_api_key"`
	OpenRouterBaseURL string `koanf:"openrouter_base_url"`

	// StoreDriver is sqlite or memory.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`

	// WriteQueueSize bounds the in-memory persistence queue.
	WriteQueueSize int `koanf:"write_queue_size"`

	// WriterCount sets the number of persistence writers.
	WriterCount int `koanf:"writer_count"`

	// DedupeSize bounds the per-session replayed message id window.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// AllowedOrigin is the websocket origin pattern accepted by /live.
	AllowedOrigin string `koanf:"allowed_origin"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		DebounceMS:           2000,
		AdversarialThreshold: 60,
		JudgeProvider:        ProviderGemini,
		JudgeModel:           "gemini-2.5-flash",
		JudgeTimeoutMS:       15_000,
		JudgeMaxRetries:      0,
		OpenRouterBaseURL:    "https://openrouter.ai/api/v1",
		StoreDriver:          DriverSQLite,
		SQLitePath:           "bluffmeter.db",
		WriteQueueSize:       10_000,
		WriterCount:          runtime.NumCPU(),
		DedupeSize:           1024,
		MaxLeaderboardLimit:  100,
		AllowedOrigin:        "*",
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.DebounceMS <= 0:
		return invalid("debounce_ms must be positive, got %d", c.DebounceMS)
	case c.AdversarialThreshold < 0 || c.AdversarialThreshold > 100:
		return invalid("adversarial_threshold must be within 0..100, got %d", c.AdversarialThreshold)
	case c.JudgeTimeoutMS <= 0:
		return invalid("judge_timeout_ms must be positive, got %d", c.JudgeTimeoutMS)
	case c.JudgeMaxRetries < 0:
		return invalid("judge_max_retries must not be negative")
	case c.WriteQueueSize <= 0:
		return invalid("write_queue_size must be positive")
	case c.WriterCount <= 0:
		return invalid("writer_count must be positive")
	case c.DedupeSize <= 0:
		return invalid("dedupe_size must be positive")
	case c.MaxLeaderboardLimit <= 0:
		return invalid("max_leaderboard_limit must be positive")
	}

	switch strings.ToLower(c.JudgeProvider) {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return invalid("gemini_api_key is required for the gemini judge")
		}
	case ProviderOpenRouter:
		if c.OpenRouterAPIKey == "" {
			return invalid("openrouter_api_key is required for the openrouter judge")
		}
	case ProviderScripted:
	default:
		return invalid("unknown judge_provider %q", c.JudgeProvider)
	}

	switch strings.ToLower(c.StoreDriver) {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return invalid("sqlite_path must not be empty")
		}
	case DriverMemory:
	default:
		return invalid("unknown store_driver %q", c.StoreDriver)
	}
	return nil
}
