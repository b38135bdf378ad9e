package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the parley voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	LogLevel                 string

	// Conversation loop tuning.
	SilenceDebounce  time.Duration
	MinFinalTokens   int
	MinBargeInChars  int
	InferenceTimeout time.Duration
	SpeakTimeout     time.Duration
	DefaultLanguage  string

	// Brain (inference backend).
	BrainMode string
	BrainURL  string

	// Recognizer / synthesizer backends.
	RecognizerMode  string
	SynthesizerMode string
	SynthesizerURL  string

	// Fallback transcription service.
	TranscriberURL     string
	TranscriberTimeout time.Duration

	// Reply cache.
	CacheBackend string
	CacheTTL     time.Duration
	RedisAddr    string
	RedisDB      int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("PARLEY_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("PARLEY_METRICS_NAMESPACE", "parley"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("PARLEY_LOG_LEVEL", "info"),
		// The debounce is short on purpose: conversational pauses beyond ~half a
		// second read as "done talking" in a voice UI.
		SilenceDebounce:  475 * time.Millisecond,
		MinFinalTokens:   2,
		MinBargeInChars:  2,
		InferenceTimeout: 45 * time.Second,
		SpeakTimeout:     30 * time.Second,
		DefaultLanguage:  envOrDefault("PARLEY_DEFAULT_LANGUAGE", "en"),
		BrainMode:        envOrDefault("PARLEY_BRAIN_MODE", "auto"),
		BrainURL:         trimmedEnv("PARLEY_BRAIN_URL"),
		RecognizerMode:   envOrDefault("PARLEY_RECOGNIZER_MODE", "mock"),
		SynthesizerMode:  envOrDefault("PARLEY_SYNTHESIZER_MODE", "mock"),
		SynthesizerURL:   trimmedEnv("PARLEY_SYNTHESIZER_URL"),
		TranscriberURL:   trimmedEnv("PARLEY_TRANSCRIBER_URL"),

		TranscriberTimeout:       20 * time.Second,
		CacheBackend:             envOrDefault("PARLEY_CACHE_BACKEND", "memory"),
		CacheTTL:                 10 * time.Minute,
		RedisAddr:                envOrDefault("PARLEY_REDIS_ADDR", "localhost:6379"),
		RedisDB:                  0,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("PARLEY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("PARLEY_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceDebounce, err = durationFromEnv("PARLEY_SILENCE_DEBOUNCE", cfg.SilenceDebounce)
	if err != nil {
		return Config{}, err
	}
	cfg.InferenceTimeout, err = durationFromEnv("PARLEY_INFERENCE_TIMEOUT", cfg.InferenceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeakTimeout, err = durationFromEnv("PARLEY_SPEAK_TIMEOUT", cfg.SpeakTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriberTimeout, err = durationFromEnv("PARLEY_TRANSCRIBER_TIMEOUT", cfg.TranscriberTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTL, err = durationFromEnv("PARLEY_CACHE_TTL", cfg.CacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.MinFinalTokens, err = intFromEnv("PARLEY_MIN_FINAL_TOKENS", cfg.MinFinalTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.MinBargeInChars, err = intFromEnv("PARLEY_MIN_BARGE_IN_CHARS", cfg.MinBargeInChars)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("PARLEY_REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("PARLEY_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("PARLEY_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SilenceDebounce <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SILENCE_DEBOUNCE must be positive")
	}
	if cfg.MinFinalTokens < 1 {
		return Config{}, fmt.Errorf("PARLEY_MIN_FINAL_TOKENS must be at least 1")
	}
	if cfg.MinBargeInChars < 1 {
		return Config{}, fmt.Errorf("PARLEY_MIN_BARGE_IN_CHARS must be at least 1")
	}
	if cfg.InferenceTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_INFERENCE_TIMEOUT must be positive")
	}
	if cfg.SpeakTimeout <= 0 {
		return Config{}, fmt.Errorf("PARLEY_SPEAK_TIMEOUT must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.CacheBackend)) {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("PARLEY_CACHE_BACKEND must be memory or redis")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
