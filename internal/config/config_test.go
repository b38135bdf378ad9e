package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.SilenceDebounce != 475*time.Millisecond {
		t.Fatalf("SilenceDebounce = %v, want 475ms", cfg.SilenceDebounce)
	}
	if cfg.MinFinalTokens != 2 {
		t.Fatalf("MinFinalTokens = %d, want 2", cfg.MinFinalTokens)
	}
	if cfg.CacheBackend != "memory" {
		t.Fatalf("CacheBackend = %q, want %q", cfg.CacheBackend, "memory")
	}
	if cfg.DefaultLanguage != "en" {
		t.Fatalf("DefaultLanguage = %q, want %q", cfg.DefaultLanguage, "en")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PARLEY_SILENCE_DEBOUNCE", "600ms")
	t.Setenv("PARLEY_MIN_FINAL_TOKENS", "3")
	t.Setenv("PARLEY_CACHE_BACKEND", "redis")
	t.Setenv("PARLEY_BRAIN_URL", "http://localhost:7777/reply")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SilenceDebounce != 600*time.Millisecond {
		t.Fatalf("SilenceDebounce = %v, want 600ms", cfg.SilenceDebounce)
	}
	if cfg.MinFinalTokens != 3 {
		t.Fatalf("MinFinalTokens = %d, want 3", cfg.MinFinalTokens)
	}
	if cfg.CacheBackend != "redis" {
		t.Fatalf("CacheBackend = %q, want %q", cfg.CacheBackend, "redis")
	}
	if cfg.BrainURL != "http://localhost:7777/reply" {
		t.Fatalf("BrainURL = %q, want explicit value", cfg.BrainURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad debounce", "PARLEY_SILENCE_DEBOUNCE", "nope"},
		{"zero tokens", "PARLEY_MIN_FINAL_TOKENS", "0"},
		{"bad cache backend", "PARLEY_CACHE_BACKEND", "postgres"},
		{"short inactivity", "PARLEY_SESSION_INACTIVITY_TIMEOUT", "1s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil, want parse/validation error for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"PARLEY_BIND_ADDR",
		"PARLEY_SHUTDOWN_TIMEOUT",
		"PARLEY_SESSION_INACTIVITY_TIMEOUT",
		"PARLEY_METRICS_NAMESPACE",
		"PARLEY_ALLOW_ANY_ORIGIN",
		"PARLEY_LOG_LEVEL",
		"PARLEY_SILENCE_DEBOUNCE",
		"PARLEY_MIN_FINAL_TOKENS",
		"PARLEY_MIN_BARGE_IN_CHARS",
		"PARLEY_INFERENCE_TIMEOUT",
		"PARLEY_SPEAK_TIMEOUT",
		"PARLEY_DEFAULT_LANGUAGE",
		"PARLEY_BRAIN_MODE",
		"PARLEY_BRAIN_URL",
		"PARLEY_RECOGNIZER_MODE",
		"PARLEY_SYNTHESIZER_MODE",
		"PARLEY_SYNTHESIZER_URL",
		"PARLEY_TRANSCRIBER_URL",
		"PARLEY_TRANSCRIBER_TIMEOUT",
		"PARLEY_CACHE_BACKEND",
		"PARLEY_CACHE_TTL",
		"PARLEY_REDIS_ADDR",
		"PARLEY_REDIS_DB",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
