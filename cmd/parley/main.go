package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tbardin/parley/internal/brain"
	"github.com/tbardin/parley/internal/config"
	"github.com/tbardin/parley/internal/httpapi"
	"github.com/tbardin/parley/internal/lang"
	"github.com/tbardin/parley/internal/observability"
	"github.com/tbardin/parley/internal/replycache"
	"github.com/tbardin/parley/internal/session"
	"github.com/tbardin/parley/internal/transcribe"
	"github.com/tbardin/parley/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	resolver := lang.NewResolver(cfg.DefaultLanguage)

	adapter, err := brain.NewAdapter(brain.Config{Mode: cfg.BrainMode, HTTPURL: cfg.BrainURL})
	if err != nil {
		logger.Fatal("brain adapter init failed", zap.Error(err))
	}
	// Mock fallback keeps the conversation loop alive when the real backend
	// is down; the user hears an echo instead of silence.
	if cfg.BrainURL != "" {
		adapter = brain.NewFallbackAdapter(adapter, brain.NewMockAdapter())
	}

	cache, err := replycache.New(replycache.Options{
		Backend:   cfg.CacheBackend,
		TTL:       cfg.CacheTTL,
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Fatal("reply cache init failed", zap.Error(err))
	}

	newRecognizer, err := recognizerBuilder(cfg)
	if err != nil {
		logger.Fatal("recognizer init failed", zap.Error(err))
	}
	newSynthesizers, err := synthesizerBuilder(cfg)
	if err != nil {
		logger.Fatal("synthesizer init failed", zap.Error(err))
	}

	var transcriber transcribe.Service
	if cfg.TranscriberURL != "" {
		transcriber = transcribe.NewHTTPService(cfg.TranscriberURL, cfg.TranscriberTimeout)
	} else {
		transcriber = &transcribe.MockService{Transcript: ""}
		logger.Warn("no transcriber URL configured, fallback transcription disabled")
	}

	// Every session gets its own recognizer, synthesizers, and recorder;
	// sessions share only the brain adapter, the reply cache, and the
	// resolver. A stateful backend handed to two sessions lets one
	// session's teardown stop the other's stream.
	factory := func(sessionID string, hooks voice.Hooks) *voice.Orchestrator {
		synthesizer, localSynth := newSynthesizers()
		return voice.NewOrchestrator(sessionID, voice.Backends{
			Recognizer:  newRecognizer(),
			Recorder:    voice.NewMockRecorder(nil),
			Transcriber: transcriber,
			Synthesizer: synthesizer,
			LocalSynth:  localSynth,
			Brain:       adapter,
			Cache:       cache,
			Resolver:    resolver,
		}, voice.Options{
			SilenceDebounce:   cfg.SilenceDebounce,
			TranscribeTimeout: cfg.TranscriberTimeout,
			SpeakTimeout:      cfg.SpeakTimeout,
			InferenceTimeout:  cfg.InferenceTimeout,
			MinFinalTokens:    cfg.MinFinalTokens,
			MinBargeInChars:   cfg.MinBargeInChars,
		}, hooks, metrics, logger)
	}

	sessions := session.NewManager(factory, cfg.SessionInactivityTimeout, metrics, logger)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	api := httpapi.New(cfg, sessions, resolver, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions.StartJanitor(runCtx, 5*time.Second)

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		sessions.CloseAll()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if err := cfg.Level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return cfg.Build()
}

// recognizerBuilder validates the configured mode once and returns a
// constructor invoked per session.
func recognizerBuilder(cfg config.Config) (func() voice.Recognizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.RecognizerMode)) {
	case "", "mock":
		// Speech recognition runs on the client device; transcripts arrive
		// over the websocket as client_speech and flow through capture. The
		// mock recognizer keeps the listening lifecycle real without a local
		// audio engine.
		return func() voice.Recognizer { return voice.NewMockRecognizer() }, nil
	default:
		return nil, fmt.Errorf("invalid PARLEY_RECOGNIZER_MODE: %q (expected mock)", cfg.RecognizerMode)
	}
}

func synthesizerBuilder(cfg config.Config) (func() (primary, local voice.Synthesizer), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.SynthesizerMode)) {
	case "", "mock":
		return func() (voice.Synthesizer, voice.Synthesizer) {
			return voice.NewMockSynthesizer(), voice.NewMockSynthesizer()
		}, nil
	case "http":
		if cfg.SynthesizerURL == "" {
			return nil, fmt.Errorf("PARLEY_SYNTHESIZER_MODE=http requires PARLEY_SYNTHESIZER_URL")
		}
		// The local substitute voice is the mock; a deployment with an
		// on-device engine swaps it here.
		return func() (voice.Synthesizer, voice.Synthesizer) {
			return voice.NewHTTPSynthesizer(cfg.SynthesizerURL, cfg.SpeakTimeout), voice.NewMockSynthesizer()
		}, nil
	default:
		return nil, fmt.Errorf("invalid PARLEY_SYNTHESIZER_MODE: %q (expected mock|http)", cfg.SynthesizerMode)
	}
}
