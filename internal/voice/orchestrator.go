package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbardin/parley/internal/brain"
	"github.com/tbardin/parley/internal/lang"
	"github.com/tbardin/parley/internal/observability"
	"github.com/tbardin/parley/internal/replycache"
	"github.com/tbardin/parley/internal/transcribe"
)

type Status string

const (
	StatusIdle         Status = "idle"
	StatusListening    Status = "listening"
	StatusTranscribing Status = "transcribing"
	StatusThinking     Status = "thinking"
	StatusSpeaking     Status = "speaking"
	StatusError        Status = "error"
)

// ErrSessionClosed is returned by operations on a closed orchestrator.
var ErrSessionClosed = errors.New("voice: session closed")

// Snapshot is the read-only session state exposed to the host.
type Snapshot struct {
	SessionID         string       `json:"session_id"`
	Status            Status       `json:"status"`
	PartialTranscript string       `json:"partial_transcript"`
	FinalTranscript   string       `json:"final_transcript"`
	PartialReply      string       `json:"partial_reply"`
	FinalReply        string       `json:"final_reply"`
	ErrorMessage      string       `json:"error_message,omitempty"`
	Language          lang.Profile `json:"language"`
}

// Hooks notify the host application. All hooks are optional and are invoked
// outside the orchestrator lock.
type Hooks struct {
	OnState             func(Snapshot)
	OnPartialTranscript func(text string)
	OnFinalTranscript   func(text string)
	OnReplyDelta        func(turnID, delta string)
	OnReplyCompleted    func(turnID, reply string)
	OnError             func(code string, retryable bool, err error)
}

// Backends are the external collaborators one session talks to.
type Backends struct {
	Recognizer  Recognizer
	Recorder    Recorder
	Transcriber transcribe.Service
	Synthesizer Synthesizer
	LocalSynth  Synthesizer
	Brain       brain.Adapter
	Cache       replycache.Store
	Resolver    *lang.Resolver
}

type Options struct {
	SilenceDebounce   time.Duration
	TranscribeTimeout time.Duration
	SpeakTimeout      time.Duration
	InferenceTimeout  time.Duration
	MinFinalTokens    int
	MinBargeInChars   int
	Preference        string
	UILocale          string
}

// Orchestrator sequences capture, inference, and synthesis for one session.
// Transitions are serialized under mu; at most one turn is in flight.
type Orchestrator struct {
	sessionID string
	capture   *CaptureController
	synth     *SynthController
	adapter   brain.Adapter
	cache     replycache.Store
	resolver  *lang.Resolver
	metrics   *observability.Metrics
	logger    *zap.Logger
	hooks     Hooks
	opts      Options
	token     *CancelToken

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu                sync.Mutex
	closed            bool
	status            Status
	partialTranscript string
	finalTranscript   string
	partialReply      string
	finalReply        string
	errorMessage      string
	profile           lang.Profile
	forcedTag         string
	detectedTag       string

	// Detected on the in-flight turn's transcript; committed to detectedTag
	// only when that turn completes.
	pendingDetectedTag string

	turnInFlight bool
	turnSeq      uint64
	turnCancel   context.CancelFunc
}

func NewOrchestrator(
	sessionID string,
	backends Backends,
	opts Options,
	hooks Hooks,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", sessionID))
	if opts.MinFinalTokens <= 0 {
		opts.MinFinalTokens = 2
	}
	if opts.MinBargeInChars <= 0 {
		opts.MinBargeInChars = 2
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = 45 * time.Second
	}

	token := &CancelToken{}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sessionID:  sessionID,
		synth:      NewSynthController(backends.Synthesizer, backends.LocalSynth, token, opts.SpeakTimeout, logger),
		adapter:    backends.Brain,
		cache:      backends.Cache,
		resolver:   backends.Resolver,
		metrics:    metrics,
		logger:     logger,
		hooks:      hooks,
		opts:       opts,
		token:      token,
		baseCtx:    ctx,
		baseCancel: cancel,
		status:     StatusIdle,
	}
	o.capture = NewCaptureController(
		backends.Recognizer,
		backends.Recorder,
		backends.Transcriber,
		token,
		opts.SilenceDebounce,
		opts.TranscribeTimeout,
		logger,
	)
	o.profile = o.resolveProfileLocked()
	return o
}

// StartListening opens a new listening cycle. Allowed only from idle or
// error; error state is cleared on entry.
func (o *Orchestrator) StartListening() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrSessionClosed
	}
	if o.status != StatusIdle && o.status != StatusError {
		status := o.status
		o.mu.Unlock()
		return fmt.Errorf("voice: cannot start listening while %s", status)
	}
	o.errorMessage = ""
	o.partialTranscript = ""
	o.finalTranscript = ""
	o.profile = o.resolveProfileLocked()
	profile := o.profile
	snap := o.setStatusLocked(StatusListening)
	o.mu.Unlock()
	o.notifyState(snap)

	o.token.Clear()
	if err := o.startCapture(profile); err != nil {
		code := "capture_start_failed"
		if errors.Is(err, ErrPermissionDenied) {
			code = "permission_denied"
		}
		o.fail(code, false, err)
		return err
	}
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("listening_started").Inc()
	}
	return nil
}

// StopListening ends the listening cycle. On the fallback capture path this
// finalizes the buffered audio, which may synchronously begin a turn.
func (o *Orchestrator) StopListening() {
	o.mu.Lock()
	if o.status != StatusListening {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.capture.Stop()

	o.mu.Lock()
	var snap Snapshot
	notify := false
	if o.status == StatusListening && !o.turnInFlight {
		snap = o.setStatusLocked(StatusIdle)
		notify = true
	}
	o.mu.Unlock()
	if notify {
		o.notifyState(snap)
	}
}

// CancelAll aborts inference, synthesis, and capture, resets accumulators,
// and returns to idle. Idempotent: repeat calls and calls while idle are
// no-ops in effect.
func (o *Orchestrator) CancelAll() {
	o.token.Set()

	o.mu.Lock()
	cancel := o.turnCancel
	o.turnCancel = nil
	o.turnInFlight = false
	o.partialTranscript = ""
	o.partialReply = ""
	changed := o.status != StatusIdle
	snap := o.setStatusLocked(StatusIdle)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.synth.Stop()
	o.capture.Stop()
	if changed {
		o.notifyState(snap)
		if o.metrics != nil {
			o.metrics.SessionEvents.WithLabelValues("cancel_all").Inc()
		}
	}
}

// Close tears the session down permanently.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.CancelAll()
	o.baseCancel()
}

// SetLanguage forces a language for subsequent turns. The profile is
// re-derived, never mutated in place.
func (o *Orchestrator) SetLanguage(tag string) {
	o.mu.Lock()
	o.forcedTag = strings.TrimSpace(tag)
	o.profile = o.resolveProfileLocked()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notifyState(snap)
}

// InjectSpeech feeds recognizer output from a client that runs speech
// recognition on-device. It goes through the capture controller, so the
// silence debounce, noise filtering, and barge-in rules all apply.
func (o *Orchestrator) InjectSpeech(text string, final bool) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	o.capture.Inject(text, final)
}

// Snapshot returns a copy of the current session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:         o.sessionID,
		Status:            o.status,
		PartialTranscript: o.partialTranscript,
		FinalTranscript:   o.finalTranscript,
		PartialReply:      o.partialReply,
		FinalReply:        o.finalReply,
		ErrorMessage:      o.errorMessage,
		Language:          o.profile,
	}
}

func (o *Orchestrator) resolveProfileLocked() lang.Profile {
	return o.resolver.Resolve(lang.Input{
		Forced:     o.forcedTag,
		Detected:   o.detectedTag,
		Preference: o.opts.Preference,
		UILocale:   o.opts.UILocale,
	})
}

func (o *Orchestrator) setStatusLocked(status Status) Snapshot {
	o.status = status
	return o.snapshotLocked()
}

func (o *Orchestrator) notifyState(snap Snapshot) {
	if o.hooks.OnState != nil {
		o.hooks.OnState(snap)
	}
}

func (o *Orchestrator) startCapture(profile lang.Profile) error {
	return o.capture.Start(o.baseCtx, profile.RecognizerLocale, CaptureCallbacks{
		OnPartial: o.handlePartial,
		OnFinal:   o.handleFinal,
		OnError:   o.handleCaptureError,
	})
}

// restartCapture reopens capture after a finalized transcript so barge-in
// partials keep arriving while the assistant thinks and speaks.
func (o *Orchestrator) restartCapture() {
	o.mu.Lock()
	closed := o.closed
	profile := o.profile
	status := o.status
	o.mu.Unlock()
	if closed {
		return
	}
	if err := o.startCapture(profile); err != nil {
		if status == StatusListening {
			o.fail("capture_start_failed", true, err)
			return
		}
		o.logger.Warn("capture restart failed, barge-in unavailable for this turn", zap.Error(err))
	}
}

func (o *Orchestrator) handlePartial(text string) {
	o.mu.Lock()
	o.partialTranscript = text
	status := o.status
	o.mu.Unlock()

	if o.hooks.OnPartialTranscript != nil {
		o.hooks.OnPartialTranscript(text)
	}
	if status == StatusSpeaking && len(strings.TrimSpace(text)) >= o.opts.MinBargeInChars {
		o.bargeIn()
	}
}

func (o *Orchestrator) handleFinal(text, detectedLanguage string) {
	text = strings.TrimSpace(text)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.turnInFlight {
		o.mu.Unlock()
		o.logger.Debug("duplicate final transcript dropped, turn in flight", zap.String("text", text))
		if o.metrics != nil {
			o.metrics.SessionEvents.WithLabelValues("duplicate_final_dropped").Inc()
		}
		o.restartCapture()
		return
	}
	if o.status != StatusListening {
		status := o.status
		o.mu.Unlock()
		o.logger.Debug("final transcript ignored outside listening", zap.String("status", string(status)))
		return
	}
	if len(strings.Fields(text)) < o.opts.MinFinalTokens {
		o.mu.Unlock()
		o.logger.Debug("final transcript dropped as noise", zap.String("text", text))
		if o.metrics != nil {
			o.metrics.SessionEvents.WithLabelValues("final_dropped_noise").Inc()
		}
		o.restartCapture()
		return
	}

	o.turnInFlight = true
	o.turnSeq++
	seq := o.turnSeq
	o.finalTranscript = text
	o.partialTranscript = ""
	o.partialReply = ""
	o.finalReply = ""
	profile := o.profile
	if tag := strings.TrimSpace(detectedLanguage); tag != "" {
		// The detected language steers this turn's prompt and voice; the
		// session profile is re-pinned only once the turn completes.
		o.pendingDetectedTag = tag
		profile = o.resolver.Resolve(lang.Input{
			Forced:     o.forcedTag,
			Detected:   tag,
			Preference: o.opts.Preference,
			UILocale:   o.opts.UILocale,
		})
	}
	transcribing := o.setStatusLocked(StatusTranscribing)
	thinking := o.setStatusLocked(StatusThinking)
	turnCtx, cancel := context.WithCancel(o.baseCtx)
	o.turnCancel = cancel
	o.mu.Unlock()

	o.token.Clear()
	o.notifyState(transcribing)
	o.notifyState(thinking)
	if o.hooks.OnFinalTranscript != nil {
		o.hooks.OnFinalTranscript(text)
	}

	o.restartCapture()

	turnID := uuid.NewString()
	go o.runTurn(turnCtx, cancel, seq, turnID, text, profile)
}

func (o *Orchestrator) handleCaptureError(err error) {
	o.fail("transcription_failed", true, err)
}

// bargeIn aborts the assistant mid-utterance: token set, synthesis stopped,
// turn context cancelled, accumulators discarded, back to listening. The
// token is cleared only after the synthesis abort has been confirmed, so a
// late playback-done event cannot resurrect the speaking state.
func (o *Orchestrator) bargeIn() {
	start := time.Now()

	o.mu.Lock()
	if o.status != StatusSpeaking {
		o.mu.Unlock()
		return
	}
	o.token.Set()
	cancel := o.turnCancel
	o.turnCancel = nil
	o.turnInFlight = false
	o.partialReply = ""
	o.finalReply = ""
	snap := o.setStatusLocked(StatusListening)
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.synth.Stop()
	o.token.Clear()

	o.notifyState(snap)
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("barge_in").Inc()
		o.metrics.TurnOutcomes.WithLabelValues("barged_in").Inc()
		o.metrics.ObserveTurnStage("barge_in_to_listening", time.Since(start))
	}
	o.logger.Debug("barge-in handled", zap.Duration("took", time.Since(start)))
}

func (o *Orchestrator) runTurn(ctx context.Context, cancel context.CancelFunc, seq uint64, turnID, input string, profile lang.Profile) {
	start := time.Now()
	defer cancel()
	defer o.endTurn(seq)

	units := make(chan string, 16)
	speakerDone := make(chan struct{})
	go o.speakUnits(ctx, profile, units, speakerDone, start)

	scanner := newUnitScanner()
	var replyText string
	var noSpeech bool
	hit := false

	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, input); ok {
			hit = true
			replyText = cached
			if o.metrics != nil {
				o.metrics.CacheLookups.WithLabelValues("hit").Inc()
			}
			o.appendReplyDelta(turnID, cached)
			dispatchUnits(ctx, units, scanner.Push(cached))
		} else if o.metrics != nil {
			o.metrics.CacheLookups.WithLabelValues("miss").Inc()
		}
	}

	if !hit {
		if o.metrics != nil {
			o.metrics.ObserveTurnStage("final_to_inference_start", time.Since(start))
		}
		inferCtx, cancelInfer := context.WithTimeout(ctx, o.opts.InferenceTimeout)
		reply, err := o.adapter.StreamReply(inferCtx, brain.Request{
			SessionID:      o.sessionID,
			TurnID:         turnID,
			InputText:      input,
			LanguageTag:    profile.Tag,
			PromptTemplate: profile.PromptTemplate,
		}, func(delta string) error {
			if o.token.Canceled() || ctx.Err() != nil {
				return context.Canceled
			}
			if isStructuredFragment(delta) {
				o.logger.Debug("structured fragment dropped from reply stream")
				if o.metrics != nil {
					o.metrics.SessionEvents.WithLabelValues("reply_chunk_dropped").Inc()
				}
				return nil
			}
			o.appendReplyDelta(turnID, delta)
			return dispatchUnits(ctx, units, scanner.Push(delta))
		})
		cancelInfer()
		if err != nil {
			close(units)
			<-speakerDone
			if ctx.Err() != nil || o.token.Canceled() ||
				errors.Is(err, context.Canceled) {
				return
			}
			if o.metrics != nil {
				o.metrics.TurnOutcomes.WithLabelValues("inference_failed").Inc()
				o.metrics.ProviderErrors.WithLabelValues("brain", "inference_failed").Inc()
			}
			o.fail("inference_failed", true, err)
			return
		}
		replyText = strings.TrimSpace(reply.Text)
		noSpeech = reply.NoSpeech
	}

	if noSpeech {
		scanner.Reset()
	} else {
		_ = dispatchUnits(ctx, units, scanner.Finalize())
	}
	close(units)
	<-speakerDone

	if ctx.Err() != nil || o.token.Canceled() {
		return
	}

	if replyText == "" {
		if o.metrics != nil {
			o.metrics.TurnOutcomes.WithLabelValues("empty_reply").Inc()
		}
		o.turnToIdle()
		return
	}

	if !hit && !noSpeech && o.cache != nil {
		o.cache.Put(ctx, input, replyText)
	}

	o.mu.Lock()
	if o.pendingDetectedTag != "" {
		o.detectedTag = o.pendingDetectedTag
		o.pendingDetectedTag = ""
		o.profile = o.resolveProfileLocked()
	}
	o.finalReply = replyText
	o.partialReply = ""
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notifyState(snap)
	if o.hooks.OnReplyCompleted != nil {
		o.hooks.OnReplyCompleted(turnID, replyText)
	}
	if o.metrics != nil {
		o.metrics.TurnOutcomes.WithLabelValues("completed").Inc()
		o.metrics.ObserveTurnStage("final_to_reply_completed", time.Since(start))
	}
	o.turnToIdle()
}

func dispatchUnits(ctx context.Context, units chan<- string, batch []string) error {
	for _, unit := range batch {
		select {
		case units <- unit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// speakUnits synthesizes units strictly in arrival order. The first unit
// flips thinking into speaking so audio starts while inference still
// streams.
func (o *Orchestrator) speakUnits(ctx context.Context, profile lang.Profile, units <-chan string, done chan<- struct{}, turnStart time.Time) {
	defer close(done)
	first := true
	for unit := range units {
		if o.token.Canceled() || ctx.Err() != nil {
			continue
		}
		if first {
			first = false
			if o.metrics != nil {
				o.metrics.ObserveFirstUnitLatency(time.Since(turnStart))
				o.metrics.ObserveTurnStage("final_to_first_unit", time.Since(turnStart))
			}
			o.mu.Lock()
			var snap Snapshot
			notify := false
			if o.status == StatusThinking {
				snap = o.setStatusLocked(StatusSpeaking)
				notify = true
			}
			o.mu.Unlock()
			if notify {
				o.notifyState(snap)
			}
		}
		if err := o.synth.Speak(ctx, unit, profile); err != nil {
			if errors.Is(err, ErrSpeechAborted) || errors.Is(err, context.Canceled) {
				continue
			}
			o.logger.Warn("speak unit failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) appendReplyDelta(turnID, delta string) {
	o.mu.Lock()
	o.partialReply += delta
	o.mu.Unlock()
	if o.hooks.OnReplyDelta != nil {
		o.hooks.OnReplyDelta(turnID, delta)
	}
}

func (o *Orchestrator) endTurn(seq uint64) {
	o.mu.Lock()
	if o.turnSeq == seq {
		o.turnInFlight = false
		o.turnCancel = nil
		o.pendingDetectedTag = ""
	}
	o.mu.Unlock()
}

// turnToIdle finishes a successful turn. A barge-in that already pivoted the
// session back to listening wins.
func (o *Orchestrator) turnToIdle() {
	o.mu.Lock()
	if o.status != StatusThinking && o.status != StatusSpeaking {
		o.mu.Unlock()
		return
	}
	snap := o.setStatusLocked(StatusIdle)
	o.mu.Unlock()
	o.notifyState(snap)
	o.capture.Stop()
}

func (o *Orchestrator) fail(code string, retryable bool, err error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.errorMessage = err.Error()
	snap := o.setStatusLocked(StatusError)
	o.mu.Unlock()

	o.synth.Stop()
	o.capture.Stop()

	o.notifyState(snap)
	if o.hooks.OnError != nil {
		o.hooks.OnError(code, retryable, err)
	}
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("session_error").Inc()
	}
	o.logger.Warn("session entered error state", zap.String("code", code), zap.Error(err))
}
