package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tbardin/parley/internal/audio"
	"github.com/tbardin/parley/internal/transcribe"
)

// CaptureCallbacks deliver transcripts to the orchestrator. Both recognizer
// paths use the same OnFinal shape, so the caller never learns which one
// produced the text.
type CaptureCallbacks struct {
	OnPartial func(text string)
	OnFinal   func(text, detectedLanguage string)
	OnError   func(err error)
}

// CaptureController owns the listening lifecycle: the primary streaming
// recognizer with silence-debounce finalization, and a buffered-recording
// fallback that uploads captured audio for server-side transcription when
// the primary engine cannot start.
type CaptureController struct {
	recognizer        Recognizer
	recorder          Recorder
	transcriber       transcribe.Service
	token             *CancelToken
	debounce          time.Duration
	transcribeTimeout time.Duration
	logger            *zap.Logger

	mu          sync.Mutex
	gen         int
	active      bool
	fallback    bool
	locale      string
	ctx         context.Context
	cb          CaptureCallbacks
	lastPartial string
	silence     *time.Timer
	audioPath   string
}

func NewCaptureController(
	recognizer Recognizer,
	recorder Recorder,
	transcriber transcribe.Service,
	token *CancelToken,
	debounce time.Duration,
	transcribeTimeout time.Duration,
	logger *zap.Logger,
) *CaptureController {
	if debounce <= 0 {
		debounce = 475 * time.Millisecond
	}
	if transcribeTimeout <= 0 {
		transcribeTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptureController{
		recognizer:        recognizer,
		recorder:          recorder,
		transcriber:       transcriber,
		token:             token,
		debounce:          debounce,
		transcribeTimeout: transcribeTimeout,
		logger:            logger,
	}
}

// Start begins a listening cycle. Permission denial fails closed; any other
// primary-recognizer start failure switches to the buffered fallback path.
func (c *CaptureController) Start(ctx context.Context, locale string, cb CaptureCallbacks) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return errors.New("voice: capture already active")
	}
	c.gen++
	gen := c.gen
	c.active = true
	c.fallback = false
	c.locale = locale
	c.ctx = ctx
	c.cb = cb
	c.lastPartial = ""
	c.audioPath = ""
	c.mu.Unlock()

	events, err := c.recognizer.Start(ctx, locale, true)
	if err == nil {
		go c.pumpRecognizer(gen, events)
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) {
		c.deactivate(gen)
		return err
	}

	c.logger.Warn("primary recognizer unavailable, using buffered fallback", zap.Error(err))
	if fbErr := c.startFallback(ctx, gen); fbErr != nil {
		c.deactivate(gen)
		return fmt.Errorf("fallback capture start: %w", fbErr)
	}
	return nil
}

func (c *CaptureController) deactivate(gen int) {
	c.mu.Lock()
	if gen == c.gen && c.active {
		c.gen++
		c.active = false
	}
	c.mu.Unlock()
}

func (c *CaptureController) startFallback(ctx context.Context, gen int) error {
	f, err := os.CreateTemp("", "parley-capture-*.wav")
	if err != nil {
		return err
	}
	path := f.Name()
	_ = f.Close()

	if err := c.recorder.Start(ctx); err != nil {
		_ = os.Remove(path)
		return err
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_, _ = c.recorder.Stop()
		_ = os.Remove(path)
		return errors.New("voice: capture stopped during fallback start")
	}
	c.fallback = true
	c.audioPath = path
	c.mu.Unlock()
	return nil
}

// Stop tears down whichever path is active. On the fallback path it first
// finalizes: the buffered audio is transcribed and delivered through
// OnFinal, unless the cancellation token is set. The temp audio artifact is
// removed on every path.
func (c *CaptureController) Stop() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	fallback := c.fallback
	locale := c.locale
	ctx := c.ctx
	cb := c.cb
	c.teardownLocked()
	c.mu.Unlock()

	if fallback {
		c.finishFallback(ctx, locale, cb)
	}
}

// Inject feeds recognizer output produced outside the controller, for
// clients that run speech recognition on-device. Partials arm the silence
// debounce exactly like primary-recognizer hypotheses. Ignored while the
// buffered fallback is recording; that cycle finalizes on Stop.
func (c *CaptureController) Inject(text string, final bool) {
	c.mu.Lock()
	if !c.active || c.fallback {
		c.mu.Unlock()
		return
	}
	gen := c.gen
	c.mu.Unlock()

	if final {
		c.finalize(gen, text, "")
		return
	}
	c.partial(gen, text)
}

// Active reports whether a listening cycle is in progress.
func (c *CaptureController) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *CaptureController) pumpRecognizer(gen int, events <-chan RecognizerEvent) {
	for evt := range events {
		if evt.Err != nil {
			c.streamError(gen, evt.Err)
			return
		}
		if evt.Final {
			c.finalize(gen, evt.Transcript, "")
			return
		}
		c.partial(gen, evt.Transcript)
	}
}

func (c *CaptureController) partial(gen int, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	c.mu.Lock()
	if !c.active || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.lastPartial = text
	if c.silence != nil {
		c.silence.Stop()
	}
	c.silence = time.AfterFunc(c.debounce, func() { c.silenceFired(gen) })
	cb := c.cb
	c.mu.Unlock()

	if cb.OnPartial != nil {
		cb.OnPartial(text)
	}
}

// silenceFired promotes the last partial to a final transcript once no new
// partial has arrived within the debounce window.
func (c *CaptureController) silenceFired(gen int) {
	c.mu.Lock()
	if !c.active || gen != c.gen {
		c.mu.Unlock()
		return
	}
	text := c.lastPartial
	c.mu.Unlock()

	c.finalize(gen, text, "")
}

func (c *CaptureController) finalize(gen int, text, detected string) {
	c.mu.Lock()
	if !c.active || gen != c.gen {
		c.mu.Unlock()
		return
	}
	cb := c.cb
	c.teardownLocked()
	c.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.token != nil && c.token.Canceled() {
		c.logger.Debug("final transcript dropped, cancellation token set")
		return
	}
	if cb.OnFinal != nil {
		cb.OnFinal(text, detected)
	}
}

func (c *CaptureController) streamError(gen int, err error) {
	c.mu.Lock()
	if !c.active || gen != c.gen {
		c.mu.Unlock()
		return
	}
	cb := c.cb
	c.teardownLocked()
	c.mu.Unlock()

	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// teardownLocked stops the silence timer and the primary recognizer and
// invalidates the generation so stale timers and events become no-ops. The
// fallback recorder is left running; finishFallback drains it.
func (c *CaptureController) teardownLocked() {
	c.gen++
	c.active = false
	if c.silence != nil {
		c.silence.Stop()
		c.silence = nil
	}
	c.lastPartial = ""
	if !c.fallback {
		_ = c.recognizer.Stop()
	}
	c.fallback = false
}

// finishFallback drains the recorder, writes the temp WAV artifact, uploads
// it for transcription, and delivers the result through OnFinal. The
// artifact is deleted on every path, including errors and cancellation.
func (c *CaptureController) finishFallback(ctx context.Context, locale string, cb CaptureCallbacks) {
	c.mu.Lock()
	path := c.audioPath
	c.audioPath = ""
	c.mu.Unlock()
	if path != "" {
		defer func() { _ = os.Remove(path) }()
	}

	pcm, err := c.recorder.Stop()
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(fmt.Errorf("fallback recording: %w", err))
		}
		return
	}
	if c.token != nil && c.token.Canceled() {
		c.logger.Debug("fallback transcription skipped, cancellation token set")
		return
	}
	if len(pcm) == 0 {
		return
	}

	rate := c.recorder.SampleRate()
	if path != "" {
		if err := audio.WriteWAVPCM16LEFile(path, pcm, rate); err != nil {
			c.logger.Warn("write capture artifact failed", zap.Error(err))
		}
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, rate)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(fmt.Errorf("encode capture audio: %w", err))
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	tctx, cancel := context.WithTimeout(ctx, c.transcribeTimeout)
	defer cancel()
	result, err := c.transcriber.Transcribe(tctx, transcribe.Request{Audio: wav, Locale: locale})
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(fmt.Errorf("fallback transcription: %w", err))
		}
		return
	}
	if c.token != nil && c.token.Canceled() {
		c.logger.Debug("fallback transcript dropped, cancellation token set")
		return
	}
	if strings.TrimSpace(result.Transcript) == "" {
		return
	}
	if cb.OnFinal != nil {
		cb.OnFinal(result.Transcript, result.DetectedLanguage)
	}
}
