package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tbardin/parley/internal/lang"
)

// ErrSpeechAborted reports that playback was halted by the cancellation
// token rather than finishing audibly.
var ErrSpeechAborted = errors.New("voice: speech aborted")

var errSpeakTimeout = errors.New("voice: synthesis timed out")

// SynthController owns playback of one speakable unit at a time. The
// primary backend is tried first; on failure the local device engine speaks
// the profile's substitute voice. Total failure is silent: the reply text
// stays visible even when it could not be spoken.
type SynthController struct {
	primary Synthesizer
	local   Synthesizer
	token   *CancelToken
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	current Playback
}

func NewSynthController(primary, local Synthesizer, token *CancelToken, timeout time.Duration, logger *zap.Logger) *SynthController {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SynthController{
		primary: primary,
		local:   local,
		token:   token,
		timeout: timeout,
		logger:  logger,
	}
}

// Speak resolves only when playback audibly finished or was aborted. It is
// never invoked concurrently; the orchestrator serializes units.
func (c *SynthController) Speak(ctx context.Context, text string, profile lang.Profile) error {
	if c.token != nil && c.token.Canceled() {
		return ErrSpeechAborted
	}

	err := c.play(ctx, c.primary, text, profile.SynthesisVoiceID)
	if err == nil || errors.Is(err, ErrSpeechAborted) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	c.logger.Warn("primary synthesis failed, using local engine", zap.Error(err))
	if c.local == nil {
		return nil
	}
	if c.token != nil && c.token.Canceled() {
		return ErrSpeechAborted
	}

	err = c.play(ctx, c.local, text, profile.FallbackVoiceID)
	if err == nil || errors.Is(err, ErrSpeechAborted) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.logger.Warn("local synthesis failed, reply stays text-only", zap.Error(err))
	return nil
}

// Stop aborts the in-flight playback, if any. Returning from Stop confirms
// the abort: no further audio from the current unit will be heard.
func (c *SynthController) Stop() {
	c.mu.Lock()
	playback := c.current
	c.current = nil
	c.mu.Unlock()

	if playback != nil {
		playback.Stop()
	}
}

func (c *SynthController) play(ctx context.Context, synth Synthesizer, text, voiceID string) error {
	if synth == nil {
		return errors.New("voice: synthesizer not configured")
	}
	playback, err := synth.Speak(ctx, text, voiceID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = playback
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.current == playback {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	// Post-start check: a barge-in may have landed between dispatch and the
	// backend accepting the utterance.
	if c.token != nil && c.token.Canceled() {
		playback.Stop()
		return ErrSpeechAborted
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			playback.Stop()
			return ctx.Err()
		case <-timer.C:
			playback.Stop()
			return errSpeakTimeout
		case evt, ok := <-playback.Events():
			if !ok {
				if c.token != nil && c.token.Canceled() {
					return ErrSpeechAborted
				}
				return nil
			}
			switch evt.Type {
			case PlaybackStarted:
				if c.token != nil && c.token.Canceled() {
					playback.Stop()
					return ErrSpeechAborted
				}
			case PlaybackDone:
				return nil
			case PlaybackError:
				if evt.Err != nil {
					return evt.Err
				}
				return errors.New("voice: playback failed")
			}
		}
	}
}
