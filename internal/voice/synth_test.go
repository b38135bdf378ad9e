package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbardin/parley/internal/lang"
)

func testProfile() lang.Profile {
	return lang.Profile{
		Tag:              "en",
		RecognizerLocale: "en-US",
		SynthesisVoiceID: "en-primary",
		FallbackVoiceID:  "en-local",
	}
}

func TestSpeakResolvesOnPlaybackDone(t *testing.T) {
	synth := NewMockSynthesizer()
	c := NewSynthController(synth, nil, &CancelToken{}, time.Second, nil)

	if err := c.Speak(context.Background(), "Hello there.", testProfile()); err != nil {
		t.Fatalf("Speak error = %v", err)
	}
	spoken := synth.Spoken()
	if len(spoken) != 1 || spoken[0] != "Hello there." {
		t.Fatalf("spoken = %v", spoken)
	}
	if voices := synth.Voices(); voices[0] != "en-primary" {
		t.Fatalf("voice = %q, want primary voice", voices[0])
	}
}

func TestSpeakFallsBackToLocalEngine(t *testing.T) {
	primary := NewMockSynthesizer()
	primary.SpeakErr = errors.New("quota exceeded")
	local := NewMockSynthesizer()
	c := NewSynthController(primary, local, &CancelToken{}, time.Second, nil)

	if err := c.Speak(context.Background(), "Hello there.", testProfile()); err != nil {
		t.Fatalf("Speak error = %v", err)
	}
	if len(local.Spoken()) != 1 {
		t.Fatalf("local spoken = %v, want the fallback to speak", local.Spoken())
	}
	if voices := local.Voices(); voices[0] != "en-local" {
		t.Fatalf("fallback voice = %q, want substitute voice", voices[0])
	}
}

func TestSpeakTotalFailureIsSilent(t *testing.T) {
	primary := NewMockSynthesizer()
	primary.SpeakErr = errors.New("quota exceeded")
	local := NewMockSynthesizer()
	local.SpeakErr = errors.New("device busy")
	c := NewSynthController(primary, local, &CancelToken{}, time.Second, nil)

	if err := c.Speak(context.Background(), "Hello there.", testProfile()); err != nil {
		t.Fatalf("Speak error = %v, want nil on total failure", err)
	}
}

func TestSpeakAbortsWhenTokenAlreadySet(t *testing.T) {
	synth := NewMockSynthesizer()
	token := &CancelToken{}
	token.Set()
	c := NewSynthController(synth, nil, token, time.Second, nil)

	err := c.Speak(context.Background(), "Hello there.", testProfile())
	if !errors.Is(err, ErrSpeechAborted) {
		t.Fatalf("Speak error = %v, want ErrSpeechAborted", err)
	}
	if len(synth.Spoken()) != 0 {
		t.Fatal("audio started despite pre-set cancellation token")
	}
}

func TestStopAbortsInFlightPlayback(t *testing.T) {
	synth := NewMockSynthesizer()
	synth.Hold = true
	token := &CancelToken{}
	c := NewSynthController(synth, nil, token, 5*time.Second, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Speak(context.Background(), "Long running reply.", testProfile())
	}()

	waitFor(t, "playback start", func() bool { return synth.Active() != nil })
	token.Set()
	c.Stop()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrSpeechAborted) {
			t.Fatalf("Speak error = %v, want ErrSpeechAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not resolve after Stop")
	}
	if !synth.Active().Stopped() {
		t.Fatal("playback was not stopped")
	}
}

func TestSpeakHardTimeoutForcesStop(t *testing.T) {
	synth := NewMockSynthesizer()
	synth.Hold = true
	c := NewSynthController(synth, nil, &CancelToken{}, 50*time.Millisecond, nil)

	start := time.Now()
	if err := c.Speak(context.Background(), "Backend never completes.", testProfile()); err != nil {
		t.Fatalf("Speak error = %v, want nil after silent timeout handling", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Speak hung past the hard timeout")
	}
	if !synth.Active().Stopped() {
		t.Fatal("playback not force-stopped on timeout")
	}
}

func TestSpeakHonorsContextCancel(t *testing.T) {
	synth := NewMockSynthesizer()
	synth.Hold = true
	c := NewSynthController(synth, nil, &CancelToken{}, 5*time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Speak(ctx, "Interrupted reply.", testProfile())
	}()

	waitFor(t, "playback start", func() bool { return synth.Active() != nil })
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Speak error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not resolve after context cancel")
	}
}
