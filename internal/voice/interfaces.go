package voice

import (
	"context"
	"errors"
)

// RecognizerEvent is one partial or final transcript from the streaming
// recognizer. Err is set on stream-level failures; the channel closes after
// a terminal event.
type RecognizerEvent struct {
	Transcript string
	Final      bool
	Confidence float64
	Err        error
}

// Recognizer is the primary on-device speech-to-text engine. Start returns
// an event channel that stays open until Stop is called or the recognizer
// fails terminally.
type Recognizer interface {
	Start(ctx context.Context, locale string, interim bool) (<-chan RecognizerEvent, error)
	Stop() error
}

var (
	// ErrPermissionDenied means microphone access was refused. Fails the
	// listening attempt closed; there is no fallback for missing consent.
	ErrPermissionDenied = errors.New("voice: microphone permission denied")

	// ErrRecognizerUnavailable means the primary engine cannot start. The
	// capture controller falls back to buffered recording plus server-side
	// transcription.
	ErrRecognizerUnavailable = errors.New("voice: recognizer unavailable")
)

type PlaybackEventType string

const (
	PlaybackStarted PlaybackEventType = "started"
	PlaybackDone    PlaybackEventType = "done"
	PlaybackError   PlaybackEventType = "error"
)

type PlaybackEvent struct {
	Type PlaybackEventType
	Err  error
}

// Playback is one in-flight synthesized utterance. Stop aborts it; the
// events channel closes after done or error.
type Playback interface {
	Events() <-chan PlaybackEvent
	Stop()
}

// Synthesizer turns one speakable unit into audible playback.
type Synthesizer interface {
	Speak(ctx context.Context, text, voiceID string) (Playback, error)
}

// Recorder captures raw PCM16LE mono audio for the fallback transcription
// path. Stop returns everything recorded since Start.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() ([]byte, error)
	SampleRate() int
}
