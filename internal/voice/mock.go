package voice

import (
	"context"
	"sync"
)

// MockRecognizer is a scriptable recognizer used in dev mode and tests.
// Events are injected with EmitPartial and EmitFinal.
type MockRecognizer struct {
	StartErr error

	mu      sync.Mutex
	events  chan RecognizerEvent
	started bool
	starts  int
	stops   int
}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

func (r *MockRecognizer) Start(_ context.Context, _ string, _ bool) (<-chan RecognizerEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	r.events = make(chan RecognizerEvent, 64)
	r.started = true
	r.starts++
	return r.events, nil
}

func (r *MockRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false
	r.stops++
	close(r.events)
	r.events = nil
	return nil
}

func (r *MockRecognizer) EmitPartial(text string) {
	r.emit(RecognizerEvent{Transcript: text, Confidence: 0.5})
}

func (r *MockRecognizer) EmitFinal(text string) {
	r.emit(RecognizerEvent{Transcript: text, Final: true, Confidence: 0.8})
}

func (r *MockRecognizer) EmitError(err error) {
	r.emit(RecognizerEvent{Err: err})
}

func (r *MockRecognizer) emit(evt RecognizerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.events <- evt
}

func (r *MockRecognizer) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// MockSynthesizer records spoken units. With Hold set, playback stays open
// until Stop so interruption paths can be exercised.
type MockSynthesizer struct {
	SpeakErr error
	Hold     bool

	mu     sync.Mutex
	spoken []string
	voices []string
	active *MockPlayback
}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (s *MockSynthesizer) Speak(_ context.Context, text, voiceID string) (Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SpeakErr != nil {
		return nil, s.SpeakErr
	}
	s.spoken = append(s.spoken, text)
	s.voices = append(s.voices, voiceID)

	p := newMockPlayback()
	p.events <- PlaybackEvent{Type: PlaybackStarted}
	if !s.Hold {
		p.events <- PlaybackEvent{Type: PlaybackDone}
		p.close()
	}
	s.active = p
	return p, nil
}

// Spoken returns every unit handed to the synthesizer, in order.
func (s *MockSynthesizer) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *MockSynthesizer) Voices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.voices...)
}

func (s *MockSynthesizer) Active() *MockPlayback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type MockPlayback struct {
	events chan PlaybackEvent

	mu      sync.Mutex
	closed  bool
	stopped bool
}

func newMockPlayback() *MockPlayback {
	return &MockPlayback{events: make(chan PlaybackEvent, 8)}
}

func (p *MockPlayback) Events() <-chan PlaybackEvent { return p.events }

func (p *MockPlayback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.close()
}

func (p *MockPlayback) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Finish completes playback normally, as the audio device would.
func (p *MockPlayback) Finish() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.events <- PlaybackEvent{Type: PlaybackDone}
	p.mu.Unlock()
	p.close()
}

func (p *MockPlayback) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.events)
}

// MockRecorder returns canned PCM16 samples for the fallback capture path.
type MockRecorder struct {
	StartErr error
	StopErr  error
	Samples  []byte
	Rate     int

	mu      sync.Mutex
	started bool
	stops   int
}

func NewMockRecorder(samples []byte) *MockRecorder {
	return &MockRecorder{Samples: samples}
}

func (r *MockRecorder) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	r.started = true
	return nil
}

func (r *MockRecorder) Stop() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	r.stops++
	if r.StopErr != nil {
		return nil, r.StopErr
	}
	return r.Samples, nil
}

func (r *MockRecorder) SampleRate() int {
	if r.Rate > 0 {
		return r.Rate
	}
	return 16000
}
