package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSynthesizer speaks through a speaker daemon that plays audio on the
// device. POST /speak blocks until playback finishes, so the request
// lifetime is the playback lifetime and Stop cancels it mid-utterance.
type HTTPSynthesizer struct {
	url    string
	client *http.Client
}

func NewHTTPSynthesizer(url string, timeout time.Duration) *HTTPSynthesizer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPSynthesizer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type speakRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

func (s *HTTPSynthesizer) Speak(ctx context.Context, text, voiceID string) (Playback, error) {
	body, err := json.Marshal(speakRequest{Text: text, VoiceID: voiceID})
	if err != nil {
		return nil, fmt.Errorf("voice: encode speak request: %w", err)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	p := &httpPlayback{events: make(chan PlaybackEvent, 2), cancel: cancel}
	go func() {
		defer close(p.events)
		p.events <- PlaybackEvent{Type: PlaybackStarted}
		resp, err := s.client.Do(req)
		if err != nil {
			// A canceled request means Stop aborted playback; the closed
			// channel tells the controller, no error event needed.
			if reqCtx.Err() != nil {
				return
			}
			p.events <- PlaybackEvent{Type: PlaybackError, Err: err}
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			p.events <- PlaybackEvent{Type: PlaybackError, Err: fmt.Errorf("voice: speaker daemon status %d", resp.StatusCode)}
			return
		}
		p.events <- PlaybackEvent{Type: PlaybackDone}
	}()
	return p, nil
}

type httpPlayback struct {
	events chan PlaybackEvent
	cancel context.CancelFunc
}

func (p *httpPlayback) Events() <-chan PlaybackEvent { return p.events }

func (p *httpPlayback) Stop() { p.cancel() }
