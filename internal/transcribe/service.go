package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tbardin/parley/internal/reliability"
)

// Request carries captured speech audio for server-side transcription.
// Audio is WAV-encoded PCM16LE.
type Request struct {
	Audio  []byte
	Locale string
}

// Result is the transcription outcome. DetectedLanguage is a BCP 47 tag and
// may be empty when the backend does not report one.
type Result struct {
	Transcript       string `json:"transcript"`
	DetectedLanguage string `json:"detected_language,omitempty"`
}

// Service turns captured audio into text when the streaming recognizer did
// not produce a final transcript of its own.
type Service interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// ErrEmptyAudio is returned for requests with no captured samples.
var ErrEmptyAudio = errors.New("transcribe: empty audio")

const httpMaxAttempts = 2

// HTTPService posts captured WAV audio to a transcription endpoint.
type HTTPService struct {
	url    string
	client *http.Client
}

func NewHTTPService(url string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPService{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPService) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Audio) == 0 {
		return Result{}, ErrEmptyAudio
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt, 150*time.Millisecond, time.Second)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, retryable, err := s.attempt(ctx, req)
		if err == nil {
			return result, nil
		}
		if !retryable || ctx.Err() != nil {
			return Result{}, err
		}
		lastErr = err
	}
	return Result{}, lastErr
}

func (s *HTTPService) attempt(ctx context.Context, req Request) (Result, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(req.Audio))
	if err != nil {
		return Result{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "audio/wav")
	if locale := strings.TrimSpace(req.Locale); locale != "" {
		httpReq.Header.Set("Accept-Language", locale)
	}

	res, err := s.client.Do(httpReq)
	if err != nil {
		return Result{}, ctx.Err() == nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		retry := reliability.IsRetryableHTTPStatus(res.StatusCode)
		return Result{}, retry, fmt.Errorf("transcribe http status %d: %s", res.StatusCode, string(body))
	}

	var result Result
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return Result{}, false, fmt.Errorf("decode response: %w", err)
	}
	result.Transcript = strings.TrimSpace(result.Transcript)
	return result, false, nil
}

// MockService returns a scripted transcript; used when no transcription
// backend is configured and in tests.
type MockService struct {
	Transcript string
	Language   string
	Err        error
}

func (s *MockService) Transcribe(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}
	if s.Err != nil {
		return Result{}, s.Err
	}
	if len(req.Audio) == 0 {
		return Result{}, ErrEmptyAudio
	}
	return Result{Transcript: s.Transcript, DetectedLanguage: s.Language}, nil
}
