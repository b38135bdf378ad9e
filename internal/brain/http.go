package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tbardin/parley/internal/reliability"
)

const httpMaxAttempts = 3

// HTTPAdapter forwards requests to a streaming inference endpoint. The
// endpoint may answer with SSE, NDJSON, or a single JSON body; deltas are
// forwarded as they arrive in all three cases.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string) *HTTPAdapter {
	return &HTTPAdapter{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (a *HTTPAdapter) StreamReply(ctx context.Context, req Request, onDelta DeltaHandler) (Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return Reply{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		reply, retryable, err := a.attempt(ctx, payload, onDelta)
		if err == nil {
			return reply, nil
		}
		if !retryable || ctx.Err() != nil {
			return Reply{}, err
		}
		lastErr = err
	}
	return Reply{}, lastErr
}

// attempt performs one request. Retryable is only true when no delta has
// been forwarded yet: once text reached the caller a retry would duplicate it.
func (a *HTTPAdapter) attempt(ctx context.Context, payload []byte, onDelta DeltaHandler) (Reply, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Reply{}, ctx.Err() == nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		retry := reliability.IsRetryableHTTPStatus(res.StatusCode)
		return Reply{}, retry, fmt.Errorf("brain http status %d: %s", res.StatusCode, string(body))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		reply, forwarded, err := a.consumeStreaming(res.Body, onDelta)
		if err != nil {
			return Reply{}, !forwarded, err
		}
		return reply, false, nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Reply{}, false, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Reply{}, false, nil
		}
		if onDelta != nil {
			if err := onDelta(text); err != nil {
				return Reply{}, false, err
			}
		}
		return Reply{Text: text}, false, nil
	}

	reply := Reply{Text: extractText(obj), NoSpeech: extractNoSpeech(obj)}
	if reply.Text != "" && onDelta != nil {
		if err := onDelta(reply.Text); err != nil {
			return Reply{}, false, err
		}
	}
	return reply, false, nil
}

func (a *HTTPAdapter) consumeStreaming(body io.Reader, onDelta DeltaHandler) (Reply, bool, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	var noSpeech bool
	forwarded := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
			if extractNoSpeech(obj) {
				noSpeech = true
			}
		}

		if delta == "" {
			continue
		}
		out.WriteString(delta)
		forwarded = true
		if onDelta != nil {
			// Handler errors are caller aborts, never retried.
			if err := onDelta(delta); err != nil {
				return Reply{}, forwarded, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Reply{}, forwarded, fmt.Errorf("stream read: %w", err)
	}

	return Reply{Text: out.String(), NoSpeech: noSpeech}, forwarded, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func extractNoSpeech(obj map[string]any) bool {
	if v, ok := obj["no_speech"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
