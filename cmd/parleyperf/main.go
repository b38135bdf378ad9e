package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL        string
	userID         string
	languageTag    string
	turns          int
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

type createSessionRequest struct {
	UserID      string `json:"user_id,omitempty"`
	LanguageTag string `json:"language_tag,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type wsEnvelope struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Code      string `json:"code"`
	Detail    string `json:"detail"`
	Text      string `json:"text"`
	TextDelta string `json:"text_delta"`
	TurnID    string `json:"turn_id"`
}

type turnResult struct {
	firstDelta time.Duration
	completed  time.Duration
}

var defaultUtterances = []string{
	"Reply in three words: latency bottleneck?",
	"Reply in three words: next optimization?",
	"Reply in three words: architecture summary?",
	"Reply in three words: top risk?",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parleyperf: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parleyperf: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "parley base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	flag.StringVar(&cfg.languageTag, "language", "", "optional language tag for the session")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&startDelayMS, "start-delay-ms", 300, "delay before first synthetic turn in milliseconds")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for reply_completed per turn in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	if cfg.verbose {
		fmt.Printf("parleyperf: session=%s turns=%d\n", sessionID, cfg.turns)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, events, readErrCh)

	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	var results []turnResult
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("parleyperf: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}
		res, err := runTurn(conn, events, readErrCh, sessionID, text, cfg.turnTimeout)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, res)
		if cfg.verbose {
			fmt.Printf("parleyperf:   first_delta=%s completed=%s\n", res.firstDelta, res.completed)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(results)
	return nil
}

func runTurn(conn *websocket.Conn, events <-chan wsEnvelope, readErrCh <-chan error, sessionID, text string, timeout time.Duration) (turnResult, error) {
	if err := writeControl(conn, sessionID, "start_listening"); err != nil {
		return turnResult{}, fmt.Errorf("start_listening: %w", err)
	}
	if err := awaitState(events, readErrCh, "listening", timeout); err != nil {
		return turnResult{}, err
	}

	start := time.Now()
	speech := map[string]any{"type": "client_speech", "session_id": sessionID, "text": text, "final": true}
	if err := conn.WriteJSON(speech); err != nil {
		return turnResult{}, fmt.Errorf("send client_speech: %w", err)
	}

	var res turnResult
	deadline := time.After(timeout)
	for {
		select {
		case err := <-readErrCh:
			return turnResult{}, fmt.Errorf("ws read: %w", err)
		case <-deadline:
			return turnResult{}, fmt.Errorf("no reply_completed within %s", timeout)
		case evt := <-events:
			switch evt.Type {
			case "reply_delta":
				if res.firstDelta == 0 {
					res.firstDelta = time.Since(start)
				}
			case "reply_completed":
				res.completed = time.Since(start)
				return res, nil
			case "error_event":
				return turnResult{}, fmt.Errorf("error_event code=%s detail=%s", evt.Code, evt.Detail)
			}
		}
	}
}

func awaitState(events <-chan wsEnvelope, readErrCh <-chan error, state string, timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		case <-deadline:
			return fmt.Errorf("no %q state within %s", state, timeout)
		case evt := <-events:
			if evt.Type == "state_event" && evt.State == state {
				return nil
			}
			if evt.Type == "error_event" {
				return fmt.Errorf("error_event code=%s detail=%s", evt.Code, evt.Detail)
			}
		}
	}
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		var evt wsEnvelope
		if err := conn.ReadJSON(&evt); err != nil {
			readErrCh <- err
			return
		}
		select {
		case events <- evt:
		default:
			// Replay pace is bounded by awaits; a full queue means the
			// consumer gave up on this turn already.
		}
	}
}

func printSummary(results []turnResult) {
	if len(results) == 0 {
		return
	}
	firsts := make([]time.Duration, 0, len(results))
	totals := make([]time.Duration, 0, len(results))
	for _, r := range results {
		if r.firstDelta > 0 {
			firsts = append(firsts, r.firstDelta)
		}
		totals = append(totals, r.completed)
	}
	fmt.Printf("parleyperf: turns=%d\n", len(results))
	if len(firsts) > 0 {
		fmt.Printf("parleyperf: first_delta   p50=%s p95=%s max=%s\n", percentile(firsts, 50), percentile(firsts, 95), percentile(firsts, 100))
	}
	fmt.Printf("parleyperf: completed     p50=%s p95=%s max=%s\n", percentile(totals, 50), percentile(totals, 95), percentile(totals, 100))
}

func percentile(values []time.Duration, p int) time.Duration {
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

func writeControl(conn *websocket.Conn, sessionID, action string) error {
	return conn.WriteJSON(map[string]any{"type": "client_control", "session_id": sessionID, "action": action})
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID, LanguageTag: cfg.languageTag})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createSessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/sessions/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
