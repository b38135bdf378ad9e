package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbardin/parley/internal/brain"
	"github.com/tbardin/parley/internal/config"
	"github.com/tbardin/parley/internal/lang"
	"github.com/tbardin/parley/internal/observability"
	"github.com/tbardin/parley/internal/replycache"
	"github.com/tbardin/parley/internal/session"
	"github.com/tbardin/parley/internal/transcribe"
	"github.com/tbardin/parley/internal/voice"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	resolver := lang.NewResolver("en")
	metrics := observability.NewMetrics(fmt.Sprintf("parley_test_httpapi_%d", time.Now().UnixNano()))
	factory := func(sessionID string, hooks voice.Hooks) *voice.Orchestrator {
		return voice.NewOrchestrator(sessionID, voice.Backends{
			Recognizer:  voice.NewMockRecognizer(),
			Recorder:    voice.NewMockRecorder(nil),
			Transcriber: &transcribe.MockService{},
			Synthesizer: voice.NewMockSynthesizer(),
			Brain:       brain.NewMockAdapter(),
			Cache:       replycache.NewMemoryStore(0),
			Resolver:    resolver,
		}, voice.Options{SilenceDebounce: 20 * time.Millisecond}, hooks, nil, nil)
	}
	sessions := session.NewManager(factory, 2*time.Minute, nil, nil)
	srv := New(config.Config{}, sessions, resolver, metrics, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(sessions.CloseAll)
	return ts, sessions
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	res, err := http.Post(ts.URL+"/v1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return sessionID
}

func TestCreateAndEndSession(t *testing.T) {
	ts, _ := newTestServer(t)
	sessionID := createSession(t, ts)

	endRes, err := http.Post(ts.URL+"/v1/sessions/"+sessionID+"/end", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	var ended session.Session
	if err := json.NewDecoder(endRes.Body).Decode(&ended); err != nil {
		t.Fatalf("decode end response: %v", err)
	}
	if ended.Status != session.StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, session.StatusEnded)
	}
}

func TestEndUnknownSessionReturnsNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	res, err := http.Post(ts.URL+"/v1/sessions/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestListLanguages(t *testing.T) {
	ts, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/languages")
	if err != nil {
		t.Fatalf("GET /v1/languages error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload struct {
		Default   string   `json:"default"`
		Languages []string `json:"languages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Default != "en" {
		t.Fatalf("default = %q, want en", payload.Default)
	}
	if len(payload.Languages) == 0 {
		t.Fatalf("languages list is empty")
	}
}

func TestPerfLatencyEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/perf/latency")
	if err != nil {
		t.Fatalf("GET /v1/perf/latency error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := payload["stages"]; !ok {
		t.Fatalf("missing stages in response: %+v", payload)
	}
}

func TestWebsocketRejectsUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=nope"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded for unknown session")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", res)
	}
}

func dialWS(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads outbound messages until one matches the wanted type.
func readUntil(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for time.Now().Before(deadline) {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: read error = %v", wantType, err)
		}
		if msg["type"] == wantType {
			return msg
		}
	}
	t.Fatalf("no %q message before deadline", wantType)
	return nil
}

func TestWebsocketConversationRoundTrip(t *testing.T) {
	ts, _ := newTestServer(t)
	sessionID := createSession(t, ts)
	conn := dialWS(t, ts, sessionID)

	state := readUntil(t, conn, "state_event")
	if state["state"] != "idle" {
		t.Fatalf("initial state = %v, want idle", state["state"])
	}

	start := map[string]any{"type": "client_control", "session_id": sessionID, "action": "start_listening"}
	if err := conn.WriteJSON(start); err != nil {
		t.Fatalf("write start_listening error = %v", err)
	}
	state = readUntil(t, conn, "state_event")
	if state["state"] != "listening" {
		t.Fatalf("state after start = %v, want listening", state["state"])
	}

	speech := map[string]any{"type": "client_speech", "session_id": sessionID, "text": "what is two plus two", "final": false}
	if err := conn.WriteJSON(speech); err != nil {
		t.Fatalf("write client_speech error = %v", err)
	}

	final := readUntil(t, conn, "transcript_final")
	if final["text"] != "what is two plus two" {
		t.Fatalf("final transcript = %v", final["text"])
	}
	completed := readUntil(t, conn, "reply_completed")
	text, _ := completed["text"].(string)
	if !strings.Contains(text, "what is two plus two") {
		t.Fatalf("completed reply = %q, want echo of the utterance", text)
	}
}

func TestWebsocketReconnectKeepsEventDelivery(t *testing.T) {
	ts, _ := newTestServer(t)
	sessionID := createSession(t, ts)

	first := dialWS(t, ts, sessionID)
	readUntil(t, first, "state_event")

	// A reconnect replaces the attached channel before the old connection
	// tears down; the stale teardown must not silence the new connection.
	second := dialWS(t, ts, sessionID)
	readUntil(t, second, "state_event")

	first.Close()
	time.Sleep(50 * time.Millisecond)

	start := map[string]any{"type": "client_control", "session_id": sessionID, "action": "start_listening"}
	if err := second.WriteJSON(start); err != nil {
		t.Fatalf("write start_listening error = %v", err)
	}
	state := readUntil(t, second, "state_event")
	if state["state"] != "listening" {
		t.Fatalf("state after reconnect = %v, want listening", state["state"])
	}
}

func TestWebsocketInvalidMessageYieldsErrorEvent(t *testing.T) {
	ts, _ := newTestServer(t)
	sessionID := createSession(t, ts)
	conn := dialWS(t, ts, sessionID)
	readUntil(t, conn, "state_event")

	if err := conn.WriteJSON(map[string]any{"type": "wat"}); err != nil {
		t.Fatalf("write error = %v", err)
	}
	errEvent := readUntil(t, conn, "error_event")
	if errEvent["code"] != "invalid_client_message" {
		t.Fatalf("error code = %v, want invalid_client_message", errEvent["code"])
	}
}

func TestWebsocketSetLanguage(t *testing.T) {
	ts, _ := newTestServer(t)
	sessionID := createSession(t, ts)
	conn := dialWS(t, ts, sessionID)
	readUntil(t, conn, "state_event")

	msg := map[string]any{"type": "client_control", "session_id": sessionID, "action": "set_language", "language_tag": "es"}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write set_language error = %v", err)
	}
	state := readUntil(t, conn, "state_event")
	if state["language_tag"] != "es" {
		t.Fatalf("language_tag = %v, want es", state["language_tag"])
	}
}
