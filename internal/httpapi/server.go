package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tbardin/parley/internal/config"
	"github.com/tbardin/parley/internal/lang"
	"github.com/tbardin/parley/internal/observability"
	"github.com/tbardin/parley/internal/protocol"
	"github.com/tbardin/parley/internal/session"
	"github.com/tbardin/parley/internal/voice"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	resolver *lang.Resolver
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	bridges map[string]*eventBridge
}

func New(cfg config.Config, sessions *session.Manager, resolver *lang.Resolver, metrics *observability.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		resolver: resolver,
		metrics:  metrics,
		logger:   logger,
		bridges:  make(map[string]*eventBridge),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another website cannot drive the user's mic
				// session if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Get("/v1/sessions/ws", s.handleSessionWS)
	r.Get("/v1/languages", s.handleListLanguages)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	bridge := &eventBridge{}
	sess := s.sessions.Create(req.UserID, strings.TrimSpace(req.LanguageTag), s.sessionHooks(bridge))
	bridge.bind(sess.ID)

	s.mu.Lock()
	s.bridges[sess.ID] = bridge
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}
	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		LanguageTag:     sess.LanguageTag,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	s.mu.Lock()
	delete(s.bridges, id)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListLanguages(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"default":   s.resolver.Default().Tag,
		"languages": s.resolver.Tags(),
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	orch, err := s.sessions.Orchestrator(sessionID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.mu.Lock()
	bridge := s.bridges[sessionID]
	s.mu.Unlock()
	if bridge == nil {
		respondError(w, http.StatusNotFound, "session_not_found", "session has no event bridge")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	bridge.attach(outbound)
	defer bridge.detach(outbound)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if s.metrics != nil {
					if t, ok := messageTypeOf(msg); ok {
						s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
					}
				}
			}
		}
	}()

	// The session may have been created before this connection; replay the
	// current state so the client never starts blind.
	snap := orch.Snapshot()
	bridge.send(protocol.StateEvent{
		Type:        protocol.TypeStateEvent,
		SessionID:   sessionID,
		State:       string(snap.Status),
		LanguageTag: snap.Language.Tag,
	})

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			bridge.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		if s.metrics != nil {
			if t, ok := messageTypeOf(parsed); ok {
				s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
			}
		}
		_ = s.sessions.Touch(sessionID)
		s.dispatchClientMessage(orch, bridge, sessionID, parsed)
	}

	cancel()
	<-writerDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
}

func (s *Server) dispatchClientMessage(orch *voice.Orchestrator, bridge *eventBridge, sessionID string, parsed any) {
	switch msg := parsed.(type) {
	case protocol.ClientControl:
		switch msg.Action {
		case protocol.ActionStartListening:
			if err := orch.StartListening(); err != nil {
				bridge.send(protocol.ErrorEvent{
					Type:      protocol.TypeErrorEvent,
					SessionID: sessionID,
					Code:      "cannot_start_listening",
					Source:    "session",
					Retryable: true,
					Detail:    err.Error(),
				})
			}
		case protocol.ActionStopListening:
			orch.StopListening()
		case protocol.ActionCancelAll:
			orch.CancelAll()
		case protocol.ActionSetLanguage:
			orch.SetLanguage(msg.LanguageTag)
		}
	case protocol.ClientSpeech:
		orch.InjectSpeech(msg.Text, msg.Final)
	}
}

// sessionHooks adapts orchestrator callbacks into websocket payloads. Every
// hook goes through the bridge, which drops events while no client is
// connected.
func (s *Server) sessionHooks(bridge *eventBridge) voice.Hooks {
	return voice.Hooks{
		OnState: func(snap voice.Snapshot) {
			bridge.send(protocol.StateEvent{
				Type:        protocol.TypeStateEvent,
				SessionID:   snap.SessionID,
				State:       string(snap.Status),
				LanguageTag: snap.Language.Tag,
				Detail:      snap.ErrorMessage,
			})
		},
		OnPartialTranscript: func(text string) {
			bridge.send(protocol.TranscriptPartial{
				Type:      protocol.TypeTranscriptPartial,
				SessionID: bridge.sessionID(),
				Text:      text,
			})
		},
		OnFinalTranscript: func(text string) {
			bridge.send(protocol.TranscriptFinal{
				Type:      protocol.TypeTranscriptFinal,
				SessionID: bridge.sessionID(),
				Text:      text,
			})
		},
		OnReplyDelta: func(turnID, delta string) {
			bridge.send(protocol.ReplyDelta{
				Type:      protocol.TypeReplyDelta,
				SessionID: bridge.sessionID(),
				TurnID:    turnID,
				TextDelta: delta,
			})
		},
		OnReplyCompleted: func(turnID, reply string) {
			bridge.send(protocol.ReplyCompleted{
				Type:      protocol.TypeReplyCompleted,
				SessionID: bridge.sessionID(),
				TurnID:    turnID,
				Text:      reply,
			})
		},
		OnError: func(code string, retryable bool, err error) {
			bridge.send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: bridge.sessionID(),
				Code:      code,
				Source:    "session",
				Retryable: retryable,
				Detail:    err.Error(),
			})
		},
	}
}

// eventBridge relays orchestrator events to whichever websocket connection
// is currently attached. Events emitted with no connection are dropped;
// state is replayed from a snapshot on the next attach.
type eventBridge struct {
	mu  sync.Mutex
	id  string
	out chan<- any
}

func (b *eventBridge) bind(sessionID string) {
	b.mu.Lock()
	b.id = sessionID
	b.mu.Unlock()
}

func (b *eventBridge) sessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

func (b *eventBridge) attach(ch chan<- any) {
	b.mu.Lock()
	b.out = ch
	b.mu.Unlock()
}

// detach clears the outbound channel only if it is still the attached one;
// a reconnect may have replaced it before the old connection tore down.
func (b *eventBridge) detach(ch chan<- any) {
	b.mu.Lock()
	if b.out == ch {
		b.out = nil
	}
	b.mu.Unlock()
}

// send never blocks; websocket writes stay single-threaded and a saturated
// outbound queue drops the event.
func (b *eventBridge) send(msg any) {
	b.mu.Lock()
	out := b.out
	b.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientSpeech:
		return m.Type, true
	case protocol.StateEvent:
		return m.Type, true
	case protocol.TranscriptPartial:
		return m.Type, true
	case protocol.TranscriptFinal:
		return m.Type, true
	case protocol.ReplyDelta:
		return m.Type, true
	case protocol.ReplyCompleted:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
