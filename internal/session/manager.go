package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tbardin/parley/internal/observability"
	"github.com/tbardin/parley/internal/voice"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is the bookkeeping record for one conversation. The live
// orchestrator is held by the manager and never serialized.
type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	LanguageTag    string    `json:"language_tag"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	record *Session
	orch   *voice.Orchestrator
}

// OrchestratorFactory builds the conversation pipeline for a new session.
type OrchestratorFactory func(sessionID string, hooks voice.Hooks) *voice.Orchestrator

// Manager tracks sessions and owns their orchestrators. Ending or expiring
// a session closes the orchestrator, which tears down capture and playback.
type Manager struct {
	mu                sync.RWMutex
	entries           map[string]*entry
	sessionByUser     map[string]string
	factory           OrchestratorFactory
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	metrics           *observability.Metrics
	logger            *zap.Logger
}

func NewManager(factory OrchestratorFactory, inactivityTimeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		entries:           make(map[string]*entry),
		sessionByUser:     make(map[string]string),
		factory:           factory,
		inactivityTimeout: inactivityTimeout,
		metrics:           metrics,
		logger:            logger,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

// Create registers a new session and builds its orchestrator. A user with an
// existing active session gets that session ended first so a reconnect never
// leaves two pipelines capturing audio.
func (m *Manager) Create(userID, languageTag string, hooks voice.Hooks) *Session {
	if userID != "" {
		m.mu.RLock()
		prevID := m.sessionByUser[userID]
		m.mu.RUnlock()
		if prevID != "" {
			if _, err := m.End(prevID); err == nil {
				m.logger.Info("ended previous session for reconnecting user",
					zap.String("user_id", userID),
					zap.String("session_id", prevID))
			}
		}
	}

	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		LanguageTag:    languageTag,
		StartedAt:      now,
		LastActivityAt: now,
	}
	orch := m.factory(s.ID, hooks)
	if languageTag != "" {
		orch.SetLanguage(languageTag)
	}

	m.mu.Lock()
	m.entries[s.ID] = &entry{record: s, orch: orch}
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e.record), nil
}

// Orchestrator returns the live pipeline for an active session.
func (m *Manager) Orchestrator(sessionID string) (*voice.Orchestrator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[sessionID]
	if !ok || e.record.Status != StatusActive {
		return nil, ErrNotFound
	}
	return e.orch, nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[sessionID]
	if !ok {
		return ErrNotFound
	}
	e.record.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	e, ok := m.entries[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	alreadyEnded := e.record.Status == StatusEnded
	e.record.Status = StatusEnded
	e.record.LastActivityAt = time.Now().UTC()
	if e.record.UserID != "" {
		delete(m.sessionByUser, e.record.UserID)
	}
	record := clone(e.record)
	orch := e.orch
	m.mu.Unlock()

	if !alreadyEnded {
		orch.Close()
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
	}
	return record, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.entries {
		if e.record.Status == StatusActive {
			count++
		}
	}
	return count
}

// CloseAll ends every active session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id, e := range m.entries {
		if e.record.Status == StatusActive {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.End(id)
	}
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session
	var orchs []*voice.Orchestrator

	m.mu.Lock()
	for _, e := range m.entries {
		s := e.record
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		if s.UserID != "" {
			delete(m.sessionByUser, s.UserID)
		}
		expired = append(expired, clone(s))
		orchs = append(orchs, e.orch)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for i, s := range expired {
		orchs[i].Close()
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
		m.logger.Info("session expired after inactivity", zap.String("session_id", s.ID))
		if hook != nil {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
