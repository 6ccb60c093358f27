package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/renovox/internal/agent"
	"github.com/antoniostano/renovox/internal/reliability"
	"github.com/antoniostano/renovox/internal/state"
)

var ErrNotFound = errors.New("session not found")

// Manager owns all live sessions and expires the idle ones.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	bobVoice          string
	aliceVoice        string
	onExpire          func(Info)
}

// NewManager builds a session registry. Voices apply to every new session.
func NewManager(inactivityTimeout time.Duration, bobVoice, aliceVoice string) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		bobVoice:          bobVoice,
		aliceVoice:        aliceVoice,
	}
}

// SetExpireHook registers a callback invoked after a session is expired by
// the janitor.
func (m *Manager) SetExpireHook(hook func(Info)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new session starting on the intake persona.
func (m *Manager) Create() *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		State:          state.New(),
		Agents:         agent.NewManager(m.bobVoice, m.aliceVoice),
		Breaker:        reliability.NewBreaker(0, 0),
		status:         StatusActive,
		startedAt:      now,
		lastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s
}

// Get returns the live session for id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// End terminates a session and removes it from the registry.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.end()
	return nil
}

// ActiveCount reports how many sessions are live.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.active() {
			count++
		}
	}
	return count
}

// List returns snapshots of every live session.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// StartJanitor expires inactive sessions until ctx is cancelled.
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

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if !s.active() {
			continue
		}
		if now.Sub(s.LastActivity()) < m.inactivityTimeout {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, s)
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, s := range expired {
		s.end()
		if hook != nil {
			hook(s.Snapshot())
		}
	}
}
