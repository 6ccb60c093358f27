// Package session tracks one connected caller: identity, conversation
// state, the active turn, and the deafness window that suppresses echo
// after playback.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/antoniostano/renovox/internal/agent"
	"github.com/antoniostano/renovox/internal/reliability"
	"github.com/antoniostano/renovox/internal/state"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is the per-connection aggregate. State, Agents, and Breaker are
// owned exclusively by this session.
type Session struct {
	ID      string
	State   *state.Store
	Agents  *agent.Manager
	Breaker *reliability.Breaker

	mu             sync.Mutex
	status         Status
	turnCounter    int64
	activeTurnID   int64
	cancelTurn     context.CancelFunc
	deafUntil      time.Time
	checkpoint     string
	startedAt      time.Time
	lastActivityAt time.Time
	interruptions  int
}

// Info is a read-only snapshot for HTTP listings and expiry hooks.
type Info struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	Agent          string    `json:"agent"`
	TurnCount      int64     `json:"turn_count"`
	Interruptions  int       `json:"interruption_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// BeginTurn cancels any active turn and opens a new one. The returned
// context is cancelled when the turn is superseded or interrupted.
func (s *Session) BeginTurn(parent context.Context) (int64, context.Context, context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.turnCounter++
	id := s.turnCounter
	ctx, cancel := context.WithCancel(parent)
	s.activeTurnID = id
	s.cancelTurn = cancel
	s.lastActivityAt = time.Now().UTC()
	return id, ctx, cancel
}

// CancelActiveTurn interrupts the in-flight turn, if any.
func (s *Session) CancelActiveTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelTurn == nil {
		return false
	}
	s.cancelTurn()
	s.cancelTurn = nil
	s.activeTurnID = 0
	s.interruptions++
	return true
}

// FinishTurn clears the active turn if id is still current.
func (s *Session) FinishTurn(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTurnID == id {
		s.cancelTurn = nil
		s.activeTurnID = 0
	}
}

// IsCurrentTurn reports whether id is still the active turn.
func (s *Session) IsCurrentTurn(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTurnID == id
}

// SetDeafUntil opens a deafness window: inbound audio before t is
// discarded so TTS echo never comes back as a transcript.
func (s *Session) SetDeafUntil(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.deafUntil) {
		s.deafUntil = t
	}
}

// Deaf reports whether inbound audio should currently be discarded.
func (s *Session) Deaf(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.deafUntil)
}

// SaveCheckpoint stores the partial reply cut off by a barge-in.
func (s *Session) SaveCheckpoint(partial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = partial
}

// PopCheckpoint returns and clears the saved partial reply.
func (s *Session) PopCheckpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.checkpoint
	s.checkpoint = ""
	return cp
}

// Touch refreshes the inactivity clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = time.Now().UTC()
}

// LastActivity returns the inactivity clock reading.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// Snapshot returns a read-only view of the session.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.ID,
		Status:         s.status,
		Agent:          s.Agents.Current(),
		TurnCount:      s.turnCounter,
		Interruptions:  s.interruptions,
		StartedAt:      s.startedAt,
		LastActivityAt: s.lastActivityAt,
	}
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusEnded
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
	s.activeTurnID = 0
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusActive
}
