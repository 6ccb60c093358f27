// Package state holds per-session conversation memory: structured project
// facts, a rolling summary, and the recent transcript tail that survives
// agent transfers.
package state

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// TailLimit caps the transcript tail at six exchanges.
const TailLimit = 12

// Transcript speakers.
const (
	SpeakerUser   = "user"
	SpeakerSystem = "system"
)

// TurnEntry is one line of the transcript tail.
type TurnEntry struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Project is the structured renovation state built up across turns.
type Project struct {
	Room            string   `json:"room"`
	Budget          string   `json:"budget"`
	Timeline        string   `json:"timeline"`
	DIYOrContractor string   `json:"diy_or_contractor"`
	Goals           []string `json:"goals"`
	Constraints     []string `json:"constraints"`
}

// Snapshot is a frozen view of the store handed to prompt building. It
// shares nothing with the live store.
type Snapshot struct {
	Project          Project
	OpenQuestions    []string
	Risks            []string
	Decisions        []string
	Materials        []string
	Summary          string
	RecentTranscript []TurnEntry
	AgentSeen        []string
	TurnCount        int
}

// ProjectJSON renders the structured state for LLM context.
func (s Snapshot) ProjectJSON() string {
	m := map[string]any{
		"project":             s.Project,
		"open_questions":      emptyNotNil(s.OpenQuestions),
		"risks":               emptyNotNil(s.Risks),
		"decisions":           emptyNotNil(s.Decisions),
		"materials_discussed": emptyNotNil(s.Materials),
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Store is the per-session state container. All methods are safe for
// concurrent use.
type Store struct {
	mu        sync.Mutex
	project   Project
	openQs    orderedSet
	risks     orderedSet
	decisions orderedSet
	materials orderedSet
	summary   string
	tail      []TurnEntry
	agentSeen []string
	turnCount int
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{now: time.Now}
}

// AppendTurn appends one transcript entry, evicting the oldest past
// TailLimit.
func (s *Store) AppendTurn(speaker, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tail = append(s.tail, TurnEntry{Speaker: speaker, Text: text, Timestamp: s.now()})
	if len(s.tail) > TailLimit {
		s.tail = s.tail[len(s.tail)-TailLimit:]
	}
	s.turnCount++
}

// MarkAgentSeen records that a persona has replied at least once.
func (s *Store) MarkAgentSeen(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.agentSeen {
		if id == agentID {
			return
		}
	}
	s.agentSeen = append(s.agentSeen, agentID)
}

// HasSeenAgent reports whether the persona has already greeted the user.
func (s *Store) HasSeenAgent(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.agentSeen {
		if id == agentID {
			return true
		}
	}
	return false
}

// UpdateFromUser runs the user-utterance extractors and refreshes the
// summary.
func (s *Store) UpdateFromUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	extractUser(s, text)
	s.refreshSummary()
}

// UpdateFromAgent runs the agent-reply extractors and refreshes the
// summary.
func (s *Store) UpdateFromAgent(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	extractAgent(s, text)
	s.refreshSummary()
}

// Snapshot returns a frozen copy of the state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := make([]TurnEntry, len(s.tail))
	copy(tail, s.tail)

	proj := s.project
	proj.Goals = cloneStrings(s.project.Goals)
	proj.Constraints = cloneStrings(s.project.Constraints)

	return Snapshot{
		Project:          proj,
		OpenQuestions:    s.openQs.values(),
		Risks:            s.risks.values(),
		Decisions:        s.decisions.values(),
		Materials:        s.materials.values(),
		Summary:          s.summary,
		RecentTranscript: tail,
		AgentSeen:        cloneStrings(s.agentSeen),
		TurnCount:        s.turnCount,
	}
}

// StateMap renders the structured state for the state_update client event.
func (s *Store) StateMap() map[string]any {
	snap := s.Snapshot()
	return map[string]any{
		"project": map[string]any{
			"room":              nullable(snap.Project.Room),
			"budget":            nullable(snap.Project.Budget),
			"timeline":          nullable(snap.Project.Timeline),
			"diy_or_contractor": nullable(snap.Project.DIYOrContractor),
			"goals":             emptyNotNil(snap.Project.Goals),
			"constraints":       emptyNotNil(snap.Project.Constraints),
		},
		"open_questions":      emptyNotNil(snap.OpenQuestions),
		"risks":               emptyNotNil(snap.Risks),
		"decisions":           emptyNotNil(snap.Decisions),
		"materials_discussed": emptyNotNil(snap.Materials),
		"summary":             snap.Summary,
	}
}

// refreshSummary rebuilds the rolling summary from project facts and risks.
// Callers hold s.mu.
func (s *Store) refreshSummary() {
	var b strings.Builder
	room := s.project.Room
	if room == "" {
		room = "a room"
	}
	b.WriteString("Renovating ")
	b.WriteString(room)
	if s.project.Budget != "" {
		b.WriteString(", budget ")
		b.WriteString(s.project.Budget)
	}
	if goals := s.project.Goals; len(goals) > 0 {
		b.WriteString(", wants: ")
		b.WriteString(strings.Join(goals, ", "))
	}
	b.WriteString(".")
	if risks := s.risks.values(); len(risks) > 0 {
		b.WriteString(" risks: ")
		b.WriteString(strings.Join(risks, ", "))
		b.WriteString(".")
	}
	summary := b.String()
	if len(summary) > 240 {
		summary = summary[:240]
	}
	s.summary = summary
}

// orderedSet keeps insertion order and de-duplicates case-insensitively.
type orderedSet struct {
	items []string
	seen  map[string]bool
}

func (o *orderedSet) add(item string) {
	item = strings.TrimSpace(item)
	if item == "" {
		return
	}
	key := strings.ToLower(item)
	if o.seen == nil {
		o.seen = map[string]bool{}
	}
	if o.seen[key] {
		return
	}
	o.seen[key] = true
	o.items = append(o.items, item)
}

func (o *orderedSet) len() int { return len(o.items) }

func (o *orderedSet) values() []string {
	return cloneStrings(o.items)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func emptyNotNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
