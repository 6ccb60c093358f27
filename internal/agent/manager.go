package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/antoniostano/renovox/internal/provider"
	"github.com/antoniostano/renovox/internal/state"
)

// HandoffNote is the transfer briefing rendered into the new persona's
// prompt for exactly one turn.
type HandoffNote struct {
	WhatWeKnow       []string
	OpenQuestions    []string
	KnownRisks       []string
	LastUserMessage  string
	RecommendedFocus string
}

// Render formats the note for prompt injection.
func (n HandoffNote) Render() string {
	var b strings.Builder
	b.WriteString("HANDOFF NOTE:\n")
	if len(n.WhatWeKnow) > 0 {
		b.WriteString("WHAT WE KNOW:\n")
		for _, line := range n.WhatWeKnow {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if len(n.OpenQuestions) > 0 {
		b.WriteString("OPEN QUESTIONS: ")
		b.WriteString(strings.Join(n.OpenQuestions, ", "))
		b.WriteString("\n")
	}
	if len(n.KnownRisks) > 0 {
		b.WriteString("KNOWN RISKS: ")
		b.WriteString(strings.Join(n.KnownRisks, ", "))
		b.WriteString("\n")
	}
	if n.LastUserMessage != "" {
		b.WriteString("LAST USER MESSAGE: ")
		b.WriteString(n.LastUserMessage)
		b.WriteString("\n")
	}
	b.WriteString("RECOMMENDED FOCUS: ")
	b.WriteString(n.RecommendedFocus)
	return b.String()
}

// Manager holds the persona records and the session's current persona.
// Safe for concurrent use: session listings read the current persona while
// a turn may be switching it.
type Manager struct {
	mu       sync.RWMutex
	personas map[string]Persona
	current  string
}

// NewManager starts a manager on the intake persona.
func NewManager(bobVoice, aliceVoice string) *Manager {
	return &Manager{
		personas: Personas(bobVoice, aliceVoice),
		current:  AgentBob,
	}
}

// Current returns the active persona id.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Persona returns the record for id, falling back to the current persona.
func (m *Manager) Persona(id string) Persona {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.personas[id]; ok {
		return p
	}
	return m.personas[m.current]
}

// Switch sets the current persona. It does not touch agent_seen, so the
// returning persona stays intro-suppressed.
func (m *Manager) Switch(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.personas[target]; !ok {
		return fmt.Errorf("unknown agent %q", target)
	}
	m.current = target
	return nil
}

// TransferAck is the short sentence spoken in the outgoing persona's voice
// before the new persona takes over.
func TransferAck(target string) string {
	if target == AgentAlice {
		return "Bringing Alice in. She can help with the technical details."
	}
	return "Switching back to Bob. He'll help you with next steps."
}

// NewHandoffNote builds the transfer briefing from a state snapshot.
func NewHandoffNote(snap state.Snapshot, lastUserText, target string) HandoffNote {
	note := HandoffNote{
		OpenQuestions:   snap.OpenQuestions,
		KnownRisks:      snap.Risks,
		LastUserMessage: lastUserText,
	}
	if snap.Project.Room != "" {
		note.WhatWeKnow = append(note.WhatWeKnow, "Room: "+snap.Project.Room)
	}
	if snap.Project.Budget != "" {
		note.WhatWeKnow = append(note.WhatWeKnow, "Budget: "+snap.Project.Budget)
	}
	if len(snap.Project.Goals) > 0 {
		note.WhatWeKnow = append(note.WhatWeKnow, "Goals: "+strings.Join(snap.Project.Goals, ", "))
	}
	if len(snap.Project.Constraints) > 0 {
		note.WhatWeKnow = append(note.WhatWeKnow, "Constraints: "+strings.Join(snap.Project.Constraints, ", "))
	}
	if target == AgentAlice {
		note.RecommendedFocus = "Address technical concerns, risks, permits/codes (if relevant), sequencing, or material trade-offs."
	} else {
		note.RecommendedFocus = "Provide actionable next steps, create a task list, or help with high-level planning."
	}
	return note
}

// BuildMessages assembles the LLM input for one turn: persona prompt,
// conversation context, optional handoff note, optional intro suppression,
// then the user message.
func (m *Manager) BuildMessages(snap state.Snapshot, userText string, note *HandoffNote) []provider.ChatMessage {
	m.mu.RLock()
	current := m.current
	persona := m.personas[current]
	m.mu.RUnlock()

	msgs := []provider.ChatMessage{
		{Role: provider.RoleSystem, Content: persona.SystemPrompt},
		{Role: provider.RoleSystem, Content: contextMessage(snap)},
	}

	if note != nil {
		msgs = append(msgs, provider.ChatMessage{
			Role:    provider.RoleSystem,
			Content: note.Render() + "\nContinue immediately. Do not reintroduce yourself.",
		})
	}

	if seen(snap.AgentSeen, current) {
		msgs = append(msgs, provider.ChatMessage{
			Role:    provider.RoleSystem,
			Content: "You have already introduced yourself in this session. Do not say your name or greeting again. Just continue the conversation.",
		})
	}

	return append(msgs, provider.ChatMessage{Role: provider.RoleUser, Content: userText})
}

func contextMessage(snap state.Snapshot) string {
	var b strings.Builder
	b.WriteString("PROJECT STATE:\n")
	b.WriteString(snap.ProjectJSON())

	if snap.Summary != "" {
		b.WriteString("\n\nCONVERSATION SUMMARY:\n")
		b.WriteString(snap.Summary)
	}

	if len(snap.RecentTranscript) > 0 {
		b.WriteString("\n\nRECENT CONVERSATION:")
		for _, turn := range snap.RecentTranscript {
			b.WriteString("\n")
			b.WriteString(strings.ToUpper(turn.Speaker))
			b.WriteString(": ")
			b.WriteString(turn.Text)
		}
	}
	return b.String()
}

func seen(agentSeen []string, id string) bool {
	for _, a := range agentSeen {
		if a == id {
			return true
		}
	}
	return false
}
