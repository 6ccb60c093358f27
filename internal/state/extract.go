package state

import (
	"regexp"
	"strings"
)

// Deterministic keyword extractors. Lossy on purpose, but cheap and
// predictable, which keeps turn latency flat and tests stable.

const maxGoals = 8

// Multi-word rooms listed first so "living room" wins over nothing.
var roomVocab = []string{
	"living room", "dining room", "laundry room",
	"kitchen", "bathroom", "bedroom", "basement", "garage", "attic",
	"deck", "patio", "office",
}

var (
	budgetPattern   = regexp.MustCompile(`\$\d+(?:[kK]|,\d{3})?|\b\d+\s?(?:[kK]\b|thousand\b|dollars\b)`)
	timelinePattern = regexp.MustCompile(`(?i)\b\d+\s?(?:days?|weeks?|months?)\b`)
	goalPattern     = regexp.MustCompile(`(?i)\b(?:want|add|install)(?:\s+to)?\s+([^.?!]+)`)
	decisionPattern = regexp.MustCompile(`(?i)\b(?:let'?s go with|we'?ll (?:do|go with)|i'?ll go with|i (?:have )?decided (?:on|to)?)\s+([^.?!]+)`)
	goalSplit       = regexp.MustCompile(`(?i),|\band\b`)
)

var riskKeywords = []string{
	"load-bearing", "permit", "inspection", "asbestos", "electrical panel", "structural",
}

var materialVocab = []string{
	"cabinets", "countertops", "tile", "drywall", "flooring", "hardwood",
	"granite", "quartz", "paint", "plumbing", "lighting", "insulation",
}

var diyKeywords = []struct{ keyword, mode string }{
	{"contractor", "contractor"},
	{"hiring", "contractor"},
	{"myself", "diy"},
	{"diy", "diy"},
}

// goalNoise strips filler words off the front of extracted goal snippets.
var goalNoise = []string{"a ", "an ", "the ", "some ", "maybe ", "to ", "also "}

// extractUser updates project facts from a user utterance. Caller holds the
// store lock.
func extractUser(s *Store, text string) {
	lower := strings.ToLower(text)

	if s.project.Room == "" {
		for _, room := range roomVocab {
			if strings.Contains(lower, room) {
				s.project.Room = room
				break
			}
		}
	}

	if s.project.Budget == "" {
		if m := budgetPattern.FindString(text); m != "" {
			s.project.Budget = m
		}
	}

	if s.project.Timeline == "" {
		if m := timelinePattern.FindString(text); m != "" {
			s.project.Timeline = m
		}
	}

	if s.project.DIYOrContractor == "" {
		for _, kw := range diyKeywords {
			if strings.Contains(lower, kw.keyword) {
				s.project.DIYOrContractor = kw.mode
				break
			}
		}
	}

	for _, m := range goalPattern.FindAllStringSubmatch(text, -1) {
		for _, snippet := range splitGoalClause(m[1]) {
			s.addGoal(snippet)
		}
	}

	for _, m := range decisionPattern.FindAllStringSubmatch(text, -1) {
		s.decisions.add(strings.TrimSpace(m[1]))
	}

	for _, mat := range materialVocab {
		if strings.Contains(lower, mat) {
			s.materials.add(mat)
		}
	}
}

// extractAgent updates risks, materials, and open questions from an agent
// reply. Caller holds the store lock.
func extractAgent(s *Store, text string) {
	lower := strings.ToLower(text)

	for _, kw := range riskKeywords {
		if strings.Contains(lower, kw) {
			s.risks.add(kw)
		}
	}

	for _, mat := range materialVocab {
		if strings.Contains(lower, mat) {
			s.materials.add(mat)
		}
	}

	for _, sentence := range splitSentences(text) {
		if strings.HasSuffix(sentence, "?") {
			s.openQs.add(sentence)
		}
	}
}

func (s *Store) addGoal(goal string) {
	goal = cleanGoal(goal)
	if goal == "" || len(s.project.Goals) >= maxGoals {
		return
	}
	for _, g := range s.project.Goals {
		if strings.EqualFold(g, goal) {
			return
		}
	}
	s.project.Goals = append(s.project.Goals, goal)
}

// splitGoalClause breaks "new cabinets and countertops, and maybe open up a
// wall" into individual goal snippets.
func splitGoalClause(clause string) []string {
	parts := goalSplit.Split(clause, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func cleanGoal(goal string) string {
	goal = strings.TrimSpace(goal)
	for changed := true; changed; {
		changed = false
		for _, prefix := range goalNoise {
			if len(goal) > len(prefix) && strings.HasPrefix(strings.ToLower(goal), prefix) {
				goal = strings.TrimSpace(goal[len(prefix):])
				changed = true
			}
		}
	}
	if len(goal) > 48 {
		return ""
	}
	return goal
}

var sentenceSplit = regexp.MustCompile(`(?s)[^.!?]*[.!?]?`)

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplit.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
