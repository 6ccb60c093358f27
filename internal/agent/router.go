package agent

import (
	"regexp"
	"strings"
)

// Transfer is a detected request to switch personas.
type Transfer struct {
	Target         string
	MatchedPattern string
}

var alicePatterns = compilePatterns([]string{
	`transfer.*alice`,
	`let me talk to alice`,
	`switch.*alice`,
	`bring.*alice`,
	`connect.*alice`,
	`put.*alice.*on`,
	`speak.*alice`,
	`can i talk to alice`,
	`i want alice`,
	`i need alice`,
})

var bobPatterns = compilePatterns([]string{
	`transfer.*bob`,
	`let me talk to bob`,
	`switch.*bob`,
	`bring.*bob`,
	`go back.*bob`,
	`back to bob`,
	`return.*bob`,
	`put.*bob.*on`,
	`speak.*bob`,
	`can i talk to bob`,
	`i want bob`,
	`i need bob`,
})

func compilePatterns(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// DetectTransfer checks the raw user utterance for an explicit transfer
// request. It returns nil when nothing matches, when the target is already
// the current agent, or when the utterance names both personas. The router
// never consults the LLM.
func DetectTransfer(userText, currentAgent string) *Transfer {
	text := strings.TrimSpace(userText)
	if text == "" {
		return nil
	}

	alice := firstMatch(alicePatterns, text)
	bob := firstMatch(bobPatterns, text)

	if alice != "" && bob != "" {
		return nil
	}
	if alice != "" && currentAgent != AgentAlice {
		return &Transfer{Target: AgentAlice, MatchedPattern: alice}
	}
	if bob != "" && currentAgent != AgentBob {
		return &Transfer{Target: AgentBob, MatchedPattern: bob}
	}
	return nil
}

func firstMatch(patterns []*regexp.Regexp, text string) string {
	for _, p := range patterns {
		if p.MatchString(text) {
			return p.String()
		}
	}
	return ""
}
