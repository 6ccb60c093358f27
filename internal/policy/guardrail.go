// Package policy holds content safety checks applied to user input before
// the LLM and to LLM output before TTS.
package policy

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/antoniostano/renovox/internal/provider"
)

// blocklist catches the worst content instantly, before any network call.
var blocklist = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\b(how\s+to\s+(make|build|create|synthesize)\s+(a\s+)?(bomb|weapon|poison|drug)s?)\b`),
	regexp.MustCompile(`(?is)\b(kill\s+(yourself|myself|himself|herself|themselves))\b`),
	regexp.MustCompile(`(?is)\b(child\s+(pornography|abuse|exploitation|sexual))\b`),
	regexp.MustCompile(`(?is)\b(self[\-\s]harm|suicide\s+method)\b`),
	regexp.MustCompile(`(?is)\b(synthesize\s+(drugs?|methamphetamine|heroin|fentanyl))\b`),
}

// Result is the outcome of a guardrail check.
type Result struct {
	OK       bool
	Category string
	Reason   string
}

// Guardrail is a two-pass content filter. Pass one is a local regex
// blocklist, pass two an upstream moderation call. The moderation pass
// degrades open: a timeout or error never blocks the conversation.
type Guardrail struct {
	Enabled    bool
	Moderation provider.Moderation
	Timeout    time.Duration
}

// NewGuardrail builds a filter around mod, which may be nil to disable the
// second pass.
func NewGuardrail(enabled bool, mod provider.Moderation) *Guardrail {
	return &Guardrail{Enabled: enabled, Moderation: mod, Timeout: 2 * time.Second}
}

// Check runs both passes on text.
func (g *Guardrail) Check(ctx context.Context, text string) Result {
	if g == nil || !g.Enabled || strings.TrimSpace(text) == "" {
		return Result{OK: true}
	}

	for _, p := range blocklist {
		if p.MatchString(text) {
			return Result{
				OK:       false,
				Category: "blocklist_match",
				Reason:   "Content matched safety blocklist",
			}
		}
	}

	if g.Moderation != nil {
		timeout := g.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		modCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		verdict, err := g.Moderation.Check(modCtx, text)
		if err == nil && verdict.Flagged {
			cat := "unknown"
			if len(verdict.Categories) > 0 {
				cat = verdict.Categories[0]
			}
			return Result{
				OK:       false,
				Category: cat,
				Reason:   "Moderation flagged: " + strings.Join(verdict.Categories, ", "),
			}
		}
	}

	return Result{OK: true}
}
