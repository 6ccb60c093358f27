package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// softLimit breaks very long clauses so TTS never waits on a full
// paragraph.
const softLimit = 120

// sentenceBuffer accumulates streamed tokens and releases complete
// sentences for synthesis.
type sentenceBuffer struct {
	b strings.Builder
}

// Add appends one token and returns any sentences that became complete.
func (sb *sentenceBuffer) Add(token string) []string {
	sb.b.WriteString(token)
	text := sb.b.String()

	var out []string
	for {
		cut := sentenceCut(text)
		if cut < 0 {
			break
		}
		sentence := strings.TrimSpace(text[:cut])
		if sentence != "" {
			out = append(out, sentence)
		}
		text = text[cut:]
	}

	if len(out) > 0 {
		sb.b.Reset()
		sb.b.WriteString(text)
	}
	return out
}

// Flush returns whatever is left in the buffer.
func (sb *sentenceBuffer) Flush() string {
	rest := strings.TrimSpace(sb.b.String())
	sb.b.Reset()
	return rest
}

// sentenceCut returns the index just past the first sentence terminator,
// or past the soft limit when no terminator appears, or -1 when the buffer
// should keep accumulating.
func sentenceCut(text string) int {
	for i, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			return i + len(string(r))
		}
	}
	if len(text) > softLimit {
		// Break at the last space inside the limit, if any.
		if sp := strings.LastIndexByte(text[:softLimit], ' '); sp > 0 {
			return sp + 1
		}
		return softLimit
	}
	return -1
}

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// sanitizeSpeechText removes markup and symbol noise from model text so the
// synthesized voice sounds conversational.
func sanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"#", " ",
		"~", " ",
		"|", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '‍' || r == '️' || r == '⃣':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and symbol glyphs sound wrong when read aloud.
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')', '$', '%':
		return true
	default:
		return false
	}
}
