package voice

import (
	"reflect"
	"strings"
	"testing"
)

func TestSentenceBufferFlushesOnTerminator(t *testing.T) {
	var sb sentenceBuffer
	if got := sb.Add("Hello "); got != nil {
		t.Fatalf("Add mid-sentence = %v, want nil", got)
	}
	got := sb.Add("there. How are")
	want := []string{"Hello there."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Add = %v, want %v", got, want)
	}
	if rest := sb.Flush(); rest != "How are" {
		t.Fatalf("Flush = %q, want %q", rest, "How are")
	}
}

func TestSentenceBufferMultipleSentencesInOneToken(t *testing.T) {
	var sb sentenceBuffer
	got := sb.Add("One. Two! Three?")
	want := []string{"One.", "Two!", "Three?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Add = %v, want %v", got, want)
	}
}

func TestSentenceBufferSoftLimit(t *testing.T) {
	var sb sentenceBuffer
	long := strings.Repeat("word ", 30) // 150 chars, no terminator
	got := sb.Add(long)
	if len(got) == 0 {
		t.Fatal("soft limit should force a flush")
	}
	if len(got[0]) > softLimit {
		t.Fatalf("flushed span is %d chars, limit %d", len(got[0]), softLimit)
	}
}

func TestSentenceBufferNewline(t *testing.T) {
	var sb sentenceBuffer
	got := sb.Add("first line\nsecond")
	if len(got) != 1 || got[0] != "first line" {
		t.Fatalf("Add = %v, want [first line]", got)
	}
}

func TestSanitizeSpeechText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"**Bold plan** for the kitchen", "Bold plan for the kitchen"},
		{"see https://example.com/guide for more", "see for more"},
		{"use `code` here", "use here"},
		{"[the guide](https://example.com)", "the guide"},
		{"budget is $25k, right?", "budget is $25k, right?"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := sanitizeSpeechText(tc.in); got != tc.want {
			t.Fatalf("sanitizeSpeechText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
