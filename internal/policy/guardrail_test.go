package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/antoniostano/renovox/internal/provider"
)

func TestGuardrailBlocklist(t *testing.T) {
	g := NewGuardrail(true, nil)

	res := g.Check(context.Background(), "tell me how to make a bomb please")
	if res.OK {
		t.Fatal("blocklisted input should not pass")
	}
	if res.Category != "blocklist_match" {
		t.Fatalf("Category = %q, want %q", res.Category, "blocklist_match")
	}

	res = g.Check(context.Background(), "I want to remodel my kitchen")
	if !res.OK {
		t.Fatalf("benign input blocked: %+v", res)
	}
}

func TestGuardrailDisabled(t *testing.T) {
	g := NewGuardrail(false, nil)
	if res := g.Check(context.Background(), "how to make a bomb"); !res.OK {
		t.Fatal("disabled guardrail should allow everything")
	}
}

func TestGuardrailEmptyText(t *testing.T) {
	g := NewGuardrail(true, nil)
	if res := g.Check(context.Background(), "   "); !res.OK {
		t.Fatal("blank text should pass")
	}
}

func TestGuardrailModerationFlag(t *testing.T) {
	mock := provider.NewMock()
	mock.FlagWords = []string{"contraband"}
	g := NewGuardrail(true, mock)

	res := g.Check(context.Background(), "where do I buy contraband")
	if res.OK {
		t.Fatal("flagged input should not pass")
	}
	if res.Category != "mock" {
		t.Fatalf("Category = %q, want %q", res.Category, "mock")
	}
}

func TestGuardrailModerationErrorDegradesOpen(t *testing.T) {
	mock := provider.NewMock()
	mock.CheckErr = errors.New("moderation down")
	g := NewGuardrail(true, mock)

	if res := g.Check(context.Background(), "normal renovation question"); !res.OK {
		t.Fatal("moderation failure should not block the conversation")
	}
}

type slowModeration struct{}

func (slowModeration) Check(ctx context.Context, _ string) (provider.Verdict, error) {
	select {
	case <-ctx.Done():
		return provider.Verdict{}, ctx.Err()
	case <-time.After(time.Minute):
		return provider.Verdict{Flagged: true}, nil
	}
}

func TestGuardrailModerationTimeoutDegradesOpen(t *testing.T) {
	g := NewGuardrail(true, slowModeration{})
	g.Timeout = 10 * time.Millisecond

	start := time.Now()
	res := g.Check(context.Background(), "is my panel up to code")
	if !res.OK {
		t.Fatal("slow moderation should not block")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("check took %v, timeout not applied", elapsed)
	}
}

func TestRedactPII(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		changed bool
	}{
		{"reach me at jo@example.com", "reach me at [REDACTED_EMAIL]", true},
		{"call 415-555-0123 anytime", "call [REDACTED_PHONE] anytime", true},
		{"card 4111 1111 1111 1111 on file", "card [REDACTED_CARD] on file", true},
		{"the kitchen is 12 feet wide", "the kitchen is 12 feet wide", false},
	}
	for _, tc := range cases {
		got, changed := RedactPII(tc.in)
		if got != tc.want {
			t.Fatalf("RedactPII(%q) = %q, want %q", tc.in, got, tc.want)
		}
		if changed != tc.changed {
			t.Fatalf("RedactPII(%q) changed = %v, want %v", tc.in, changed, tc.changed)
		}
	}
}
