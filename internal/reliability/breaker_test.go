package reliability

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("Allow() = false after %d failures, want true", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("Allow() = true after 3 failures, want false")
	}
	if !b.Open() {
		t.Fatalf("Open() = false, want true")
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatalf("Allow() = false, want true (success should reset the streak)")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := NewBreaker(3, 30*time.Second)
	base := time.Unix(1000, 0)
	b.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.Allow() {
		t.Fatalf("Allow() = true while open, want false")
	}

	b.now = func() time.Time { return base.Add(31 * time.Second) }
	if !b.Allow() {
		t.Fatalf("Allow() = false after cooldown, want true (half-open probe)")
	}
	// A single failure in half-open re-opens.
	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("Allow() = true after half-open failure, want false")
	}

	// A success in half-open fully closes.
	b2 := NewBreaker(3, 30*time.Second)
	b2.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		b2.RecordFailure()
	}
	b2.now = func() time.Time { return base.Add(31 * time.Second) }
	if !b2.Allow() {
		t.Fatalf("Allow() = false after cooldown, want true")
	}
	b2.RecordSuccess()
	b2.RecordFailure()
	if !b2.Allow() {
		t.Fatalf("Allow() = false after close and one failure, want true")
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	base := time.Second
	max := 8 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{9, 8 * time.Second},
	}
	for _, tc := range cases {
		if got := ExponentialBackoff(tc.attempt, base, max); got != tc.want {
			t.Fatalf("ExponentialBackoff(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
