package provider

import (
	"context"
	"time"

	"github.com/antoniostano/renovox/internal/reliability"
)

// RetryPolicy bounds the retry loop wrapped around each provider call.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// DefaultRetryPolicy matches the turn latency budget: three tries with a
// short first backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: time.Second, Cap: 8 * time.Second}
}

func (p RetryPolicy) wait(ctx context.Context, attempt int) error {
	d := reliability.ExponentialBackoff(attempt, p.Base, p.Cap)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryingSTT wraps an STT with transient-failure retries.
type RetryingSTT struct {
	Next   STT
	Policy RetryPolicy
}

func (r RetryingSTT) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.Policy.Attempts; attempt++ {
		if attempt > 0 {
			if err := r.Policy.wait(ctx, attempt-1); err != nil {
				return "", err
			}
		}
		text, err := r.Next.Transcribe(ctx, pcm, sampleRate)
		if err == nil {
			return text, nil
		}
		if !IsTransient(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// RetryingLLM wraps an LLM with transient-failure retries. A stream that
// already emitted tokens is never retried, since the client has seen partial
// output.
type RetryingLLM struct {
	Next   LLM
	Policy RetryPolicy
}

func (r RetryingLLM) Stream(ctx context.Context, req ChatRequest, onToken TokenHandler) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.Policy.Attempts; attempt++ {
		if attempt > 0 {
			if err := r.Policy.wait(ctx, attempt-1); err != nil {
				return "", err
			}
		}
		emitted := false
		full, err := r.Next.Stream(ctx, req, func(token string) {
			emitted = true
			if onToken != nil {
				onToken(token)
			}
		})
		if err == nil {
			return full, nil
		}
		if emitted || !IsTransient(err) {
			return full, err
		}
		lastErr = err
	}
	return "", lastErr
}

// RetryingTTS wraps a TTS with transient-failure retries, with the same
// no-retry-after-output rule as RetryingLLM.
type RetryingTTS struct {
	Next   TTS
	Policy RetryPolicy
}

func (r RetryingTTS) Synthesize(ctx context.Context, text, voice string, onChunk ChunkHandler) error {
	var lastErr error
	for attempt := 0; attempt < r.Policy.Attempts; attempt++ {
		if attempt > 0 {
			if err := r.Policy.wait(ctx, attempt-1); err != nil {
				return err
			}
		}
		emitted := false
		err := r.Next.Synthesize(ctx, text, voice, func(chunk []byte) error {
			emitted = true
			return onChunk(chunk)
		})
		if err == nil {
			return nil
		}
		if emitted || !IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// RetryingModeration wraps a Moderation with transient-failure retries.
type RetryingModeration struct {
	Next   Moderation
	Policy RetryPolicy
}

func (r RetryingModeration) Check(ctx context.Context, text string) (Verdict, error) {
	var lastErr error
	for attempt := 0; attempt < r.Policy.Attempts; attempt++ {
		if attempt > 0 {
			if err := r.Policy.wait(ctx, attempt-1); err != nil {
				return Verdict{}, err
			}
		}
		v, err := r.Next.Check(ctx, text)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return Verdict{}, err
		}
		lastErr = err
	}
	return Verdict{}, lastErr
}
