package provider

import (
	"context"
	"strings"
	"sync"
)

// Mock is a scripted provider used when no API key is configured and in
// tests. Transcripts and replies are consumed from queues; with empty
// queues it degrades to echo behavior.
type Mock struct {
	mu sync.Mutex

	Transcripts []string
	Replies     []string
	FlagWords   []string

	TranscribeErr error
	StreamErr     error
	SynthErr      error
	CheckErr      error

	// Calls records the text of every Synthesize invocation, in order.
	Calls []string
	// Voices records the voice of every Synthesize invocation, in order.
	Voices []string
	// Requests records every Stream invocation's input.
	Requests []ChatRequest
}

// NewMock returns an empty scripted provider.
func NewMock() *Mock { return &Mock{} }

// Transcribe implements STT.
func (m *Mock) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TranscribeErr != nil {
		return "", m.TranscribeErr
	}
	if len(m.Transcripts) > 0 {
		text := m.Transcripts[0]
		m.Transcripts = m.Transcripts[1:]
		return text, nil
	}
	if len(pcm) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}

// Stream implements LLM, emitting the scripted reply word by word.
func (m *Mock) Stream(ctx context.Context, req ChatRequest, onToken TokenHandler) (string, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	if m.StreamErr != nil {
		err := m.StreamErr
		m.mu.Unlock()
		return "", err
	}
	reply := "Okay. Tell me more about your project."
	if len(m.Replies) > 0 {
		reply = m.Replies[0]
		m.Replies = m.Replies[1:]
	}
	m.mu.Unlock()

	var full strings.Builder
	for i, word := range strings.Fields(reply) {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		token := word
		if i > 0 {
			token = " " + word
		}
		full.WriteString(token)
		if onToken != nil {
			onToken(token)
		}
	}
	return full.String(), nil
}

// Synthesize implements TTS. The "audio" is just the text bytes, which keeps
// pipeline tests able to assert on what was spoken.
func (m *Mock) Synthesize(ctx context.Context, text, voice string, onChunk ChunkHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.SynthErr != nil {
		err := m.SynthErr
		m.mu.Unlock()
		return err
	}
	m.Calls = append(m.Calls, text)
	m.Voices = append(m.Voices, voice)
	m.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return onChunk([]byte(text))
}

// Check implements Moderation, flagging text that contains any FlagWords
// entry.
func (m *Mock) Check(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CheckErr != nil {
		return Verdict{}, m.CheckErr
	}
	lower := strings.ToLower(text)
	for _, w := range m.FlagWords {
		if strings.Contains(lower, strings.ToLower(w)) {
			return Verdict{Flagged: true, Categories: []string{"mock"}}, nil
		}
	}
	return Verdict{}, nil
}
