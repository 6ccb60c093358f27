// Package provider defines the upstream AI contracts the voice pipeline
// is built on, plus OpenAI-backed and scripted implementations.
package provider

import "context"

// TokenHandler receives one streamed text token. It is called from the
// streaming goroutine, in order.
type TokenHandler func(token string)

// ChunkHandler receives one encoded audio chunk. Returning an error stops
// the synthesis stream.
type ChunkHandler func(chunk []byte) error

// ChatMessage is a single turn of LLM input.
type ChatMessage struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is the input to one LLM completion.
type ChatRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// Verdict is the outcome of a content moderation check.
type Verdict struct {
	Flagged    bool
	Categories []string
}

// STT turns a finished utterance of PCM16LE mono audio into text.
type STT interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// LLM streams a completion token by token and returns the full text.
type LLM interface {
	Stream(ctx context.Context, req ChatRequest, onToken TokenHandler) (string, error)
}

// TTS synthesizes speech for text, delivering encoded audio chunks as they
// arrive.
type TTS interface {
	Synthesize(ctx context.Context, text, voice string, onChunk ChunkHandler) error
}

// Moderation classifies text for policy violations.
type Moderation interface {
	Check(ctx context.Context, text string) (Verdict, error)
}
