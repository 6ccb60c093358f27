package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/antoniostano/renovox/internal/audio"
)

const ttsChunkBytes = 4096

// OpenAI implements STT, LLM, TTS, and Moderation against the OpenAI API.
type OpenAI struct {
	client    oai.Client
	chatModel string
	sttModel  string
	ttsModel  string
}

type openaiConfig struct {
	baseURL   string
	timeout   time.Duration
	chatModel string
	sttModel  string
	ttsModel  string
}

// OpenAIOption is a functional option for OpenAI.
type OpenAIOption func(*openaiConfig)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) { c.timeout = d }
}

// WithChatModel sets the chat completion model.
func WithChatModel(model string) OpenAIOption {
	return func(c *openaiConfig) { c.chatModel = model }
}

// WithSTTModel sets the transcription model.
func WithSTTModel(model string) OpenAIOption {
	return func(c *openaiConfig) { c.sttModel = model }
}

// WithTTSModel sets the speech synthesis model.
func WithTTSModel(model string) OpenAIOption {
	return func(c *openaiConfig) { c.ttsModel = model }
}

// NewOpenAI constructs an OpenAI-backed provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &openaiConfig{
		chatModel: "gpt-4o-mini",
		sttModel:  "whisper-1",
		ttsModel:  "tts-1",
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAI{
		client:    oai.NewClient(reqOpts...),
		chatModel: cfg.chatModel,
		sttModel:  cfg.sttModel,
		ttsModel:  cfg.ttsModel,
	}, nil
}

// Transcribe implements STT.
func (p *OpenAI) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return "", Permanent("openai: encode wav", err)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.sttModel),
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
	})
	if err != nil {
		return "", Classify("openai: transcribe", err)
	}
	return resp.Text, nil
}

// Stream implements LLM.
func (p *OpenAI) Stream(ctx context.Context, req ChatRequest, onToken TokenHandler) (string, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.chatModel),
		Messages: buildMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var full bytes.Buffer
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onToken != nil {
			onToken(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return full.String(), Classify("openai: chat stream", err)
	}
	return full.String(), nil
}

// Synthesize implements TTS. Audio arrives as MP3 and is delivered to
// onChunk as it streams off the wire.
func (p *OpenAI) Synthesize(ctx context.Context, text, voice string, onChunk ChunkHandler) error {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.ttsModel),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return Classify("openai: speech", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, ttsChunkBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if cbErr := onChunk(chunk); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return Classify("openai: speech stream", err)
		}
	}
}

// Check implements Moderation.
func (p *OpenAI) Check(ctx context.Context, text string) (Verdict, error) {
	resp, err := p.client.Moderations.New(ctx, oai.ModerationNewParams{
		Input: oai.ModerationNewParamsInputUnion{OfString: oai.String(text)},
	})
	if err != nil {
		return Verdict{}, Classify("openai: moderation", err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, nil
	}
	res := resp.Results[0]
	return Verdict{
		Flagged:    res.Flagged,
		Categories: flaggedCategories(res.Categories.RawJSON()),
	}, nil
}

// flaggedCategories extracts the names of categories marked true from the
// raw moderation categories object.
func flaggedCategories(raw string) []string {
	var cats map[string]bool
	if err := json.Unmarshal([]byte(raw), &cats); err != nil {
		return nil
	}
	var out []string
	for name, hit := range cats {
		if hit {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func buildMessages(msgs []ChatMessage) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}
