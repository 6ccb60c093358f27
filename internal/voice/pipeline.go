// Package voice runs the per-turn pipeline (STT, routing, moderation, LLM
// streaming, sentence-level TTS) and the per-connection orchestrator that
// feeds it.
package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/renovox/internal/agent"
	"github.com/antoniostano/renovox/internal/audio"
	"github.com/antoniostano/renovox/internal/observability"
	"github.com/antoniostano/renovox/internal/policy"
	"github.com/antoniostano/renovox/internal/protocol"
	"github.com/antoniostano/renovox/internal/provider"
	"github.com/antoniostano/renovox/internal/session"
	"github.com/antoniostano/renovox/internal/state"
)

// Phase is the position of a turn in its state machine.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseTranscribing Phase = "transcribing"
	PhaseRouting      Phase = "routing"
	PhaseModeratingIn Phase = "moderating_in"
	PhaseGenerating   Phase = "generating"
	PhaseSpeaking     Phase = "speaking"
	PhaseDone         Phase = "done"
	PhaseCancelled    Phase = "cancelled"
	PhaseBlocked      Phase = "blocked"
	PhaseFailed       Phase = "failed"
)

// ErrTurnCancelled marks a turn ended by barge-in or supersession.
var ErrTurnCancelled = errors.New("turn cancelled")

// checkpointPreview bounds the partial-reply preview sent to the client.
const checkpointPreview = 120

// TurnInput is one user utterance: either buffered audio or typed text.
type TurnInput struct {
	Audio      []byte
	SampleRate int
	Text       string
}

// Emitter delivers one outbound event to the session queue. A non-nil
// error means the session is closing and the turn should stop.
type Emitter func(event any) error

// Pipeline drives turns. One Pipeline is shared by all sessions; the
// adapters it holds must be safe for concurrent use.
type Pipeline struct {
	STT     provider.STT
	LLM     provider.LLM
	TTS     provider.TTS
	Guard   *policy.Guardrail
	Metrics *observability.Metrics
	Latency *observability.LatencyWindow
	Logger  *log.Logger

	MaxTokens       int
	Temperature     float64
	MinSpeech       time.Duration
	SpeechThreshold float64
}

func (p *Pipeline) logf(format string, args ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}

// RunTurn executes one full turn. The returned phase is terminal.
func (p *Pipeline) RunTurn(ctx context.Context, sess *session.Session, turnID int64, input TurnInput, emit Emitter) (Phase, error) {
	start := time.Now()

	transcript, phase, err := p.transcribe(ctx, sess, turnID, input, emit)
	if phase != "" {
		return phase, err
	}
	if err := ctx.Err(); err != nil {
		return PhaseCancelled, ErrTurnCancelled
	}

	// Routing. Transfers skip input moderation: the utterance is a
	// routing command, not content.
	var note *agent.HandoffNote
	prevAgent := sess.Agents.Current()
	transfer := agent.DetectTransfer(transcript, prevAgent)
	if transfer != nil {
		if ph, err := p.performTransfer(ctx, sess, turnID, transcript, transfer, emit); ph != "" {
			return ph, err
		}
		n := agent.NewHandoffNote(sess.State.Snapshot(), transcript, transfer.Target)
		note = &n
	} else {
		res := p.Guard.Check(ctx, transcript)
		if !res.OK {
			if p.Metrics != nil {
				p.Metrics.GuardrailBlocks.WithLabelValues("input").Inc()
			}
			_ = emit(protocol.GuardrailBlocked{Type: protocol.TypeGuardrailBlocked, Reason: res.Reason, TurnID: turnID})
			return PhaseBlocked, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return PhaseCancelled, ErrTurnCancelled
	}

	curAgent := sess.Agents.Current()

	// If the previous reply was cut off, surface what was already said so
	// the model does not repeat itself.
	if prior := sess.PopCheckpoint(); prior != "" {
		sess.State.AppendTurn(curAgent, "[interrupted, was saying: "+prior+"]")
	}

	reply, phase, err := p.generate(ctx, sess, turnID, transcript, curAgent, note, emit)
	if phase != PhaseSpeaking {
		return phase, err
	}

	_ = emit(protocol.TTSDone{Type: protocol.TypeTTSDone, Agent: curAgent, TurnID: turnID})

	// Commit. Tail entries and extraction run only for turns that made it
	// all the way through.
	sess.State.AppendTurn(state.SpeakerUser, transcript)
	sess.State.UpdateFromUser(transcript)
	sess.State.AppendTurn(curAgent, reply)
	sess.State.UpdateFromAgent(reply)
	sess.State.MarkAgentSeen(curAgent)

	_ = emit(protocol.StateUpdate{Type: protocol.TypeStateUpdate, State: sess.State.StateMap(), TurnID: turnID})

	if p.Metrics != nil {
		p.Metrics.TurnsTotal.WithLabelValues("done").Inc()
	}
	if p.Latency != nil {
		p.Latency.Observe(observability.StageTurnTotal, time.Since(start))
	}
	return PhaseDone, nil
}

// transcribe resolves the turn input to text. A non-empty returned phase is
// terminal and ends the turn.
func (p *Pipeline) transcribe(ctx context.Context, sess *session.Session, turnID int64, input TurnInput, emit Emitter) (string, Phase, error) {
	if input.Text != "" {
		_ = emit(protocol.FinalTranscript{Type: protocol.TypeFinalTranscript, Text: input.Text, TurnID: turnID})
		redacted, _ := policy.RedactPII(input.Text)
		return redacted, "", nil
	}

	_ = emit(protocol.STTProcessing{Type: protocol.TypeSTTProcessing, TurnID: turnID})

	if audio.SpeechDuration(input.Audio, input.SampleRate, p.SpeechThreshold) < p.MinSpeech {
		// Silence or stray noise. No user turn, no error.
		return "", PhaseDone, nil
	}

	if !sess.Breaker.Allow() {
		_ = emit(protocol.ErrorEvent{Type: protocol.TypeError, Message: "We're having temporary difficulty. Please try again in a moment."})
		return "", PhaseFailed, nil
	}

	sttStart := time.Now()
	text, err := p.STT.Transcribe(ctx, input.Audio, input.SampleRate)
	if err != nil {
		if ctx.Err() != nil {
			return "", PhaseCancelled, ErrTurnCancelled
		}
		p.recordAdapterError(sess, "stt", err)
		_ = emit(protocol.ErrorEvent{Type: protocol.TypeError, Message: "Could not transcribe audio. Please try again."})
		return "", PhaseFailed, err
	}
	sess.Breaker.RecordSuccess()

	sttLatency := time.Since(sttStart)
	if p.Metrics != nil {
		p.Metrics.ObserveSTTLatency(sttLatency)
	}
	if p.Latency != nil {
		p.Latency.Observe(observability.StageSTT, sttLatency)
	}

	redacted, _ := policy.RedactPII(text)
	if redacted == "" {
		return "", PhaseDone, nil
	}

	_ = emit(protocol.FinalTranscript{
		Type:      protocol.TypeFinalTranscript,
		Text:      redacted,
		LatencyMs: sttLatency.Milliseconds(),
		TurnID:    turnID,
	})
	return redacted, "", nil
}

// performTransfer announces the handoff in the outgoing voice and switches
// personas. A non-empty returned phase ends the turn.
func (p *Pipeline) performTransfer(ctx context.Context, sess *session.Session, turnID int64, transcript string, transfer *agent.Transfer, emit Emitter) (Phase, error) {
	prev := sess.Agents.Current()
	_ = emit(protocol.AgentChange{
		Type:     protocol.TypeAgentChange,
		Agent:    transfer.Target,
		Previous: prev,
		TurnID:   turnID,
	})

	ack := agent.TransferAck(transfer.Target)
	if err := p.speak(ctx, sess, turnID, ack, prev, emit); err != nil {
		if ctx.Err() != nil {
			return PhaseCancelled, ErrTurnCancelled
		}
		p.logf("session=%s turn=%d transfer ack tts: %v", sess.ID, turnID, err)
	}

	if err := sess.Agents.Switch(transfer.Target); err != nil {
		return PhaseFailed, err
	}
	sess.State.AppendTurn(state.SpeakerSystem, "[Transferred to "+transfer.Target+"]")

	if p.Metrics != nil {
		p.Metrics.AgentTransfers.WithLabelValues(transfer.Target).Inc()
	}
	p.logf("session=%s turn=%d transfer %s -> %s", sess.ID, turnID, prev, transfer.Target)
	return "", nil
}

// generate streams the LLM reply, synthesizing sentence by sentence as
// tokens arrive. On success it returns the full reply with PhaseSpeaking.
func (p *Pipeline) generate(ctx context.Context, sess *session.Session, turnID int64, transcript, curAgent string, note *agent.HandoffNote, emit Emitter) (string, Phase, error) {
	if !sess.Breaker.Allow() {
		_ = emit(protocol.ErrorEvent{Type: protocol.TypeError, Message: "We're having temporary difficulty. Please try again in a moment."})
		return "", PhaseFailed, nil
	}

	msgs := sess.Agents.BuildMessages(sess.State.Snapshot(), transcript, note)

	genStart := time.Now()
	firstToken := false

	ttsCtx, cancelTTS := context.WithCancel(ctx)
	defer cancelTTS()

	sentences := make(chan string, 16)
	var ttsErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first := true
		for sentence := range sentences {
			if ttsCtx.Err() != nil {
				continue
			}
			if err := p.speak(ttsCtx, sess, turnID, sentence, curAgent, emit); err != nil {
				if ttsErr == nil {
					ttsErr = err
				}
				continue
			}
			if first {
				d := time.Since(genStart)
				if p.Metrics != nil {
					p.Metrics.ObserveFirstAudioLatency(d)
				}
				if p.Latency != nil {
					p.Latency.Observe(observability.StageFirstAudio, d)
				}
				first = false
			}
		}
	}()

	var sb sentenceBuffer
	reply, err := p.LLM.Stream(ctx, provider.ChatRequest{
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}, func(token string) {
		if !firstToken {
			firstToken = true
			d := time.Since(genStart)
			if p.Metrics != nil {
				p.Metrics.ObserveFirstTokenLatency(d)
			}
			if p.Latency != nil {
				p.Latency.Observe(observability.StageFirstToken, d)
			}
		}
		_ = emit(protocol.LLMToken{Type: protocol.TypeLLMToken, Token: token, Agent: curAgent, TurnID: turnID})
		for _, s := range sb.Add(token) {
			select {
			case sentences <- s:
			case <-ctx.Done():
			}
		}
	})

	if err != nil {
		cancelTTS()
		close(sentences)
		wg.Wait()
		if ctx.Err() != nil {
			p.checkpoint(sess, turnID, reply, emit)
			return reply, PhaseCancelled, ErrTurnCancelled
		}
		p.recordAdapterError(sess, "llm", err)
		_ = emit(protocol.ErrorEvent{Type: protocol.TypeError, Message: "I lost my train of thought. Could you say that again?"})
		return reply, PhaseFailed, err
	}
	sess.Breaker.RecordSuccess()

	// Output moderation runs on the completed reply before the final
	// sentence is synthesized. Audio already sent stays sent.
	if res := p.Guard.Check(ctx, reply); !res.OK {
		cancelTTS()
		close(sentences)
		wg.Wait()
		if p.Metrics != nil {
			p.Metrics.GuardrailBlocks.WithLabelValues("output").Inc()
		}
		_ = emit(protocol.GuardrailBlocked{Type: protocol.TypeGuardrailBlocked, Reason: res.Reason, TurnID: turnID})
		// The user's words still count as context even though the reply
		// was dropped.
		sess.State.AppendTurn(state.SpeakerUser, transcript)
		sess.State.UpdateFromUser(transcript)
		return reply, PhaseBlocked, nil
	}

	if rest := sb.Flush(); rest != "" {
		select {
		case sentences <- rest:
		case <-ctx.Done():
		}
	}
	close(sentences)
	wg.Wait()

	if ctx.Err() != nil {
		p.checkpoint(sess, turnID, reply, emit)
		return reply, PhaseCancelled, ErrTurnCancelled
	}
	if ttsErr != nil {
		p.recordAdapterError(sess, "tts", ttsErr)
		_ = emit(protocol.ErrorEvent{Type: protocol.TypeError, Message: "Audio synthesis failed. The text reply is complete."})
	}
	return reply, PhaseSpeaking, nil
}

// speak synthesizes one span of text in the persona's voice and forwards
// the audio.
func (p *Pipeline) speak(ctx context.Context, sess *session.Session, turnID int64, text, agentID string, emit Emitter) error {
	clean := sanitizeSpeechText(text)
	if clean == "" {
		return nil
	}
	voice := sess.Agents.Persona(agentID).VoiceID
	return p.TTS.Synthesize(ctx, clean, voice, func(chunk []byte) error {
		return emit(protocol.TTSChunk{
			Type:        protocol.TypeTTSChunk,
			AudioBase64: base64.StdEncoding.EncodeToString(chunk),
			Format:      "mp3",
			Agent:       agentID,
			TurnID:      turnID,
		})
	})
}

// checkpoint saves the partial reply cut off by a barge-in and tells the
// client it is safe.
func (p *Pipeline) checkpoint(sess *session.Session, turnID int64, partial string, emit Emitter) {
	partial = strings.TrimSpace(partial)
	if partial == "" {
		return
	}
	sess.SaveCheckpoint(partial)
	preview := partial
	if len(preview) > checkpointPreview {
		cut := checkpointPreview
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}
	_ = emit(protocol.CheckpointSaved{Type: protocol.TypeCheckpointSaved, Partial: preview, TurnID: turnID})
}

func (p *Pipeline) recordAdapterError(sess *session.Session, adapter string, err error) {
	class := "permanent"
	if provider.IsTransient(err) {
		class = "transient"
	} else {
		sess.Breaker.RecordFailure()
	}
	if p.Metrics != nil {
		p.Metrics.ProviderErrors.WithLabelValues(adapter, class).Inc()
		p.Metrics.TurnsTotal.WithLabelValues("failed").Inc()
	}
	p.logf("session=%s %s adapter error (%s): %v", sess.ID, adapter, class, err)
}
