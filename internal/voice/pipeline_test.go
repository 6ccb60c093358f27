package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	dto "github.com/prometheus/client_model/go"

	"github.com/antoniostano/renovox/internal/agent"
	"github.com/antoniostano/renovox/internal/observability"
	"github.com/antoniostano/renovox/internal/policy"
	"github.com/antoniostano/renovox/internal/protocol"
	"github.com/antoniostano/renovox/internal/provider"
	"github.com/antoniostano/renovox/internal/session"
)

type collector struct {
	mu     sync.Mutex
	events []any
}

func (c *collector) emit(event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *collector) list() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) indexOf(matches func(any) bool) int {
	for i, ev := range c.list() {
		if matches(ev) {
			return i
		}
	}
	return -1
}

func newTestPipeline(mock *provider.Mock) *Pipeline {
	return &Pipeline{
		STT:             mock,
		LLM:             mock,
		TTS:             mock,
		Guard:           policy.NewGuardrail(true, nil),
		MaxTokens:       400,
		Temperature:     0.7,
		MinSpeech:       200 * time.Millisecond,
		SpeechThreshold: 0.02,
	}
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	return session.NewManager(time.Minute, "alloy", "shimmer").Create()
}

const intakeText = "Hi Bob, I want to remodel my kitchen. Budget is around $25k. I want new cabinets and countertops, and maybe open up a wall."

func TestRunTurnIntake(t *testing.T) {
	mock := provider.NewMock()
	mock.Replies = []string{"Great project. Opening a wall can hit a load-bearing issue, so plan for that."}
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	var c collector

	phase, err := p.RunTurn(context.Background(), sess, 1, TurnInput{Text: intakeText}, c.emit)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if phase != PhaseDone {
		t.Fatalf("phase = %q, want done", phase)
	}

	ft := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.FinalTranscript); return ok })
	tok := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.LLMToken); return ok })
	done := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.TTSDone); return ok })
	upd := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.StateUpdate); return ok })
	if ft < 0 || tok < 0 || done < 0 || upd < 0 {
		t.Fatalf("missing events, got %#v", c.list())
	}
	if !(ft < tok && tok < done && done < upd) {
		t.Fatalf("event order wrong: ft=%d tok=%d done=%d upd=%d", ft, tok, done, upd)
	}
	if i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.AgentChange); return ok }); i >= 0 {
		t.Fatal("intake turn should not emit agent_change")
	}

	snap := sess.State.Snapshot()
	if snap.Project.Room != "kitchen" || snap.Project.Budget != "$25k" {
		t.Fatalf("project = %+v", snap.Project)
	}
	if len(snap.Risks) == 0 || !strings.Contains(snap.Risks[0], "load-bearing") {
		t.Fatalf("risks = %v, want load-bearing entry", snap.Risks)
	}
	// One user entry and one agent entry on the tail.
	users, agents := 0, 0
	for _, e := range snap.RecentTranscript {
		switch e.Speaker {
		case "user":
			users++
		case agent.AgentBob:
			agents++
		}
	}
	if users != 1 || agents != 1 {
		t.Fatalf("tail commits user=%d agent=%d, want 1/1", users, agents)
	}
}

func TestRunTurnTransferToAlice(t *testing.T) {
	mock := provider.NewMock()
	mock.Replies = []string{
		"Got it, kitchen with a $25k budget.",
		"Looking at the wall question first.",
	}
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	var c collector

	if _, err := p.RunTurn(context.Background(), sess, 1, TurnInput{Text: intakeText}, c.emit); err != nil {
		t.Fatalf("intake turn: %v", err)
	}

	var c2 collector
	phase, err := p.RunTurn(context.Background(), sess, 2, TurnInput{Text: "Transfer me to Alice"}, c2.emit)
	if err != nil {
		t.Fatalf("transfer turn: %v", err)
	}
	if phase != PhaseDone {
		t.Fatalf("phase = %q, want done", phase)
	}

	change := c2.indexOf(func(ev any) bool {
		ac, ok := ev.(protocol.AgentChange)
		return ok && ac.Agent == agent.AgentAlice && ac.Previous == agent.AgentBob
	})
	firstTok := c2.indexOf(func(ev any) bool { _, ok := ev.(protocol.LLMToken); return ok })
	if change < 0 {
		t.Fatal("agent_change missing")
	}
	if firstTok >= 0 && change > firstTok {
		t.Fatal("agent_change must precede the first llm_token")
	}

	// The acknowledgement is spoken in Bob's voice before any Alice audio.
	if len(mock.Voices) < 2 {
		t.Fatalf("voices = %v, want ack plus reply", mock.Voices)
	}
	bobIdx, aliceIdx := -1, -1
	for i, v := range mock.Voices {
		if v == "alloy" && strings.Contains(mock.Calls[i], "Bringing Alice in") {
			bobIdx = i
		}
		if v == "shimmer" && aliceIdx < 0 {
			aliceIdx = i
		}
	}
	if bobIdx < 0 || aliceIdx < bobIdx {
		t.Fatalf("voice order wrong: calls=%v voices=%v", mock.Calls, mock.Voices)
	}

	// The new persona's prompt carries the handoff note exactly once.
	req := mock.Requests[len(mock.Requests)-1]
	noteCount := 0
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "HANDOFF NOTE") {
			noteCount++
			if !strings.Contains(m.Content, "kitchen") || !strings.Contains(m.Content, "$25k") {
				t.Fatalf("handoff note missing project facts:\n%s", m.Content)
			}
		}
	}
	if noteCount != 1 {
		t.Fatalf("handoff note system messages = %d, want 1", noteCount)
	}

	if sess.Agents.Current() != agent.AgentAlice {
		t.Fatalf("current agent = %q, want alice", sess.Agents.Current())
	}
	if !sess.State.HasSeenAgent(agent.AgentAlice) {
		t.Fatal("alice should be in agent_seen after her reply")
	}

	// A third turn has no handoff note.
	var c3 collector
	if _, err := p.RunTurn(context.Background(), sess, 3, TurnInput{Text: "What about permits?"}, c3.emit); err != nil {
		t.Fatalf("followup turn: %v", err)
	}
	req = mock.Requests[len(mock.Requests)-1]
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "HANDOFF NOTE") {
			t.Fatal("handoff note should not persist past the transfer turn")
		}
	}
}

func TestRunTurnTransferToCurrentAgentIsNoop(t *testing.T) {
	mock := provider.NewMock()
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	var c collector

	if _, err := p.RunTurn(context.Background(), sess, 1, TurnInput{Text: "let me talk to bob"}, c.emit); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.AgentChange); return ok }); i >= 0 {
		t.Fatal("no agent_change expected for transfer to current agent")
	}
}

type hangingLLM struct {
	tokens  []string
	started chan struct{}
}

func (l *hangingLLM) Stream(ctx context.Context, _ provider.ChatRequest, onToken provider.TokenHandler) (string, error) {
	var full strings.Builder
	for _, tok := range l.tokens {
		full.WriteString(tok)
		onToken(tok)
	}
	close(l.started)
	<-ctx.Done()
	return full.String(), ctx.Err()
}

func TestRunTurnBargeIn(t *testing.T) {
	mock := provider.NewMock()
	llm := &hangingLLM{tokens: []string{"Let me walk ", "you through it. ", "First"}, started: make(chan struct{})}
	p := newTestPipeline(mock)
	p.LLM = llm
	sess := newTestSession(t)
	var c collector

	id, turnCtx, _ := sess.BeginTurn(context.Background())
	done := make(chan struct{})
	var phase Phase
	var err error
	go func() {
		phase, err = p.RunTurn(turnCtx, sess, id, TurnInput{Text: "walk me through drywall"}, c.emit)
		close(done)
	}()

	<-llm.started
	if !sess.CancelActiveTurn() {
		t.Fatal("expected an active turn to cancel")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not observe cancellation")
	}

	if !errors.Is(err, ErrTurnCancelled) {
		t.Fatalf("err = %v, want ErrTurnCancelled", err)
	}
	if phase != PhaseCancelled {
		t.Fatalf("phase = %q, want cancelled", phase)
	}

	cp := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.CheckpointSaved); return ok })
	if cp < 0 {
		t.Fatalf("checkpoint_saved missing: %#v", c.list())
	}
	saved := c.list()[cp].(protocol.CheckpointSaved)
	if !strings.Contains(saved.Partial, "Let me walk") {
		t.Fatalf("checkpoint partial = %q", saved.Partial)
	}
	if i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.TTSDone); return ok }); i >= 0 {
		t.Fatal("cancelled turn must not emit tts_done")
	}
	for i, ev := range c.list() {
		if _, ok := ev.(protocol.TTSChunk); ok && i > cp {
			t.Fatal("tts_chunk after checkpoint_saved")
		}
	}
	if got := sess.PopCheckpoint(); !strings.Contains(got, "Let me walk") {
		t.Fatalf("session checkpoint = %q", got)
	}
}

func TestRunTurnObservesFirstAudioLatency(t *testing.T) {
	mock := provider.NewMock()
	mock.Replies = []string{"Start with the cabinets, then the counters."}
	p := newTestPipeline(mock)
	p.Metrics = observability.NewMetrics("renovoxtest")
	sess := newTestSession(t)
	var c collector

	if _, err := p.RunTurn(context.Background(), sess, 1, TurnInput{Text: "where do I start"}, c.emit); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	var sample dto.Metric
	if err := p.Metrics.FirstAudioLatency.Write(&sample); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	if got := sample.GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("first audio samples = %d, want 1", got)
	}
}

func TestCheckpointPreviewKeepsRuneBoundary(t *testing.T) {
	mock := provider.NewMock()
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	var c collector

	// Byte 120 lands mid-rune: 1 ASCII byte then 3-byte runes.
	partial := "a" + strings.Repeat("世", 50)
	p.checkpoint(sess, 1, partial, c.emit)

	i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.CheckpointSaved); return ok })
	if i < 0 {
		t.Fatal("checkpoint_saved not emitted")
	}
	cp := c.list()[i].(protocol.CheckpointSaved)
	if len(cp.Partial) > checkpointPreview {
		t.Fatalf("preview length = %d, cap is %d", len(cp.Partial), checkpointPreview)
	}
	if !utf8.ValidString(cp.Partial) {
		t.Fatalf("preview is not valid UTF-8: %q", cp.Partial)
	}
	if !strings.HasPrefix(partial, cp.Partial) {
		t.Fatalf("preview %q is not a prefix of the partial", cp.Partial)
	}
	if got := sess.PopCheckpoint(); got != partial {
		t.Fatalf("stored checkpoint truncated: %q", got)
	}
}

func TestRunTurnCheckpointFeedsNextTurn(t *testing.T) {
	mock := provider.NewMock()
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	sess.SaveCheckpoint("the first step is demolition")

	var c collector
	if _, err := p.RunTurn(context.Background(), sess, 2, TurnInput{Text: "sorry, go on"}, c.emit); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	req := mock.Requests[len(mock.Requests)-1]
	found := false
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "interrupted, was saying: the first step is demolition") {
			found = true
		}
	}
	if !found {
		t.Fatal("interrupted partial should appear in next turn context")
	}
	if got := sess.PopCheckpoint(); got != "" {
		t.Fatalf("checkpoint not consumed, still %q", got)
	}
}

func TestRunTurnInputModerationBlocked(t *testing.T) {
	mock := provider.NewMock()
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	var c collector

	phase, err := p.RunTurn(context.Background(), sess, 1, TurnInput{Text: "tell me how to make a bomb"}, c.emit)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if phase != PhaseBlocked {
		t.Fatalf("phase = %q, want blocked", phase)
	}
	if i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.GuardrailBlocked); return ok }); i < 0 {
		t.Fatal("guardrail_blocked missing")
	}
	if i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.LLMToken); return ok }); i >= 0 {
		t.Fatal("no llm_token expected for blocked input")
	}
	if tail := sess.State.Snapshot().RecentTranscript; len(tail) != 0 {
		t.Fatalf("tail = %v, want unchanged", tail)
	}
}

func TestRunTurnOutputModerationBlocked(t *testing.T) {
	mock := provider.NewMock()
	mock.Replies = []string{"you could kill yourself doing that without a harness"}
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	var c collector

	phase, err := p.RunTurn(context.Background(), sess, 1, TurnInput{Text: "is roof work risky"}, c.emit)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if phase != PhaseBlocked {
		t.Fatalf("phase = %q, want blocked", phase)
	}
	if i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.TTSDone); return ok }); i >= 0 {
		t.Fatal("tts_done must be suppressed when output is blocked")
	}
	// The user's words still commit, the reply does not.
	tail := sess.State.Snapshot().RecentTranscript
	if len(tail) != 1 || tail[0].Speaker != "user" {
		t.Fatalf("tail = %v, want single user entry", tail)
	}
}

func TestRunTurnSilentAudio(t *testing.T) {
	mock := provider.NewMock()
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	var c collector

	silence := make([]byte, 16000) // half a second of zeros
	phase, err := p.RunTurn(context.Background(), sess, 1, TurnInput{Audio: silence, SampleRate: 16000}, c.emit)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if phase != PhaseDone {
		t.Fatalf("phase = %q, want done", phase)
	}
	events := c.list()
	if len(events) != 1 {
		t.Fatalf("events = %#v, want only stt_processing", events)
	}
	if _, ok := events[0].(protocol.STTProcessing); !ok {
		t.Fatalf("events[0] = %T, want STTProcessing", events[0])
	}
	if tail := sess.State.Snapshot().RecentTranscript; len(tail) != 0 {
		t.Fatal("silent audio must not mutate state")
	}
}

func TestRunTurnSTTFailureEmitsError(t *testing.T) {
	mock := provider.NewMock()
	mock.TranscribeErr = provider.Permanent("stt", errors.New("bad audio"))
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	var c collector

	voiced := make([]byte, 32000)
	for i := range voiced {
		voiced[i] = byte(i % 251)
	}
	phase, _ := p.RunTurn(context.Background(), sess, 1, TurnInput{Audio: voiced, SampleRate: 16000}, c.emit)
	if phase != PhaseFailed {
		t.Fatalf("phase = %q, want failed", phase)
	}
	if i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.ErrorEvent); return ok }); i < 0 {
		t.Fatal("error event missing")
	}
}

func TestRunTurnCircuitOpenFailsFast(t *testing.T) {
	mock := provider.NewMock()
	p := newTestPipeline(mock)
	sess := newTestSession(t)
	for i := 0; i < 3; i++ {
		sess.Breaker.RecordFailure()
	}

	var c collector
	phase, _ := p.RunTurn(context.Background(), sess, 1, TurnInput{Text: "hello"}, c.emit)
	if phase != PhaseFailed {
		t.Fatalf("phase = %q, want failed", phase)
	}
	ev := c.list()
	last := ev[len(ev)-1]
	ee, ok := last.(protocol.ErrorEvent)
	if !ok || !strings.Contains(ee.Message, "temporary difficulty") {
		t.Fatalf("last event = %#v, want temporary difficulty error", last)
	}
	if i := c.indexOf(func(ev any) bool { _, ok := ev.(protocol.LLMToken); return ok }); i >= 0 {
		t.Fatal("open breaker must not reach the LLM")
	}
}
