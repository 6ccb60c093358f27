package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/renovox/internal/audio"
	"github.com/antoniostano/renovox/internal/protocol"
	"github.com/antoniostano/renovox/internal/session"
	"github.com/antoniostano/renovox/internal/state"
)

const (
	defaultQueueSize  = 256
	defaultDeafWindow = 700 * time.Millisecond
	defaultNudgeAfter = 30 * time.Second
	defaultSampleRate = 16000
)

const bobGreeting = "Hi! I'm Bob, your renovation planning assistant. " +
	"I'm here to help you think through your project. " +
	"What room are you looking to renovate?"

const nudgeText = "Still with me? No rush, just let me know when you're ready to keep going."

var errQueueOverflow = errors.New("outbound queue overflow")

// Orchestrator owns the per-connection demux loop: it reads client frames,
// spawns turn pipelines, and serializes outbound events through a single
// writer.
type Orchestrator struct {
	Pipeline *Pipeline
	Sessions *session.Manager
	RTC      RTCRelay

	QueueSize  int
	DeafWindow time.Duration
	NudgeAfter time.Duration
	SampleRate int

	// SilenceWindow closes an utterance when the buffered audio ends in
	// at least this much silence, for clients that never send
	// end_of_audio. Zero disables server-side endpointing.
	SilenceWindow time.Duration
}

// Conn abstracts the websocket so the HTTP layer and tests can supply
// their own transport.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// connState is the mutable bookkeeping of one connection's demux.
type connState struct {
	mu       sync.Mutex
	audioBuf []byte
	rate     int
	ackTurns map[int64]bool
	nudged   bool
	turnBusy int
}

func (c *connState) appendAudio(pcm []byte, rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioBuf = append(c.audioBuf, pcm...)
	if rate > 0 {
		c.rate = rate
	}
}

func (c *connState) takeAudio() ([]byte, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, rate := c.audioBuf, c.rate
	c.audioBuf, c.rate = nil, 0
	return buf, rate
}

// endpoint takes the buffer once it ends in enough silence to call the
// utterance finished. Returns ok=false while speech may still be coming.
func (c *connState) endpoint(silence, minSpeech time.Duration, threshold float64, defaultRate int) ([]byte, int, bool) {
	if silence <= 0 {
		return nil, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rate := c.rate
	if rate <= 0 {
		rate = defaultRate
	}
	if audio.TrailingSilence(c.audioBuf, rate, threshold) < silence {
		return nil, 0, false
	}
	if audio.SpeechDuration(c.audioBuf, rate, threshold) < minSpeech {
		return nil, 0, false
	}
	buf := c.audioBuf
	c.audioBuf, c.rate = nil, 0
	return buf, rate, true
}

func (c *connState) wantAck(turnID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ackTurns[turnID] = true
}

func (c *connState) takeAck(turnID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := c.ackTurns[turnID]
	delete(c.ackTurns, turnID)
	return want
}

func (c *connState) setBusy(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnBusy += delta
}

func (c *connState) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnBusy > 0
}

func (c *connState) markNudged(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nudged = v
}

func (c *connState) wasNudged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nudged
}

// RunConnection drives one client connection to completion. It returns when
// the client disconnects, the envelope is unparseable, or the outbound
// queue overflows.
func (o *Orchestrator) RunConnection(ctx context.Context, conn Conn) error {
	queueSize := o.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	deaf := o.DeafWindow
	if deaf <= 0 {
		deaf = defaultDeafWindow
	}

	sess := o.Sessions.Create()
	defer func() { _ = o.Sessions.End(sess.ID) }()

	if m := o.Pipeline.Metrics; m != nil {
		m.ActiveSessions.Inc()
		defer m.ActiveSessions.Dec()
	}
	o.Pipeline.logf("session=%s connected", sess.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan any, queueSize)
	emit := func(event any) error {
		select {
		case out <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			cancel()
			return errQueueOverflow
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// Writer: the only goroutine that touches the socket for sends.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case event := <-out:
				if err := conn.WriteJSON(event); err != nil {
					return fmt.Errorf("write: %w", err)
				}
				o.countMessage("out", event)
			}
		}
	})

	cs := &connState{ackTurns: make(map[int64]bool)}

	// Greeting audio streams while the demux is already accepting input.
	g.Go(func() error {
		o.greet(gctx, sess, emit)
		return nil
	})

	// Inactivity nudge.
	g.Go(func() error {
		nudgeAfter := o.NudgeAfter
		if nudgeAfter <= 0 {
			nudgeAfter = defaultNudgeAfter
		}
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if cs.busy() || cs.wasNudged() {
					continue
				}
				if time.Since(sess.LastActivity()) < nudgeAfter {
					continue
				}
				cs.markNudged(true)
				o.Pipeline.logf("session=%s inactivity nudge", sess.ID)
				o.nudge(gctx, sess, emit)
			}
		}
	})

	// Reader: demux loop.
	g.Go(func() error {
		defer cancel()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			msg, err := protocol.ParseClientMessage(raw)
			if errors.Is(err, protocol.ErrUnsupportedType) {
				o.Pipeline.logf("session=%s unsupported message type, ignoring", sess.ID)
				continue
			}
			if err != nil {
				_ = emit(protocol.ErrorEvent{Type: protocol.TypeError, Message: "malformed message"})
				return fmt.Errorf("protocol: %w", err)
			}

			sess.Touch()
			cs.markNudged(false)
			o.countMessage("in", msg)

			switch m := msg.(type) {
			case protocol.Ping:
				_ = emit(protocol.Pong{Type: protocol.TypePong})

			case protocol.AudioChunk:
				if sess.Deaf(time.Now()) {
					continue
				}
				pcm, decErr := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if decErr != nil {
					o.Pipeline.logf("session=%s bad audio chunk: %v", sess.ID, decErr)
					continue
				}
				cs.appendAudio(pcm, m.SampleRate)
				if buf, rate, ok := cs.endpoint(o.SilenceWindow, o.Pipeline.MinSpeech, o.Pipeline.SpeechThreshold, o.sampleRate()); ok {
					o.startTurn(gctx, sess, cs, TurnInput{Audio: buf, SampleRate: rate}, emit)
				}

			case protocol.EndOfAudio:
				pcm, rate := cs.takeAudio()
				if len(pcm) == 0 {
					continue
				}
				if rate <= 0 {
					rate = o.sampleRate()
				}
				o.startTurn(gctx, sess, cs, TurnInput{Audio: pcm, SampleRate: rate}, emit)

			case protocol.TextInput:
				o.startTurn(gctx, sess, cs, TurnInput{Text: m.Text}, emit)

			case protocol.BargeIn:
				// The ack intent must be registered before the cancel
				// unblocks the turn goroutine, or it can reach takeAck
				// first and the ack is lost.
				id := sess.Snapshot().TurnCount
				cs.wantAck(id)
				if sess.CancelActiveTurn() {
					sess.SetDeafUntil(time.Now().Add(deaf))
					if mtr := o.Pipeline.Metrics; mtr != nil {
						mtr.BargeIns.Inc()
						mtr.TurnsTotal.WithLabelValues("cancelled").Inc()
					}
				} else {
					cs.takeAck(id)
				}

			case protocol.TTSPlaybackDone:
				sess.SetDeafUntil(time.Now().Add(deaf))

			case protocol.WebRTCOffer:
				o.handleOffer(gctx, sess.ID, m.SDP, emit)

			case protocol.ICECandidate:
				if o.RTC != nil {
					if err := o.RTC.AddCandidate(gctx, sess.ID, m.Candidate); err != nil {
						o.Pipeline.logf("session=%s ice candidate: %v", sess.ID, err)
					}
				}
			}
		}
	})

	err := g.Wait()
	o.Pipeline.logf("session=%s disconnected: %v", sess.ID, err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startTurn spawns the pipeline for one utterance. The demux never waits on
// it.
func (o *Orchestrator) startTurn(ctx context.Context, sess *session.Session, cs *connState, input TurnInput, emit Emitter) {
	id, turnCtx, _ := sess.BeginTurn(ctx)
	cs.setBusy(1)
	go func() {
		defer cs.setBusy(-1)
		phase, err := o.Pipeline.RunTurn(turnCtx, sess, id, input, emit)
		sess.FinishTurn(id)

		if errors.Is(err, ErrTurnCancelled) {
			// barge_in_ack is the last event of a cancelled turn.
			if cs.takeAck(id) {
				_ = emit(protocol.BargeInAck{Type: protocol.TypeBargeInAck, TurnID: id})
			}
			return
		}
		if err != nil {
			o.Pipeline.logf("session=%s turn=%d ended %s: %v", sess.ID, id, phase, err)
		}
	}()
}

// nudge speaks the canned inactivity prompt on a fresh turn id. Clients
// discard events whose turn id is older than their counter, so reusing an
// old id would make the nudge audio vanish after the first real turn.
func (o *Orchestrator) nudge(ctx context.Context, sess *session.Session, emit Emitter) {
	id, turnCtx, cancel := sess.BeginTurn(ctx)
	defer cancel()
	cur := sess.Agents.Current()
	if err := o.Pipeline.speak(turnCtx, sess, id, nudgeText, cur, emit); err == nil {
		_ = emit(protocol.TTSDone{Type: protocol.TypeTTSDone, TurnID: id, Agent: cur})
	}
	sess.FinishTurn(id)
}

func (o *Orchestrator) greet(ctx context.Context, sess *session.Session, emit Emitter) {
	_ = emit(protocol.Connected{
		Type:      protocol.TypeConnected,
		SessionID: sess.ID,
		Agent:     sess.Agents.Current(),
	})

	_ = emit(protocol.LLMToken{Type: protocol.TypeLLMToken, Token: bobGreeting, Agent: sess.Agents.Current()})
	if err := o.Pipeline.speak(ctx, sess, 0, bobGreeting, sess.Agents.Current(), emit); err != nil {
		o.Pipeline.logf("session=%s greeting tts: %v", sess.ID, err)
	}
	_ = emit(protocol.TTSDone{Type: protocol.TypeTTSDone, Agent: sess.Agents.Current()})

	sess.State.MarkAgentSeen(sess.Agents.Current())
	sess.State.AppendTurn(state.SpeakerSystem, bobGreeting)
}

func (o *Orchestrator) handleOffer(ctx context.Context, sessionID, sdp string, emit Emitter) {
	if o.RTC == nil {
		return
	}
	answer, err := o.RTC.HandleOffer(ctx, sessionID, sdp)
	if err != nil {
		if !errors.Is(err, ErrRTCUnavailable) {
			o.Pipeline.logf("session=%s webrtc offer: %v", sessionID, err)
		}
		return
	}
	_ = emit(protocol.WebRTCAnswer{Type: protocol.TypeWebRTCAnswer, SDP: answer})
}

func (o *Orchestrator) countMessage(direction string, event any) {
	m := o.Pipeline.Metrics
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, eventType(event)).Inc()
}

func (o *Orchestrator) sampleRate() int {
	if o.SampleRate > 0 {
		return o.SampleRate
	}
	return defaultSampleRate
}

// eventType pulls the wire type tag off any protocol struct for metrics
// labels.
func eventType(event any) string {
	v := reflect.ValueOf(event)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if f := v.FieldByName("Type"); f.IsValid() && f.Kind() == reflect.String {
			return f.String()
		}
	}
	return "unknown"
}
