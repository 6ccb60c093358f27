package voice

import (
	"context"
	"encoding/json"
	"errors"
)

// RTCRelay handles the optional WebRTC signaling path. Audio for STT always
// arrives over the WebSocket; the relay only negotiates a lower-latency
// outbound playback channel.
type RTCRelay interface {
	HandleOffer(ctx context.Context, sessionID, sdp string) (answerSDP string, err error)
	AddCandidate(ctx context.Context, sessionID string, candidate json.RawMessage) error
}

// ErrRTCUnavailable is returned when no media stack is configured.
var ErrRTCUnavailable = errors.New("webrtc relay not configured")

// NoopRTC declines every offer. It keeps the signaling endpoints alive for
// clients that probe for WebRTC support.
type NoopRTC struct{}

func (NoopRTC) HandleOffer(context.Context, string, string) (string, error) {
	return "", ErrRTCUnavailable
}

func (NoopRTC) AddCandidate(context.Context, string, json.RawMessage) error {
	return nil
}
