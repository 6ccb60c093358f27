package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Client to server.
const (
	TypePing            MessageType = "ping"
	TypeAudioChunk      MessageType = "audio_chunk"
	TypeEndOfAudio      MessageType = "end_of_audio"
	TypeTextInput       MessageType = "text_input"
	TypeBargeIn         MessageType = "barge_in"
	TypeTTSPlaybackDone MessageType = "tts_playback_done"
	TypeWebRTCOffer     MessageType = "webrtc_offer"
	TypeICECandidate    MessageType = "ice_candidate"
)

// Server to client.
const (
	TypeConnected         MessageType = "connected"
	TypePong              MessageType = "pong"
	TypeSTTProcessing     MessageType = "stt_processing"
	TypePartialTranscript MessageType = "partial_transcript"
	TypeFinalTranscript   MessageType = "final_transcript"
	TypeLLMToken          MessageType = "llm_token"
	TypeTTSChunk          MessageType = "tts_chunk"
	TypeTTSDone           MessageType = "tts_done"
	TypeAgentChange       MessageType = "agent_change"
	TypeBargeInAck        MessageType = "barge_in_ack"
	TypeCheckpointSaved   MessageType = "checkpoint_saved"
	TypeGuardrailBlocked  MessageType = "guardrail_blocked"
	TypeStateUpdate       MessageType = "state_update"
	TypeWebRTCAnswer      MessageType = "webrtc_answer"
	TypeError             MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type Ping struct {
	Type MessageType `json:"type"`
}

type AudioChunk struct {
	Type        MessageType `json:"type"`
	PCM16Base64 string      `json:"data"`
	SampleRate  int         `json:"sample_rate,omitempty"`
	TurnID      int64       `json:"turn_id,omitempty"`
}

type EndOfAudio struct {
	Type   MessageType `json:"type"`
	TurnID int64       `json:"turn_id,omitempty"`
}

type TextInput struct {
	Type   MessageType `json:"type"`
	Text   string      `json:"text"`
	TurnID int64       `json:"turn_id,omitempty"`
}

type BargeIn struct {
	Type   MessageType `json:"type"`
	TurnID int64       `json:"turn_id,omitempty"`
}

type TTSPlaybackDone struct {
	Type MessageType `json:"type"`
}

type WebRTCOffer struct {
	Type MessageType `json:"type"`
	SDP  string      `json:"sdp"`
}

type ICECandidate struct {
	Type      MessageType     `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
}

type Connected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Agent     string      `json:"agent"`
}

type Pong struct {
	Type MessageType `json:"type"`
}

type STTProcessing struct {
	Type   MessageType `json:"type"`
	TurnID int64       `json:"turn_id"`
}

type PartialTranscript struct {
	Type   MessageType `json:"type"`
	Text   string      `json:"text"`
	TurnID int64       `json:"turn_id"`
}

type FinalTranscript struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	LatencyMs int64       `json:"latency_ms"`
	TurnID    int64       `json:"turn_id"`
}

type LLMToken struct {
	Type   MessageType `json:"type"`
	Token  string      `json:"token"`
	Agent  string      `json:"agent"`
	TurnID int64       `json:"turn_id"`
}

type TTSChunk struct {
	Type        MessageType `json:"type"`
	AudioBase64 string      `json:"audio"`
	Format      string      `json:"format"`
	Agent       string      `json:"agent"`
	TurnID      int64       `json:"turn_id"`
}

type TTSDone struct {
	Type   MessageType `json:"type"`
	Agent  string      `json:"agent"`
	TurnID int64       `json:"turn_id"`
}

type AgentChange struct {
	Type     MessageType `json:"type"`
	Agent    string      `json:"agent"`
	Previous string      `json:"previous"`
	TurnID   int64       `json:"turn_id"`
}

type BargeInAck struct {
	Type   MessageType `json:"type"`
	TurnID int64       `json:"turn_id"`
}

type CheckpointSaved struct {
	Type    MessageType `json:"type"`
	Partial string      `json:"partial"`
	TurnID  int64       `json:"turn_id"`
}

type GuardrailBlocked struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason"`
	TurnID int64       `json:"turn_id"`
}

type StateUpdate struct {
	Type   MessageType    `json:"type"`
	State  map[string]any `json:"state"`
	TurnID int64          `json:"turn_id"`
}

type WebRTCAnswer struct {
	Type MessageType `json:"type"`
	SDP  string      `json:"sdp"`
}

type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ParseClientMessage decodes a raw client frame into its typed form.
// Unknown types return ErrUnsupportedType so callers can log and move on.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypePing:
		return Ping{Type: env.Type}, nil
	case TypeAudioChunk:
		var msg AudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" {
			return nil, errors.New("invalid audio_chunk")
		}
		return msg, nil
	case TypeEndOfAudio:
		return EndOfAudio{Type: env.Type}, nil
	case TypeTextInput:
		var msg TextInput
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid text_input")
		}
		return msg, nil
	case TypeBargeIn:
		return BargeIn{Type: env.Type}, nil
	case TypeTTSPlaybackDone:
		return TTSPlaybackDone{Type: env.Type}, nil
	case TypeWebRTCOffer:
		var msg WebRTCOffer
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SDP == "" {
			return nil, errors.New("invalid webrtc_offer")
		}
		return msg, nil
	case TypeICECandidate:
		var msg ICECandidate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
