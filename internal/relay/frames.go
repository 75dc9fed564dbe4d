package relay

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation marks a malformed frame on either leg. Violations are
// dropped and logged; they never take the session down.
var ErrProtocolViolation = errors.New("relay: protocol violation")

// Telephony leg: JSON frames over the media-stream socket.

const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventClear     = "clear"
	eventStop      = "stop"
)

type telephonyFrame struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
}

type mediaPayload struct {
	Payload string `json:"payload"` // base64 audio
}

type markPayload struct {
	Name string `json:"name"`
}

type startPayload struct {
	StreamSid string `json:"streamSid"`
	CallSid   string `json:"callSid"`
}

// validate enforces the mandatory fields per event type.
func (f *telephonyFrame) validate() error {
	switch f.Event {
	case eventMedia:
		if f.StreamSid == "" {
			return fmt.Errorf("%w: media frame missing streamSid", ErrProtocolViolation)
		}
		if f.Media == nil || f.Media.Payload == "" {
			return fmt.Errorf("%w: media frame missing payload", ErrProtocolViolation)
		}
	case eventMark:
		if f.StreamSid == "" {
			return fmt.Errorf("%w: mark frame missing streamSid", ErrProtocolViolation)
		}
		if f.Mark == nil || f.Mark.Name == "" {
			return fmt.Errorf("%w: mark frame missing name", ErrProtocolViolation)
		}
	case eventClear:
		if f.StreamSid == "" {
			return fmt.Errorf("%w: clear frame missing streamSid", ErrProtocolViolation)
		}
	case eventStop, eventStart, eventConnected:
		// no mandatory fields beyond the event itself
	case "":
		return fmt.Errorf("%w: frame missing event", ErrProtocolViolation)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrProtocolViolation, f.Event)
	}
	return nil
}

// outboundMediaFrame is the telephony-bound translation of a speech audio
// event.
type outboundMediaFrame struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

// Speech-AI leg: one session.update, then append/commit commands.

type sessionUpdate struct {
	Type    string        `json:"type"` // "session.update"
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities        []string      `json:"modalities"`
	Instructions      string        `json:"instructions"`
	Voice             string        `json:"voice"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	TurnDetection     turnDetection `json:"turn_detection"`
	Temperature       float64       `json:"temperature"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type audioBufferAppend struct {
	Type  string `json:"type"` // "input_audio_buffer.append"
	Audio string `json:"audio"`
}

type audioBufferCommit struct {
	Type string `json:"type"` // "input_audio_buffer.commit"
}

// speechEvent is the subset of inbound speech-service events the relay acts
// on. Types other than audio and error are observed and logged only, never
// forwarded verbatim.
type speechEvent struct {
	Type  string       `json:"type"`
	Audio string       `json:"audio,omitempty"`
	Error *speechError `json:"error,omitempty"`
}

type speechError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
