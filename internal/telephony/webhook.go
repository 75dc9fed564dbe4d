package telephony

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"voicebridge/internal/calls"
)

// Payload parsers for provider callbacks. Twilio sends voice webhooks as
// application/x-www-form-urlencoded; the transcription service posts JSON.
// These stay provider-adapter-only: no business logic here.

type CallStatusPayload struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
}

func ParseCallStatus(r *http.Request) (CallStatusPayload, error) {
	if err := r.ParseForm(); err != nil {
		return CallStatusPayload{}, err
	}
	return CallStatusPayload{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
	}, nil
}

// Status maps the provider's status vocabulary onto the tracked one.
func (p CallStatusPayload) Status() calls.Status {
	switch p.CallStatus {
	case "queued", "initiated", "ringing":
		return calls.StatusRinging
	case "in-progress", "answered":
		return calls.StatusInProgress
	case "completed":
		return calls.StatusCompleted
	case "busy", "failed", "no-answer", "canceled":
		return calls.StatusFailed
	default:
		return calls.Status(p.CallStatus)
	}
}

// CounterpartNumber is the remote party for the tracked direction.
func (p CallStatusPayload) CounterpartNumber() string {
	if p.TrackedDirection() == calls.DirectionOutbound {
		return p.To
	}
	return p.From
}

func (p CallStatusPayload) TrackedDirection() calls.Direction {
	if strings.HasPrefix(p.Direction, "outbound") {
		return calls.DirectionOutbound
	}
	return calls.DirectionInbound
}

type RecordingStatusPayload struct {
	CallSid         string
	RecordingSid    string
	RecordingStatus string
}

func ParseRecordingStatus(r *http.Request) (RecordingStatusPayload, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingStatusPayload{}, err
	}
	return RecordingStatusPayload{
		CallSid:         r.PostFormValue("CallSid"),
		RecordingSid:    r.PostFormValue("RecordingSid"),
		RecordingStatus: r.PostFormValue("RecordingStatus"),
	}, nil
}

// TranscriptReadyPayload announces a finished transcript. CallSid may be
// absent; correlation then falls back to recency matching.
type TranscriptReadyPayload struct {
	TranscriptSid string `json:"transcript_sid"`
	CallSid       string `json:"call_sid,omitempty"`
	Status        string `json:"status"`
}

func ParseTranscriptReady(r *http.Request) (TranscriptReadyPayload, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return TranscriptReadyPayload{}, err
	}
	var p TranscriptReadyPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return TranscriptReadyPayload{}, err
	}
	return p, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// The provider sometimes sends "anonymous" or empty; keep as-is.
	return s
}
