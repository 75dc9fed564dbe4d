package telephony

import (
	"context"
	"time"

	"voicebridge/internal/calls"
)

// Provider is the provider-agnostic telephony interface used by business
// logic.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic; vendor fields are mapped
//   into this core's data model at the adapter boundary, with defaults
//   applied exactly once, at the edge.
type Provider interface {
	Name() string

	// PlaceCall creates a new outbound call whose answer webhook points back
	// at this service.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlacedCall, error)

	// FetchTranscript retrieves a finished transcript and its ordered
	// sentences.
	FetchTranscript(ctx context.Context, transcriptID string) (ProviderTranscript, error)
}

type PlaceCallRequest struct {
	To         string        `json:"to"`
	From       string        `json:"from,omitempty"` // empty = account default
	WebhookURL string        `json:"webhook_url"`
	Record     bool          `json:"record"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

type PlacedCall struct {
	CallID string `json:"call_id"` // provider call id
}

type ProviderTranscript struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	Language        string           `json:"language,omitempty"`
	DurationSeconds int              `json:"duration_seconds"`
	Sentences       []calls.Sentence `json:"sentences"`
}
