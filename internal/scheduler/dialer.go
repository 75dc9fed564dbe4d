package scheduler

import (
	"context"
	"fmt"
	"net/url"

	"voicebridge/internal/calls"
	"voicebridge/internal/telephony"
	"voicebridge/pkg/logger"
)

// ProviderDialer places scheduled calls through the telephony provider and
// registers the new call with the tracker so later webhooks find it.
type ProviderDialer struct {
	provider  telephony.Provider
	tracker   *calls.Tracker
	answerURL string // voice answer webhook, scenario and user carried as query params
}

func NewProviderDialer(provider telephony.Provider, tracker *calls.Tracker, answerURL string) *ProviderDialer {
	return &ProviderDialer{provider: provider, tracker: tracker, answerURL: answerURL}
}

var _ Dialer = (*ProviderDialer)(nil)

func (d *ProviderDialer) DialScheduled(ctx context.Context, sc calls.ScheduledCall) (telephony.PlacedCall, error) {
	q := url.Values{}
	if sc.Scenario != "" {
		q.Set("scenario", sc.Scenario)
	}
	if sc.UserID != "" {
		q.Set("user_id", sc.UserID)
	}
	webhookURL := d.answerURL
	if enc := q.Encode(); enc != "" {
		webhookURL += "?" + enc
	}

	placed, err := d.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:         sc.ToNumber,
		WebhookURL: webhookURL,
		Record:     true,
		Timeout:    telephony.DialTimeout,
	})
	if err != nil {
		return telephony.PlacedCall{}, fmt.Errorf("scheduler: place call: %w", err)
	}

	if _, err := d.tracker.RecordStatus(ctx, calls.StatusEvent{
		ExternalID:        placed.CallID,
		Status:            calls.StatusRinging,
		Direction:         calls.DirectionOutbound,
		CounterpartNumber: sc.ToNumber,
		Scenario:          sc.Scenario,
		UserID:            sc.UserID,
	}); err != nil {
		// The call is already ringing; the status webhook will re-create it.
		logger.From(ctx).Warn("dispatched call not registered", "call_sid", placed.CallID, "err", err)
	}
	return placed, nil
}
