package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voicebridge/pkg/logger"

	"github.com/google/uuid"
)

// Tracker is the canonical writer for Call rows and their artifact
// correlation. Webhook handlers and the relay never touch the store
// directly.
type Tracker struct {
	store Store
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, clock: time.Now}
}

// StatusEvent is one call-status observation, from a webhook or a dispatch.
type StatusEvent struct {
	ExternalID        string
	Status            Status
	Direction         Direction
	CounterpartNumber string
	Scenario          string
	UserID            string
}

// RecordStatus applies a status observation. It creates the Call row on the
// first event referencing the call; a repeated identical status is a no-op
// beyond logging, and a backwards transition is dropped to keep statuses
// monotonic.
func (t *Tracker) RecordStatus(ctx context.Context, ev StatusEvent) (Call, error) {
	if ev.ExternalID == "" {
		return Call{}, fmt.Errorf("%w: external call id is required", ErrInvalidArgument)
	}
	if !ev.Status.Known() {
		return Call{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, ev.Status)
	}

	log := logger.From(ctx).With("call_sid", ev.ExternalID)
	now := t.clock().UTC()

	existing, err := t.store.GetCallByExternalID(ctx, ev.ExternalID)
	if errors.Is(err, ErrNotFound) {
		c := Call{
			ID:                uuid.NewString(),
			ExternalID:        ev.ExternalID,
			Direction:         ev.Direction,
			CounterpartNumber: ev.CounterpartNumber,
			Scenario:          ev.Scenario,
			Status:            ev.Status,
			UserID:            ev.UserID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if c.Direction == "" {
			c.Direction = DirectionInbound
		}
		if err := t.store.CreateCall(ctx, c); err != nil {
			return Call{}, err
		}
		log.Info("call created", "status", ev.Status, "direction", c.Direction)
		return c, nil
	}
	if err != nil {
		return Call{}, err
	}

	if existing.Status == ev.Status {
		log.Debug("duplicate status webhook ignored", "status", ev.Status)
		return existing, nil
	}
	if statusRank[ev.Status] < statusRank[existing.Status] {
		log.Warn("out-of-order status webhook dropped",
			"have", existing.Status, "got", ev.Status)
		return existing, nil
	}

	if err := t.store.UpdateCallStatus(ctx, ev.ExternalID, ev.Status, now); err != nil {
		return Call{}, err
	}
	existing.Status = ev.Status
	existing.UpdatedAt = now
	log.Info("call status updated", "status", ev.Status)
	return existing, nil
}

// AttachRecording stores the recording artifact and links it to its call.
// At most one active recording per call: re-delivery of the same recording
// id is a no-op, a different id overwrites the reference.
func (t *Tracker) AttachRecording(ctx context.Context, externalCallID, recordingID, status string) error {
	if externalCallID == "" || recordingID == "" {
		return fmt.Errorf("%w: call id and recording id are required", ErrInvalidArgument)
	}

	now := t.clock().UTC()
	if err := t.store.InsertRecording(ctx, Recording{
		ID:             recordingID,
		CallExternalID: externalCallID,
		Status:         status,
		CreatedAt:      now,
	}); err != nil {
		return err
	}

	err := t.store.SetCallRecording(ctx, externalCallID, recordingID, now)
	if errors.Is(err, ErrNotFound) {
		// Recording webhook beat the status webhook; materialize the call.
		c := Call{
			ID:          uuid.NewString(),
			ExternalID:  externalCallID,
			Direction:   DirectionInbound,
			Status:      StatusInProgress,
			RecordingID: recordingID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := t.store.CreateCall(ctx, c); err != nil {
			return err
		}
		logger.From(ctx).Info("call created from recording webhook", "call_sid", externalCallID)
		return t.store.SetCallRecording(ctx, externalCallID, recordingID, now)
	}
	return err
}

// CorrelateTranscript resolves the Call a transcript belongs to. Primary
// strategy is an exact match on the provider-supplied call id. When the
// provider supplies no call id, the fallback picks the most recently created
// call with no transcript yet and status completed/in_progress.
//
// The fallback is best-effort only and is NOT safe under concurrent calls
// lacking correlation ids; this is a known limitation, kept explicit.
func (t *Tracker) CorrelateTranscript(ctx context.Context, transcriptID, externalCallID string) (*Call, error) {
	log := logger.From(ctx).With("transcript_id", transcriptID)

	if externalCallID != "" {
		c, err := t.store.GetCallByExternalID(ctx, externalCallID)
		if errors.Is(err, ErrNotFound) {
			log.Warn("transcript references unknown call", "call_sid", externalCallID)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &c, nil
	}

	c, err := t.store.LatestCallWithoutTranscript(ctx)
	if errors.Is(err, ErrNotFound) {
		log.Warn("no candidate call for transcript correlation")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log.Warn("correlated transcript by recency fallback; unsafe under concurrent calls",
		"call_sid", c.ExternalID)
	return &c, nil
}
