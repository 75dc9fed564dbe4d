package calls

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Store abstracts persistence for calls and their artifacts.
//
// Access is scoped per request or per pipeline run; no long-held transaction
// spans multiple external calls. Concurrent writers to the same call resolve
// last-write-wins on status fields.
type Store interface {
	GetCallByExternalID(ctx context.Context, externalID string) (Call, error)
	CreateCall(ctx context.Context, c Call) error
	UpdateCallStatus(ctx context.Context, externalID string, status Status, at time.Time) error
	SetCallRecording(ctx context.Context, externalID, recordingID string, at time.Time) error

	// InsertRecording is idempotent on the provider recording id.
	InsertRecording(ctx context.Context, r Recording) error

	// PersistTranscript is one atomic unit: insert the transcript row only
	// if none exists for the provider transcript id, and unconditionally
	// update the owning call's stored text. Reports whether a row was
	// written.
	PersistTranscript(ctx context.Context, t Transcript) (bool, error)
	GetTranscript(ctx context.Context, providerID string) (Transcript, error)

	// LatestCallWithoutTranscript returns the most recently created call that
	// has no transcript yet and is completed or in progress. Used only as the
	// best-effort correlation fallback.
	LatestCallWithoutTranscript(ctx context.Context) (Call, error)

	DueScheduledCalls(ctx context.Context, now time.Time) ([]ScheduledCall, error)
	DeleteScheduledCall(ctx context.Context, id string) error
}
