// Package calendar creates appointment events on a user's calendar using
// credentials captured during onboarding.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNoCredential means the user never connected a calendar. Callers treat
// this as "calendar features disabled", not as a fault.
var ErrNoCredential = errors.New("calendar: no credential on file")

// Event is one appointment. TimeZone is an IANA zone name applied to both
// endpoints; AttendeeEmail is optional and invites the client when known.
type Event struct {
	Summary       string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
	TimeZone      string
	AttendeeEmail string
}

type CreatedEvent struct {
	ID       string
	HTMLLink string
}

// Client is one user's calendar.
type Client interface {
	CreateEvent(ctx context.Context, ev Event) (CreatedEvent, error)
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
	CheckAvailability(ctx context.Context, start, end time.Time) (bool, error)
}

// Factory resolves a per-user client. ClientFor returns ErrNoCredential when
// the user has no stored calendar credential.
type Factory interface {
	ClientFor(ctx context.Context, userID string) (Client, error)
}
