package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleClient adapts the Google Calendar API to the Client interface.
type GoogleClient struct {
	svc        *gcal.Service
	calendarID string
}

func NewGoogleClient(ctx context.Context, token *oauth2.Token, calendarID string) (*GoogleClient, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	svc, err := gcal.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("calendar: service init: %w", err)
	}
	return &GoogleClient{svc: svc, calendarID: calendarID}, nil
}

var _ Client = (*GoogleClient)(nil)

func (g *GoogleClient) CreateEvent(ctx context.Context, ev Event) (CreatedEvent, error) {
	req := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
		Reminders:   &gcal.EventReminders{UseDefault: true},
	}
	if ev.AttendeeEmail != "" {
		req.Attendees = []*gcal.EventAttendee{{Email: ev.AttendeeEmail}}
	}
	created, err := g.svc.Events.Insert(g.calendarID, req).Context(ctx).Do()
	if err != nil {
		return CreatedEvent{}, fmt.Errorf("calendar: insert event: %w", err)
	}
	return CreatedEvent{ID: created.Id, HTMLLink: created.HtmlLink}, nil
}

func (g *GoogleClient) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	res, err := g.svc.Events.List(g.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}

	out := make([]Event, 0, len(res.Items))
	for _, it := range res.Items {
		ev := Event{Summary: it.Summary, Description: it.Description, Location: it.Location}
		if it.Start != nil && it.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, it.Start.DateTime); err == nil {
				ev.Start = t
			}
		}
		if it.End != nil && it.End.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, it.End.DateTime); err == nil {
				ev.End = t
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// CheckAvailability reports whether the [start, end) window is free of
// existing events.
func (g *GoogleClient) CheckAvailability(ctx context.Context, start, end time.Time) (bool, error) {
	events, err := g.ListEvents(ctx, start, end)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if overlaps(ev.Start, ev.End, start, end) {
			return false, nil
		}
	}
	return true, nil
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aStart.IsZero() || aEnd.IsZero() {
		return false
	}
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// GoogleFactory builds per-user Google clients from stored credentials.
type GoogleFactory struct {
	creds      CredentialStore
	calendarID string
}

func NewGoogleFactory(creds CredentialStore, calendarID string) *GoogleFactory {
	return &GoogleFactory{creds: creds, calendarID: calendarID}
}

var _ Factory = (*GoogleFactory)(nil)

func (f *GoogleFactory) ClientFor(ctx context.Context, userID string) (Client, error) {
	token, err := f.creds.GetToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewGoogleClient(ctx, token, f.calendarID)
}
