// Package pipeline runs post-call processing: transcript retrieval,
// eligibility, scheduling-intent extraction, calendar event creation and
// durable persistence. Each step is isolated so one failing step never
// aborts its siblings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voicebridge/internal/calendar"
	"voicebridge/internal/calls"
	"voicebridge/internal/telephony"
	"voicebridge/pkg/logger"
	"voicebridge/pkg/retry"
)

// Result is the pipeline outcome reported to the webhook handler. The
// pipeline never fails outright except when the transcript fetch exhausts
// its retries.
type Result struct {
	TranscriptPersisted  bool
	CalendarEventCreated bool
	Detail               string
}

type Pipeline struct {
	provider  telephony.Provider
	tracker   *calls.Tracker
	store     calls.Store
	calendars calendar.Factory
	intents   IntentDetector
	fields    FieldExtractor
	policy    retry.Policy
	clock     func() time.Time
}

func New(
	provider telephony.Provider,
	tracker *calls.Tracker,
	store calls.Store,
	calendars calendar.Factory,
	intents IntentDetector,
	fields FieldExtractor,
	policy retry.Policy,
) *Pipeline {
	return &Pipeline{
		provider:  provider,
		tracker:   tracker,
		store:     store,
		calendars: calendars,
		intents:   intents,
		fields:    fields,
		policy:    policy,
		clock:     time.Now,
	}
}

// ProcessTranscript handles one transcript-ready delivery. externalCallID
// may be empty; correlation then falls back to recency matching.
func (p *Pipeline) ProcessTranscript(ctx context.Context, transcriptID, externalCallID string) (Result, error) {
	log := logger.From(ctx).With("transcript_id", transcriptID)
	var details []string

	// Step 1: fetch. The only step whose failure fails the pipeline.
	fetched, err := retry.Do(ctx, p.policy, func(ctx context.Context) (telephony.ProviderTranscript, error) {
		return p.provider.FetchTranscript(ctx, transcriptID)
	})
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: transcript fetch: %w", err)
	}
	fullText := joinSentences(fetched.Sentences)

	// Step 2: resolve the owning call.
	call, err := p.tracker.CorrelateTranscript(ctx, transcriptID, externalCallID)
	if err != nil {
		log.Error("call correlation failed", "err", err)
		return Result{Detail: "call correlation failed"}, nil
	}
	if call == nil {
		log.Info("transcript has no matching call; nothing persisted")
		return Result{Detail: "no matching call"}, nil
	}
	log = log.With("call_sid", call.ExternalID)

	// Re-delivery guard: a transcript row on file means a previous delivery
	// already ran the calendar steps.
	alreadyPersisted := false
	if _, err := p.store.GetTranscript(ctx, transcriptID); err == nil {
		alreadyPersisted = true
		details = append(details, "duplicate delivery")
		log.Info("transcript already persisted; skipping calendar steps")
	} else if !errors.Is(err, calls.ErrNotFound) {
		log.Warn("transcript lookup failed; proceeding as first delivery", "err", err)
	}

	created := false
	if !alreadyPersisted {
		created, details = p.maybeCreateEvent(ctx, call, fullText, details)
	}

	persisted := p.persist(ctx, call, transcriptID, fetched, fullText)

	return Result{
		TranscriptPersisted:  persisted,
		CalendarEventCreated: created,
		Detail:               strings.Join(details, "; "),
	}, nil
}

// maybeCreateEvent runs eligibility, intent detection, extraction and the
// calendar call. All outcomes are reported via details; none fail the
// pipeline.
func (p *Pipeline) maybeCreateEvent(ctx context.Context, call *calls.Call, fullText string, details []string) (bool, []string) {
	log := logger.From(ctx).With("call_sid", call.ExternalID)

	// Step 3: eligibility.
	client, err := p.calendars.ClientFor(ctx, call.UserID)
	if errors.Is(err, calendar.ErrNoCredential) {
		log.Info("no calendar credential; standard processing")
		return false, append(details, "no calendar credential")
	}
	if err != nil {
		log.Error("calendar client init failed", "err", err)
		return false, append(details, "calendar unavailable")
	}

	// Step 4: intent.
	if !p.intents.DetectSchedulingIntent(fullText) {
		return false, append(details, "no scheduling intent")
	}

	// Steps 5 and 6: extraction and event creation.
	f := p.fields.ExtractEventFields(fullText, p.clock())
	ev := calendar.Event{
		Summary:     eventSummary(f),
		Description: eventDescription(f, call),
		Start:       f.Start,
		End:         f.End,
		TimeZone:    f.TimeZone,
	}
	created, err := client.CreateEvent(ctx, ev)
	if err != nil {
		log.Error("calendar event creation failed", "err", err)
		return false, append(details, "calendar event failed")
	}
	log.Info("calendar event created", "event_id", created.ID, "start", f.Start)
	return true, append(details, "calendar event created")
}

// persist runs step 7: the idempotent transcript insert and the
// unconditional call transcript-text update, as one atomic write.
func (p *Pipeline) persist(ctx context.Context, call *calls.Call, transcriptID string, fetched telephony.ProviderTranscript, fullText string) bool {
	log := logger.From(ctx).With("transcript_id", transcriptID, "call_sid", call.ExternalID)
	now := p.clock().UTC()

	status := calls.TranscriptStatus(fetched.Status)
	if status == "" {
		status = calls.TranscriptCompleted
	}
	inserted, err := p.store.PersistTranscript(ctx, calls.Transcript{
		ProviderID:      transcriptID,
		CallExternalID:  call.ExternalID,
		FullText:        fullText,
		Sentences:       fetched.Sentences,
		Status:          status,
		Language:        fetched.Language,
		DurationSeconds: fetched.DurationSeconds,
		CreatedAt:       now,
	})
	if err != nil {
		log.Error("transcript persistence failed", "err", err)
		return false
	}
	if !inserted {
		log.Debug("transcript row already present; call text refreshed")
	}
	return true
}

// joinSentences orders sentences by start offset and joins the non-empty
// texts with single spaces.
func joinSentences(sentences []calls.Sentence) string {
	ordered := make([]calls.Sentence, len(sentences))
	copy(ordered, sentences)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].StartTime < ordered[j-1].StartTime; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	parts := make([]string, 0, len(ordered))
	for _, s := range ordered {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func eventSummary(f Fields) string {
	summary := "Appointment: " + f.Service
	if f.ClientName != "" {
		summary += " - " + f.ClientName
	}
	return summary
}

func eventDescription(f Fields, call *calls.Call) string {
	var b strings.Builder
	b.WriteString("Booked from call ")
	b.WriteString(call.ExternalID)
	b.WriteString(".\n")
	if f.ClientName != "" {
		fmt.Fprintf(&b, "Client: %s\n", f.ClientName)
	}
	phone := f.Phone
	if phone == "" {
		phone = call.CounterpartNumber
	}
	if phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", phone)
	}
	fmt.Fprintf(&b, "Service: %s\n", f.Service)
	return b.String()
}
