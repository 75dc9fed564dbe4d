package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"voicebridge/internal/calls"
	"voicebridge/internal/telephony"
)

type fakeDialer struct {
	mu      sync.Mutex
	dials   map[string]int
	failing map[string]bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: map[string]int{}, failing: map[string]bool{}}
}

func (d *fakeDialer) DialScheduled(_ context.Context, sc calls.ScheduledCall) (telephony.PlacedCall, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[sc.ID]++
	if d.failing[sc.ID] {
		return telephony.PlacedCall{}, errors.New("provider unavailable")
	}
	return telephony.PlacedCall{CallID: "CA-" + sc.ID}, nil
}

func (d *fakeDialer) dialCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[id]
}

func newOrchestrator(store calls.Store, dialer Dialer) *Orchestrator {
	return New(store, dialer, time.Minute, slog.Default())
}

func TestPassDispatchesDueAndDeletes(t *testing.T) {
	store := calls.NewMemoryStore()
	dialer := newFakeDialer()
	past := time.Now().UTC().Add(-time.Minute)
	store.AddScheduledCall(calls.ScheduledCall{ID: "s1", ToNumber: "+1555", ScheduledAt: past})

	o := newOrchestrator(store, dialer)
	o.RunPass(context.Background())

	if dialer.dialCount("s1") != 1 {
		t.Fatalf("expected one dial, got %d", dialer.dialCount("s1"))
	}
	due, err := store.DueScheduledCalls(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DueScheduledCalls: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("dispatched row must be deleted, still have %d", len(due))
	}
}

func TestFutureRowsAreLeftAlone(t *testing.T) {
	store := calls.NewMemoryStore()
	dialer := newFakeDialer()
	store.AddScheduledCall(calls.ScheduledCall{ID: "s1", ToNumber: "+1555", ScheduledAt: time.Now().UTC().Add(time.Hour)})

	newOrchestrator(store, dialer).RunPass(context.Background())

	if dialer.dialCount("s1") != 0 {
		t.Fatalf("future row must not be dialed")
	}
}

func TestFailedDispatchKeepsRowForNextPass(t *testing.T) {
	store := calls.NewMemoryStore()
	dialer := newFakeDialer()
	dialer.failing["s1"] = true
	past := time.Now().UTC().Add(-time.Minute)
	store.AddScheduledCall(calls.ScheduledCall{ID: "s1", ToNumber: "+1555", ScheduledAt: past})

	o := newOrchestrator(store, dialer)
	o.RunPass(context.Background())

	due, _ := store.DueScheduledCalls(context.Background(), time.Now().UTC())
	if len(due) != 1 {
		t.Fatalf("failed row must survive the pass, have %d", len(due))
	}

	dialer.failing["s1"] = false
	o.RunPass(context.Background())
	if dialer.dialCount("s1") != 2 {
		t.Fatalf("row should be retried on the next pass, dials=%d", dialer.dialCount("s1"))
	}
	due, _ = store.DueScheduledCalls(context.Background(), time.Now().UTC())
	if len(due) != 0 {
		t.Fatalf("row must be deleted after the successful retry")
	}
}

func TestFailingRowDoesNotBlockSiblings(t *testing.T) {
	store := calls.NewMemoryStore()
	dialer := newFakeDialer()
	dialer.failing["s1"] = true
	past := time.Now().UTC().Add(-time.Minute)
	store.AddScheduledCall(calls.ScheduledCall{ID: "s1", ToNumber: "+1111", ScheduledAt: past.Add(-time.Minute)})
	store.AddScheduledCall(calls.ScheduledCall{ID: "s2", ToNumber: "+2222", ScheduledAt: past})

	newOrchestrator(store, dialer).RunPass(context.Background())

	if dialer.dialCount("s2") != 1 {
		t.Fatalf("sibling must be dispatched despite the failing row")
	}
	due, _ := store.DueScheduledCalls(context.Background(), time.Now().UTC())
	if len(due) != 1 || due[0].ID != "s1" {
		t.Fatalf("only the failing row should remain, have %+v", due)
	}
}

func TestStartStop(t *testing.T) {
	store := calls.NewMemoryStore()
	dialer := newFakeDialer()
	past := time.Now().UTC().Add(-time.Minute)
	store.AddScheduledCall(calls.ScheduledCall{ID: "s1", ToNumber: "+1555", ScheduledAt: past})

	o := New(store, dialer, 5*time.Millisecond, slog.Default())
	o.Start(context.Background())

	deadline := time.After(time.Second)
	for dialer.dialCount("s1") == 0 {
		select {
		case <-deadline:
			t.Fatalf("row was never dispatched")
		case <-time.After(5 * time.Millisecond):
		}
	}
	o.Stop()
}

func TestProviderDialerRegistersCall(t *testing.T) {
	store := calls.NewMemoryStore()
	tracker := calls.NewTracker(store)
	provider := &stubProvider{callID: "CA999"}

	d := NewProviderDialer(provider, tracker, "https://voice.example.com/webhooks/voice")
	placed, err := d.DialScheduled(context.Background(), calls.ScheduledCall{
		ID: "s1", ToNumber: "+1555", Scenario: "follow_up", UserID: "u1",
		ScheduledAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("DialScheduled: %v", err)
	}
	if placed.CallID != "CA999" {
		t.Fatalf("unexpected call id %q", placed.CallID)
	}
	if provider.lastReq.To != "+1555" || !provider.lastReq.Record {
		t.Fatalf("unexpected place request %+v", provider.lastReq)
	}

	c, err := store.GetCallByExternalID(context.Background(), "CA999")
	if err != nil {
		t.Fatalf("dispatched call must be registered: %v", err)
	}
	if c.Direction != calls.DirectionOutbound || c.Scenario != "follow_up" || c.UserID != "u1" {
		t.Fatalf("unexpected call %+v", c)
	}
}

type stubProvider struct {
	callID  string
	lastReq telephony.PlaceCallRequest
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) PlaceCall(_ context.Context, req telephony.PlaceCallRequest) (telephony.PlacedCall, error) {
	s.lastReq = req
	return telephony.PlacedCall{CallID: s.callID}, nil
}

func (s *stubProvider) FetchTranscript(context.Context, string) (telephony.ProviderTranscript, error) {
	return telephony.ProviderTranscript{}, errors.New("not used")
}
