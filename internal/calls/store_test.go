package calls

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedStoreCall(t *testing.T, s *MemoryStore, externalID string) {
	t.Helper()
	err := s.CreateCall(context.Background(), Call{
		ID:         "id-" + externalID,
		ExternalID: externalID,
		Direction:  DirectionInbound,
		Status:     StatusCompleted,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}
}

func TestPersistTranscriptInsertsOnceUpdatesAlways(t *testing.T) {
	s := NewMemoryStore()
	seedStoreCall(t, s, "CA1")

	first := Transcript{ProviderID: "GT1", CallExternalID: "CA1", FullText: "first pass", CreatedAt: time.Now().UTC()}
	inserted, err := s.PersistTranscript(context.Background(), first)
	if err != nil {
		t.Fatalf("PersistTranscript: %v", err)
	}
	if !inserted {
		t.Fatalf("first persist must insert")
	}

	// Re-delivery: no second row, but the call text is still refreshed.
	second := first
	second.FullText = "second pass"
	inserted, err = s.PersistTranscript(context.Background(), second)
	if err != nil {
		t.Fatalf("PersistTranscript redelivery: %v", err)
	}
	if inserted {
		t.Fatalf("redelivery must not insert a second row")
	}
	if s.TranscriptCount() != 1 {
		t.Fatalf("expected one transcript row, got %d", s.TranscriptCount())
	}

	c, err := s.GetCallByExternalID(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("call lookup: %v", err)
	}
	if c.TranscriptText != "second pass" {
		t.Fatalf("call text must be updated unconditionally, got %q", c.TranscriptText)
	}
}

func TestPersistTranscriptMissingCallAborts(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.PersistTranscript(context.Background(), Transcript{
		ProviderID: "GT1", CallExternalID: "CA-missing", FullText: "text",
		CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if s.TranscriptCount() != 0 {
		t.Fatalf("nothing may be written when the call row is missing")
	}
}
