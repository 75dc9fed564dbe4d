package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu sync.Mutex

	calls       map[string]Call // keyed by external id
	recordings  map[string]Recording
	transcripts map[string]Transcript
	scheduled   map[string]ScheduledCall
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:       make(map[string]Call),
		recordings:  make(map[string]Recording),
		transcripts: make(map[string]Transcript),
		scheduled:   make(map[string]ScheduledCall),
	}
}

func (s *MemoryStore) GetCallByExternalID(_ context.Context, externalID string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[externalID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) CreateCall(_ context.Context, c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ExternalID]; ok {
		return nil // same semantics as ON CONFLICT DO NOTHING
	}
	c.UpdatedAt = c.CreatedAt
	s.calls[c.ExternalID] = c
	return nil
}

func (s *MemoryStore) UpdateCallStatus(_ context.Context, externalID string, status Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[externalID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	s.calls[externalID] = c
	return nil
}

func (s *MemoryStore) SetCallRecording(_ context.Context, externalID, recordingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[externalID]
	if !ok {
		return ErrNotFound
	}
	c.RecordingID = recordingID
	c.UpdatedAt = at
	s.calls[externalID] = c
	return nil
}

func (s *MemoryStore) InsertRecording(_ context.Context, r Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recordings[r.ID]; ok {
		return nil
	}
	s.recordings[r.ID] = r
	return nil
}

func (s *MemoryStore) PersistTranscript(_ context.Context, t Transcript) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Same all-or-nothing semantics as the transactional implementation:
	// a missing call aborts before the insert.
	var c Call
	if t.CallExternalID != "" {
		var ok bool
		c, ok = s.calls[t.CallExternalID]
		if !ok {
			return false, ErrNotFound
		}
	}

	inserted := false
	if _, ok := s.transcripts[t.ProviderID]; !ok {
		s.transcripts[t.ProviderID] = t
		inserted = true
	}

	if t.CallExternalID != "" {
		c.TranscriptText = t.FullText
		c.UpdatedAt = t.CreatedAt
		s.calls[t.CallExternalID] = c
	}
	return inserted, nil
}

func (s *MemoryStore) GetTranscript(_ context.Context, providerID string) (Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[providerID]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) LatestCallWithoutTranscript(_ context.Context) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attached := make(map[string]bool, len(s.transcripts))
	for _, t := range s.transcripts {
		if t.CallExternalID != "" {
			attached[t.CallExternalID] = true
		}
	}

	var candidates []Call
	for _, c := range s.calls {
		if attached[c.ExternalID] {
			continue
		}
		if c.Status != StatusCompleted && c.Status != StatusInProgress {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return Call{}, ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0], nil
}

func (s *MemoryStore) DueScheduledCalls(_ context.Context, now time.Time) ([]ScheduledCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ScheduledCall
	for _, sc := range s.scheduled {
		if !sc.ScheduledAt.After(now) {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *MemoryStore) DeleteScheduledCall(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scheduled[id]; !ok {
		return ErrNotFound
	}
	delete(s.scheduled, id)
	return nil
}

// AddScheduledCall seeds a pending dial; the creating endpoint itself lives
// outside this service.
func (s *MemoryStore) AddScheduledCall(sc ScheduledCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[sc.ID] = sc
}

// TranscriptCount reports stored transcript rows; used by tests asserting
// idempotent inserts.
func (s *MemoryStore) TranscriptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcripts)
}
