package calls

import "time"

// Call is the canonical view of one phone call and its artifact correlation.
//
// Identity invariant: ExternalID is the provider-assigned call id and is
// unique. Rows are created on the first webhook or dispatch event that
// references the call and are never hard-deleted.
//
// Status invariant: transitions are monotonic; a repeated identical status
// is a no-op beyond logging.
type Call struct {
	ID         string `json:"id" db:"id"`
	ExternalID string `json:"external_id" db:"external_id"`

	Direction Direction `json:"direction" db:"direction"`

	// CounterpartNumber is the remote party (caller for inbound, callee for
	// outbound), E.164 where possible.
	CounterpartNumber string `json:"counterpart_number" db:"counterpart_number"`

	Scenario string `json:"scenario,omitempty" db:"scenario"`

	Status Status `json:"status" db:"status"`

	// RecordingID references the active Recording, at most one per call.
	RecordingID string `json:"recording_id,omitempty" db:"recording_id"`

	// TranscriptText is the stored full text once the post-call pipeline ran.
	TranscriptText string `json:"transcript_text,omitempty" db:"transcript_text"`

	UserID string `json:"user_id,omitempty" db:"user_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type Status string

const (
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// statusRank orders statuses for the monotonic-transition check.
var statusRank = map[Status]int{
	StatusRinging:    1,
	StatusInProgress: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// Known reports whether s is a status this system tracks.
func (s Status) Known() bool {
	_, ok := statusRank[s]
	return ok
}

// Recording is a provider recording artifact. Immutable once stored.
type Recording struct {
	ID             string    `json:"id" db:"id"` // provider recording id
	CallExternalID string    `json:"call_external_id" db:"call_external_id"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Sentence is one ordered transcript segment.
type Sentence struct {
	Text       string  `json:"text"`
	Channel    int     `json:"channel"`
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Confidence float64 `json:"confidence"`
}

type TranscriptStatus string

const (
	TranscriptPending   TranscriptStatus = "pending"
	TranscriptCompleted TranscriptStatus = "completed"
	TranscriptFailed    TranscriptStatus = "failed"
)

// Transcript is the durable post-call artifact. Unique on ProviderID:
// webhook re-delivery must not create a duplicate row. Append-only.
type Transcript struct {
	ProviderID string `json:"provider_id" db:"provider_id"`

	// CallExternalID is empty when correlation failed; the transcript is
	// still persisted, just unattached.
	CallExternalID string `json:"call_external_id,omitempty" db:"call_external_id"`

	FullText  string     `json:"full_text" db:"full_text"`
	Sentences []Sentence `json:"sentences" db:"sentences"`

	Status          TranscriptStatus `json:"status" db:"status"`
	Language        string           `json:"language,omitempty" db:"language"`
	DurationSeconds int              `json:"duration_seconds" db:"duration_seconds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ScheduledCall is a pre-scheduled outbound dial. Consumed exactly once by
// the scheduling orchestrator, which deletes the row after a successful
// dispatch (at-most-one dial per row).
type ScheduledCall struct {
	ID          string    `json:"id" db:"id"`
	ToNumber    string    `json:"to_number" db:"to_number"`
	Scenario    string    `json:"scenario" db:"scenario"`
	ScheduledAt time.Time `json:"scheduled_at" db:"scheduled_at"`
	UserID      string    `json:"user_id" db:"user_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
