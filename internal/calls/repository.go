package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"voicebridge/pkg/utils"
)

// PostgresStore implements Store on database/sql (pgx stdlib driver).
//
// NOTE: This repository assumes the following tables exist:
// - calls (unique on external_id)
// - recordings (unique on id)
// - transcripts (unique on provider_id)
// - scheduled_calls
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetCallByExternalID(ctx context.Context, externalID string) (Call, error) {
	const q = `
SELECT id, external_id, direction, counterpart_number, scenario, status,
       COALESCE(recording_id, ''), COALESCE(transcript_text, ''), COALESCE(user_id, ''),
       created_at, updated_at
FROM calls
WHERE external_id = $1
`
	var c Call
	if err := s.db.QueryRowContext(ctx, q, externalID).Scan(
		&c.ID,
		&c.ExternalID,
		&c.Direction,
		&c.CounterpartNumber,
		&c.Scenario,
		&c.Status,
		&c.RecordingID,
		&c.TranscriptText,
		&c.UserID,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (id, external_id, direction, counterpart_number, scenario, status, user_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (external_id) DO NOTHING
`
	_, err := s.db.ExecContext(ctx, q,
		c.ID,
		c.ExternalID,
		c.Direction,
		c.CounterpartNumber,
		c.Scenario,
		c.Status,
		nullable(c.UserID),
		c.CreatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateCallStatus(ctx context.Context, externalID string, status Status, at time.Time) error {
	const q = `
UPDATE calls SET status = $2, updated_at = $3 WHERE external_id = $1
`
	res, err := s.db.ExecContext(ctx, q, externalID, status, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) SetCallRecording(ctx context.Context, externalID, recordingID string, at time.Time) error {
	const q = `
UPDATE calls SET recording_id = $2, updated_at = $3 WHERE external_id = $1
`
	res, err := s.db.ExecContext(ctx, q, externalID, recordingID, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PostgresStore) InsertRecording(ctx context.Context, r Recording) error {
	const q = `
INSERT INTO recordings (id, call_external_id, status, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING
`
	_, err := s.db.ExecContext(ctx, q, r.ID, r.CallExternalID, r.Status, r.CreatedAt)
	return err
}

// PersistTranscript runs the idempotent insert and the call text update in
// one transaction; a failed update rolls the insert back so re-delivery can
// complete both.
func (s *PostgresStore) PersistTranscript(ctx context.Context, t Transcript) (bool, error) {
	sentences, err := json.Marshal(t.Sentences)
	if err != nil {
		return false, err
	}

	const insertQ = `
INSERT INTO transcripts (provider_id, call_external_id, full_text, sentences, status, language, duration_seconds, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (provider_id) DO NOTHING
`
	const updateQ = `
UPDATE calls SET transcript_text = $2, updated_at = $3 WHERE external_id = $1
`

	var inserted bool
	err = utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertQ,
			t.ProviderID,
			nullable(t.CallExternalID),
			t.FullText,
			sentences,
			t.Status,
			t.Language,
			t.DurationSeconds,
			t.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0

		if t.CallExternalID == "" {
			return nil
		}
		res, err = tx.ExecContext(ctx, updateQ, t.CallExternalID, t.FullText, t.CreatedAt)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (s *PostgresStore) GetTranscript(ctx context.Context, providerID string) (Transcript, error) {
	const q = `
SELECT provider_id, COALESCE(call_external_id, ''), full_text, sentences, status,
       COALESCE(language, ''), duration_seconds, created_at
FROM transcripts
WHERE provider_id = $1
`
	var t Transcript
	var sentences []byte
	if err := s.db.QueryRowContext(ctx, q, providerID).Scan(
		&t.ProviderID,
		&t.CallExternalID,
		&t.FullText,
		&sentences,
		&t.Status,
		&t.Language,
		&t.DurationSeconds,
		&t.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transcript{}, ErrNotFound
		}
		return Transcript{}, err
	}
	if len(sentences) > 0 {
		if err := json.Unmarshal(sentences, &t.Sentences); err != nil {
			return Transcript{}, err
		}
	}
	return t, nil
}

func (s *PostgresStore) LatestCallWithoutTranscript(ctx context.Context) (Call, error) {
	const q = `
SELECT id, external_id, direction, counterpart_number, scenario, status,
       COALESCE(recording_id, ''), COALESCE(transcript_text, ''), COALESCE(user_id, ''),
       created_at, updated_at
FROM calls
WHERE status IN ('completed', 'in_progress')
  AND NOT EXISTS (SELECT 1 FROM transcripts t WHERE t.call_external_id = calls.external_id)
ORDER BY created_at DESC
LIMIT 1
`
	var c Call
	if err := s.db.QueryRowContext(ctx, q).Scan(
		&c.ID,
		&c.ExternalID,
		&c.Direction,
		&c.CounterpartNumber,
		&c.Scenario,
		&c.Status,
		&c.RecordingID,
		&c.TranscriptText,
		&c.UserID,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) DueScheduledCalls(ctx context.Context, now time.Time) ([]ScheduledCall, error) {
	const q = `
SELECT id, to_number, scenario, scheduled_at, user_id, created_at
FROM scheduled_calls
WHERE scheduled_at <= $1
ORDER BY scheduled_at ASC
`
	rows, err := s.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledCall
	for rows.Next() {
		var sc ScheduledCall
		if err := rows.Scan(&sc.ID, &sc.ToNumber, &sc.Scenario, &sc.ScheduledAt, &sc.UserID, &sc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteScheduledCall(ctx context.Context, id string) error {
	const q = `DELETE FROM scheduled_calls WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
