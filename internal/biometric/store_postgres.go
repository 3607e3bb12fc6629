package biometric

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"vkyc/pkg/domain"
)

// PostgresStore persists telemetry events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vkyc_biometric_events (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL,
			event_type TEXT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS vkyc_biometric_events_session_idx
			ON vkyc_biometric_events (session_id, captured_at)`)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vkyc_biometric_events (session_id, event_type, captured_at, payload)
		VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, uuid.UUID(e.SessionID), string(e.Type), e.CapturedAt, payload); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) BySession(ctx context.Context, id domain.SessionID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, event_type, captured_at, payload
		FROM vkyc_biometric_events
		WHERE session_id = $1 ORDER BY captured_at`, uuid.UUID(id))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e          Event
			sessionID  uuid.UUID
			eventType  string
			payloadRaw []byte
		)
		if err := rows.Scan(&sessionID, &eventType, &e.CapturedAt, &payloadRaw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(payloadRaw, &e.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		e.SessionID = domain.SessionID(sessionID)
		e.Type = EventType(eventType)
		out = append(out, e)
	}
	return out, rows.Err()
}
