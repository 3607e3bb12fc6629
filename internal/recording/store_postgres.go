package recording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// PostgresStore persists recording metadata in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vkyc_recordings (
			session_id UUID PRIMARY KEY,
			id UUID NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ns BIGINT NOT NULL DEFAULT 0,
			chunks INT NOT NULL DEFAULT 0,
			bytes BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			object_key TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		)`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, r *Recording) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vkyc_recordings
			(session_id, id, started_at, duration_ns, chunks, bytes, status, object_key, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			duration_ns = EXCLUDED.duration_ns, chunks = EXCLUDED.chunks,
			bytes = EXCLUDED.bytes, status = EXCLUDED.status,
			object_key = EXCLUDED.object_key, error = EXCLUDED.error`,
		uuid.UUID(r.SessionID), uuid.UUID(r.ID), r.StartedAt,
		r.Duration.Nanoseconds(), r.Chunks, r.Bytes,
		string(r.Status), r.ObjectKey, r.Error)
	if err != nil {
		return fmt.Errorf("save recording: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, id domain.SessionID) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, id, started_at, duration_ns, chunks, bytes, status, object_key, error
		FROM vkyc_recordings WHERE session_id = $1`, uuid.UUID(id))

	var (
		r                Recording
		sessionID, recID uuid.UUID
		durationNS       int64
		status           string
	)
	err := row.Scan(&sessionID, &recID, &r.StartedAt, &durationNS,
		&r.Chunks, &r.Bytes, &status, &r.ObjectKey, &r.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recording: %w", err)
	}
	r.SessionID = domain.SessionID(sessionID)
	r.ID = domain.RecordingID(recID)
	r.Duration = time.Duration(durationNS)
	r.Status = Status(status)
	return &r, nil
}
