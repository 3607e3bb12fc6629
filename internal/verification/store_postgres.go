package verification

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// PostgresResultStore persists verification results in PostgreSQL.
type PostgresResultStore struct {
	db *sql.DB
}

func NewPostgresResultStore(db *sql.DB) *PostgresResultStore {
	return &PostgresResultStore{db: db}
}

func (s *PostgresResultStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vkyc_verification_results (
			session_id UUID NOT NULL,
			document_type TEXT NOT NULL,
			status TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			fields JSONB NOT NULL DEFAULT '{}',
			attempts INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, document_type)
		)`)
	return err
}

func (s *PostgresResultStore) Upsert(ctx context.Context, r *Result) error {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vkyc_verification_results
			(session_id, document_type, status, confidence, fields, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, document_type) DO UPDATE SET
			status = EXCLUDED.status, confidence = EXCLUDED.confidence,
			fields = EXCLUDED.fields, attempts = EXCLUDED.attempts,
			updated_at = EXCLUDED.updated_at`,
		uuid.UUID(r.SessionID), string(r.Document), string(r.Status),
		r.Confidence, fields, r.Attempts, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

func (s *PostgresResultStore) Find(ctx context.Context, id domain.SessionID, doc domain.DocumentType) (*Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, document_type, status, confidence, fields, attempts, updated_at
		FROM vkyc_verification_results
		WHERE session_id = $1 AND document_type = $2`, uuid.UUID(id), string(doc))
	return scanResult(row)
}

func (s *PostgresResultStore) BySession(ctx context.Context, id domain.SessionID) ([]*Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, document_type, status, confidence, fields, attempts, updated_at
		FROM vkyc_verification_results WHERE session_id = $1`, uuid.UUID(id))
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*Result, error) {
	var (
		r         Result
		sessionID uuid.UUID
		doc       string
		status    string
		fieldsRaw []byte
	)
	err := row.Scan(&sessionID, &doc, &status, &r.Confidence, &fieldsRaw, &r.Attempts, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan result: %w", err)
	}
	if err := json.Unmarshal(fieldsRaw, &r.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	r.SessionID = domain.SessionID(sessionID)
	r.Document = domain.DocumentType(doc)
	r.Status = Status(status)
	return &r, nil
}
