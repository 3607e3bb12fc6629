package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the sessions table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vkyc_sessions (
			id UUID PRIMARY KEY,
			customer_id UUID NOT NULL,
			link_token TEXT NOT NULL,
			link_expires_at TIMESTAMPTZ NOT NULL,
			mode TEXT NOT NULL,
			scheduled_at TIMESTAMPTZ,
			agent_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			started_at TIMESTAMPTZ,
			waiting_since TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS vkyc_sessions_customer_idx ON vkyc_sessions (customer_id);
		CREATE INDEX IF NOT EXISTS vkyc_sessions_state_idx ON vkyc_sessions (state)`)
	return err
}

const sessionColumns = `id, customer_id, link_token, link_expires_at, mode, scheduled_at,
	agent_id, state, started_at, waiting_since, ended_at, reason, created_at`

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vkyc_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uuid.UUID(sess.ID), uuid.UUID(sess.CustomerID), string(sess.LinkToken),
		sess.LinkExpiresAt, string(sess.Mode), sess.ScheduledAt, sess.AgentID,
		string(sess.State), sess.StartedAt, sess.WaitingSince, sess.EndedAt,
		string(sess.Reason), sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, sess *Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vkyc_sessions SET link_token = $2, link_expires_at = $3, mode = $4,
			scheduled_at = $5, agent_id = $6, state = $7, started_at = $8,
			waiting_since = $9, ended_at = $10, reason = $11
		WHERE id = $1`,
		uuid.UUID(sess.ID), string(sess.LinkToken), sess.LinkExpiresAt, string(sess.Mode),
		sess.ScheduledAt, sess.AgentID, string(sess.State), sess.StartedAt,
		sess.WaitingSince, sess.EndedAt, string(sess.Reason))
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.SessionID) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM vkyc_sessions WHERE id = $1`, uuid.UUID(id))
	return scanSession(row)
}

func (s *PostgresStore) FindActiveByCustomer(ctx context.Context, id domain.CustomerID) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM vkyc_sessions
		WHERE customer_id = $1 AND state NOT IN ('completed', 'failed', 'expired')
		ORDER BY created_at DESC LIMIT 1`, uuid.UUID(id))
	return scanSession(row)
}

func (s *PostgresStore) ListByState(ctx context.Context, states ...State) ([]*Session, error) {
	raw := make([]string, len(states))
	for i, st := range states {
		raw[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM vkyc_sessions
		WHERE state = ANY($1) ORDER BY created_at`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                 Session
		id, customerID       uuid.UUID
		token, mode          string
		state, reason, agent string
	)
	err := row.Scan(&id, &customerID, &token, &sess.LinkExpiresAt, &mode,
		&sess.ScheduledAt, &agent, &state, &sess.StartedAt, &sess.WaitingSince,
		&sess.EndedAt, &reason, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.ID = domain.SessionID(id)
	sess.CustomerID = domain.CustomerID(customerID)
	sess.LinkToken = domain.LinkToken(token)
	sess.Mode = Mode(mode)
	sess.AgentID = agent
	sess.State = State(state)
	sess.Reason = Reason(reason)
	return &sess, nil
}
