package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vkyc/pkg/platform/sentinel"
)

// PostgresStore persists agent records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vkyc_agents (
			employee_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PostgresStore) Touch(ctx context.Context, employeeID, name string, at time.Time) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO vkyc_agents (employee_id, name, first_seen, last_seen)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (employee_id) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE vkyc_agents.name END,
			last_seen = EXCLUDED.last_seen
		RETURNING employee_id, name, first_seen, last_seen`,
		employeeID, name, at)
	return scanAgent(row)
}

func (s *PostgresStore) Find(ctx context.Context, employeeID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT employee_id, name, first_seen, last_seen
		FROM vkyc_agents WHERE employee_id = $1`, employeeID)
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.EmployeeID, &a.Name, &a.FirstSeen, &a.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	return &a, nil
}
