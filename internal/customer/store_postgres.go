package customer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// PostgresStore persists customers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the customers table if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS customers (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			mobile TEXT NOT NULL,
			email TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, c *Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, mobile, email, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.UUID(c.ID), c.Name, c.Mobile, c.Email, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.CustomerID) (*Customer, error) {
	var c Customer
	var rawID uuid.UUID
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, mobile, email, created_at FROM customers WHERE id = $1`,
		uuid.UUID(id)).Scan(&rawID, &c.Name, &c.Mobile, &c.Email, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	c.ID = domain.CustomerID(rawID)
	return &c, nil
}
