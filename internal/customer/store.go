package customer

import (
	"context"

	"vkyc/pkg/domain"
)

// Store persists customer records.
type Store interface {
	Create(ctx context.Context, c *Customer) error
	FindByID(ctx context.Context, id domain.CustomerID) (*Customer, error)
}
