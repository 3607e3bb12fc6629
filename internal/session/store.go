package session

import (
	"context"

	"vkyc/pkg/domain"
)

// Store persists sessions. Implementations return sentinel.ErrNotFound for
// unknown ids; the Engine serializes writers per session, so stores only
// need to be safe for concurrent use, not transactional.
type Store interface {
	Create(ctx context.Context, s *Session) error
	FindByID(ctx context.Context, id domain.SessionID) (*Session, error)
	Update(ctx context.Context, s *Session) error
	// FindActiveByCustomer returns the newest non-terminal session for a
	// customer, used as the duplicate-session guard on start.
	FindActiveByCustomer(ctx context.Context, id domain.CustomerID) (*Session, error)
	ListByState(ctx context.Context, states ...State) ([]*Session, error)
}
