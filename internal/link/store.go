package link

import (
	"context"

	"vkyc/pkg/domain"
)

// Store persists verification links. Consume must be atomic: exactly one
// caller wins when a token is consumed concurrently; the rest observe
// sentinel.ErrAlreadyUsed.
type Store interface {
	Save(ctx context.Context, l *VerificationLink) error
	Find(ctx context.Context, token domain.LinkToken) (*VerificationLink, error)
	Consume(ctx context.Context, token domain.LinkToken) error
}
