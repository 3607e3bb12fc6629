package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vkyc/pkg/domain"
	dErrors "vkyc/pkg/domain-errors"
	"vkyc/pkg/platform/sentinel"
)

var linksIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vkyc_links_issued_total",
	Help: "Total verification links issued.",
})

// Issuer creates and resolves verification links.
type Issuer struct {
	store   Store
	baseURL string
	ttl     time.Duration
	logger  *slog.Logger
	clock   func() time.Time
}

// NewIssuer builds an Issuer. baseURL is the public frontend base the token
// is appended to; ttl is the link validity window.
func NewIssuer(store Store, baseURL string, ttl time.Duration, logger *slog.Logger) *Issuer {
	return &Issuer{
		store:   store,
		baseURL: baseURL,
		ttl:     ttl,
		logger:  logger,
		clock:   time.Now,
	}
}

// WithClock overrides the time source for tests.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	i.clock = clock
	return i
}

// Issue creates a fresh single-use link for the customer.
func (i *Issuer) Issue(ctx context.Context, customerID domain.CustomerID) (*VerificationLink, error) {
	now := i.clock()
	l := &VerificationLink{
		Token:      domain.NewLinkToken(),
		CustomerID: customerID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(i.ttl),
	}
	if err := i.store.Save(ctx, l); err != nil {
		return nil, fmt.Errorf("save link: %w", err)
	}
	linksIssued.Inc()
	i.logger.InfoContext(ctx, "verification link issued",
		"customer_id", customerID, "expires_at", l.ExpiresAt)
	return l, nil
}

// Resolve returns the link for a token if it is still resolvable. Expired
// and unknown tokens both surface as link_expired to the user; consumption
// state is reported separately so retries of beginSession stay idempotent.
func (i *Issuer) Resolve(ctx context.Context, token domain.LinkToken) (*VerificationLink, error) {
	l, err := i.store.Find(ctx, token)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeLinkExpired, "verification link is unknown or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("find link: %w", err)
	}
	if l.Expired(i.clock()) {
		return nil, dErrors.New(dErrors.CodeLinkExpired, "verification link has expired")
	}
	return l, nil
}

// Consume marks the token used. The caller is expected to have resolved the
// link first; a second consume reports link_consumed.
func (i *Issuer) Consume(ctx context.Context, token domain.LinkToken) error {
	err := i.store.Consume(ctx, token)
	switch {
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeLinkConsumed, "verification link already used")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeLinkExpired, "verification link is unknown or expired")
	case err != nil:
		return fmt.Errorf("consume link: %w", err)
	}
	return nil
}

// URL renders the public link for a token.
func (i *Issuer) URL(token domain.LinkToken) string {
	return fmt.Sprintf("%s/vkyc/%s", i.baseURL, token)
}
