// Package link implements the verification-link issuer: single-use, expiring
// tokens bound to a customer, resolvable into a session.
package link

import (
	"time"

	"vkyc/pkg/domain"
)

// VerificationLink is a single-use verification token. Links are retained
// after consumption and expiry for the audit trail; only resolution and
// consumption are time- and use-bounded.
type VerificationLink struct {
	Token      domain.LinkToken
	CustomerID domain.CustomerID
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Consumed   bool
}

// Expired reports whether the link is past its expiry at the given instant.
func (l VerificationLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
