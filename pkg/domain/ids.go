// Package domain holds the typed identifiers shared across the VKYC
// service. Using distinct UUID-backed types keeps session, customer, and
// recording ids from being mixed up at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "vkyc/pkg/domain-errors"
)

type (
	// SessionID identifies a VKYC session.
	SessionID uuid.UUID
	// CustomerID identifies the customer a verification link is bound to.
	CustomerID uuid.UUID
	// RecordingID identifies a session recording artifact.
	RecordingID uuid.UUID
)

// LinkToken is the opaque single-use token embedded in a verification link.
type LinkToken string

// NewSessionID returns a fresh random session id.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewCustomerID returns a fresh random customer id.
func NewCustomerID() CustomerID { return CustomerID(uuid.New()) }

// NewRecordingID returns a fresh random recording id.
func NewRecordingID() RecordingID { return RecordingID(uuid.New()) }

// NewLinkToken returns a fresh opaque link token.
func NewLinkToken() LinkToken { return LinkToken(uuid.NewString()) }

func (s SessionID) String() string   { return uuid.UUID(s).String() }
func (c CustomerID) String() string  { return uuid.UUID(c).String() }
func (r RecordingID) String() string { return uuid.UUID(r).String() }

// IsZero reports whether the id is the nil UUID.
func (s SessionID) IsZero() bool  { return uuid.UUID(s) == uuid.Nil }
func (c CustomerID) IsZero() bool { return uuid.UUID(c) == uuid.Nil }

// parseUUID enforces the shared invariant: ids must be valid, non-nil UUIDs.
func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return parsed, nil
}

// ParseSessionID parses a session id from its string form.
func ParseSessionID(raw string) (SessionID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(parsed), nil
}

// ParseCustomerID parses a customer id from its string form.
func ParseCustomerID(raw string) (CustomerID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return CustomerID{}, err
	}
	return CustomerID(parsed), nil
}
