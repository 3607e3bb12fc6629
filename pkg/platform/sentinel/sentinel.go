package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and external clients
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: verification link or scheduled window has expired
// - ErrAlreadyUsed: link token already consumed by a session
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: external capability or resource temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
