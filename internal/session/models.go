// Package session owns the VKYC session lifecycle. All state mutations go
// through the Engine's transition operations, which are serialized per
// session; other components hold snapshot reads and report outcomes back.
package session

import (
	"time"

	"vkyc/pkg/domain"
)

// State is a session lifecycle state.
type State string

const (
	StateCreated      State = "created"
	StateScheduled    State = "scheduled"
	StateReadyToStart State = "ready_to_start"
	StateInProgress   State = "in_progress"
	StateVerifying    State = "verifying"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateExpired      State = "expired"
)

// Terminal reports whether no further transition may leave the state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired:
		return true
	}
	return false
}

// transitions is the closed set of legal forward edges. A repeated call with
// an identical target state is a no-op, not an error, so retransmitted
// control messages stay harmless.
var transitions = map[State]map[State]bool{
	StateCreated:      {StateScheduled: true, StateReadyToStart: true, StateExpired: true, StateFailed: true},
	StateScheduled:    {StateReadyToStart: true, StateExpired: true, StateFailed: true},
	StateReadyToStart: {StateInProgress: true, StateFailed: true},
	StateInProgress:   {StateVerifying: true, StateFailed: true},
	StateVerifying:    {StateCompleted: true, StateFailed: true},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// Mode selects immediate or scheduled execution.
type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeScheduled Mode = "scheduled"
)

// Reason is the internal termination reason code retained for the audit
// trail. End users only ever see the coarse Category.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonDisconnectTimeout      Reason = "disconnect_timeout"
	ReasonVerificationFailed     Reason = "verification_failed"
	ReasonRegistryMismatch       Reason = "registry_mismatch"
	ReasonVerificationIncomplete Reason = "verification_incomplete"
	ReasonProcessRestart         Reason = "process_restart"
	ReasonLinkExpired            Reason = "link_expired"
	ReasonWaitTimeout            Reason = "agent_wait_timeout"
	ReasonUserLeft               Reason = "user_left"
)

// Category collapses internal reasons into the generic outcome shown to the
// end user.
func (r Reason) Category() string {
	switch r {
	case ReasonLinkExpired, ReasonWaitTimeout:
		return "expired"
	case ReasonDisconnectTimeout, ReasonUserLeft:
		return "disconnected"
	case ReasonVerificationFailed, ReasonRegistryMismatch, ReasonVerificationIncomplete:
		return "verification_failed"
	case ReasonNone:
		return "completed"
	}
	return "failed"
}

// Session is the aggregate owned by the Engine.
type Session struct {
	ID         domain.SessionID
	CustomerID domain.CustomerID
	LinkToken  domain.LinkToken
	// LinkExpiresAt mirrors the bound link's expiry so the scheduler can
	// expire unconsumed sessions without a link-store lookup.
	LinkExpiresAt time.Time
	Mode          Mode
	ScheduledAt   *time.Time
	AgentID       string
	State         State
	// StartedAt is stamped once, when the session begins. WaitingSince
	// tracks how long the session has been without an agent; it resets on
	// agent release and clears on assignment.
	StartedAt    *time.Time
	WaitingSince *time.Time
	EndedAt      *time.Time
	Reason       Reason
	CreatedAt    time.Time
}

// Active reports whether the signaling channel may accept messages for the
// session.
func (s *Session) Active() bool {
	return s.State == StateInProgress || s.State == StateVerifying
}
