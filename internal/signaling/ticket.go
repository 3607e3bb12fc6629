package signaling

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "vkyc/pkg/domain-errors"
)

// Role distinguishes the two ends of a session channel.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// TicketClaims are the JWT claims of a WebSocket join ticket. Tickets are
// short-lived and scoped to one session for both roles; agent tickets also
// carry the employee id.
type TicketClaims struct {
	Role      string `json:"role"`
	SessionID string `json:"session_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	jwt.RegisteredClaims
}

// TicketService mints and validates join tickets.
type TicketService struct {
	signingKey []byte
	ttl        time.Duration
	clock      func() time.Time
}

func NewTicketService(signingKey string, ttl time.Duration) *TicketService {
	return &TicketService{
		signingKey: []byte(signingKey),
		ttl:        ttl,
		clock:      time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *TicketService) WithClock(clock func() time.Time) *TicketService {
	s.clock = clock
	return s
}

func (s *TicketService) issue(claims TicketClaims) (string, error) {
	now := s.clock()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// IssueCustomer mints a ticket binding a customer connection to a session.
func (s *TicketService) IssueCustomer(sessionID string) (string, error) {
	return s.issue(TicketClaims{Role: string(RoleCustomer), SessionID: sessionID})
}

// IssueAgent mints a ticket binding an agent to the session they claimed.
func (s *TicketService) IssueAgent(agentID, sessionID string) (string, error) {
	return s.issue(TicketClaims{Role: string(RoleAgent), SessionID: sessionID, AgentID: agentID})
}

// Validate parses and verifies a ticket.
func (s *TicketService) Validate(token string) (*TicketClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &TicketClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithTimeFunc(s.clock))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "ticket has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid ticket")
	}
	claims, ok := parsed.Claims.(*TicketClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid ticket")
	}
	return claims, nil
}
