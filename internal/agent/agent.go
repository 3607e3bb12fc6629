// Package agent tracks the back-office staff working VKYC calls. There is
// no staff authentication here; agents are identified by employee id and
// the record exists for the audit trail.
package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	dErrors "vkyc/pkg/domain-errors"
	"vkyc/pkg/platform/sentinel"
)

// Agent is one console operator.
type Agent struct {
	EmployeeID string
	Name       string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Store persists agent records.
type Store interface {
	// Touch records activity for an employee, creating the record on first
	// contact.
	Touch(ctx context.Context, employeeID, name string, at time.Time) (*Agent, error)
	Find(ctx context.Context, employeeID string) (*Agent, error)
}

// NormalizeEmployeeID validates and canonicalizes an employee id.
func NormalizeEmployeeID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if id == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "employee id is required")
	}
	return id, nil
}

// InMemoryStore is the test and single-node implementation.
type InMemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{agents: make(map[string]*Agent)}
}

func (s *InMemoryStore) Touch(_ context.Context, employeeID, name string, at time.Time) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[employeeID]
	if !ok {
		a = &Agent{EmployeeID: employeeID, FirstSeen: at}
		s.agents[employeeID] = a
	}
	if name != "" {
		a.Name = name
	}
	a.LastSeen = at
	copied := *a
	return &copied, nil
}

func (s *InMemoryStore) Find(_ context.Context, employeeID string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[employeeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *a
	return &copied, nil
}
