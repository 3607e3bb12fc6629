package biometric

import (
	"context"
	"sort"
	"sync"

	"vkyc/pkg/domain"
)

// Store persists telemetry events in batches.
type Store interface {
	Append(ctx context.Context, events []Event) error
	BySession(ctx context.Context, id domain.SessionID) ([]Event, error)
}

// InMemoryStore is the test and single-node implementation.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.SessionID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[domain.SessionID][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events[e.SessionID] = append(s.events[e.SessionID], e)
	}
	return nil
}

func (s *InMemoryStore) BySession(_ context.Context, id domain.SessionID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events[id]))
	copy(out, s.events[id])
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out, nil
}
