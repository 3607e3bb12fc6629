package session

import (
	"context"
	"sort"
	"sync"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// InMemoryStore is the test and single-node implementation of Store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[domain.SessionID]*Session)}
}

func (s *InMemoryStore) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.SessionID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (s *InMemoryStore) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return sentinel.ErrNotFound
	}
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindActiveByCustomer(_ context.Context, id domain.CustomerID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *Session
	for _, sess := range s.sessions {
		if sess.CustomerID != id || sess.State.Terminal() {
			continue
		}
		if newest == nil || sess.CreatedAt.After(newest.CreatedAt) {
			newest = sess
		}
	}
	if newest == nil {
		return nil, sentinel.ErrNotFound
	}
	copied := *newest
	return &copied, nil
}

func (s *InMemoryStore) ListByState(_ context.Context, states ...State) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[State]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}
	var out []*Session
	for _, sess := range s.sessions {
		if wanted[sess.State] {
			copied := *sess
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
