package link

import (
	"context"
	"sync"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// InMemoryStore is the test and single-node implementation of Store.
type InMemoryStore struct {
	mu    sync.Mutex
	links map[domain.LinkToken]*VerificationLink
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{links: make(map[domain.LinkToken]*VerificationLink)}
}

func (s *InMemoryStore) Save(_ context.Context, l *VerificationLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *l
	s.links[l.Token] = &copied
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, token domain.LinkToken) (*VerificationLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[token]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *l
	return &copied, nil
}

func (s *InMemoryStore) Consume(_ context.Context, token domain.LinkToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[token]
	if !ok {
		return sentinel.ErrNotFound
	}
	if l.Consumed {
		return sentinel.ErrAlreadyUsed
	}
	l.Consumed = true
	return nil
}
