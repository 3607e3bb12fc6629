package customer

import (
	"context"
	"sync"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// InMemoryStore is the test and single-node implementation of Store.
type InMemoryStore struct {
	mu        sync.RWMutex
	customers map[domain.CustomerID]*Customer
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{customers: make(map[domain.CustomerID]*Customer)}
}

func (s *InMemoryStore) Create(_ context.Context, c *Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.customers[c.ID]; exists {
		return sentinel.ErrConflict
	}
	copied := *c
	s.customers[c.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.CustomerID) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *c
	return &copied, nil
}
