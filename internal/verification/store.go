package verification

import (
	"context"
	"sync"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// ResultStore persists per-document verification results.
type ResultStore interface {
	Upsert(ctx context.Context, r *Result) error
	Find(ctx context.Context, id domain.SessionID, doc domain.DocumentType) (*Result, error)
	BySession(ctx context.Context, id domain.SessionID) ([]*Result, error)
}

type resultKey struct {
	session  domain.SessionID
	document domain.DocumentType
}

// InMemoryResultStore is the test and single-node implementation.
type InMemoryResultStore struct {
	mu      sync.RWMutex
	results map[resultKey]*Result
}

func NewInMemoryResultStore() *InMemoryResultStore {
	return &InMemoryResultStore{results: make(map[resultKey]*Result)}
}

func (s *InMemoryResultStore) Upsert(_ context.Context, r *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *r
	s.results[resultKey{r.SessionID, r.Document}] = &copied
	return nil
}

func (s *InMemoryResultStore) Find(_ context.Context, id domain.SessionID, doc domain.DocumentType) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[resultKey{id, doc}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *InMemoryResultStore) BySession(_ context.Context, id domain.SessionID) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Result
	for key, r := range s.results {
		if key.session == id {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}
