package recording

import (
	"context"
	"sync"

	"vkyc/pkg/domain"
	"vkyc/pkg/platform/sentinel"
)

// Store persists finalized recording metadata. The artifact bytes live in
// the ArtifactStore; this only records where they went.
type Store interface {
	Save(ctx context.Context, r *Recording) error
	Find(ctx context.Context, id domain.SessionID) (*Recording, error)
}

// InMemoryStore is the test and single-node implementation.
type InMemoryStore struct {
	mu         sync.RWMutex
	recordings map[domain.SessionID]Recording
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{recordings: make(map[domain.SessionID]Recording)}
}

func (s *InMemoryStore) Save(_ context.Context, r *Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[r.SessionID] = *r
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, id domain.SessionID) (*Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recordings[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := r
	return &out, nil
}
