package memory

import (
	"context"
	"sync"

	"github.com/ajazfarhad/wipeproof/ledger"
)

// Store keeps anchors in process memory. Useful for tests and demos.
type Store struct {
	mu      sync.RWMutex
	records map[string]ledger.Record
}

func New() *Store {
	return &Store{records: make(map[string]ledger.Record)}
}

func (s *Store) Get(ctx context.Context, id string) (*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) Insert(ctx context.Context, r ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.ID]; exists {
		return ledger.ErrExists
	}
	s.records[r.ID] = r
	return nil
}

func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}
