package results

import (
	"context"
	"sync"

	"github.com/callflow/callflow/pkg/errors"
)

// DefaultMemoryCapacity is how many runs a MemoryStore keeps.
const DefaultMemoryCapacity = 32

// MemoryStore keeps the most recent runs in process. The oldest run is
// evicted once capacity is reached.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	records  map[string]*Record
	order    []string
}

// NewMemoryStore creates a store holding up to capacity runs.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		records:  make(map[string]*Record),
	}
}

// Put stores rec and makes it the latest run.
func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return errors.New(errors.CodeStoreFailed, "run has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		s.remove(rec.ID)
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)

	for len(s.order) > s.capacity {
		delete(s.records, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryStore) remove(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Get returns the run with id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, errors.NotFound("run", id)
	}
	return rec, nil
}

// Latest returns the most recently stored run.
func (s *MemoryStore) Latest(ctx context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil, errors.NotFound("run", "latest")
	}
	return s.records[s.order[len(s.order)-1]], nil
}

// Len returns the number of stored runs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
