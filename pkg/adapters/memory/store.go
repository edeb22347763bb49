package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// Store implements ports.StateStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string][]byte),
	}
}

// Save persists the record in memory. Records are stored serialized so the
// caller's copy and the stored copy are isolated, and so anything that does
// not survive serialization fails here instead of only against a real
// backend.
func (s *Store) Save(ctx context.Context, rec *domain.ExecutionRecord) error {
	if rec.PlanID == "" {
		return fmt.Errorf("plan ID cannot be empty")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.PlanID] = data
	return nil
}

// Load retrieves the record for a plan ID.
func (s *Store) Load(ctx context.Context, planID string) (*domain.ExecutionRecord, error) {
	s.mu.RLock()
	data, ok := s.data[planID]
	s.mu.RUnlock()

	if !ok {
		return nil, domain.ErrRunNotFound
	}

	var rec domain.ExecutionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record for a plan ID.
func (s *Store) Delete(ctx context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, planID)
	return nil
}

// List returns the plan IDs of all persisted runs in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
