package batch

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory batch store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

// Create stores a new record
func (s *MemoryStore) Create(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("batch %s already exists", rec.ID)
	}

	recCopy := *rec
	s.records[rec.ID] = &recCopy
	return nil
}

// Get retrieves a record by ID
func (s *MemoryStore) Get(id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("batch %s: %w", id, ErrBatchNotFound)
	}

	// Return a copy to prevent external modification
	recCopy := *rec
	return &recCopy, nil
}

// Update replaces an existing record
func (s *MemoryStore) Update(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; !exists {
		return fmt.Errorf("batch %s: %w", rec.ID, ErrBatchNotFound)
	}

	recCopy := *rec
	s.records[rec.ID] = &recCopy
	return nil
}

// List returns records matching the filter, newest first
func (s *MemoryStore) List(filter Filter) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Record
	for _, rec := range s.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		recCopy := *rec
		result = append(result, &recCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Delete removes a record
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("batch %s: %w", id, ErrBatchNotFound)
	}

	delete(s.records, id)
	return nil
}

// CleanupOld removes terminal records created before the cutoff
func (s *MemoryStore) CleanupOld(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, rec := range s.records {
		if rec.Status.IsTerminal() && rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted
}

// Stats returns record counts by status
func (s *MemoryStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{
		"total":     len(s.records),
		"pending":   0,
		"running":   0,
		"completed": 0,
		"cancelled": 0,
	}
	for _, rec := range s.records {
		stats[string(rec.Status)]++
	}
	return stats
}
