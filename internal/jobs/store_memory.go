package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRunStore is an in-memory implementation of RunStore
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryRunStore creates a new in-memory run store
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]*Run),
	}
}

// CreateRun stores a new run
func (s *MemoryRunStore) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryRunStore) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}

	// Return a copy to prevent external modification
	runCopy := *run
	return &runCopy, nil
}

// UpdateRun replaces an existing run
func (s *MemoryRunStore) UpdateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s: %w", run.ID, ErrRunNotFound)
	}

	runCopy := *run
	s.runs[run.ID] = &runCopy
	return nil
}

// ListRuns returns runs matching the filter, oldest first
func (s *MemoryRunStore) ListRuns(filter RunFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Run
	for _, run := range s.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.FunctionID != "" && run.FunctionID != filter.FunctionID {
			continue
		}
		if filter.EventID != "" && run.EventID != filter.EventID {
			continue
		}
		if !filter.Since.IsZero() && run.CreatedAt.Before(filter.Since) {
			continue
		}

		runCopy := *run
		result = append(result, &runCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// CleanupOldRuns removes finished runs older than the specified duration
func (s *MemoryRunStore) CleanupOldRuns(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, run := range s.runs {
		if run.Finished() && run.CreatedAt.Before(cutoff) {
			delete(s.runs, id)
			deleted++
		}
	}
	return deleted
}

// GetStats returns run counts by status
func (s *MemoryRunStore) GetStats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{
		"total_runs": len(s.runs),
		"pending":    0,
		"running":    0,
		"completed":  0,
		"failed":     0,
	}
	for _, run := range s.runs {
		stats[string(run.Status)]++
	}
	return stats
}
