package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/politefetch/internal/crawler"
)

// StatusStore keeps status records grouped by run ID.
type StatusStore struct {
	mu   sync.RWMutex
	runs map[string][]crawler.StatusRecord
}

// NewStatusStore creates an empty StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{runs: make(map[string][]crawler.StatusRecord)}
}

// WriteStatuses appends records to the run.
func (s *StatusStore) WriteStatuses(_ context.Context, runID string, records []crawler.StatusRecord) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = append(s.runs[runID], records...)
	return nil
}

// Statuses returns a copy of the records written for runID.
func (s *StatusStore) Statuses(runID string) []crawler.StatusRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.StatusRecord(nil), s.runs[runID]...)
}

// Runs lists the run IDs that have records.
func (s *StatusStore) Runs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}
