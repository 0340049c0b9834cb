package history

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ibagroup-eu/Visual-Flow-databricks-sub001/internal/domain"
)

const DefaultMemoryLimit = 100

// MemoryStore keeps the last few records per trigger. It is used when no
// database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	limit     int
	byID      map[uuid.UUID]struct{}
	byTrigger map[string][]domain.ExecutionRecord
}

func NewMemoryStore(perTrigger int) *MemoryStore {
	if perTrigger <= 0 {
		perTrigger = DefaultMemoryLimit
	}
	return &MemoryStore{
		limit:     perTrigger,
		byID:      make(map[uuid.UUID]struct{}),
		byTrigger: make(map[string][]domain.ExecutionRecord),
	}
}

func (s *MemoryStore) InsertExecution(_ context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.EventID]; ok {
		return ErrDuplicateExecution
	}
	s.byID[rec.EventID] = struct{}{}

	recs := append(s.byTrigger[rec.TriggerID], rec)
	if len(recs) > s.limit {
		for _, old := range recs[:len(recs)-s.limit] {
			delete(s.byID, old.EventID)
		}
		recs = append([]domain.ExecutionRecord(nil), recs[len(recs)-s.limit:]...)
	}
	s.byTrigger[rec.TriggerID] = recs
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, triggerID string, limit int) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.byTrigger[triggerID]
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	out := make([]domain.ExecutionRecord, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}
