package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/wolfeidau/riskrunner/internal/models"
	"github.com/wolfeidau/riskrunner/internal/store"
)

// BatchStore implements store.BatchStore in memory.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[uuid.UUID][]models.RawRow
}

func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[uuid.UUID][]models.RawRow)}
}

func (s *BatchStore) SaveBatch(ctx context.Context, jobID uuid.UUID, rows []models.RawRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches[jobID] = cloneRows(rows)
	return nil
}

func (s *BatchStore) LoadBatch(ctx context.Context, jobID uuid.UUID) ([]models.RawRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.batches[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrBatchNotFound, jobID)
	}
	return cloneRows(rows), nil
}

func (s *BatchStore) DeleteBatch(ctx context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.batches, jobID)
	return nil
}

func cloneRows(rows []models.RawRow) []models.RawRow {
	out := make([]models.RawRow, len(rows))
	for i, row := range rows {
		out[i] = maps.Clone(row)
	}
	return out
}
