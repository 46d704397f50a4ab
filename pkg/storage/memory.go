package storage

import (
	"context"
	"sync"

	"detox/pkg/models"
)

// MemoryRunStore keeps the last runs of this process.
// It backs the status server when no database is configured.
type MemoryRunStore struct {
	mu   sync.RWMutex
	max  int
	runs []models.RunRecord // oldest first
}

func NewMemoryRunStore(max int) *MemoryRunStore {
	if max <= 0 {
		max = 50
	}
	return &MemoryRunStore{max: max}
}

func (m *MemoryRunStore) Name() string { return "memory" }

func (m *MemoryRunStore) Record(_ context.Context, run *models.Run) error {
	rec := models.NewRunRecord(run)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *rec)
	if len(m.runs) > m.max {
		m.runs = append([]models.RunRecord(nil), m.runs[len(m.runs)-m.max:]...)
	}
	return nil
}

func (m *MemoryRunStore) ListRecent(_ context.Context, limit int) ([]models.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]models.RunRecord, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *MemoryRunStore) Last(_ context.Context) (*models.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.runs) == 0 {
		return nil, ErrNotFound
	}
	rec := m.runs[len(m.runs)-1]
	return &rec, nil
}
