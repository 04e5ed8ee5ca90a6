package database

import (
	"context"
	"sync"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/models"
)

type addressKey struct {
	shape models.Shape
	code  int64
}

// MemoryDBManager keeps everything in process memory. It backs dry runs and tests.
type MemoryDBManager struct {
	mu         sync.RWMutex
	addresses  map[addressKey]models.AddressEntity
	runs       []models.SyncRun
	rejections []models.Rejection
}

func NewMemoryDBManager() *MemoryDBManager {
	return &MemoryDBManager{addresses: make(map[addressKey]models.AddressEntity)}
}

func (m *MemoryDBManager) CreateTables(ctx context.Context) error { return nil }
func (m *MemoryDBManager) Ping(ctx context.Context) error         { return nil }
func (m *MemoryDBManager) Close()                                 {}

func (m *MemoryDBManager) ParentExists(ctx context.Context, shape models.Shape, code int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.addresses[addressKey{shape, code}]
	return ok && e.State == models.StateActive, nil
}

func (m *MemoryDBManager) UpsertAddress(ctx context.Context, entity models.AddressEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := addressKey{entity.Shape, entity.Code}
	if existing, ok := m.addresses[key]; ok {
		entity.FirstSeenAt = existing.FirstSeenAt
	}
	m.addresses[key] = entity
	return nil
}

func (m *MemoryDBManager) SoftDeleteAddress(ctx context.Context, shape models.Shape, code int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := addressKey{shape, code}
	e, ok := m.addresses[key]
	if !ok {
		return false, nil
	}
	e.State = models.StateDeleted
	e.StatusToken = models.StateDeleted.StatusToken()
	if e.DeletedAt == nil {
		e.DeletedAt = &at
	}
	m.addresses[key] = e
	return true, nil
}

func (m *MemoryDBManager) GetAddress(ctx context.Context, shape models.Shape, code int64) (*models.AddressEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.addresses[addressKey{shape, code}]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (m *MemoryDBManager) CountAddresses(ctx context.Context, shape models.Shape, state models.ReconciliationState) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for key, e := range m.addresses {
		if key.shape == shape && e.State == state {
			count++
		}
	}
	return count, nil
}

func (m *MemoryDBManager) InsertSyncRun(ctx context.Context, run models.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *MemoryDBManager) UpdateSyncRun(ctx context.Context, run models.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			run.SourceURL = m.runs[i].SourceURL
			run.StartedAt = m.runs[i].StartedAt
			m.runs[i] = run
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryDBManager) IsArchiveAlreadyProcessed(ctx context.Context, checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, run := range m.runs {
		if run.Checksum == checksum && run.Status == models.RUN_STATUS_DONE {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryDBManager) InsertRejections(ctx context.Context, rejections []models.Rejection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, rejections...)
	return nil
}

func (m *MemoryDBManager) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.runs) == 0 {
		return nil, ErrNotFound
	}
	latest := m.runs[len(m.runs)-1]
	return &latest, nil
}

// Rejections returns a copy of the stored rejection log.
func (m *MemoryDBManager) Rejections() []models.Rejection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Rejection(nil), m.rejections...)
}
