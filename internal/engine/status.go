package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kamar-Folarin/strava-sync/internal/db"
	"github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// StatusManager caches per-account sync status in front of the store
type StatusManager interface {
	GetStatus(ctx context.Context, accountID int64) (*models.SyncStatus, error)
	UpdateStatus(ctx context.Context, status *models.SyncStatus) error
	ListStatuses(ctx context.Context) ([]*models.SyncStatus, error)
}

// StatusManagerImpl implements the StatusManager interface
type StatusManagerImpl struct {
	store db.StatusStore
	mu    sync.RWMutex
	cache map[int64]*models.SyncStatus
}

// NewStatusManager creates a new status manager
func NewStatusManager(store db.StatusStore) *StatusManagerImpl {
	return &StatusManagerImpl{
		store: store,
		cache: make(map[int64]*models.SyncStatus),
	}
}

func copyStatus(s *models.SyncStatus) *models.SyncStatus {
	c := *s
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// GetStatus retrieves the sync status for an account
func (m *StatusManagerImpl) GetStatus(ctx context.Context, accountID int64) (*models.SyncStatus, error) {
	m.mu.RLock()
	if status, exists := m.cache[accountID]; exists {
		m.mu.RUnlock()
		return copyStatus(status), nil
	}
	m.mu.RUnlock()

	status, err := m.store.GetSyncStatus(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	if status == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("sync status not found for account: %d", accountID), nil)
	}

	m.mu.Lock()
	m.cache[accountID] = copyStatus(status)
	m.mu.Unlock()

	return status, nil
}

// UpdateStatus updates the sync status for an account
func (m *StatusManagerImpl) UpdateStatus(ctx context.Context, status *models.SyncStatus) error {
	if status == nil {
		return errors.NewValidationError("status cannot be nil", nil)
	}
	if status.AccountID <= 0 {
		return errors.NewValidationError("account ID must be positive", nil)
	}

	// Readers see the cached copy even when the store write fails.
	m.mu.Lock()
	m.cache[status.AccountID] = copyStatus(status)
	m.mu.Unlock()

	if err := m.store.UpdateSyncStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// ListStatuses retrieves all sync statuses
func (m *StatusManagerImpl) ListStatuses(ctx context.Context) ([]*models.SyncStatus, error) {
	statuses, err := m.store.ListSyncStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, status := range statuses {
		if cached, ok := m.cache[status.AccountID]; ok {
			*status = *copyStatus(cached)
			continue
		}
		m.cache[status.AccountID] = copyStatus(status)
	}
	return statuses, nil
}
