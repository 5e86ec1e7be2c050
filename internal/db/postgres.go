package db

import (
	"context"
	"database/sql"
	"fmt"

	json "github.com/goccy/go-json"

	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// GetSyncStatus retrieves the sync status for an account; nil when none is stored
func (s *PostgresStore) GetSyncStatus(ctx context.Context, accountID int64) (*models.SyncStatus, error) {
	var status models.SyncStatus
	var statusJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT status_json FROM sync_status
		WHERE account_id = $1
	`, accountID).Scan(&statusJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, apperrors.NewPersistenceError("failed to get sync status", err)
	}

	if err := json.Unmarshal(statusJSON, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync status: %w", err)
	}

	return &status, nil
}

// UpdateSyncStatus updates the sync status for an account
func (s *PostgresStore) UpdateSyncStatus(ctx context.Context, status *models.SyncStatus) error {
	if status == nil {
		return apperrors.NewValidationError("status cannot be nil", nil)
	}

	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal sync status: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_status (account_id, status_json, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			status_json = EXCLUDED.status_json,
			updated_at = NOW()
	`, status.AccountID, statusJSON)

	if err != nil {
		return apperrors.NewPersistenceError("failed to update sync status", err)
	}

	return nil
}

// ListSyncStatuses retrieves all sync statuses
func (s *PostgresStore) ListSyncStatuses(ctx context.Context) ([]*models.SyncStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status_json FROM sync_status ORDER BY account_id
	`)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to query sync statuses", err)
	}
	defer rows.Close()

	var statuses []*models.SyncStatus
	for rows.Next() {
		var status models.SyncStatus
		var statusJSON []byte
		if err := rows.Scan(&statusJSON); err != nil {
			return nil, fmt.Errorf("failed to scan sync status row: %w", err)
		}

		if err := json.Unmarshal(statusJSON, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync status: %w", err)
		}

		statuses = append(statuses, &status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync status rows: %w", err)
	}

	return statuses, nil
}
