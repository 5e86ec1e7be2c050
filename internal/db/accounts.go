package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

const selectAccountColumns = `id, name, email, access_token, refresh_token, expires_at, scope,
	status, status_reason, last_activity_at, last_sync_at, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a            models.Account
		status       string
		lastActivity sql.NullTime
		lastSync     sql.NullTime
	)
	if err := row.Scan(
		&a.ID, &a.Name, &a.Email,
		&a.Credential.AccessToken, &a.Credential.RefreshToken, &a.Credential.ExpiresAt, &a.Credential.Scope,
		&status, &a.StatusReason, &lastActivity, &lastSync, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = models.AccountStatus(status)
	a.Credential.ExpiresAt = a.Credential.ExpiresAt.UTC()
	if lastActivity.Valid {
		t := lastActivity.Time.UTC()
		a.LastActivityAt = &t
	}
	if lastSync.Valid {
		t := lastSync.Time.UTC()
		a.LastSyncAt = &t
	}
	return &a, nil
}

// SeedAccount inserts a configured account or refreshes its profile. The
// seeded credential only wins when it expires later than the stored one,
// which also clears an auth_required flag after re-authorization.
func (s *PostgresStore) SeedAccount(ctx context.Context, account *models.Account) error {
	if account == nil || account.ID <= 0 {
		return apperrors.NewValidationError("account requires an id", nil)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, email, access_token, refresh_token, expires_at, scope, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'active')
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			access_token = CASE WHEN EXCLUDED.expires_at > accounts.expires_at THEN EXCLUDED.access_token ELSE accounts.access_token END,
			refresh_token = CASE WHEN EXCLUDED.expires_at > accounts.expires_at THEN EXCLUDED.refresh_token ELSE accounts.refresh_token END,
			status = CASE WHEN EXCLUDED.expires_at > accounts.expires_at THEN 'active' ELSE accounts.status END,
			status_reason = CASE WHEN EXCLUDED.expires_at > accounts.expires_at THEN '' ELSE accounts.status_reason END,
			expires_at = GREATEST(EXCLUDED.expires_at, accounts.expires_at),
			updated_at = NOW()`,
		account.ID,
		account.Name,
		account.Email,
		account.Credential.AccessToken,
		account.Credential.RefreshToken,
		account.Credential.ExpiresAt.UTC(),
		account.Credential.Scope,
	)
	if err != nil {
		return apperrors.NewPersistenceError(fmt.Sprintf("failed to seed account %d", account.ID), err)
	}
	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"name":       account.Name,
	}).Debug("Seeded account")
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectAccountColumns+` FROM accounts WHERE id = $1`, accountID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewResourceNotFoundError("account", fmt.Sprint(accountID))
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to get account", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectAccountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to query accounts", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("failed to scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("error iterating accounts", err)
	}
	return accounts, nil
}

func (s *PostgresStore) execAccount(ctx context.Context, accountID int64, what, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, append([]interface{}{accountID}, args...)...)
	if err != nil {
		return apperrors.NewPersistenceError(fmt.Sprintf("failed to %s for account %d", what, accountID), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewResourceNotFoundError("account", fmt.Sprint(accountID))
	}
	return nil
}

func (s *PostgresStore) SaveCredential(ctx context.Context, accountID int64, cred models.Credential) error {
	return s.execAccount(ctx, accountID, "save credential", `
		UPDATE accounts SET
			access_token = $2,
			refresh_token = $3,
			expires_at = $4,
			scope = CASE WHEN $5 = '' THEN scope ELSE $5 END,
			status = 'active',
			status_reason = '',
			updated_at = NOW()
		WHERE id = $1`,
		cred.AccessToken, cred.RefreshToken, cred.ExpiresAt.UTC(), cred.Scope)
}

func (s *PostgresStore) MarkAuthRequired(ctx context.Context, accountID int64, reason string) error {
	return s.execAccount(ctx, accountID, "mark auth required", `
		UPDATE accounts SET status = 'auth_required', status_reason = $2, updated_at = NOW()
		WHERE id = $1`, reason)
}

func (s *PostgresStore) UpdateCursor(ctx context.Context, accountID int64, lastActivityAt *time.Time, syncedAt time.Time) error {
	var last interface{}
	if lastActivityAt != nil {
		last = lastActivityAt.UTC()
	}
	return s.execAccount(ctx, accountID, "update cursor", `
		UPDATE accounts SET
			last_activity_at = GREATEST(last_activity_at, $2::timestamptz),
			last_sync_at = $3,
			updated_at = NOW()
		WHERE id = $1`, last, syncedAt.UTC())
}
