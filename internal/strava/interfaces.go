package strava

import (
	"context"
	"time"

	"github.com/Kamar-Folarin/strava-sync/internal/models"
	"github.com/Kamar-Folarin/strava-sync/internal/ratelimit"
)

// CredentialStore holds each account's current token pair
type CredentialStore interface {
	// GetAccount loads an account with its credential
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)

	// SaveCredential replaces the stored token pair and marks the account active
	SaveCredential(ctx context.Context, accountID int64, cred models.Credential) error

	// MarkAuthRequired flags the account for out-of-band re-authorization
	MarkAuthRequired(ctx context.Context, accountID int64, reason string) error
}

// Quota is the shared call budget every provider request draws from
type Quota interface {
	Reserve(ctx context.Context, cost int) (*ratelimit.Permit, error)
	Penalize(retryAfter time.Duration)
	ObserveUsage(windowUsed, dayUsed int)
}

// Credentials hands out usable access tokens
type Credentials interface {
	// GetValidCredential returns a credential that will not expire within the
	// safety margin, refreshing it if needed
	GetValidCredential(ctx context.Context, accountID int64) (*models.Credential, error)

	// ForceRefresh renews the credential even if it looks valid. rejected is the
	// access token the provider refused; if another caller already replaced it
	// the current credential is returned without a refresh.
	ForceRefresh(ctx context.Context, accountID int64, rejected string) (*models.Credential, error)
}

// ActivitySource is the read side of the provider API used by the sync engine
type ActivitySource interface {
	ListActivities(ctx context.Context, accountID int64, opts ListOptions) (*ActivityPage, error)
	GetActivity(ctx context.Context, accountID, activityID int64) (*models.Activity, error)
}
