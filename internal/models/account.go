package models

import "time"

// AccountStatus is the authorization state of a tracked account
type AccountStatus string

const (
	AccountActive       AccountStatus = "active"
	AccountAuthRequired AccountStatus = "auth_required"
)

// Credential is an OAuth access/refresh token pair for one athlete
type Credential struct {
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
}

// ValidFor reports whether the access token is still usable margin from now
func (c *Credential) ValidFor(now time.Time, margin time.Duration) bool {
	return c != nil && c.AccessToken != "" && c.ExpiresAt.After(now.Add(margin))
}

// Account is a tracked athlete with its credentials and sync cursor
type Account struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name"`
	Email          string        `json:"email,omitempty"`
	Credential     Credential    `json:"credential"`
	Status         AccountStatus `json:"status"`
	StatusReason   string        `json:"status_reason,omitempty"`
	LastActivityAt *time.Time    `json:"last_activity_at,omitempty"`
	LastSyncAt     *time.Time    `json:"last_sync_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NeedsReauthorization reports whether a human must re-authorize the account
func (a *Account) NeedsReauthorization() bool {
	return a.Status == AccountAuthRequired
}
