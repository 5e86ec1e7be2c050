package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/Kamar-Folarin/strava-sync/internal/clock"
	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/metrics"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
	"github.com/Kamar-Folarin/strava-sync/pkg/utils"
)

// OAuthConfig identifies the application to the token endpoint
type OAuthConfig struct {
	ClientID      string
	ClientSecret  string
	TokenURL      string
	RefreshMargin time.Duration
}

// TokenManager renews access tokens with at most one refresh in flight per
// account. Concurrent callers queue on the account's lock and pick up the
// credential the first caller stored.
type TokenManager struct {
	store      CredentialStore
	quota      Quota
	oauth      *oauth2.Config
	httpClient *http.Client
	clock      clock.Clock
	margin     time.Duration
	logger     *logrus.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// TokenOption configures a TokenManager
type TokenOption func(*TokenManager)

// WithTokenHTTPClient sets the client used against the token endpoint
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(tm *TokenManager) {
		tm.httpClient = c
	}
}

// WithTokenClock substitutes the time source used for expiry checks
func WithTokenClock(c clock.Clock) TokenOption {
	return func(tm *TokenManager) {
		tm.clock = c
	}
}

// NewTokenManager creates a token manager backed by store. Every refresh
// draws one unit from quota.
func NewTokenManager(cfg OAuthConfig, store CredentialStore, quota Quota, logger *logrus.Logger, opts ...TokenOption) *TokenManager {
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	tm := &TokenManager{
		store: store,
		quota: quota,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		clock:      clock.Real{},
		margin:     margin,
		logger:     logger,
		locks:      make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

func (tm *TokenManager) accountLock(accountID int64) *sync.Mutex {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	l, ok := tm.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		tm.locks[accountID] = l
	}
	return l
}

func (tm *TokenManager) load(ctx context.Context, accountID int64) (*models.Account, error) {
	acct, err := tm.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.NeedsReauthorization() {
		return nil, apperrors.NewAuthRequiredError(
			fmt.Sprintf("account %d requires re-authorization", accountID), nil)
	}
	return acct, nil
}

// GetValidCredential returns the cached credential when it is valid beyond the
// refresh margin, otherwise refreshes it
func (tm *TokenManager) GetValidCredential(ctx context.Context, accountID int64) (*models.Credential, error) {
	acct, err := tm.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Credential.ValidFor(tm.clock.Now(), tm.margin) {
		cred := acct.Credential
		return &cred, nil
	}

	lock := tm.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited.
	acct, err = tm.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Credential.ValidFor(tm.clock.Now(), tm.margin) {
		cred := acct.Credential
		return &cred, nil
	}
	return tm.refresh(ctx, acct)
}

// ForceRefresh renews the credential after the provider rejected rejected
func (tm *TokenManager) ForceRefresh(ctx context.Context, accountID int64, rejected string) (*models.Credential, error) {
	lock := tm.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	acct, err := tm.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if rejected != "" && acct.Credential.AccessToken != rejected && acct.Credential.ValidFor(tm.clock.Now(), 0) {
		cred := acct.Credential
		return &cred, nil
	}
	return tm.refresh(ctx, acct)
}

// refresh must be called with the account lock held
func (tm *TokenManager) refresh(ctx context.Context, acct *models.Account) (*models.Credential, error) {
	logger := tm.logger.WithField("account_id", acct.ID)

	if acct.Credential.RefreshToken == "" {
		return nil, tm.reject(ctx, acct.ID, "no refresh token on file", nil)
	}

	if _, err := tm.quota.Reserve(ctx, 1); err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, tm.httpClient)
	src := tm.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: acct.Credential.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			switch status := re.Response.StatusCode; {
			case status == http.StatusBadRequest || status == http.StatusUnauthorized:
				return nil, tm.reject(ctx, acct.ID, "refresh token rejected by provider", err)
			case status == http.StatusTooManyRequests:
				tm.quota.Penalize(utils.ParseRetryAfter(re.Response.Header.Get("Retry-After"), tm.clock.Now()))
			}
		}
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		logger.WithError(err).Warn("Token refresh failed")
		return nil, apperrors.NewTransientError("token refresh failed", err)
	}

	cred := models.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if at, ok := expiresAt(tok.Extra("expires_at")); ok {
		cred.ExpiresAt = at
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}

	if err := tm.store.SaveCredential(ctx, acct.ID, cred); err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return nil, apperrors.NewPersistenceError("failed to save refreshed credential", err)
	}

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	logger.WithField("expires_at", cred.ExpiresAt).Info("Refreshed access token")
	return &cred, nil
}

func (tm *TokenManager) reject(ctx context.Context, accountID int64, reason string, cause error) error {
	metrics.TokenRefreshes.WithLabelValues("rejected").Inc()
	tm.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"reason":     reason,
	}).Error("Account requires re-authorization")

	if err := tm.store.MarkAuthRequired(ctx, accountID, reason); err != nil {
		tm.logger.WithError(err).WithField("account_id", accountID).Error("Failed to persist auth_required state")
	}
	return apperrors.NewAuthRequiredError(reason, cause)
}

// expiresAt reads Strava's absolute expires_at field, which may arrive as a
// JSON number or string
func expiresAt(v interface{}) (time.Time, bool) {
	var secs int64
	switch n := v.(type) {
	case float64:
		secs = int64(n)
	case int64:
		secs = n
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}, false
		}
		secs = i
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		secs = i
	default:
		return time.Time{}, false
	}
	if secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}
