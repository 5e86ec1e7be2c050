// Package webhook turns provider push notifications into sync tasks.
package webhook

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/strava-sync/internal/clock"
	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/metrics"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// ErrVerifyTokenMismatch is returned by VerifySubscription for a wrong token
var ErrVerifyTokenMismatch = stderrors.New("webhook verify token mismatch")

// DefaultCoalesceWindow is how long a delivered event suppresses identical redeliveries
const DefaultCoalesceWindow = 30 * time.Second

// Outcome says what Ingest did with an event
type Outcome string

const (
	OutcomeEnqueued  Outcome = "enqueued"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// TaskSubmitter accepts tasks without blocking
type TaskSubmitter interface {
	Submit(task *models.SyncTask) error
}

// AccountLookup resolves event owners to tracked accounts
type AccountLookup interface {
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
}

type dedupKey struct {
	objectType string
	objectID   int64
	aspect     string
	ownerID    int64
}

// Ingestor validates, coalesces and routes webhook events
type Ingestor struct {
	verifyToken string
	window      time.Duration
	submitter   TaskSubmitter
	accounts    AccountLookup
	clock       clock.Clock
	logger      *logrus.Logger
	validate    *validator.Validate

	mu        sync.Mutex
	seen      map[dedupKey]time.Time
	processed atomic.Int64
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithClock sets the clock used for the coalescing window
func WithClock(c clock.Clock) Option {
	return func(i *Ingestor) {
		i.clock = c
	}
}

// WithCoalesceWindow overrides DefaultCoalesceWindow
func WithCoalesceWindow(d time.Duration) Option {
	return func(i *Ingestor) {
		if d > 0 {
			i.window = d
		}
	}
}

func NewIngestor(verifyToken string, submitter TaskSubmitter, accounts AccountLookup, logger *logrus.Logger, opts ...Option) *Ingestor {
	v := validator.New()
	v.SetTagName("binding")

	i := &Ingestor{
		verifyToken: verifyToken,
		window:      DefaultCoalesceWindow,
		submitter:   submitter,
		accounts:    accounts,
		clock:       clock.Real{},
		logger:      logger,
		validate:    v,
		seen:        make(map[dedupKey]time.Time),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// VerifySubscription answers the subscription handshake. It returns the
// challenge to echo back when the token matches.
func (i *Ingestor) VerifySubscription(mode, token, challenge string) (string, error) {
	if mode == "" || token == "" || challenge == "" {
		return "", apperrors.NewValidationError("hub.mode, hub.verify_token and hub.challenge are required", nil)
	}
	if mode != "subscribe" {
		return "", apperrors.NewValidationError(fmt.Sprintf("unsupported hub.mode %q", mode), nil)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(i.verifyToken)) != 1 {
		i.logger.Warn("Webhook handshake rejected: verify token mismatch")
		return "", ErrVerifyTokenMismatch
	}
	i.logger.Info("Webhook subscription verified")
	return challenge, nil
}

// Ingest maps one event to a sync task and submits it. Identical events seen
// within the coalescing window are dropped. A failed submit is not remembered,
// so the provider's redelivery can succeed.
func (i *Ingestor) Ingest(ctx context.Context, event *models.WebhookEvent) (Outcome, error) {
	if event == nil {
		metrics.WebhookEvents.WithLabelValues("invalid").Inc()
		return "", apperrors.NewValidationError("empty webhook event", nil)
	}
	log := i.logger.WithField("event", event.String())

	task, err := i.route(ctx, event)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("invalid").Inc()
		log.WithError(err).Warn("Discarding webhook event")
		return "", err
	}
	if task == nil {
		metrics.WebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
		log.Debug("Ignoring webhook event")
		return OutcomeIgnored, nil
	}

	key := dedupKey{
		objectType: event.ObjectType,
		objectID:   event.ObjectID,
		aspect:     event.AspectType,
		ownerID:    event.OwnerID,
	}
	if !i.claim(key) {
		metrics.WebhookEvents.WithLabelValues(string(OutcomeDuplicate)).Inc()
		log.Debug("Coalesced duplicate webhook event")
		return OutcomeDuplicate, nil
	}

	if err := i.submitter.Submit(task); err != nil {
		i.release(key)
		metrics.WebhookEvents.WithLabelValues("failed").Inc()
		log.WithError(err).Error("Failed to enqueue webhook task")
		return "", fmt.Errorf("failed to enqueue %s task: %w", task.Mode, err)
	}

	i.processed.Add(1)
	metrics.WebhookEvents.WithLabelValues(string(OutcomeEnqueued)).Inc()
	log.WithFields(logrus.Fields{
		"task_id": task.ID,
		"mode":    task.Mode,
	}).Info("Webhook event enqueued")
	return OutcomeEnqueued, nil
}

// Processed returns the number of events enqueued since start
func (i *Ingestor) Processed() int64 {
	return i.processed.Load()
}

func (i *Ingestor) route(ctx context.Context, event *models.WebhookEvent) (*models.SyncTask, error) {
	if err := i.validate.Struct(event); err != nil {
		return nil, apperrors.NewValidationError("malformed webhook event", err)
	}
	if _, err := i.accounts.GetAccount(ctx, event.OwnerID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("owner %d is not a tracked account", event.OwnerID), err)
		}
		// The worker re-reads the account before acting, so an unverified owner is safe to queue.
		i.logger.WithError(err).WithField("owner_id", event.OwnerID).Warn("Owner lookup failed; enqueuing unverified event")
	}

	switch event.ObjectType {
	case models.ObjectTypeActivity:
		switch event.AspectType {
		case models.AspectCreate, models.AspectUpdate:
			return models.NewSyncTask(event.OwnerID, models.SyncSingle, models.SourceWebhook).WithObject(event.ObjectID), nil
		case models.AspectDelete:
			return models.NewSyncTask(event.OwnerID, models.SyncDelete, models.SourceWebhook).WithObject(event.ObjectID), nil
		}
	case models.ObjectTypeAthlete:
		if event.Deauthorized() {
			return models.NewSyncTask(event.OwnerID, models.SyncInvalidate, models.SourceWebhook), nil
		}
	}
	return nil, nil
}

// claim records key unless it was seen within the window
func (i *Ingestor) claim(key dedupKey) bool {
	now := i.clock.Now()
	i.mu.Lock()
	defer i.mu.Unlock()

	for k, at := range i.seen {
		if now.Sub(at) >= i.window {
			delete(i.seen, k)
		}
	}
	if _, ok := i.seen[key]; ok {
		return false
	}
	i.seen[key] = now
	return true
}

func (i *Ingestor) release(key dedupKey) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.seen, key)
}
