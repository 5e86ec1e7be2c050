package engine

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// Submitter accepts sync tasks
type Submitter interface {
	Submit(task *models.SyncTask) error
}

// AccountLister lists tracked accounts
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]*models.Account, error)
}

// Scheduler periodically enqueues a pull for every tracked account: a full
// backfill until the account has a cursor, incremental afterwards.
type Scheduler struct {
	submitter Submitter
	accounts  AccountLister
	interval  time.Duration
	logger    *logrus.Logger
	done      chan struct{}
}

func NewScheduler(submitter Submitter, accounts AccountLister, interval time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		submitter: submitter,
		accounts:  accounts,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs one round immediately, then one per interval until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(s.done)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	s.logger.WithField("interval", s.interval.String()).Info("Sync scheduler started")
}

// Wait blocks until the scheduler loop has exited
func (s *Scheduler) Wait() {
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("Scheduled sync round failed")
	}
}

// RunOnce submits one task per eligible account and returns how many were enqueued
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, account := range accounts {
		logger := s.logger.WithField("account_id", account.ID)
		if account.NeedsReauthorization() {
			logger.WithField("reason", account.StatusReason).Warn("Skipping account awaiting re-authorization")
			continue
		}

		mode := models.SyncIncremental
		if account.LastActivityAt == nil {
			mode = models.SyncFull
		}

		task := models.NewSyncTask(account.ID, mode, models.SourceScheduler)
		if err := s.submitter.Submit(task); err != nil {
			var full *apperrors.QueueFullError
			if stderrors.As(err, &full) {
				logger.Warn("Account queue full; skipping this round")
				continue
			}
			logger.WithError(err).Error("Failed to submit scheduled task")
			continue
		}
		submitted++
		logger.WithFields(logrus.Fields{"task_id": task.ID, "mode": mode}).Debug("Scheduled sync task")
	}
	return submitted, nil
}
