// Package engine runs sync tasks through per-account FIFO workers.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/strava-sync/internal/batch"
	"github.com/Kamar-Folarin/strava-sync/internal/clock"
	"github.com/Kamar-Folarin/strava-sync/internal/config"
	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/events"
	"github.com/Kamar-Folarin/strava-sync/internal/metrics"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
	"github.com/Kamar-Folarin/strava-sync/internal/strava"
	"github.com/Kamar-Folarin/strava-sync/pkg/utils"
)

// Store is the slice of persistence the engine writes through
type Store interface {
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	MarkAuthRequired(ctx context.Context, accountID int64, reason string) error
	UpdateCursor(ctx context.Context, accountID int64, lastActivityAt *time.Time, syncedAt time.Time) error
	UpsertActivity(ctx context.Context, activity *models.Activity) (models.UpsertResult, error)
	DeleteActivity(ctx context.Context, accountID, activityID int64) (models.DeleteResult, error)
}

type worker struct {
	accountID int64
	tasks     chan *models.SyncTask
}

// Engine owns one worker goroutine per account. Tasks for an account run one
// at a time in submission order; accounts do not wait on each other.
type Engine struct {
	source    strava.ActivitySource
	store     Store
	status    StatusManager
	publisher events.Publisher
	config    *config.SyncConfig
	processor *batch.Processor[*models.Activity]
	clock     clock.Clock
	logger    *logrus.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	workers  map[int64]*worker
	deferred map[string]*time.Timer
	wg       sync.WaitGroup
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock used for retry backoff and timestamps
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

func NewEngine(
	source strava.ActivitySource,
	store Store,
	status StatusManager,
	publisher events.Publisher,
	cfg *config.SyncConfig,
	logger *logrus.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		source:    source,
		store:     store,
		status:    status,
		publisher: publisher,
		config:    cfg,
		processor: batch.NewProcessor[*models.Activity](&cfg.BatchConfig),
		clock:     clock.Real{},
		logger:    logger,
		workers:   make(map[int64]*worker),
		deferred:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start enables Submit. Workers stop when ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.logger.WithFields(logrus.Fields{
		"queue_size":  e.config.QueueSize,
		"page_size":   e.config.PageSize,
		"max_retries": e.config.TaskMaxRetries,
	}).Info("Sync engine started")
}

// Stop cancels deferred tasks and waits for running tasks to return
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	for id, t := range e.deferred {
		t.Stop()
		delete(e.deferred, id)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("Sync engine stopped")
}

// Submit enqueues a task without blocking. It fails with a QueueFullError when
// the account's queue is at capacity.
func (e *Engine) Submit(task *models.SyncTask) error {
	if err := validateTask(task); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil || e.ctx.Err() != nil {
		return apperrors.NewInternalError("sync engine is not running", nil)
	}

	w := e.workerLocked(task.AccountID)
	select {
	case w.tasks <- task:
		metrics.QueueDepth.WithLabelValues(accountLabel(task.AccountID)).Set(float64(len(w.tasks)))
		e.logger.WithFields(logrus.Fields{
			"account_id": task.AccountID,
			"task_id":    task.ID,
			"mode":       task.Mode,
			"source":     task.Source,
		}).Debug("Task enqueued")
		return nil
	default:
		return apperrors.NewQueueFullError(task.AccountID, cap(w.tasks))
	}
}

// QueueDepth returns how many tasks wait behind the running one
func (e *Engine) QueueDepth(accountID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.workers[accountID]; ok {
		return len(w.tasks)
	}
	return 0
}

// Deferred returns the number of tasks parked until the daily quota resets
func (e *Engine) Deferred() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.deferred)
}

// Status returns the last recorded status for an account
func (e *Engine) Status(ctx context.Context, accountID int64) (*models.SyncStatus, error) {
	status, err := e.status.GetStatus(ctx, accountID)
	if err != nil {
		return nil, err
	}
	status.QueueDepth = e.QueueDepth(accountID)
	return status, nil
}

// Statuses returns the status of every account that has run a task
func (e *Engine) Statuses(ctx context.Context) ([]*models.SyncStatus, error) {
	statuses, err := e.status.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range statuses {
		s.QueueDepth = e.QueueDepth(s.AccountID)
	}
	return statuses, nil
}

func validateTask(task *models.SyncTask) error {
	if task == nil {
		return apperrors.NewValidationError("task cannot be nil", nil)
	}
	if task.AccountID <= 0 {
		return apperrors.NewValidationError("task account ID must be positive", nil)
	}
	if !task.Mode.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown sync mode %q", task.Mode), nil)
	}
	if (task.Mode == models.SyncSingle || task.Mode == models.SyncDelete) && task.ObjectID <= 0 {
		return apperrors.NewValidationError(fmt.Sprintf("%s task requires an object ID", task.Mode), nil)
	}
	if task.Limit < 0 {
		return apperrors.NewValidationError("task limit cannot be negative", nil)
	}
	return nil
}

func accountLabel(accountID int64) string {
	return strconv.FormatInt(accountID, 10)
}

func (e *Engine) workerLocked(accountID int64) *worker {
	if w, ok := e.workers[accountID]; ok {
		return w
	}
	w := &worker{
		accountID: accountID,
		tasks:     make(chan *models.SyncTask, e.config.QueueSize),
	}
	e.workers[accountID] = w
	e.wg.Add(1)
	go e.run(e.ctx, w)
	return w
}

func (e *Engine) run(ctx context.Context, w *worker) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-w.tasks:
			metrics.QueueDepth.WithLabelValues(accountLabel(w.accountID)).Set(float64(len(w.tasks)))
			e.execute(ctx, task, len(w.tasks))
		}
	}
}

// runResult counts what a task did
type runResult struct {
	applied int
	seen    int
	pages   int
}

func (e *Engine) execute(ctx context.Context, task *models.SyncTask, queued int) {
	logger := e.logger.WithFields(logrus.Fields{
		"account_id": task.AccountID,
		"task_id":    task.ID,
		"mode":       task.Mode,
		"source":     task.Source,
	})

	start := e.clock.Now()
	status := &models.SyncStatus{
		AccountID:  task.AccountID,
		State:      models.SyncRunning,
		TaskID:     task.ID,
		Mode:       task.Mode,
		StartedAt:  start.UTC(),
		QueueDepth: queued,
	}
	if err := e.status.UpdateStatus(ctx, status); err != nil {
		logger.WithError(err).Warn("Failed to record running status")
	}

	logger.Info("Starting sync task")
	res, err := e.dispatch(ctx, task, logger)

	finished := e.clock.Now().UTC()
	status.FinishedAt = &finished
	status.RecordsApplied = res.applied
	status.RecordsSeen = res.seen
	status.Pages = res.pages
	status.State = models.SyncIdle

	result := "success"
	switch {
	case err == nil:
		logger.WithFields(logrus.Fields{
			"records_applied": res.applied,
			"records_seen":    res.seen,
			"pages":           res.pages,
		}).Info("Sync task completed")

	case apperrors.IsQuotaExceeded(err):
		result = "deferred"
		status.LastError = err.Error()
		e.deferUntilReset(task, err, logger)

	case apperrors.IsAuthRequired(err):
		result = "auth_required"
		status.State = models.SyncFailed
		status.LastError = err.Error()
		if markErr := e.store.MarkAuthRequired(context.WithoutCancel(ctx), task.AccountID, err.Error()); markErr != nil {
			logger.WithError(markErr).Error("Failed to mark account for re-authorization")
		}
		logger.WithError(err).Warn("Account requires re-authorization; task dropped")

	default:
		result = "failed"
		status.State = models.SyncFailed
		status.LastError = err.Error()
		logger.WithError(err).Error("Sync task failed")
	}

	metrics.SyncTasks.WithLabelValues(string(task.Mode), result).Inc()
	metrics.SyncTaskDuration.WithLabelValues(string(task.Mode)).Observe(finished.Sub(start).Seconds())

	// Final bookkeeping must survive shutdown of the task context.
	bg := context.WithoutCancel(ctx)
	if err := e.status.UpdateStatus(bg, status); err != nil {
		logger.WithError(err).Warn("Failed to record final status")
	}
	if err := e.publisher.SyncCompleted(bg, status); err != nil {
		logger.WithError(err).Warn("Failed to publish sync completion")
	}
}

func (e *Engine) dispatch(ctx context.Context, task *models.SyncTask, logger *logrus.Entry) (runResult, error) {
	account, err := e.store.GetAccount(ctx, task.AccountID)
	if err != nil {
		return runResult{}, fmt.Errorf("failed to load account %d: %w", task.AccountID, err)
	}

	switch task.Mode {
	case models.SyncDelete:
		return e.deleteOne(ctx, task)
	case models.SyncInvalidate:
		return runResult{}, e.invalidate(ctx, account, logger)
	}

	if account.NeedsReauthorization() {
		return runResult{}, apperrors.NewAuthRequiredError(
			fmt.Sprintf("account %d awaits re-authorization: %s", account.ID, account.StatusReason), nil)
	}

	switch task.Mode {
	case models.SyncSingle:
		return e.fetchOne(ctx, task)
	case models.SyncIncremental:
		if account.LastActivityAt == nil {
			logger.Info("No sync cursor; running full backfill")
			return e.paginate(ctx, task, nil, logger)
		}
		after := *account.LastActivityAt
		return e.paginate(ctx, task, &after, logger)
	default:
		return e.paginate(ctx, task, nil, logger)
	}
}

// paginate walks pages from 1 until an empty page or the item limit. Each page
// is persisted before the next is requested. The cursor only moves after the
// last page succeeds. Without after the provider lists newest first, so a run
// cut short by the limit leaves the cursor alone until a backfill completes.
func (e *Engine) paginate(ctx context.Context, task *models.SyncTask, after *time.Time, logger *logrus.Entry) (runResult, error) {
	var res runResult
	limit := task.Limit
	if limit == 0 {
		limit = e.config.ItemLimit
	}

	var newest *time.Time
	exhausted := false
	for page := 1; ; page++ {
		opts := strava.ListOptions{Page: page, PerPage: e.config.PageSize, After: after}

		var p *strava.ActivityPage
		err := e.retry(ctx, logger, "list activities", func(ctx context.Context) error {
			var err error
			p, err = e.source.ListActivities(ctx, task.AccountID, opts)
			return err
		})
		if err != nil {
			return res, err
		}
		res.pages++
		if p.Empty() {
			exhausted = true
			break
		}

		items := p.Activities
		if limit > 0 && res.seen+len(items) > limit {
			items = items[:limit-res.seen]
		}

		applied, err := e.persist(ctx, items)
		res.applied += applied
		if err != nil {
			return res, err
		}
		res.seen += len(items)

		for _, a := range items {
			if newest == nil || a.StartDate.After(*newest) {
				t := a.StartDate
				newest = &t
			}
		}

		logger.WithFields(logrus.Fields{
			"page":    page,
			"records": len(items),
			"applied": applied,
		}).Debug("Page persisted")

		if limit > 0 && res.seen >= limit {
			break
		}
	}

	if after == nil && !exhausted {
		logger.WithField("records_seen", res.seen).Info("Backfill truncated by item limit; cursor unchanged")
		return res, nil
	}
	if err := e.store.UpdateCursor(ctx, task.AccountID, newest, e.clock.Now().UTC()); err != nil {
		return res, err
	}
	return res, nil
}

// persist upserts a page through the batch processor and returns how many
// records changed
func (e *Engine) persist(ctx context.Context, items []*models.Activity) (int, error) {
	var applied atomic.Int64
	err := e.processor.ProcessItems(ctx, items, func(ctx context.Context, chunk []*models.Activity) error {
		for _, a := range chunk {
			n, err := e.upsert(ctx, a)
			applied.Add(int64(n))
			if err != nil {
				return err
			}
		}
		return nil
	})
	return int(applied.Load()), err
}

func (e *Engine) upsert(ctx context.Context, a *models.Activity) (int, error) {
	result, err := e.store.UpsertActivity(ctx, a)
	if err != nil {
		return 0, err
	}
	if result != models.UpsertApplied {
		return 0, nil
	}
	if err := e.publisher.RecordIngested(ctx, a, result); err != nil {
		e.logger.WithError(err).WithField("activity_id", a.ID).Warn("Failed to publish ingested record")
	}
	return 1, nil
}

func (e *Engine) fetchOne(ctx context.Context, task *models.SyncTask) (runResult, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"account_id":  task.AccountID,
		"activity_id": task.ObjectID,
	})

	var activity *models.Activity
	err := e.retry(ctx, logger, "get activity", func(ctx context.Context) error {
		var err error
		activity, err = e.source.GetActivity(ctx, task.AccountID, task.ObjectID)
		return err
	})
	if apperrors.IsNotFound(err) {
		logger.Info("Activity no longer available; nothing to sync")
		return runResult{}, nil
	}
	if err != nil {
		return runResult{}, err
	}

	applied, err := e.upsert(ctx, activity)
	return runResult{applied: applied, seen: 1}, err
}

func (e *Engine) deleteOne(ctx context.Context, task *models.SyncTask) (runResult, error) {
	result, err := e.store.DeleteActivity(ctx, task.AccountID, task.ObjectID)
	if err != nil {
		return runResult{}, err
	}
	if err := e.publisher.RecordDeleted(ctx, task.AccountID, task.ObjectID, result); err != nil {
		e.logger.WithError(err).WithField("activity_id", task.ObjectID).Warn("Failed to publish deleted record")
	}
	res := runResult{seen: 1}
	if result == models.DeleteRemoved {
		res.applied = 1
	}
	return res, nil
}

func (e *Engine) invalidate(ctx context.Context, account *models.Account, logger *logrus.Entry) error {
	if err := e.store.MarkAuthRequired(ctx, account.ID, "access revoked by athlete"); err != nil {
		return err
	}
	logger.Warn("Athlete revoked access; credentials invalidated")
	return nil
}

// retry runs fn, retrying transient failures up to TaskMaxRetries times
func (e *Engine) retry(ctx context.Context, logger *logrus.Entry, step string, fn func(context.Context) error) error {
	backoff := e.config.TaskBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !apperrors.IsTransient(err) || attempt >= e.config.TaskMaxRetries {
			break
		}
		wait := utils.Backoff(attempt, backoff, 16*backoff)
		logger.WithError(err).WithFields(logrus.Fields{
			"step":    step,
			"attempt": attempt + 1,
			"backoff": wait.String(),
		}).Warn("Step failed, retrying")
		if sleepErr := e.clock.Sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
	if err != nil && apperrors.IsTransient(err) {
		return fmt.Errorf("%s abandoned after %d retries: %w", step, e.config.TaskMaxRetries, err)
	}
	return err
}

// deferUntilReset re-submits the task once the daily quota resets
func (e *Engine) deferUntilReset(task *models.SyncTask, err error, logger *logrus.Entry) {
	var resetAt time.Time
	var quota *apperrors.QuotaExceededError
	if stderrors.As(err, &quota) {
		resetAt = quota.ResetAt
	}
	delay := resetAt.Sub(e.clock.Now())
	if delay < 0 {
		delay = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil || e.ctx.Err() != nil {
		return
	}
	if old, ok := e.deferred[task.ID]; ok {
		old.Stop()
	}
	e.deferred[task.ID] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.deferred, task.ID)
		e.mu.Unlock()
		if err := e.Submit(task); err != nil {
			e.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to resubmit deferred task")
		}
	})
	logger.WithFields(logrus.Fields{
		"reset_at": resetAt.Format(time.RFC3339),
		"delay":    delay.String(),
	}).Warn("Daily quota exhausted; task deferred")
}
