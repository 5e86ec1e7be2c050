package engine

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/strava-sync/internal/clock"
	"github.com/Kamar-Folarin/strava-sync/internal/config"
	"github.com/Kamar-Folarin/strava-sync/internal/db"
	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
	"github.com/Kamar-Folarin/strava-sync/internal/strava"
)

const (
	dominic = int64(1001)
	clare   = int64(2002)

	testTimeout = 5 * time.Second
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeSource serves canned pages per account. Hooks override the default behaviour.
type fakeSource struct {
	mu        sync.Mutex
	pages     map[int64][][]*models.Activity
	listCalls []strava.ListOptions
	listFn    func(ctx context.Context, accountID int64, opts strava.ListOptions) error
	getFn     func(ctx context.Context, accountID, activityID int64) (*models.Activity, error)
}

func newFakeSource() *fakeSource {
	return &fakeSource{pages: make(map[int64][][]*models.Activity)}
}

func (f *fakeSource) ListActivities(ctx context.Context, accountID int64, opts strava.ListOptions) (*strava.ActivityPage, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, opts)
	hook := f.listFn
	pages := f.pages[accountID]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, accountID, opts); err != nil {
			return nil, err
		}
	}
	page := &strava.ActivityPage{Page: opts.Page, PerPage: opts.PerPage}
	if opts.Page-1 < len(pages) {
		page.Activities = pages[opts.Page-1]
	}
	return page, nil
}

func (f *fakeSource) GetActivity(ctx context.Context, accountID, activityID int64) (*models.Activity, error) {
	if f.getFn != nil {
		return f.getFn(ctx, accountID, activityID)
	}
	return activity(accountID, activityID, epoch), nil
}

func (f *fakeSource) calls() []strava.ListOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]strava.ListOptions(nil), f.listCalls...)
}

// recordingPublisher captures events and signals task completion
type recordingPublisher struct {
	mu        sync.Mutex
	ingested  []int64
	deleted   []int64
	completed chan *models.SyncStatus
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{completed: make(chan *models.SyncStatus, 64)}
}

func (p *recordingPublisher) RecordIngested(ctx context.Context, a *models.Activity, result models.UpsertResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ingested = append(p.ingested, a.ID)
	return nil
}

func (p *recordingPublisher) RecordDeleted(ctx context.Context, accountID, activityID int64, result models.DeleteResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, activityID)
	return nil
}

func (p *recordingPublisher) SyncCompleted(ctx context.Context, status *models.SyncStatus) error {
	p.completed <- status
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) wait(t *testing.T) *models.SyncStatus {
	t.Helper()
	select {
	case s := <-p.completed:
		return s
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for task completion")
		return nil
	}
}

func activity(accountID, id int64, start time.Time) *models.Activity {
	return &models.Activity{
		ID:         id,
		AccountID:  accountID,
		Name:       "Activity",
		Type:       "Run",
		SportType:  "Run",
		StartDate:  start,
		Distance:   5000,
		MovingTime: 1500,
		SyncedAt:   epoch,
	}
}

// pagesOf builds n pages of size activities each, starting one hour apart
func pagesOf(accountID int64, n, size int) [][]*models.Activity {
	var pages [][]*models.Activity
	id := int64(1)
	for p := 0; p < n; p++ {
		var page []*models.Activity
		for i := 0; i < size; i++ {
			page = append(page, activity(accountID, id, epoch.Add(time.Duration(id)*time.Hour)))
			id++
		}
		pages = append(pages, page)
	}
	return pages
}

type harness struct {
	engine    *Engine
	store     *db.MemoryStore
	source    *fakeSource
	publisher *recordingPublisher
	clock     *clock.Manual
}

func newHarness(t *testing.T, mutate ...func(*config.SyncConfig)) *harness {
	t.Helper()
	ctx := context.Background()

	store := db.NewMemoryStore()
	for _, id := range []int64{dominic, clare} {
		require.NoError(t, store.SeedAccount(ctx, &models.Account{
			ID:   id,
			Name: "athlete",
			Credential: models.Credential{
				AccessToken:  "access",
				RefreshToken: "refresh",
				ExpiresAt:    epoch.Add(6 * time.Hour),
			},
		}))
	}

	cfg := &config.SyncConfig{
		Interval:       time.Hour,
		PageSize:       2,
		QueueSize:      8,
		TaskMaxRetries: 2,
		TaskBackoff:    time.Second,
		BatchConfig:    config.BatchConfig{Size: 1, Workers: 2},
	}
	for _, m := range mutate {
		m(cfg)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		store:     store,
		source:    newFakeSource(),
		publisher: newRecordingPublisher(),
		clock:     clock.NewManual(epoch),
	}
	h.engine = NewEngine(h.source, store, NewStatusManager(store), h.publisher, cfg, logger, WithClock(h.clock))
	h.engine.Start(ctx)
	t.Cleanup(h.engine.Stop)
	return h
}

func (h *harness) submit(t *testing.T, accountID int64, mode models.SyncMode) *models.SyncTask {
	t.Helper()
	task := models.NewSyncTask(accountID, mode, models.SourceAPI)
	require.NoError(t, h.engine.Submit(task))
	return task
}

func (h *harness) account(t *testing.T, id int64) *models.Account {
	t.Helper()
	a, err := h.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestEngine_FullSync(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.source.pages[dominic] = pagesOf(dominic, 3, 2)

	task := h.submit(t, dominic, models.SyncFull)
	status := h.publisher.wait(t)

	assert.Equal(t, task.ID, status.TaskID)
	assert.Equal(t, models.SyncIdle, status.State)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 6, status.RecordsSeen)
	assert.Equal(t, 6, status.RecordsApplied)
	assert.Equal(t, 4, status.Pages, "three full pages and the empty terminator")

	_, total, err := h.store.ListActivities(ctx, dominic, models.ActivityQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)

	calls := h.source.calls()
	require.Len(t, calls, 4)
	for i, c := range calls {
		assert.Equal(t, i+1, c.Page)
		assert.Equal(t, 2, c.PerPage)
		assert.Nil(t, c.After)
	}

	acct := h.account(t, dominic)
	require.NotNil(t, acct.LastActivityAt)
	assert.True(t, epoch.Add(6*time.Hour).Equal(*acct.LastActivityAt), "cursor is the newest start date")
	require.NotNil(t, acct.LastSyncAt)
	assert.Len(t, h.publisher.ingested, 6)

	stored, err := h.engine.Status(ctx, dominic)
	require.NoError(t, err)
	assert.Equal(t, task.ID, stored.TaskID)

	// A second pass over the same data changes nothing.
	h.submit(t, dominic, models.SyncFull)
	status = h.publisher.wait(t)
	assert.Equal(t, 6, status.RecordsSeen)
	assert.Equal(t, 0, status.RecordsApplied)
	assert.Len(t, h.publisher.ingested, 6)
}

func TestEngine_Incremental(t *testing.T) {
	ctx := context.Background()

	t.Run("no cursor falls back to full", func(t *testing.T) {
		h := newHarness(t)
		h.source.pages[dominic] = pagesOf(dominic, 1, 2)

		h.submit(t, dominic, models.SyncIncremental)
		status := h.publisher.wait(t)
		assert.Equal(t, 2, status.RecordsApplied)
		assert.Nil(t, h.source.calls()[0].After)
	})

	t.Run("cursor becomes after", func(t *testing.T) {
		h := newHarness(t)
		cursor := epoch.Add(-24 * time.Hour)
		require.NoError(t, h.store.UpdateCursor(ctx, dominic, &cursor, epoch))

		h.submit(t, dominic, models.SyncIncremental)
		status := h.publisher.wait(t)
		assert.Equal(t, models.SyncIdle, status.State)
		assert.Equal(t, 0, status.RecordsSeen)

		calls := h.source.calls()
		require.Len(t, calls, 1)
		require.NotNil(t, calls[0].After)
		assert.True(t, cursor.Equal(*calls[0].After))

		acct := h.account(t, dominic)
		assert.True(t, cursor.Equal(*acct.LastActivityAt), "empty run keeps the cursor")
	})
}

func TestEngine_ItemLimit(t *testing.T) {
	h := newHarness(t)
	h.source.pages[dominic] = pagesOf(dominic, 3, 2)

	task := models.NewSyncTask(dominic, models.SyncFull, models.SourceAPI).WithLimit(3)
	require.NoError(t, h.engine.Submit(task))
	status := h.publisher.wait(t)

	assert.Equal(t, 3, status.RecordsSeen)
	assert.Len(t, h.source.calls(), 2, "stops paging once the limit is reached")
	exists, err := h.store.ActivityExists(context.Background(), dominic, 4)
	require.NoError(t, err)
	assert.False(t, exists)

	acct := h.account(t, dominic)
	assert.Nil(t, acct.LastActivityAt, "truncated backfill keeps the cursor")

	// The scheduler still sees no cursor and requests another backfill.
	h.submit(t, dominic, models.SyncIncremental)
	h.publisher.wait(t)
	calls := h.source.calls()
	require.Len(t, calls, 6)
	assert.Nil(t, calls[2].After)
}

func TestEngine_ItemLimitIncrementalAdvancesCursor(t *testing.T) {
	h := newHarness(t)
	h.source.pages[dominic] = pagesOf(dominic, 3, 2)
	cursor := epoch
	require.NoError(t, h.store.UpdateCursor(context.Background(), dominic, &cursor, epoch))

	task := models.NewSyncTask(dominic, models.SyncIncremental, models.SourceAPI).WithLimit(3)
	require.NoError(t, h.engine.Submit(task))
	status := h.publisher.wait(t)

	assert.Equal(t, 3, status.RecordsSeen)
	acct := h.account(t, dominic)
	require.NotNil(t, acct.LastActivityAt)
	assert.True(t, epoch.Add(3*time.Hour).Equal(*acct.LastActivityAt))
}

func TestEngine_AccessDeniedKeepsAccount(t *testing.T) {
	h := newHarness(t)
	h.source.getFn = func(ctx context.Context, accountID, activityID int64) (*models.Activity, error) {
		return nil, apperrors.NewAccessDeniedError("activity 42: access denied", nil)
	}

	require.NoError(t, h.engine.Submit(models.NewSyncTask(dominic, models.SyncSingle, models.SourceWebhook).WithObject(42)))
	status := h.publisher.wait(t)

	assert.Equal(t, models.SyncFailed, status.State)
	assert.Contains(t, status.LastError, "access denied")
	assert.Empty(t, h.clock.Sleeps(), "access denied is not retried")
	assert.False(t, h.account(t, dominic).NeedsReauthorization())
}

func TestEngine_FIFOPerAccount(t *testing.T) {
	h := newHarness(t)

	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	var order []int64
	h.source.getFn = func(ctx context.Context, accountID, activityID int64) (*models.Activity, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		order = append(order, activityID)
		mu.Unlock()
		inFlight.Add(-1)
		return activity(accountID, activityID, epoch), nil
	}

	for id := int64(1); id <= 5; id++ {
		task := models.NewSyncTask(dominic, models.SyncSingle, models.SourceWebhook).WithObject(id)
		require.NoError(t, h.engine.Submit(task))
	}
	for i := 0; i < 5; i++ {
		h.publisher.wait(t)
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, order)
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestEngine_AccountsAreIndependent(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	defer close(release)

	h.source.listFn = func(ctx context.Context, accountID int64, opts strava.ListOptions) error {
		if accountID != dominic {
			return nil
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	}

	h.submit(t, dominic, models.SyncFull)
	h.submit(t, clare, models.SyncFull)

	status := h.publisher.wait(t)
	assert.Equal(t, clare, status.AccountID, "a blocked account does not hold up others")
}

func TestEngine_CreateThenDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	create := models.NewSyncTask(dominic, models.SyncSingle, models.SourceWebhook).WithObject(42)
	remove := models.NewSyncTask(dominic, models.SyncDelete, models.SourceWebhook).WithObject(42)
	require.NoError(t, h.engine.Submit(create))
	require.NoError(t, h.engine.Submit(remove))
	h.publisher.wait(t)
	status := h.publisher.wait(t)

	assert.Equal(t, models.SyncDelete, status.Mode)
	assert.Equal(t, 1, status.RecordsApplied)
	exists, err := h.store.ActivityExists(ctx, dominic, 42)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, []int64{42}, h.publisher.deleted)

	again := models.NewSyncTask(dominic, models.SyncDelete, models.SourceWebhook).WithObject(42)
	require.NoError(t, h.engine.Submit(again))
	status = h.publisher.wait(t)
	assert.Equal(t, models.SyncIdle, status.State)
	assert.Equal(t, 0, status.RecordsApplied, "deleting an absent record is a no-op")
}

func TestEngine_SingleNotFoundIsNoop(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.source.getFn = func(ctx context.Context, accountID, activityID int64) (*models.Activity, error) {
		calls.Add(1)
		return nil, apperrors.NewNotFoundError("activity gone", nil)
	}

	task := models.NewSyncTask(dominic, models.SyncSingle, models.SourceWebhook).WithObject(7)
	require.NoError(t, h.engine.Submit(task))
	status := h.publisher.wait(t)

	assert.Equal(t, models.SyncIdle, status.State)
	assert.Equal(t, 0, status.RecordsApplied)
	assert.Equal(t, int32(1), calls.Load(), "not found is not retried")
}

func TestEngine_AuthRequired(t *testing.T) {
	h := newHarness(t)
	h.source.listFn = func(ctx context.Context, accountID int64, opts strava.ListOptions) error {
		return apperrors.NewAuthRequiredError("refresh token revoked", nil)
	}

	h.submit(t, dominic, models.SyncFull)
	status := h.publisher.wait(t)

	assert.Equal(t, models.SyncFailed, status.State)
	assert.Contains(t, status.LastError, "refresh token revoked")
	assert.Len(t, h.source.calls(), 1, "auth failures are not retried")
	assert.Empty(t, h.clock.Sleeps())

	acct := h.account(t, dominic)
	assert.True(t, acct.NeedsReauthorization())

	// Later fetches fail fast without touching the provider.
	h.submit(t, dominic, models.SyncIncremental)
	status = h.publisher.wait(t)
	assert.Equal(t, models.SyncFailed, status.State)
	assert.Len(t, h.source.calls(), 1)
}

func TestEngine_TransientFailureKeepsCursor(t *testing.T) {
	h := newHarness(t)
	h.source.pages[dominic] = pagesOf(dominic, 3, 2)
	h.source.listFn = func(ctx context.Context, accountID int64, opts strava.ListOptions) error {
		if opts.Page == 2 {
			return apperrors.NewTransientError("provider unavailable", nil)
		}
		return nil
	}

	h.submit(t, dominic, models.SyncFull)
	status := h.publisher.wait(t)

	assert.Equal(t, models.SyncFailed, status.State)
	assert.Contains(t, status.LastError, "abandoned after 2 retries")
	assert.Equal(t, 2, status.RecordsApplied, "page one is kept")
	assert.Len(t, h.source.calls(), 4, "one page-one call and three page-two attempts")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.clock.Sleeps())

	acct := h.account(t, dominic)
	assert.Nil(t, acct.LastActivityAt)
	assert.Nil(t, acct.LastSyncAt)
}

func TestEngine_TransientThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.source.pages[dominic] = pagesOf(dominic, 1, 2)
	var failures atomic.Int32
	h.source.listFn = func(ctx context.Context, accountID int64, opts strava.ListOptions) error {
		if failures.Add(1) == 1 {
			return apperrors.NewTransientError("timeout", nil)
		}
		return nil
	}

	h.submit(t, dominic, models.SyncFull)
	status := h.publisher.wait(t)
	assert.Equal(t, models.SyncIdle, status.State)
	assert.Equal(t, 2, status.RecordsApplied)
	assert.NotNil(t, h.account(t, dominic).LastActivityAt)
}

// failingStore rejects every upsert
type failingStore struct {
	*db.MemoryStore
	upserts atomic.Int32
}

func (s *failingStore) UpsertActivity(ctx context.Context, a *models.Activity) (models.UpsertResult, error) {
	s.upserts.Add(1)
	return "", apperrors.NewPersistenceError("disk full", nil)
}

func TestEngine_PersistenceFailure(t *testing.T) {
	h := newHarness(t)
	h.source.pages[dominic] = pagesOf(dominic, 2, 2)
	store := &failingStore{MemoryStore: h.store}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := &config.SyncConfig{PageSize: 2, QueueSize: 1, TaskMaxRetries: 2, BatchConfig: config.BatchConfig{Size: 2, Workers: 1, MaxRetries: 1}}
	e := NewEngine(h.source, store, NewStatusManager(h.store), h.publisher, cfg, logger, WithClock(h.clock))
	e.Start(context.Background())
	defer e.Stop()

	require.NoError(t, e.Submit(models.NewSyncTask(dominic, models.SyncFull, models.SourceAPI)))
	status := h.publisher.wait(t)

	assert.Equal(t, models.SyncFailed, status.State)
	assert.Contains(t, status.LastError, "disk full")
	assert.Equal(t, int32(2), store.upserts.Load(), "batch retried once, then the task stops")
	assert.Len(t, h.source.calls(), 1, "no further pages after a write failure")
	assert.Nil(t, h.account(t, dominic).LastActivityAt)
	assert.False(t, h.account(t, dominic).NeedsReauthorization())
}

func TestEngine_QuotaExceededDefers(t *testing.T) {
	h := newHarness(t)
	resetAt := epoch.Add(15 * time.Hour)
	h.source.listFn = func(ctx context.Context, accountID int64, opts strava.ListOptions) error {
		return apperrors.NewQuotaExceededError(resetAt, 1000, 1000)
	}

	h.submit(t, dominic, models.SyncFull)
	status := h.publisher.wait(t)

	assert.Equal(t, models.SyncIdle, status.State)
	assert.Contains(t, status.LastError, "daily quota exceeded")
	assert.Equal(t, 1, h.engine.Deferred())
	assert.False(t, h.account(t, dominic).NeedsReauthorization())

	h.engine.Stop()
	assert.Equal(t, 0, h.engine.Deferred())
}

func TestEngine_Invalidate(t *testing.T) {
	h := newHarness(t)
	h.submit(t, clare, models.SyncInvalidate)
	status := h.publisher.wait(t)

	assert.Equal(t, models.SyncIdle, status.State)
	acct := h.account(t, clare)
	assert.True(t, acct.NeedsReauthorization())
	assert.Equal(t, "access revoked by athlete", acct.StatusReason)
}

func TestEngine_Submit(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		h := newHarness(t)
		tasks := map[string]*models.SyncTask{
			"nil task":         nil,
			"bad account":      models.NewSyncTask(0, models.SyncFull, models.SourceAPI),
			"unknown mode":     models.NewSyncTask(dominic, "rewind", models.SourceAPI),
			"single no object": models.NewSyncTask(dominic, models.SyncSingle, models.SourceAPI),
			"delete no object": models.NewSyncTask(dominic, models.SyncDelete, models.SourceAPI),
			"negative limit":   models.NewSyncTask(dominic, models.SyncFull, models.SourceAPI).WithLimit(-1),
		}
		for name, task := range tasks {
			t.Run(name, func(t *testing.T) {
				err := h.engine.Submit(task)
				assert.True(t, apperrors.IsValidationError(err))
			})
		}
	})

	t.Run("queue full", func(t *testing.T) {
		h := newHarness(t, func(c *config.SyncConfig) { c.QueueSize = 1 })
		started := make(chan struct{}, 1)
		release := make(chan struct{})
		h.source.listFn = func(ctx context.Context, accountID int64, opts strava.ListOptions) error {
			select {
			case started <- struct{}{}:
			default:
			}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		}

		h.submit(t, dominic, models.SyncFull)
		<-started
		h.submit(t, dominic, models.SyncFull)
		assert.Equal(t, 1, h.engine.QueueDepth(dominic))

		err := h.engine.Submit(models.NewSyncTask(dominic, models.SyncFull, models.SourceAPI))
		var full *apperrors.QueueFullError
		require.True(t, stderrors.As(err, &full))
		assert.Equal(t, dominic, full.AccountID)

		// other accounts have their own queue
		require.NoError(t, h.engine.Submit(models.NewSyncTask(clare, models.SyncFull, models.SourceAPI)))
		close(release)
	})

	t.Run("stopped engine", func(t *testing.T) {
		h := newHarness(t)
		h.engine.Stop()
		err := h.engine.Submit(models.NewSyncTask(dominic, models.SyncFull, models.SourceAPI))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")
	})
}
