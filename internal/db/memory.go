package db

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

type activityKey struct {
	accountID  int64
	activityID int64
}

// MemoryStore implements Store in process memory. It backs dry runs and tests
// and follows the same upsert/delete contract as PostgresStore.
type MemoryStore struct {
	mu         sync.RWMutex
	activities map[activityKey]*models.Activity
	accounts   map[int64]*models.Account
	statuses   map[int64]*models.SyncStatus
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		activities: make(map[activityKey]*models.Activity),
		accounts:   make(map[int64]*models.Account),
		statuses:   make(map[int64]*models.SyncStatus),
		now:        time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

func copyActivity(a *models.Activity) *models.Activity {
	c := *a
	c.StartDate = a.StartDate.UTC().Round(0)
	c.StartDateLocal = a.StartDateLocal.UTC().Round(0)
	c.SyncedAt = a.SyncedAt.UTC().Round(0)
	for _, p := range []**float64{
		&c.AverageHeartrate, &c.MaxHeartrate, &c.AverageWatts, &c.MaxWatts,
		&c.WeightedAvgWatts, &c.AverageCadence, &c.Calories,
	} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	if a.CreatedAt != nil {
		t := *a.CreatedAt
		c.CreatedAt = &t
	}
	return &c
}

// sameContent compares provider-owned fields only
func sameContent(a, b *models.Activity) bool {
	x, y := *a, *b
	x.SyncedAt, y.SyncedAt = time.Time{}, time.Time{}
	x.CreatedAt, y.CreatedAt = nil, nil
	return reflect.DeepEqual(x, y)
}

func (s *MemoryStore) UpsertActivity(ctx context.Context, activity *models.Activity) (models.UpsertResult, error) {
	if activity == nil || activity.ID <= 0 || activity.AccountID <= 0 {
		return "", apperrors.NewValidationError("activity requires id and account id", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", apperrors.NewPersistenceError("upsert cancelled", err)
	}

	next := copyActivity(activity)
	key := activityKey{activity.AccountID, activity.ID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.activities[key]; ok {
		if sameContent(cur, next) {
			return models.UpsertUnchanged, nil
		}
		next.CreatedAt = cur.CreatedAt
	} else {
		created := s.now().UTC()
		next.CreatedAt = &created
	}
	s.activities[key] = next
	return models.UpsertApplied, nil
}

func (s *MemoryStore) DeleteActivity(ctx context.Context, accountID, activityID int64) (models.DeleteResult, error) {
	key := activityKey{accountID, activityID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[key]; !ok {
		return models.DeleteAbsent, nil
	}
	delete(s.activities, key)
	return models.DeleteRemoved, nil
}

func (s *MemoryStore) ActivityExists(ctx context.Context, accountID, activityID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.activities[activityKey{accountID, activityID}]
	return ok, nil
}

func (s *MemoryStore) GetActivity(ctx context.Context, accountID, activityID int64) (*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[activityKey{accountID, activityID}]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("activity", fmt.Sprint(activityID))
	}
	return copyActivity(a), nil
}

func inRange(t time.Time, since, until *time.Time) bool {
	if since != nil && t.Before(*since) {
		return false
	}
	if until != nil && t.After(*until) {
		return false
	}
	return true
}

func (s *MemoryStore) ListActivities(ctx context.Context, accountID int64, q models.ActivityQuery) ([]*models.Activity, int64, error) {
	s.mu.RLock()
	var matched []*models.Activity
	for key, a := range s.activities {
		if key.accountID == accountID && inRange(a.StartDate, q.Since, q.Until) {
			matched = append(matched, copyActivity(a))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartDate.Equal(matched[j].StartDate) {
			return matched[i].StartDate.After(matched[j].StartDate)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if q.Offset >= len(matched) {
		return nil, total, nil
	}
	end := q.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[q.Offset:end], total, nil
}

func (s *MemoryStore) Summary(ctx context.Context, filter models.SummaryFilter) ([]*models.ActivitySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAccount := make(map[int64]*models.ActivitySummary)
	for key, a := range s.activities {
		if filter.AccountID != nil && key.accountID != *filter.AccountID {
			continue
		}
		if !inRange(a.StartDate, filter.Since, filter.Until) {
			continue
		}
		sum, ok := byAccount[key.accountID]
		if !ok {
			sum = &models.ActivitySummary{AccountID: key.accountID}
			if acct, ok := s.accounts[key.accountID]; ok {
				sum.AccountName = acct.Name
			}
			byAccount[key.accountID] = sum
		}
		sum.Activities++
		sum.DistanceMeters += a.Distance
		sum.MovingTimeSeconds += int64(a.MovingTime)
		sum.ElevationGainMeter += a.TotalElevationGain
		if a.Calories != nil {
			sum.Calories += *a.Calories
		}
		start := a.StartDate
		if sum.FirstStart == nil || start.Before(*sum.FirstStart) {
			sum.FirstStart = &start
		}
		if sum.LastStart == nil || start.After(*sum.LastStart) {
			sum.LastStart = &start
		}
	}

	summaries := make([]*models.ActivitySummary, 0, len(byAccount))
	for _, sum := range byAccount {
		summaries = append(summaries, sum)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].AccountID < summaries[j].AccountID })
	return summaries, nil
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	if a.LastActivityAt != nil {
		t := *a.LastActivityAt
		c.LastActivityAt = &t
	}
	if a.LastSyncAt != nil {
		t := *a.LastSyncAt
		c.LastSyncAt = &t
	}
	return &c
}

func (s *MemoryStore) SeedAccount(ctx context.Context, account *models.Account) error {
	if account == nil || account.ID <= 0 {
		return apperrors.NewValidationError("account requires an id", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	cur, ok := s.accounts[account.ID]
	if !ok {
		next := copyAccount(account)
		next.Status = models.AccountActive
		next.StatusReason = ""
		next.LastActivityAt, next.LastSyncAt = nil, nil
		next.CreatedAt, next.UpdatedAt = now, now
		s.accounts[account.ID] = next
		return nil
	}

	cur.Name = account.Name
	cur.Email = account.Email
	if account.Credential.ExpiresAt.After(cur.Credential.ExpiresAt) {
		cur.Credential = account.Credential
		cur.Status = models.AccountActive
		cur.StatusReason = ""
	}
	cur.UpdatedAt = now
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("account", fmt.Sprint(accountID))
	}
	return copyAccount(a), nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, copyAccount(a))
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *MemoryStore) updateAccount(accountID int64, fn func(*models.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return apperrors.NewResourceNotFoundError("account", fmt.Sprint(accountID))
	}
	fn(a)
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) SaveCredential(ctx context.Context, accountID int64, cred models.Credential) error {
	return s.updateAccount(accountID, func(a *models.Account) {
		scope := a.Credential.Scope
		a.Credential = cred
		if cred.Scope == "" {
			a.Credential.Scope = scope
		}
		a.Status = models.AccountActive
		a.StatusReason = ""
	})
}

func (s *MemoryStore) MarkAuthRequired(ctx context.Context, accountID int64, reason string) error {
	return s.updateAccount(accountID, func(a *models.Account) {
		a.Status = models.AccountAuthRequired
		a.StatusReason = reason
	})
}

func (s *MemoryStore) UpdateCursor(ctx context.Context, accountID int64, lastActivityAt *time.Time, syncedAt time.Time) error {
	return s.updateAccount(accountID, func(a *models.Account) {
		if lastActivityAt != nil && (a.LastActivityAt == nil || lastActivityAt.After(*a.LastActivityAt)) {
			t := lastActivityAt.UTC()
			a.LastActivityAt = &t
		}
		synced := syncedAt.UTC()
		a.LastSyncAt = &synced
	})
}

func (s *MemoryStore) GetSyncStatus(ctx context.Context, accountID int64) (*models.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[accountID]
	if !ok {
		return nil, nil
	}
	c := *st
	return &c, nil
}

func (s *MemoryStore) UpdateSyncStatus(ctx context.Context, status *models.SyncStatus) error {
	if status == nil {
		return apperrors.NewValidationError("status cannot be nil", nil)
	}
	c := *status
	s.mu.Lock()
	s.statuses[status.AccountID] = &c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListSyncStatuses(ctx context.Context) ([]*models.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	statuses := make([]*models.SyncStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		c := *st
		statuses = append(statuses, &c)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].AccountID < statuses[j].AccountID })
	return statuses, nil
}
