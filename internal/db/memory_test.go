package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

func float(v float64) *float64 { return &v }

func testActivity(accountID, id int64, start time.Time) *models.Activity {
	return &models.Activity{
		ID:                 id,
		AccountID:          accountID,
		Name:               "Morning Run",
		Type:               "Run",
		SportType:          "Run",
		StartDate:          start,
		StartDateLocal:     start,
		Distance:           5000,
		MovingTime:         1500,
		ElapsedTime:        1600,
		TotalElevationGain: 42,
		AverageHeartrate:   float(150),
		Calories:           float(400),
		SyncedAt:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStore_UpsertLastWriterWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 2, 10, 7, 0, 0, 0, time.UTC)

	t.Run("insert then identical is unchanged", func(t *testing.T) {
		res, err := store.UpsertActivity(ctx, testActivity(1, 100, start))
		require.NoError(t, err)
		assert.Equal(t, models.UpsertApplied, res)

		again := testActivity(1, 100, start)
		again.SyncedAt = again.SyncedAt.Add(time.Hour)
		res, err = store.UpsertActivity(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, models.UpsertUnchanged, res)
	})

	t.Run("sequence of writes leaves the last one", func(t *testing.T) {
		names := []string{"Lunch Run", "Evening Run", "Tempo"}
		for i, name := range names {
			a := testActivity(1, 100, start)
			a.Name = name
			a.Distance = float64(6000 + i)
			if i == 2 {
				a.AverageHeartrate = nil
			}
			res, err := store.UpsertActivity(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, models.UpsertApplied, res)
		}

		got, err := store.GetActivity(ctx, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, "Tempo", got.Name)
		assert.Equal(t, 6002.0, got.Distance)
		assert.Nil(t, got.AverageHeartrate, "overwrite must not merge optional fields")
		require.NotNil(t, got.CreatedAt)
	})

	t.Run("same provider id under another account is a separate record", func(t *testing.T) {
		res, err := store.UpsertActivity(ctx, testActivity(2, 100, start))
		require.NoError(t, err)
		assert.Equal(t, models.UpsertApplied, res)

		_, total, err := store.ListActivities(ctx, 1, models.ActivityQuery{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("caller mutations do not leak into the store", func(t *testing.T) {
		a := testActivity(3, 300, start)
		_, err := store.UpsertActivity(ctx, a)
		require.NoError(t, err)
		*a.Calories = 1
		a.Name = "changed"

		got, err := store.GetActivity(ctx, 3, 300)
		require.NoError(t, err)
		assert.Equal(t, "Morning Run", got.Name)
		assert.Equal(t, 400.0, *got.Calories)
	})

	t.Run("rejects records without keys", func(t *testing.T) {
		_, err := store.UpsertActivity(ctx, testActivity(0, 1, start))
		assert.True(t, apperrors.IsValidationError(err))
	})
}

func TestMemoryStore_DeleteAndExists(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.UpsertActivity(ctx, testActivity(1, 42, time.Now()))
	require.NoError(t, err)

	exists, err := store.ActivityExists(ctx, 1, 42)
	require.NoError(t, err)
	assert.True(t, exists)

	res, err := store.DeleteActivity(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, models.DeleteRemoved, res)

	res, err = store.DeleteActivity(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, models.DeleteAbsent, res)

	exists, err = store.ActivityExists(ctx, 1, 42)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.GetActivity(ctx, 1, 42)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryStore_ListAndSummary(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SeedAccount(ctx, &models.Account{ID: 1, Name: "Alice"}))

	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := int64(0); i < 5; i++ {
		_, err := store.UpsertActivity(ctx, testActivity(1, 10+i, base.AddDate(0, 0, int(i))))
		require.NoError(t, err)
	}
	_, err := store.UpsertActivity(ctx, testActivity(2, 99, base))
	require.NoError(t, err)

	t.Run("newest first with pagination", func(t *testing.T) {
		page, total, err := store.ListActivities(ctx, 1, models.ActivityQuery{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(5), total)
		require.Len(t, page, 2)
		assert.Equal(t, int64(13), page[0].ID)
		assert.Equal(t, int64(12), page[1].ID)
	})

	t.Run("summary over inclusive date range", func(t *testing.T) {
		accountID := int64(1)
		since := base.AddDate(0, 0, 1)
		until := base.AddDate(0, 0, 3)
		sums, err := store.Summary(ctx, models.SummaryFilter{AccountID: &accountID, Since: &since, Until: &until})
		require.NoError(t, err)
		require.Len(t, sums, 1)

		s := sums[0]
		assert.Equal(t, "Alice", s.AccountName)
		assert.Equal(t, 3, s.Activities)
		assert.Equal(t, 15000.0, s.DistanceMeters)
		assert.Equal(t, 15.0, s.DistanceKm())
		assert.Equal(t, int64(4500), s.MovingTimeSeconds)
		assert.Equal(t, 1200.0, s.Calories)
		assert.Equal(t, since, *s.FirstStart)
		assert.Equal(t, until, *s.LastStart)
	})

	t.Run("summary across accounts", func(t *testing.T) {
		sums, err := store.Summary(ctx, models.SummaryFilter{})
		require.NoError(t, err)
		require.Len(t, sums, 2)
		assert.Equal(t, int64(1), sums[0].AccountID)
		assert.Equal(t, 5, sums[0].Activities)
		assert.Equal(t, int64(2), sums[1].AccountID)
		assert.Equal(t, "", sums[1].AccountName)
	})
}

func TestMemoryStore_Accounts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SeedAccount(ctx, &models.Account{
		ID:         7,
		Name:       "Bob",
		Credential: models.Credential{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: expires},
	}))

	t.Run("refreshed credential survives reseeding with older tokens", func(t *testing.T) {
		require.NoError(t, store.SaveCredential(ctx, 7, models.Credential{
			AccessToken: "a2", RefreshToken: "r2", ExpiresAt: expires.Add(6 * time.Hour),
		}))
		require.NoError(t, store.SeedAccount(ctx, &models.Account{
			ID:         7,
			Name:       "Bobby",
			Credential: models.Credential{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: expires},
		}))

		acct, err := store.GetAccount(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "Bobby", acct.Name)
		assert.Equal(t, "a2", acct.Credential.AccessToken)
	})

	t.Run("auth required until newer tokens are seeded", func(t *testing.T) {
		require.NoError(t, store.MarkAuthRequired(ctx, 7, "refresh token rejected"))
		acct, err := store.GetAccount(ctx, 7)
		require.NoError(t, err)
		assert.True(t, acct.NeedsReauthorization())

		require.NoError(t, store.SeedAccount(ctx, &models.Account{
			ID:         7,
			Name:       "Bobby",
			Credential: models.Credential{AccessToken: "a3", RefreshToken: "r3", ExpiresAt: expires.Add(48 * time.Hour)},
		}))
		acct, err = store.GetAccount(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, models.AccountActive, acct.Status)
		assert.Equal(t, "r3", acct.Credential.RefreshToken)
	})

	t.Run("cursor only moves forward", func(t *testing.T) {
		later := expires.Add(time.Hour)
		require.NoError(t, store.UpdateCursor(ctx, 7, &later, later))
		require.NoError(t, store.UpdateCursor(ctx, 7, &expires, later.Add(time.Minute)))

		acct, err := store.GetAccount(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, acct.LastActivityAt)
		assert.Equal(t, later, *acct.LastActivityAt)
		assert.Equal(t, later.Add(time.Minute), *acct.LastSyncAt)
	})

	t.Run("unknown account", func(t *testing.T) {
		_, err := store.GetAccount(ctx, 999)
		assert.True(t, apperrors.IsNotFound(err))
		assert.True(t, apperrors.IsNotFound(store.MarkAuthRequired(ctx, 999, "x")))
	})
}

func TestMemoryStore_SyncStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st, err := store.GetSyncStatus(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, store.UpdateSyncStatus(ctx, &models.SyncStatus{AccountID: 2, State: models.SyncRunning}))
	require.NoError(t, store.UpdateSyncStatus(ctx, &models.SyncStatus{AccountID: 1, State: models.SyncIdle}))

	all, err := store.ListSyncStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].AccountID)
	assert.Equal(t, models.SyncRunning, all[1].State)
}
