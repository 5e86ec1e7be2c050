package strava

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

type clientHarness struct {
	*tokenHarness
	client  *Client
	api     *httptest.Server
	fetches atomic.Int32

	mu       sync.Mutex
	callTime []time.Time
}

func (h *clientHarness) record() {
	h.fetches.Add(1)
	h.mu.Lock()
	h.callTime = append(h.callTime, h.clk.Now())
	h.mu.Unlock()
}

func setupTestClient(t *testing.T, cred models.Credential, opts ...ClientOption) *clientHarness {
	t.Helper()
	h := &clientHarness{tokenHarness: setupTokenHarness(t, cred)}
	h.api = httptest.NewServer(nil)
	t.Cleanup(h.api.Close)

	opts = append([]ClientOption{
		WithBaseURL(h.api.URL + "/api/v3"),
		WithHTTPClient(h.api.Client()),
		WithClock(h.clk),
		WithRetryConfig(3, 100*time.Millisecond, time.Second),
	}, opts...)
	h.client = NewClient(h.limiter, h.tokens, newTestLogger(), opts...)
	return h
}

func validCredential(token string) models.Credential {
	return models.Credential{AccessToken: token, RefreshToken: "refresh-0", ExpiresAt: time.Now().Add(time.Hour)}
}

const activityJSON = `{
	"id": 42,
	"athlete": {"id": 1001},
	"name": "Morning Ride",
	"type": "Ride",
	"sport_type": "GravelRide",
	"start_date": "2026-02-14T07:30:00Z",
	"start_date_local": "2026-02-14T08:30:00Z",
	"timezone": "(GMT+01:00) Europe/Berlin",
	"utc_offset": 3600.0,
	"distance": 42195.5,
	"moving_time": 5400,
	"elapsed_time": 6000,
	"total_elevation_gain": 512.3,
	"average_speed": 7.8,
	"max_speed": 15.2,
	"average_watts": 210.5,
	"kudos_count": 12,
	"trainer": false,
	"commute": true,
	"gear_id": "b123",
	"map": {"summary_polyline": "abc"}
}`

func TestClient_GetActivity(t *testing.T) {
	ctx := context.Background()

	t.Run("successful request", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			assert.Equal(t, "GET", r.Method)
			assert.Equal(t, "/api/v3/activities/42", r.URL.Path)
			assert.Equal(t, "Bearer good", r.Header.Get("Authorization"))
			w.Header().Set("X-RateLimit-Limit", "100,1000")
			w.Header().Set("X-RateLimit-Usage", "20,300")
			w.Write([]byte(activityJSON))
		})

		a, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(42), a.ID)
		assert.Equal(t, testAccountID, a.AccountID)
		assert.Equal(t, "GravelRide", a.SportType)
		assert.Equal(t, 3600, a.UTCOffset)
		assert.Equal(t, 42195.5, a.Distance)
		require.NotNil(t, a.AverageWatts)
		assert.Equal(t, 210.5, *a.AverageWatts)
		assert.Nil(t, a.AverageHeartrate)
		assert.True(t, a.Commute)
		assert.Equal(t, "abc", a.SummaryPolyline)
		assert.Equal(t, time.Date(2026, 2, 14, 7, 30, 0, 0, time.UTC), a.StartDate)

		snap := h.limiter.Snapshot()
		assert.Equal(t, 20, snap.WindowCount, "provider usage raises local counters")
		assert.Equal(t, 300, snap.DayCount)
	})

	t.Run("401 forces one refresh and one retry", func(t *testing.T) {
		h := setupTestClient(t, validCredential("revoked"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			if r.Header.Get("Authorization") != "Bearer fresh-1" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"message":"Authorization Error"}`))
				return
			}
			w.Write([]byte(activityJSON))
		})

		a, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.NoError(t, err)
		assert.Equal(t, int64(42), a.ID)
		assert.Equal(t, int32(1), h.refreshes.Load())
		assert.Equal(t, int32(2), h.fetches.Load())
	})

	t.Run("second 401 fails the request only", func(t *testing.T) {
		h := setupTestClient(t, validCredential("revoked"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.Error(t, err)
		assert.True(t, apperrors.IsAccessDenied(err))
		assert.False(t, apperrors.IsAuthRequired(err))
		assert.Equal(t, int32(1), h.refreshes.Load())
		assert.Equal(t, int32(2), h.fetches.Load())
	})

	t.Run("403 is not retried and does not refresh", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message":"Forbidden"}`))
		})

		_, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.Error(t, err)
		assert.True(t, apperrors.IsAccessDenied(err))
		assert.False(t, apperrors.IsAuthRequired(err))
		assert.Equal(t, int32(0), h.refreshes.Load())
		assert.Equal(t, int32(1), h.fetches.Load())
	})

	t.Run("429 honors Retry-After before retrying", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			if h.fetches.Load() == 1 {
				w.Header().Set("Retry-After", "2")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(activityJSON))
		})

		_, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.NoError(t, err)
		require.Len(t, h.callTime, 2)
		assert.GreaterOrEqual(t, h.callTime[1].Sub(h.callTime[0]), 2*time.Second)
	})

	t.Run("429 exhausted is transient", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		})

		_, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.Error(t, err)
		assert.True(t, apperrors.IsTransient(err))
		assert.Equal(t, int32(3), h.fetches.Load())
	})

	t.Run("5xx retried with backoff then transient", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.Error(t, err)
		assert.True(t, apperrors.IsTransient(err))
		assert.Equal(t, int32(3), h.fetches.Load())
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, h.clk.Sleeps())

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	})

	t.Run("5xx then success", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			if h.fetches.Load() < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(activityJSON))
		})

		_, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.NoError(t, err)
		assert.Equal(t, int32(3), h.fetches.Load())
	})

	t.Run("not found", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Record Not Found"}`))
		})

		_, err := h.client.GetActivity(ctx, testAccountID, 42)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
		assert.Equal(t, int32(1), h.fetches.Load())
	})

	t.Run("daily quota exhausted issues no call", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.record()
		})
		h.limiter.ObserveUsage(0, 1000)

		_, err := h.client.GetActivity(ctx, testAccountID, 42)
		assert.True(t, apperrors.IsQuotaExceeded(err))
		assert.Equal(t, int32(0), h.fetches.Load())
	})

	t.Run("invalid id", func(t *testing.T) {
		h := setupTestClient(t, validCredential("good"))
		_, err := h.client.GetActivity(ctx, testAccountID, 0)
		assert.True(t, apperrors.IsValidationError(err))
	})
}

func TestClient_CircuitBreaker(t *testing.T) {
	h := setupTestClient(t, validCredential("good"),
		WithRetryConfig(2, 10*time.Millisecond, 10*time.Millisecond),
		WithBreaker(2, time.Hour),
	)
	h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.record()
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	_, err := h.client.GetActivity(ctx, testAccountID, 42)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, int32(2), h.fetches.Load())

	_, err = h.client.GetActivity(ctx, testAccountID, 42)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, int32(2), h.fetches.Load(), "open breaker must not reach the provider")
}

func TestClient_ListActivities(t *testing.T) {
	h := setupTestClient(t, validCredential("good"))
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.record()
		assert.Equal(t, "/api/v3/athlete/activities", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		assert.Equal(t, fmt.Sprint(after.Unix()), r.URL.Query().Get("after"))
		assert.Empty(t, r.URL.Query().Get("before"))
		w.Write([]byte(`[` + activityJSON + `, {"id": 43, "type": "Run", "start_date": "2026-02-15T07:30:00Z", "start_date_local": "2026-02-15T08:30:00Z", "distance": 10000}]`))
	})

	page, err := h.client.ListActivities(context.Background(), testAccountID, ListOptions{Page: 2, PerPage: 50, After: &after})
	require.NoError(t, err)
	require.Len(t, page.Activities, 2)
	assert.False(t, page.Empty())
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, int64(43), page.Activities[1].ID)
	assert.Equal(t, "Run", page.Activities[1].SportType, "sport type falls back to type")
	assert.Equal(t, testAccountID, page.Activities[1].AccountID)

	h.api.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	page, err = h.client.ListActivities(context.Background(), testAccountID, ListOptions{})
	require.NoError(t, err)
	assert.True(t, page.Empty())
	assert.Equal(t, 1, page.Page)
}
