package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "strava_sync"

var (
	QuotaReservations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "reservations_total",
		Help:      "Number of provider calls admitted by the rate limiter.",
	})

	QuotaWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "wait_seconds",
		Help:      "Time callers spent suspended waiting for the short window.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	QuotaExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "daily_exhausted_total",
		Help:      "Number of reservations rejected because the daily ceiling was reached.",
	})

	QuotaPenalties = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "penalties_total",
		Help:      "Number of provider 429 responses folded into the limiter.",
	})

	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Provider API requests, labeled by endpoint and HTTP status class.",
	}, []string{"endpoint", "status"})

	TokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "oauth",
		Name:      "refreshes_total",
		Help:      "OAuth refresh calls, labeled by outcome.",
	}, []string{"outcome"})

	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound webhook events, labeled by outcome (enqueued, duplicate, ignored, invalid, failed).",
	}, []string{"outcome"})

	SyncTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "tasks_total",
		Help:      "Sync tasks finished, labeled by mode and result.",
	}, []string{"mode", "result"})

	SyncTaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "task_duration_seconds",
		Help:      "Time spent executing a sync task.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"mode"})

	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Tasks waiting in an account's queue.",
	}, []string{"account"})

	ActivitiesUpserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "activities_upserted_total",
		Help:      "Activity upserts, labeled by result (applied, unchanged).",
	}, []string{"result"})

	ActivitiesDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "activities_deleted_total",
		Help:      "Activity deletes, labeled by result (removed, absent).",
	}, []string{"result"})

	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Outbound events, labeled by kind and result.",
	}, []string{"kind", "result"})
)

func init() {
	prometheus.MustRegister(
		QuotaReservations,
		QuotaWaitSeconds,
		QuotaExhausted,
		QuotaPenalties,
		APIRequests,
		TokenRefreshes,
		WebhookEvents,
		SyncTasks,
		SyncTaskDuration,
		QueueDepth,
		ActivitiesUpserted,
		ActivitiesDeleted,
		EventsPublished,
	)
}

// StatusClass buckets an HTTP status code for the APIRequests label
func StatusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code == 429:
		return "429"
	case code == 401:
		return "401"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
