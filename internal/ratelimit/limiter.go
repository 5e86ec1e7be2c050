// Package ratelimit enforces the provider's two-tier call budget: a short
// rolling window and a UTC calendar-day ceiling, shared by every account.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/strava-sync/internal/clock"
	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/metrics"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

const day = 24 * time.Hour

// Config holds the quota envelope
type Config struct {
	WindowLimit int           `validate:"gt=0"`
	Window      time.Duration `validate:"gt=0"`
	DailyLimit  int           `validate:"gt=0"`
}

// DefaultConfig is Strava's default application quota
func DefaultConfig() Config {
	return Config{
		WindowLimit: 100,
		Window:      15 * time.Minute,
		DailyLimit:  1000,
	}
}

// Permit is proof that a call was admitted
type Permit struct {
	ReservedAt time.Time
	Cost       int
	Waited     time.Duration
}

// Limiter is safe for concurrent use. The short window is a sliding log of
// admission times so no rolling interval of length Window ever holds more
// than WindowLimit admissions.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	logger *logrus.Logger

	log          []time.Time
	dayStart     time.Time
	dayCount     int
	blockedUntil time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock substitutes the time source
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// NewLimiter creates a limiter for cfg
func NewLimiter(cfg Config, logger *logrus.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:    cfg,
		clock:  clock.Real{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.dayStart = dayOf(l.clock.Now())
	return l
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(day)
}

// roll must be called with mu held
func (l *Limiter) roll(now time.Time) {
	if d := dayOf(now); d.After(l.dayStart) {
		l.dayStart = d
		l.dayCount = 0
	}
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.log) && !l.log[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.log = append(l.log[:0], l.log[i:]...)
	}
}

// Reserve admits cost calls, suspending while the short window is saturated
// or a provider penalty is in force. A saturated day fails immediately with a
// QuotaExceededError carrying the next reset.
func (l *Limiter) Reserve(ctx context.Context, cost int) (*Permit, error) {
	if cost <= 0 {
		cost = 1
	}
	if cost > l.cfg.WindowLimit {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("cost %d exceeds window limit %d", cost, l.cfg.WindowLimit), nil)
	}

	var waited time.Duration
	for {
		l.mu.Lock()
		now := l.clock.Now()
		l.roll(now)

		if l.dayCount+cost > l.cfg.DailyLimit {
			resetAt := l.dayStart.Add(day)
			used := l.dayCount
			l.mu.Unlock()
			metrics.QuotaExhausted.Inc()
			return nil, apperrors.NewQuotaExceededError(resetAt, l.cfg.DailyLimit, used)
		}

		var wait time.Duration
		if now.Before(l.blockedUntil) {
			wait = l.blockedUntil.Sub(now)
		} else if excess := len(l.log) + cost - l.cfg.WindowLimit; excess > 0 {
			wait = l.log[excess-1].Add(l.cfg.Window).Sub(now)
		}

		if wait <= 0 {
			for i := 0; i < cost; i++ {
				l.log = append(l.log, now)
			}
			l.dayCount += cost
			l.mu.Unlock()
			metrics.QuotaReservations.Add(float64(cost))
			if waited > 0 {
				metrics.QuotaWaitSeconds.Observe(waited.Seconds())
			}
			return &Permit{ReservedAt: now, Cost: cost, Waited: waited}, nil
		}
		l.mu.Unlock()

		l.logger.WithFields(logrus.Fields{
			"wait": wait.String(),
			"cost": cost,
		}).Debug("Rate limit window saturated, waiting")

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		waited += wait
	}
}

// Penalize records a provider 429. Nothing is admitted until retryAfter has
// elapsed; with no hint the whole window is treated as saturated.
func (l *Limiter) Penalize(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = l.cfg.Window
	}
	l.mu.Lock()
	until := l.clock.Now().Add(retryAfter)
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
	l.mu.Unlock()

	metrics.QuotaPenalties.Inc()
	l.logger.WithField("retry_after", retryAfter.String()).Warn("Provider rate limit hit, blocking reservations")
}

// ObserveUsage folds provider-reported usage into the local counters. Counts
// are only ever raised.
func (l *Limiter) ObserveUsage(windowUsed, dayUsed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.roll(now)
	for len(l.log) < windowUsed && len(l.log) < l.cfg.WindowLimit {
		l.log = append(l.log, now)
	}
	if dayUsed > l.dayCount {
		l.dayCount = dayUsed
	}
}

// Snapshot returns the current counters
func (l *Limiter) Snapshot() models.QuotaWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	l.roll(now)

	windowStart := now
	if len(l.log) > 0 {
		windowStart = l.log[0]
	}
	q := models.QuotaWindow{
		WindowCount: len(l.log),
		WindowLimit: l.cfg.WindowLimit,
		WindowStart: windowStart,
		DayCount:    l.dayCount,
		DayLimit:    l.cfg.DailyLimit,
		DayStart:    l.dayStart,
	}
	if now.Before(l.blockedUntil) {
		q.BlockedUntil = l.blockedUntil
	}
	return q
}

// Config returns the limiter's envelope
func (l *Limiter) Config() Config {
	return l.cfg
}
