package strava

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"github.com/Kamar-Folarin/strava-sync/internal/clock"
	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/metrics"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
	"github.com/Kamar-Folarin/strava-sync/pkg/utils"
)

const DefaultBaseURL = "https://www.strava.com/api/v3"

// response is what crosses the circuit breaker: only transport failures and
// 5xx responses count against it
type response struct {
	status int
	header http.Header
	body   []byte
}

// Client represents a client for the Strava activities API. Every attempt
// reserves quota and obtains a valid credential before it is sent.
type Client struct {
	client  *http.Client
	baseURL string
	quota   Quota
	creds   Credentials
	breaker *gobreaker.CircuitBreaker[*response]
	clock   clock.Clock
	logger  *logrus.Logger

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// ClientOption allows configuring the Strava client
type ClientOption func(*Client)

// WithRetryConfig configures retry behavior. maxRetries bounds the number of
// attempts for 429, 5xx and network failures.
func WithRetryConfig(maxRetries int, initialBackoff, maxBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.initialBackoff = initialBackoff
		c.maxBackoff = maxBackoff
	}
}

// WithBaseURL points the client at another API root
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithClock substitutes the time source used for backoff
func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithBreaker configures the circuit breaker: it opens after failureThreshold
// consecutive transport or 5xx failures and half-opens after openTimeout
func WithBreaker(failureThreshold uint32, openTimeout time.Duration) ClientOption {
	return func(c *Client) {
		c.breaker = newBreaker(failureThreshold, openTimeout, c.logger)
	}
}

func newBreaker(failureThreshold uint32, openTimeout time.Duration, logger *logrus.Logger) *gobreaker.CircuitBreaker[*response] {
	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        "strava-api",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

// NewClient creates a Strava client drawing on quota and creds
func NewClient(quota Quota, creds Credentials, logger *logrus.Logger, opts ...ClientOption) *Client {
	c := &Client{
		client:         &http.Client{Timeout: 30 * time.Second},
		baseURL:        DefaultBaseURL,
		quota:          quota,
		creds:          creds,
		clock:          clock.Real{},
		logger:         logger,
		maxRetries:     3,
		initialBackoff: time.Second,
		maxBackoff:     time.Minute,
	}
	c.breaker = newBreaker(5, 30*time.Second, logger)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// observeUsage folds the provider's usage headers into the limiter
func (c *Client) observeUsage(h http.Header) {
	if short, daily, ok := utils.ParseUsagePair(h.Get("X-RateLimit-Usage")); ok {
		c.quota.ObserveUsage(short, daily)
	}
}

func (c *Client) send(ctx context.Context, cred *models.Credential, endpoint, reqURL string) (*response, error) {
	return c.breaker.Execute(func() (*response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		(&oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}).SetAuthHeader(req)

		resp, err := c.client.Do(req)
		if err != nil {
			metrics.APIRequests.WithLabelValues(endpoint, metrics.StatusClass(0)).Inc()
			return nil, NewAPIError(0, "request failed", err)
		}
		defer resp.Body.Close()
		metrics.APIRequests.WithLabelValues(endpoint, metrics.StatusClass(resp.StatusCode)).Inc()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, NewAPIError(resp.StatusCode, "failed to read response body", err)
		}
		if resp.StatusCode >= 500 {
			return nil, NewAPIError(resp.StatusCode, string(body), nil)
		}
		return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
	})
}

// doRequestWithBackoff performs a GET on behalf of accountID and decodes the
// JSON body into result
func (c *Client) doRequestWithBackoff(ctx context.Context, accountID int64, endpoint, reqURL, what string, result interface{}) error {
	logger := c.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"endpoint":   endpoint,
	})

	var lastErr error
	refreshed := false

	for attempt := 0; attempt < c.maxRetries; {
		if _, err := c.quota.Reserve(ctx, 1); err != nil {
			return err
		}
		cred, err := c.creds.GetValidCredential(ctx, accountID)
		if err != nil {
			return err
		}

		resp, err := c.send(ctx, cred, endpoint, reqURL)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperrors.NewTransientError(what+": provider circuit open", err)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			lastErr = err
			backoff := utils.Backoff(attempt, c.initialBackoff, c.maxBackoff)
			logger.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"backoff": backoff.String(),
			}).Warn("Request attempt failed")
			attempt++
			if attempt < c.maxRetries {
				if err := c.clock.Sleep(ctx, backoff); err != nil {
					return err
				}
			}
			continue
		}

		c.observeUsage(resp.header)

		switch {
		case resp.status == http.StatusOK:
			if result != nil {
				if err := json.Unmarshal(resp.body, result); err != nil {
					return apperrors.NewInternalError(what+": failed to decode response", NewAPIError(resp.status, "invalid JSON", err))
				}
			}
			return nil

		case resp.status == http.StatusUnauthorized && !refreshed:
			// Retry exactly once with a renewed token; a second 401 fails the request.
			refreshed = true
			logger.Info("Access token rejected, forcing refresh")
			if _, err := c.creds.ForceRefresh(ctx, accountID, cred.AccessToken); err != nil {
				return err
			}

		case resp.status == http.StatusTooManyRequests:
			retryAfter := utils.ParseRetryAfter(resp.header.Get("Retry-After"), c.clock.Now())
			c.quota.Penalize(retryAfter)
			lastErr = NewAPIError(resp.status, "rate limit exceeded", nil)
			attempt++
			logger.WithFields(logrus.Fields{
				"attempt":     attempt,
				"retry_after": retryAfter.String(),
			}).Warn("Rate limited by provider")

		default:
			return classify(NewAPIError(resp.status, strings.TrimSpace(string(resp.body)), nil), what)
		}
	}

	logger.WithError(lastErr).Error("Retries exhausted")
	return classify(lastErr, what)
}

// ListActivities fetches one page of the athlete's activities
func (c *Client) ListActivities(ctx context.Context, accountID int64, opts ListOptions) (*ActivityPage, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PerPage < 1 {
		opts.PerPage = 30
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(opts.Page))
	query.Set("per_page", strconv.Itoa(opts.PerPage))
	if opts.After != nil {
		query.Set("after", strconv.FormatInt(opts.After.Unix(), 10))
	}
	if opts.Before != nil {
		query.Set("before", strconv.FormatInt(opts.Before.Unix(), 10))
	}
	reqURL := c.baseURL + "/athlete/activities?" + query.Encode()

	var raw []*RawActivity
	if err := c.doRequestWithBackoff(ctx, accountID, "list_activities", reqURL, "activity list", &raw); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	page := &ActivityPage{
		Page:       opts.Page,
		PerPage:    opts.PerPage,
		Activities: make([]*models.Activity, 0, len(raw)),
	}
	for _, r := range raw {
		page.Activities = append(page.Activities, r.Normalize(accountID, now))
	}
	return page, nil
}

// GetActivity fetches one activity by id. A missing activity fails with a
// NotFound error.
func (c *Client) GetActivity(ctx context.Context, accountID, activityID int64) (*models.Activity, error) {
	if activityID <= 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid activity id %d", activityID), nil)
	}
	reqURL := fmt.Sprintf("%s/activities/%d", c.baseURL, activityID)

	var raw RawActivity
	if err := c.doRequestWithBackoff(ctx, accountID, "get_activity", reqURL, fmt.Sprintf("activity %d", activityID), &raw); err != nil {
		return nil, err
	}
	return raw.Normalize(accountID, c.clock.Now()), nil
}
