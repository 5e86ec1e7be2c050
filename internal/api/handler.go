package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/strava-sync/internal/db"
	"github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
	"github.com/Kamar-Folarin/strava-sync/internal/webhook"
)

// SyncEngine is the part of the engine the API drives
type SyncEngine interface {
	Submit(task *models.SyncTask) error
	Status(ctx context.Context, accountID int64) (*models.SyncStatus, error)
	Statuses(ctx context.Context) ([]*models.SyncStatus, error)
}

// WebhookIngestor handles provider push notifications
type WebhookIngestor interface {
	VerifySubscription(mode, token, challenge string) (string, error)
	Ingest(ctx context.Context, event *models.WebhookEvent) (webhook.Outcome, error)
	Processed() int64
}

// QuotaReporter exposes the shared rate-limit state
type QuotaReporter interface {
	Snapshot() models.QuotaWindow
}

// Handler handles HTTP requests
type Handler struct {
	store  db.Store
	engine SyncEngine
	ingest WebhookIngestor
	quota  QuotaReporter
	logger *logrus.Logger
}

// NewHandler creates a new handler
func NewHandler(store db.Store, engine SyncEngine, ingest WebhookIngestor, quota QuotaReporter, logger *logrus.Logger) *Handler {
	return &Handler{
		store:  store,
		engine: engine,
		ingest: ingest,
		quota:  quota,
		logger: logger,
	}
}

// VerifyWebhook answers the subscription handshake
// @Summary Webhook subscription handshake
// @Description Echoes hub.challenge when hub.verify_token matches the configured token
// @Tags webhook
// @Produce json
// @Param hub.mode query string true "Must be subscribe"
// @Param hub.verify_token query string true "Shared verify token"
// @Param hub.challenge query string true "Challenge to echo"
// @Success 200 {object} ChallengeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /webhook [get]
func (h *Handler) VerifyWebhook(c *gin.Context) {
	challenge, err := h.ingest.VerifySubscription(c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge"))
	if err != nil {
		if stderrors.Is(err, webhook.ErrVerifyTokenMismatch) {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "verify token mismatch"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ChallengeResponse{Challenge: challenge})
}

// ReceiveWebhook accepts one push event
// @Summary Receive webhook event
// @Description Validates, coalesces and enqueues a provider event. Malformed events are acknowledged and dropped.
// @Tags webhook
// @Accept json
// @Produce json
// @Param event body models.WebhookEvent true "Provider event"
// @Success 200 {object} WebhookAck
// @Failure 503 {object} ErrorResponse
// @Router /webhook [post]
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	var event models.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.logger.WithError(err).Warn("Malformed webhook payload")
		c.JSON(http.StatusOK, WebhookAck{Status: "invalid"})
		return
	}

	outcome, err := h.ingest.Ingest(c.Request.Context(), &event)
	if err != nil {
		if errors.IsValidationError(err) {
			c.JSON(http.StatusOK, WebhookAck{Status: "invalid"})
			return
		}
		// The provider redelivers on non-2xx; dedup keeps that safe.
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "failed to enqueue event"})
		return
	}
	c.JSON(http.StatusOK, WebhookAck{Status: string(outcome)})
}

// ListAccounts returns all tracked athletes
// @Summary List tracked accounts
// @Tags accounts
// @Produce json
// @Success 200 {array} AccountResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts [get]
func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.store.ListAccounts(c.Request.Context())
	if err != nil {
		h.respondWithError(c, err, "Failed to list accounts")
		return
	}

	resp := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, newAccountResponse(a, h.syncStatus(c, a.ID)))
	}
	c.JSON(http.StatusOK, resp)
}

// GetAccount returns one tracked athlete
// @Summary Get account
// @Tags accounts
// @Produce json
// @Param id path int true "Athlete ID"
// @Success 200 {object} AccountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{id} [get]
func (h *Handler) GetAccount(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}
	account, err := h.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		h.respondWithError(c, err, "Failed to get account")
		return
	}
	c.JSON(http.StatusOK, newAccountResponse(account, h.syncStatus(c, id)))
}

// TriggerSync queues a pull for one athlete
// @Summary Trigger sync
// @Description Queues a full or incremental pull. Incremental runs a full backfill when the account has no cursor.
// @Tags accounts
// @Produce json
// @Param id path int true "Athlete ID"
// @Param mode query string false "full or incremental" default(incremental)
// @Param limit query int false "Maximum records to ingest" default(0)
// @Success 202 {object} SyncTriggerResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /accounts/{id}/sync [post]
func (h *Handler) TriggerSync(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	mode := models.SyncMode(c.DefaultQuery("mode", string(models.SyncIncremental)))
	if mode != models.SyncFull && mode != models.SyncIncremental {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "mode must be full or incremental"})
		return
	}
	limit, err := getIntQueryParam(c, "limit", 0)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit parameter"})
		return
	}

	account, err := h.store.GetAccount(c.Request.Context(), id)
	if err != nil {
		h.respondWithError(c, err, "Failed to get account")
		return
	}
	if account.NeedsReauthorization() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "account requires re-authorization: " + account.StatusReason})
		return
	}

	task := models.NewSyncTask(id, mode, models.SourceAPI).WithLimit(limit)
	if err := h.engine.Submit(task); err != nil {
		h.respondWithError(c, err, "Failed to queue sync")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"account_id": id,
		"task_id":    task.ID,
		"mode":       mode,
	}).Info("Sync requested via API")
	c.JSON(http.StatusAccepted, SyncTriggerResponse{
		TaskID:     task.ID,
		AccountID:  id,
		Mode:       string(mode),
		Limit:      limit,
		EnqueuedAt: task.EnqueuedAt,
	})
}

// ListActivities returns stored activities for an athlete
// @Summary List activities
// @Tags activities
// @Produce json
// @Param id path int true "Athlete ID"
// @Param limit query int false "Number of activities to return" default(50)
// @Param offset query int false "Number of activities to skip" default(0)
// @Param since query string false "Start date lower bound (RFC3339)" example("2026-02-01T00:00:00Z")
// @Param until query string false "Start date upper bound (RFC3339)" example("2026-03-01T00:00:00Z")
// @Success 200 {object} ActivityListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts/{id}/activities [get]
func (h *Handler) ListActivities(c *gin.Context) {
	id, ok := h.accountID(c)
	if !ok {
		return
	}

	limit, err := getIntQueryParam(c, "limit", 50)
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit parameter"})
		return
	}
	offset, err := getIntQueryParam(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid offset parameter"})
		return
	}
	since, until, ok := dateRange(c)
	if !ok {
		return
	}

	q := models.ActivityQuery{Since: since, Until: until, Limit: limit, Offset: offset}
	activities, total, err := h.store.ListActivities(c.Request.Context(), id, q)
	if err != nil {
		h.respondWithError(c, err, "Failed to list activities")
		return
	}
	if activities == nil {
		activities = []*models.Activity{}
	}

	c.JSON(http.StatusOK, ActivityListResponse{
		Data:     activities,
		Metadata: ListMetadata{Total: total, Limit: limit, Offset: offset},
	})
}

// GetSummary aggregates stored activities per athlete
// @Summary Activity summary
// @Tags activities
// @Produce json
// @Param account_id query int false "Restrict to one athlete"
// @Param since query string false "Start date lower bound (RFC3339)"
// @Param until query string false "Start date upper bound (RFC3339)"
// @Success 200 {object} SummaryResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /summary [get]
func (h *Handler) GetSummary(c *gin.Context) {
	var filter models.SummaryFilter
	if v := c.Query("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid account_id parameter"})
			return
		}
		filter.AccountID = &id
	}
	since, until, ok := dateRange(c)
	if !ok {
		return
	}
	filter.Since, filter.Until = since, until

	summaries, err := h.store.Summary(c.Request.Context(), filter)
	if err != nil {
		h.respondWithError(c, err, "Failed to build summary")
		return
	}

	resp := SummaryResponse{Data: make([]SummaryEntry, 0, len(summaries))}
	for _, s := range summaries {
		resp.Data = append(resp.Data, SummaryEntry{ActivitySummary: s, DistanceKm: s.DistanceKm()})
	}
	c.JSON(http.StatusOK, resp)
}

// GetSyncStatuses returns the last task outcome for every account
// @Summary Sync statuses
// @Tags sync
// @Produce json
// @Success 200 {array} models.SyncStatus
// @Failure 500 {object} ErrorResponse
// @Router /sync [get]
func (h *Handler) GetSyncStatuses(c *gin.Context) {
	statuses, err := h.engine.Statuses(c.Request.Context())
	if err != nil {
		h.respondWithError(c, err, "Failed to list sync statuses")
		return
	}
	if statuses == nil {
		statuses = []*models.SyncStatus{}
	}
	c.JSON(http.StatusOK, statuses)
}

// GetQuota returns the shared rate-limit budget
// @Summary Rate-limit state
// @Tags sync
// @Produce json
// @Success 200 {object} models.QuotaWindow
// @Router /quota [get]
func (h *Handler) GetQuota(c *gin.Context) {
	c.JSON(http.StatusOK, h.quota.Snapshot())
}

// Health reports store connectivity and webhook throughput
// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:          "healthy",
		Database:        "ok",
		EventsProcessed: h.ingest.Processed(),
		Time:            time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("Health check: database unreachable")
		resp.Status = "degraded"
		resp.Database = "unreachable"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (h *Handler) syncStatus(c *gin.Context, accountID int64) *models.SyncStatus {
	status, err := h.engine.Status(c.Request.Context(), accountID)
	if err != nil {
		if !errors.IsNotFound(err) {
			h.logger.WithError(err).WithField("account_id", accountID).Warn("Failed to load sync status")
		}
		return nil
	}
	return status
}

func (h *Handler) accountID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid account ID"})
		return 0, false
	}
	return id, true
}

func (h *Handler) respondWithError(c *gin.Context, err error, message string) {
	var full *errors.QueueFullError
	switch {
	case errors.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.IsValidationError(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case stderrors.As(err, &full):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		h.logger.WithError(err).Error(message)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: message})
	}
}

func getIntQueryParam(c *gin.Context, param string, defaultValue int) (int, error) {
	value := c.Query(param)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

// dateRange parses optional RFC3339 since/until parameters
func dateRange(c *gin.Context) (since, until *time.Time, ok bool) {
	parse := func(name string) (*time.Time, bool) {
		v := c.Query(name)
		if v == "" {
			return nil, true
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid " + name + " parameter (use RFC3339 format)"})
			return nil, false
		}
		return &t, true
	}
	if since, ok = parse("since"); !ok {
		return nil, nil, false
	}
	if until, ok = parse("until"); !ok {
		return nil, nil, false
	}
	if since != nil && until != nil && until.Before(*since) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "until must not be before since"})
		return nil, nil, false
	}
	return since, until, true
}
