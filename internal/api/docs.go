package api

import (
	"time"

	_ "github.com/Kamar-Folarin/strava-sync/docs"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// ErrorResponse represents an API error
// @Description Error response from the API
// @swagger:model ErrorResponse
type ErrorResponse struct {
	// Error message
	// @example account not found
	Error string `json:"error" example:"Failed to process request"`
}

// ChallengeResponse echoes the subscription handshake challenge
// @Description Webhook subscription handshake reply
type ChallengeResponse struct {
	Challenge string `json:"hub.challenge" example:"15f7d1a91c1f40f8a748fd134752feb3"`
}

// WebhookAck acknowledges a webhook delivery
// @Description Outcome of a webhook delivery
type WebhookAck struct {
	// What happened to the event
	Status string `json:"status" example:"enqueued" enums:"enqueued,duplicate,ignored,invalid"`
}

// AccountResponse is a tracked athlete with its last sync state
// @Description A tracked athlete
// @swagger:model Account
type AccountResponse struct {
	ID             int64              `json:"id" example:"134815"`
	Name           string             `json:"name" example:"Dominic"`
	Email          string             `json:"email,omitempty" example:"dominic@example.com"`
	Status         string             `json:"status" example:"active" enums:"active,auth_required"`
	StatusReason   string             `json:"status_reason,omitempty"`
	TokenExpiresAt time.Time          `json:"token_expires_at" example:"2026-03-01T12:00:00Z"`
	LastActivityAt *time.Time         `json:"last_activity_at,omitempty" example:"2026-02-28T07:15:00Z"`
	LastSyncAt     *time.Time         `json:"last_sync_at,omitempty" example:"2026-03-01T09:00:00Z"`
	Sync           *models.SyncStatus `json:"sync,omitempty"`
}

func newAccountResponse(a *models.Account, status *models.SyncStatus) AccountResponse {
	return AccountResponse{
		ID:             a.ID,
		Name:           a.Name,
		Email:          a.Email,
		Status:         string(a.Status),
		StatusReason:   a.StatusReason,
		TokenExpiresAt: a.Credential.ExpiresAt,
		LastActivityAt: a.LastActivityAt,
		LastSyncAt:     a.LastSyncAt,
		Sync:           status,
	}
}

// SyncTriggerResponse describes an accepted sync request
// @Description A sync task that was queued
type SyncTriggerResponse struct {
	TaskID     string    `json:"task_id" example:"5f0c6c1e-8d0e-4c79-9a51-3f8f5f0b5e7a"`
	AccountID  int64     `json:"account_id" example:"134815"`
	Mode       string    `json:"mode" example:"incremental" enums:"full,incremental"`
	Limit      int       `json:"limit,omitempty" example:"200"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ActivityListResponse represents a paginated list of activities
// @Description A paginated list of activities
type ActivityListResponse struct {
	// Data contains the activities, newest first
	Data []*models.Activity `json:"data"`
	// Metadata contains pagination information
	Metadata ListMetadata `json:"metadata"`
}

// ListMetadata describes a page of results
type ListMetadata struct {
	Total  int64 `json:"total" example:"120"`
	Limit  int   `json:"limit" example:"50"`
	Offset int   `json:"offset" example:"0"`
}

// SummaryResponse aggregates stored activities per athlete
// @Description Activity totals per athlete
type SummaryResponse struct {
	Data []SummaryEntry `json:"data"`
}

// SummaryEntry is one athlete's totals
type SummaryEntry struct {
	*models.ActivitySummary
	DistanceKm float64 `json:"distance_km" example:"42.2"`
}

// HealthResponse reports service health
// @Description Service health
type HealthResponse struct {
	Status          string `json:"status" example:"healthy" enums:"healthy,degraded"`
	Database        string `json:"database" example:"ok"`
	EventsProcessed int64  `json:"events_processed" example:"17"`
	Time            string `json:"time" example:"2026-03-01T09:00:00Z"`
}
