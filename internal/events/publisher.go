// Package events announces ingestion results to downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Kamar-Folarin/strava-sync/internal/metrics"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// Kind names an outbound event
type Kind string

const (
	KindRecordIngested Kind = "record.ingested"
	KindRecordDeleted  Kind = "record.deleted"
	KindSyncCompleted  Kind = "sync.completed"
)

// Event is the payload written to every sink
type Event struct {
	ID         string             `json:"id"`
	Kind       Kind               `json:"kind"`
	AccountID  int64              `json:"account_id"`
	ActivityID int64              `json:"activity_id,omitempty"`
	Result     string             `json:"result,omitempty"`
	Activity   *models.Activity   `json:"activity,omitempty"`
	Status     *models.SyncStatus `json:"status,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Publisher is the notification collaborator of the sync engine
type Publisher interface {
	RecordIngested(ctx context.Context, activity *models.Activity, result models.UpsertResult) error
	RecordDeleted(ctx context.Context, accountID, activityID int64, result models.DeleteResult) error
	SyncCompleted(ctx context.Context, status *models.SyncStatus) error
	Close() error
}

func recordIngested(activity *models.Activity, result models.UpsertResult) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Kind:       KindRecordIngested,
		AccountID:  activity.AccountID,
		ActivityID: activity.ID,
		Result:     string(result),
		Activity:   activity,
		OccurredAt: time.Now().UTC(),
	}
}

func recordDeleted(accountID, activityID int64, result models.DeleteResult) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Kind:       KindRecordDeleted,
		AccountID:  accountID,
		ActivityID: activityID,
		Result:     string(result),
		OccurredAt: time.Now().UTC(),
	}
}

func syncCompleted(status *models.SyncStatus) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Kind:       KindSyncCompleted,
		AccountID:  status.AccountID,
		Result:     string(status.State),
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
}

func observe(kind Kind, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.EventsPublished.WithLabelValues(string(kind), result).Inc()
}

// Multi fans every event out to all publishers and joins their errors
type Multi []Publisher

// NewMulti drops nil entries
func NewMulti(publishers ...Publisher) Multi {
	m := make(Multi, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			m = append(m, p)
		}
	}
	return m
}

func (m Multi) RecordIngested(ctx context.Context, activity *models.Activity, result models.UpsertResult) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.RecordIngested(ctx, activity, result))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordDeleted(ctx context.Context, accountID, activityID int64, result models.DeleteResult) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.RecordDeleted(ctx, accountID, activityID, result))
	}
	return errors.Join(errs...)
}

func (m Multi) SyncCompleted(ctx context.Context, status *models.SyncStatus) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.SyncCompleted(ctx, status))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
