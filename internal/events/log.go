package events

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// LogPublisher writes events to the service log
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) RecordIngested(ctx context.Context, activity *models.Activity, result models.UpsertResult) error {
	p.log(recordIngested(activity, result)).
		WithField("name", activity.Name).
		Info("Activity ingested")
	return nil
}

func (p *LogPublisher) RecordDeleted(ctx context.Context, accountID, activityID int64, result models.DeleteResult) error {
	p.log(recordDeleted(accountID, activityID, result)).Info("Activity deleted")
	return nil
}

func (p *LogPublisher) SyncCompleted(ctx context.Context, status *models.SyncStatus) error {
	entry := p.log(syncCompleted(status)).WithFields(logrus.Fields{
		"task_id":         status.TaskID,
		"mode":            status.Mode,
		"records_applied": status.RecordsApplied,
		"records_seen":    status.RecordsSeen,
		"duration":        status.Duration().String(),
	})
	if status.LastError != "" {
		entry.WithField("error", status.LastError).Warn("Sync finished with error")
		return nil
	}
	entry.Info("Sync completed")
	return nil
}

func (p *LogPublisher) Close() error { return nil }

func (p *LogPublisher) log(e *Event) *logrus.Entry {
	observe(e.Kind, nil)
	fields := logrus.Fields{
		"event_id":   e.ID,
		"kind":       e.Kind,
		"account_id": e.AccountID,
	}
	if e.ActivityID != 0 {
		fields["activity_id"] = e.ActivityID
	}
	if e.Result != "" {
		fields["result"] = e.Result
	}
	return p.logger.WithFields(fields)
}
