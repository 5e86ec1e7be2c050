package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by account, so one
// account's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
}

// NewKafkaPublisher creates a synchronous writer for the given brokers
func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	return newKafkaPublisher(writer, topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) RecordIngested(ctx context.Context, activity *models.Activity, result models.UpsertResult) error {
	return p.publish(ctx, recordIngested(activity, result))
}

func (p *KafkaPublisher) RecordDeleted(ctx context.Context, accountID, activityID int64, result models.DeleteResult) error {
	return p.publish(ctx, recordDeleted(accountID, activityID, result))
}

func (p *KafkaPublisher) SyncCompleted(ctx context.Context, status *models.SyncStatus) error {
	return p.publish(ctx, syncCompleted(status))
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func (p *KafkaPublisher) publish(ctx context.Context, e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		observe(e.Kind, err)
		return fmt.Errorf("failed to encode %s event: %w", e.Kind, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(e.AccountID, 10)),
		Value: payload,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}

	err = p.writer.WriteMessages(ctx, msg)
	observe(e.Kind, err)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"topic":      p.topic,
			"kind":       e.Kind,
			"account_id": e.AccountID,
		}).Error("Failed to publish event")
		return fmt.Errorf("failed to publish %s event to %s: %w", e.Kind, p.topic, err)
	}
	return nil
}
