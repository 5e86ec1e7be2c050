package models

import (
	"fmt"
	"time"
)

const (
	ObjectTypeActivity = "activity"
	ObjectTypeAthlete  = "athlete"

	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"
)

// WebhookEvent is a push notification from the provider's subscription API
type WebhookEvent struct {
	ObjectType     string            `json:"object_type" binding:"required,oneof=activity athlete"`
	ObjectID       int64             `json:"object_id" binding:"required,gt=0"`
	AspectType     string            `json:"aspect_type" binding:"required,oneof=create update delete"`
	OwnerID        int64             `json:"owner_id" binding:"required,gt=0"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates,omitempty"`
}

// ReceivedAt returns the provider's event timestamp
func (e *WebhookEvent) ReceivedAt() time.Time {
	return time.Unix(e.EventTime, 0).UTC()
}

// String identifies the event in logs
func (e *WebhookEvent) String() string {
	return fmt.Sprintf("%s/%d/%s owner=%d", e.ObjectType, e.ObjectID, e.AspectType, e.OwnerID)
}

// Deauthorized reports whether the event revokes the app's access for the owner
func (e *WebhookEvent) Deauthorized() bool {
	return e.ObjectType == ObjectTypeAthlete && e.Updates["authorized"] == "false"
}
