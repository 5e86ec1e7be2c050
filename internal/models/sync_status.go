package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SyncState is the lifecycle state of an account's worker
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncRunning SyncState = "running"
	SyncFailed  SyncState = "failed"
)

// SyncStatus tracks the sync state of an account
type SyncStatus struct {
	AccountID      int64      `json:"account_id"`
	State          SyncState  `json:"state"`
	TaskID         string     `json:"task_id,omitempty"`
	Mode           SyncMode   `json:"mode,omitempty"`
	RecordsApplied int        `json:"records_applied"`
	RecordsSeen    int        `json:"records_seen"`
	Pages          int        `json:"pages"`
	LastError      string     `json:"last_error,omitempty"`
	StartedAt      time.Time  `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	QueueDepth     int        `json:"queue_depth"`
}

// Duration returns how long the last task ran
func (s *SyncStatus) Duration() time.Duration {
	if s.FinishedAt == nil || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// String returns the JSON string representation of the sync status
func (s *SyncStatus) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal sync status: %v"}`, err)
	}
	return string(data)
}

// QuotaWindow is a point-in-time view of the shared provider budget
type QuotaWindow struct {
	WindowCount  int       `json:"window_count"`
	WindowLimit  int       `json:"window_limit"`
	WindowStart  time.Time `json:"window_start"`
	DayCount     int       `json:"day_count"`
	DayLimit     int       `json:"day_limit"`
	DayStart     time.Time `json:"day_start"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
}
