package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncMode selects what a SyncTask does
type SyncMode string

const (
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
	SyncSingle      SyncMode = "single"
	SyncDelete      SyncMode = "delete"
	SyncInvalidate  SyncMode = "invalidate"
)

// Valid reports whether m is a known mode
func (m SyncMode) Valid() bool {
	switch m {
	case SyncFull, SyncIncremental, SyncSingle, SyncDelete, SyncInvalidate:
		return true
	}
	return false
}

// TaskSource records what created a task
type TaskSource string

const (
	SourceScheduler TaskSource = "scheduler"
	SourceWebhook   TaskSource = "webhook"
	SourceAPI       TaskSource = "api"
)

// SyncTask is one unit of work for an account's worker
type SyncTask struct {
	ID         string     `json:"id"`
	AccountID  int64      `json:"account_id"`
	Mode       SyncMode   `json:"mode"`
	ObjectID   int64      `json:"object_id,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Source     TaskSource `json:"source"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// NewSyncTask creates a task with a fresh ID
func NewSyncTask(accountID int64, mode SyncMode, source TaskSource) *SyncTask {
	return &SyncTask{
		ID:         uuid.NewString(),
		AccountID:  accountID,
		Mode:       mode,
		Source:     source,
		EnqueuedAt: time.Now().UTC(),
	}
}

// WithObject sets the activity the task targets
func (t *SyncTask) WithObject(id int64) *SyncTask {
	t.ObjectID = id
	return t
}

// WithLimit caps the number of records a paginated task ingests
func (t *SyncTask) WithLimit(limit int) *SyncTask {
	t.Limit = limit
	return t
}
