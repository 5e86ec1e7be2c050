package models

import "time"

// Activity is one provider activity owned by a tracked account.
// (ID, AccountID) is the storage key; provider IDs are not unique across accounts.
type Activity struct {
	ID                 int64      `json:"id"`
	AccountID          int64      `json:"account_id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	SportType          string     `json:"sport_type"`
	StartDate          time.Time  `json:"start_date"`
	StartDateLocal     time.Time  `json:"start_date_local"`
	Timezone           string     `json:"timezone,omitempty"`
	UTCOffset          int        `json:"utc_offset"`
	Distance           float64    `json:"distance"`
	MovingTime         int        `json:"moving_time"`
	ElapsedTime        int        `json:"elapsed_time"`
	TotalElevationGain float64    `json:"total_elevation_gain"`
	AverageSpeed       float64    `json:"average_speed"`
	MaxSpeed           float64    `json:"max_speed"`
	AverageHeartrate   *float64   `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64   `json:"max_heartrate,omitempty"`
	AverageWatts       *float64   `json:"average_watts,omitempty"`
	MaxWatts           *float64   `json:"max_watts,omitempty"`
	WeightedAvgWatts   *float64   `json:"weighted_average_watts,omitempty"`
	AverageCadence     *float64   `json:"average_cadence,omitempty"`
	Calories           *float64   `json:"calories,omitempty"`
	KudosCount         int        `json:"kudos_count"`
	Trainer            bool       `json:"trainer"`
	Commute            bool       `json:"commute"`
	Manual             bool       `json:"manual"`
	Private            bool       `json:"private"`
	GearID             string     `json:"gear_id,omitempty"`
	DeviceName         string     `json:"device_name,omitempty"`
	SummaryPolyline    string     `json:"summary_polyline,omitempty"`
	SyncedAt           time.Time  `json:"synced_at"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

// UpsertResult reports whether an upsert changed stored state
type UpsertResult string

const (
	UpsertApplied   UpsertResult = "applied"
	UpsertUnchanged UpsertResult = "unchanged"
)

// DeleteResult reports whether a delete removed a row
type DeleteResult string

const (
	DeleteRemoved DeleteResult = "removed"
	DeleteAbsent  DeleteResult = "absent"
)

// ActivityQuery filters stored activities for one account
type ActivityQuery struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}
