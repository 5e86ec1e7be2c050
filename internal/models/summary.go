package models

import "time"

// SummaryFilter narrows an activity summary to one account and/or a date range.
// Since and Until compare against the activity start date and are inclusive.
type SummaryFilter struct {
	AccountID *int64
	Since     *time.Time
	Until     *time.Time
}

// ActivitySummary aggregates stored activities for one account
type ActivitySummary struct {
	AccountID          int64      `json:"account_id"`
	AccountName        string     `json:"account_name,omitempty"`
	Activities         int        `json:"activities"`
	DistanceMeters     float64    `json:"distance_meters"`
	MovingTimeSeconds  int64      `json:"moving_time_seconds"`
	ElevationGainMeter float64    `json:"elevation_gain_meters"`
	Calories           float64    `json:"calories"`
	FirstStart         *time.Time `json:"first_start,omitempty"`
	LastStart          *time.Time `json:"last_start,omitempty"`
}

// DistanceKm returns the total distance rounded to one decimal
func (s ActivitySummary) DistanceKm() float64 {
	return float64(int64(s.DistanceMeters/100+0.5)) / 10
}
