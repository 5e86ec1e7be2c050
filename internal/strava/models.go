package strava

import (
	"time"

	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// RawActivity is the activity shape returned by /athlete/activities and
// /activities/{id}. Fields absent from summary representations stay nil.
type RawActivity struct {
	ID                   int64      `json:"id"`
	Athlete              rawAthlete `json:"athlete"`
	Name                 string     `json:"name"`
	Type                 string     `json:"type"`
	SportType            string     `json:"sport_type"`
	StartDate            time.Time  `json:"start_date"`
	StartDateLocal       time.Time  `json:"start_date_local"`
	Timezone             string     `json:"timezone"`
	UTCOffset            float64    `json:"utc_offset"`
	Distance             float64    `json:"distance"`
	MovingTime           int        `json:"moving_time"`
	ElapsedTime          int        `json:"elapsed_time"`
	TotalElevationGain   float64    `json:"total_elevation_gain"`
	AverageSpeed         float64    `json:"average_speed"`
	MaxSpeed             float64    `json:"max_speed"`
	AverageHeartrate     *float64   `json:"average_heartrate"`
	MaxHeartrate         *float64   `json:"max_heartrate"`
	AverageWatts         *float64   `json:"average_watts"`
	MaxWatts             *float64   `json:"max_watts"`
	WeightedAverageWatts *float64   `json:"weighted_average_watts"`
	AverageCadence       *float64   `json:"average_cadence"`
	Calories             *float64   `json:"calories"`
	KudosCount           int        `json:"kudos_count"`
	Trainer              bool       `json:"trainer"`
	Commute              bool       `json:"commute"`
	Manual               bool       `json:"manual"`
	Private              bool       `json:"private"`
	GearID               string     `json:"gear_id"`
	DeviceName           string     `json:"device_name"`
	Map                  rawMap     `json:"map"`
}

type rawAthlete struct {
	ID int64 `json:"id"`
}

type rawMap struct {
	SummaryPolyline string `json:"summary_polyline"`
}

// Normalize converts the provider shape into the stored record for accountID
func (r *RawActivity) Normalize(accountID int64, syncedAt time.Time) *models.Activity {
	sport := r.SportType
	if sport == "" {
		sport = r.Type
	}
	return &models.Activity{
		ID:                 r.ID,
		AccountID:          accountID,
		Name:               r.Name,
		Type:               r.Type,
		SportType:          sport,
		StartDate:          r.StartDate.UTC(),
		StartDateLocal:     r.StartDateLocal,
		Timezone:           r.Timezone,
		UTCOffset:          int(r.UTCOffset),
		Distance:           r.Distance,
		MovingTime:         r.MovingTime,
		ElapsedTime:        r.ElapsedTime,
		TotalElevationGain: r.TotalElevationGain,
		AverageSpeed:       r.AverageSpeed,
		MaxSpeed:           r.MaxSpeed,
		AverageHeartrate:   r.AverageHeartrate,
		MaxHeartrate:       r.MaxHeartrate,
		AverageWatts:       r.AverageWatts,
		MaxWatts:           r.MaxWatts,
		WeightedAvgWatts:   r.WeightedAverageWatts,
		AverageCadence:     r.AverageCadence,
		Calories:           r.Calories,
		KudosCount:         r.KudosCount,
		Trainer:            r.Trainer,
		Commute:            r.Commute,
		Manual:             r.Manual,
		Private:            r.Private,
		GearID:             r.GearID,
		DeviceName:         r.DeviceName,
		SummaryPolyline:    r.Map.SummaryPolyline,
		SyncedAt:           syncedAt.UTC(),
	}
}

// ListOptions selects a page of the athlete's activities
type ListOptions struct {
	Page    int
	PerPage int
	After   *time.Time
	Before  *time.Time
}

// ActivityPage is one page of normalized activities
type ActivityPage struct {
	Page       int
	PerPage    int
	Activities []*models.Activity
}

// Empty reports whether the provider has no more results
func (p *ActivityPage) Empty() bool {
	return p == nil || len(p.Activities) == 0
}
