package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/Kamar-Folarin/strava-sync/internal/errors"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
)

// activityFields are the provider-owned columns. synced_at is written on
// every applied upsert but is not part of the change comparison.
var activityFields = []string{
	"name", "type", "sport_type", "start_date", "start_date_local", "timezone",
	"utc_offset", "distance", "moving_time", "elapsed_time", "total_elevation_gain",
	"average_speed", "max_speed", "average_heartrate", "max_heartrate",
	"average_watts", "max_watts", "weighted_average_watts", "average_cadence",
	"calories", "kudos_count", "trainer", "commute", "manual", "private",
	"gear_id", "device_name", "summary_polyline",
}

var upsertActivitySQL = buildUpsertSQL()

func buildUpsertSQL() string {
	cols := append([]string{"activity_id", "account_id"}, activityFields...)
	cols = append(cols, "synced_at")

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	sets := make([]string, 0, len(activityFields)+2)
	current := make([]string, 0, len(activityFields))
	excluded := make([]string, 0, len(activityFields))
	for _, f := range activityFields {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", f, f))
		current = append(current, "activities."+f)
		excluded = append(excluded, "EXCLUDED."+f)
	}
	sets = append(sets, "synced_at = EXCLUDED.synced_at", "updated_at = NOW()")

	return fmt.Sprintf(`
		INSERT INTO activities (%s)
		VALUES (%s)
		ON CONFLICT (account_id, activity_id) DO UPDATE SET
			%s
		WHERE (%s) IS DISTINCT FROM (%s)`,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ",\n\t\t\t"),
		strings.Join(current, ", "),
		strings.Join(excluded, ", "))
}

func activityArgs(a *models.Activity) []interface{} {
	return []interface{}{
		a.ID, a.AccountID,
		a.Name, a.Type, a.SportType, a.StartDate.UTC(), a.StartDateLocal.UTC(), a.Timezone,
		a.UTCOffset, a.Distance, a.MovingTime, a.ElapsedTime, a.TotalElevationGain,
		a.AverageSpeed, a.MaxSpeed, a.AverageHeartrate, a.MaxHeartrate,
		a.AverageWatts, a.MaxWatts, a.WeightedAvgWatts, a.AverageCadence,
		a.Calories, a.KudosCount, a.Trainer, a.Commute, a.Manual, a.Private,
		a.GearID, a.DeviceName, a.SummaryPolyline,
		a.SyncedAt.UTC(),
	}
}

const selectActivityColumns = `activity_id, account_id, name, type, sport_type, start_date,
	start_date_local, timezone, utc_offset, distance, moving_time, elapsed_time,
	total_elevation_gain, average_speed, max_speed, average_heartrate, max_heartrate,
	average_watts, max_watts, weighted_average_watts, average_cadence, calories,
	kudos_count, trainer, commute, manual, private, gear_id, device_name,
	summary_polyline, synced_at, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivity(row rowScanner) (*models.Activity, error) {
	var a models.Activity
	var createdAt time.Time
	if err := row.Scan(
		&a.ID, &a.AccountID, &a.Name, &a.Type, &a.SportType, &a.StartDate,
		&a.StartDateLocal, &a.Timezone, &a.UTCOffset, &a.Distance, &a.MovingTime, &a.ElapsedTime,
		&a.TotalElevationGain, &a.AverageSpeed, &a.MaxSpeed, &a.AverageHeartrate, &a.MaxHeartrate,
		&a.AverageWatts, &a.MaxWatts, &a.WeightedAvgWatts, &a.AverageCadence, &a.Calories,
		&a.KudosCount, &a.Trainer, &a.Commute, &a.Manual, &a.Private, &a.GearID, &a.DeviceName,
		&a.SummaryPolyline, &a.SyncedAt, &createdAt,
	); err != nil {
		return nil, err
	}
	a.StartDate = a.StartDate.UTC()
	a.StartDateLocal = a.StartDateLocal.UTC()
	a.SyncedAt = a.SyncedAt.UTC()
	createdAt = createdAt.UTC()
	a.CreatedAt = &createdAt
	return &a, nil
}

// UpsertActivity inserts or overwrites the record. An identical record leaves
// the row untouched and reports unchanged.
func (s *PostgresStore) UpsertActivity(ctx context.Context, activity *models.Activity) (models.UpsertResult, error) {
	if activity == nil || activity.ID <= 0 || activity.AccountID <= 0 {
		return "", apperrors.NewValidationError("activity requires id and account id", nil)
	}

	res, err := s.db.ExecContext(ctx, upsertActivitySQL, activityArgs(activity)...)
	if err != nil {
		return "", apperrors.NewPersistenceError(fmt.Sprintf("failed to upsert activity %d", activity.ID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", apperrors.NewPersistenceError("failed to read upsert result", err)
	}

	result := models.UpsertApplied
	if n == 0 {
		result = models.UpsertUnchanged
	}
	s.logger.WithFields(logrus.Fields{
		"account_id":  activity.AccountID,
		"activity_id": activity.ID,
		"result":      result,
	}).Debug("Upserted activity")
	return result, nil
}

// DeleteActivity removes the record if present
func (s *PostgresStore) DeleteActivity(ctx context.Context, accountID, activityID int64) (models.DeleteResult, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activities WHERE account_id = $1 AND activity_id = $2`, accountID, activityID)
	if err != nil {
		return "", apperrors.NewPersistenceError(fmt.Sprintf("failed to delete activity %d", activityID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", apperrors.NewPersistenceError("failed to read delete result", err)
	}
	if n == 0 {
		return models.DeleteAbsent, nil
	}
	return models.DeleteRemoved, nil
}

func (s *PostgresStore) ActivityExists(ctx context.Context, accountID, activityID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM activities WHERE account_id = $1 AND activity_id = $2)`,
		accountID, activityID).Scan(&exists)
	if err != nil {
		return false, apperrors.NewPersistenceError("failed to check activity", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetActivity(ctx context.Context, accountID, activityID int64) (*models.Activity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectActivityColumns+` FROM activities WHERE account_id = $1 AND activity_id = $2`,
		accountID, activityID)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewResourceNotFoundError("activity", fmt.Sprint(activityID))
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to get activity", err)
	}
	return a, nil
}

// dateFilter appends start_date bounds to a query under construction
func dateFilter(query string, args []interface{}, column string, since, until *time.Time) (string, []interface{}) {
	if since != nil {
		args = append(args, since.UTC())
		query += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if until != nil {
		args = append(args, until.UTC())
		query += fmt.Sprintf(" AND %s <= $%d", column, len(args))
	}
	return query, args
}

// ListActivities retrieves an account's activities with pagination and date filtering
func (s *PostgresStore) ListActivities(ctx context.Context, accountID int64, q models.ActivityQuery) ([]*models.Activity, int64, error) {
	where, args := dateFilter(` WHERE account_id = $1`, []interface{}{accountID}, "start_date", q.Since, q.Until)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.NewPersistenceError("failed to count activities", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, q.Offset)
	query := fmt.Sprintf(`SELECT %s FROM activities%s ORDER BY start_date DESC, activity_id DESC LIMIT $%d OFFSET $%d`,
		selectActivityColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.NewPersistenceError("failed to query activities", err)
	}
	defer rows.Close()

	var activities []*models.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, 0, apperrors.NewPersistenceError("failed to scan activity", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewPersistenceError("error iterating activities", err)
	}
	return activities, total, nil
}

// Summary aggregates activities per account over an optional date range
func (s *PostgresStore) Summary(ctx context.Context, filter models.SummaryFilter) ([]*models.ActivitySummary, error) {
	query := `
		SELECT
			a.account_id,
			COALESCE(acc.name, ''),
			COUNT(*),
			COALESCE(SUM(a.distance), 0),
			COALESCE(SUM(a.moving_time), 0),
			COALESCE(SUM(a.total_elevation_gain), 0),
			COALESCE(SUM(a.calories), 0),
			MIN(a.start_date),
			MAX(a.start_date)
		FROM activities a
		LEFT JOIN accounts acc ON acc.id = a.account_id
		WHERE 1 = 1`
	var args []interface{}
	if filter.AccountID != nil {
		args = append(args, *filter.AccountID)
		query += fmt.Sprintf(" AND a.account_id = $%d", len(args))
	}
	query, args = dateFilter(query, args, "a.start_date", filter.Since, filter.Until)
	query += ` GROUP BY a.account_id, acc.name ORDER BY a.account_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to query activity summary", err)
	}
	defer rows.Close()

	var summaries []*models.ActivitySummary
	for rows.Next() {
		var sum models.ActivitySummary
		var first, last time.Time
		if err := rows.Scan(
			&sum.AccountID,
			&sum.AccountName,
			&sum.Activities,
			&sum.DistanceMeters,
			&sum.MovingTimeSeconds,
			&sum.ElevationGainMeter,
			&sum.Calories,
			&first,
			&last,
		); err != nil {
			return nil, apperrors.NewPersistenceError("failed to scan activity summary", err)
		}
		first, last = first.UTC(), last.UTC()
		sum.FirstStart, sum.LastStart = &first, &last
		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("error iterating activity summary", err)
	}
	return summaries, nil
}
