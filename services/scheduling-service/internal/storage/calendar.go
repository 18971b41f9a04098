package storage

import (
	"context"
	"time"

	"github.com/jmendozar/citadesk/libs/db"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

// HolidayRepository keeps the non-working-day calendar. It is written by the
// reference-data consumer and read on every availability computation.
type HolidayRepository struct {
	pool *db.Pool
}

func NewHolidayRepository(pool *db.Pool) *HolidayRepository {
	return &HolidayRepository{pool: pool}
}

func (r *HolidayRepository) ListFuture(ctx context.Context) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT holiday_date
		FROM holidays
		WHERE holiday_date >= CURRENT_DATE
		ORDER BY holiday_date ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return dates, nil
}

func (r *HolidayRepository) Upsert(ctx context.Context, h model.Holiday) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO holidays (holiday_date, description)
		VALUES ($1, $2)
		ON CONFLICT (holiday_date) DO UPDATE SET description = EXCLUDED.description
	`, h.Date, h.Description)
	return err
}

func (r *HolidayRepository) Delete(ctx context.Context, date time.Time) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM holidays WHERE holiday_date = $1`, date)
	return err
}

type BlackoutRepository struct {
	pool *db.Pool
}

func NewBlackoutRepository(pool *db.Pool) *BlackoutRepository {
	return &BlackoutRepository{pool: pool}
}

func (r *BlackoutRepository) List(ctx context.Context, officeID string, date time.Time) ([]model.BlackoutInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT office_id::text, blackout_date, start_minutes, end_minutes, COALESCE(description, '')
		FROM blackout_intervals
		WHERE office_id = $1 AND blackout_date = $2
		ORDER BY start_minutes ASC
	`, officeID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []model.BlackoutInterval
	for rows.Next() {
		var b model.BlackoutInterval
		if err := rows.Scan(
			&b.OfficeID,
			&b.Date,
			&b.StartMinutes,
			&b.EndMinutes,
			&b.Description,
		); err != nil {
			return nil, err
		}
		intervals = append(intervals, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return intervals, nil
}
