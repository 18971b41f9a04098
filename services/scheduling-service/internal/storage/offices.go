package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jmendozar/citadesk/libs/db"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

type OfficeRepository struct {
	pool *db.Pool
}

func NewOfficeRepository(pool *db.Pool) *OfficeRepository {
	return &OfficeRepository{pool: pool}
}

func (r *OfficeRepository) Office(ctx context.Context, id string) (model.Office, bool, error) {
	var o model.Office
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, code, name, open_minutes, close_minutes, capacity, schedulable, active
		FROM offices
		WHERE id = $1
	`, id).Scan(
		&o.ID,
		&o.Code,
		&o.Name,
		&o.OpenMinutes,
		&o.CloseMinutes,
		&o.Capacity,
		&o.Schedulable,
		&o.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Office{}, false, nil
	}
	if err != nil {
		return model.Office{}, false, err
	}
	return o, true, nil
}

func (r *OfficeRepository) ListSchedulable(ctx context.Context) ([]model.Office, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, code, name, open_minutes, close_minutes, capacity, schedulable, active
		FROM offices
		WHERE active AND schedulable
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offices []model.Office
	for rows.Next() {
		var o model.Office
		if err := rows.Scan(
			&o.ID,
			&o.Code,
			&o.Name,
			&o.OpenMinutes,
			&o.CloseMinutes,
			&o.Capacity,
			&o.Schedulable,
			&o.Active,
		); err != nil {
			return nil, err
		}
		offices = append(offices, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return offices, nil
}
