package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jmendozar/citadesk/libs/db"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

type ServiceRepository struct {
	pool *db.Pool
}

func NewServiceRepository(pool *db.Pool) *ServiceRepository {
	return &ServiceRepository{pool: pool}
}

func (r *ServiceRepository) Service(ctx context.Context, id string) (model.Service, bool, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, code, name, duration_minutes, open_minutes, close_minutes, active
		FROM services
		WHERE id = $1
	`, id).Scan(
		&s.ID,
		&s.Code,
		&s.Name,
		&s.DurationMinutes,
		&s.OpenMinutes,
		&s.CloseMinutes,
		&s.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, false, nil
	}
	if err != nil {
		return model.Service{}, false, err
	}
	return s, true, nil
}

func (r *ServiceRepository) ListByOffice(ctx context.Context, officeID string) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id::text, s.code, s.name, s.duration_minutes, s.open_minutes, s.close_minutes, s.active
		FROM services s
		JOIN office_services os ON os.service_id = s.id
		WHERE os.office_id = $1 AND s.active
		ORDER BY s.name ASC
	`, officeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&s.DurationMinutes,
			&s.OpenMinutes,
			&s.CloseMinutes,
			&s.Active,
		); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return services, nil
}

// Enabled reports whether the office offers the service.
func (r *ServiceRepository) Enabled(ctx context.Context, officeID, serviceID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM office_services WHERE office_id = $1 AND service_id = $2
		)
	`, officeID, serviceID).Scan(&exists)
	return exists, err
}
