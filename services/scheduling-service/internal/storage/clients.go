package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jmendozar/citadesk/libs/db"
	"github.com/jmendozar/citadesk/services/scheduling-service/internal/model"
)

type ClientRepository struct {
	pool *db.Pool
}

func NewClientRepository(pool *db.Pool) *ClientRepository {
	return &ClientRepository{pool: pool}
}

func (r *ClientRepository) Client(ctx context.Context, id string) (model.Client, bool, error) {
	var c model.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, COALESCE(pending_quota, 0), active
		FROM clients
		WHERE id = $1
	`, id).Scan(
		&c.ID,
		&c.Name,
		&c.PendingQuota,
		&c.Active,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Client{}, false, nil
	}
	if err != nil {
		return model.Client{}, false, err
	}
	return c, true, nil
}
