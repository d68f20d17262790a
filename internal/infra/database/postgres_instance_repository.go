package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"outreach_engine/internal/domain/instance"
)

type PostgresInstanceRepository struct {
	db *sql.DB
}

func NewPostgresInstanceRepository(db *sql.DB) *PostgresInstanceRepository {
	return &PostgresInstanceRepository{db: db}
}

func (r *PostgresInstanceRepository) ListByCampaign(ctx context.Context, campaignID int64) ([]*instance.Instance, error) {
	query := `SELECT i.id, i.owner_id, i.name, i.status, i.connected_at, i.updated_at
              FROM instances i
              JOIN campaign_instances ci ON ci.instance_id = i.id
              WHERE ci.campaign_id = $1
              ORDER BY i.id`
	return r.query(ctx, query, campaignID)
}

func (r *PostgresInstanceRepository) LatestConnectedForOwner(ctx context.Context, ownerID int64) (*instance.Instance, error) {
	query := `SELECT id, owner_id, name, status, connected_at, updated_at
              FROM instances
              WHERE owner_id = $1 AND status = 'connected'
              ORDER BY connected_at DESC NULLS LAST, id DESC
              LIMIT 1`
	inst := &instance.Instance{}
	err := conn(ctx, r.db).QueryRowContext(ctx, query, ownerID).
		Scan(&inst.ID, &inst.OwnerID, &inst.Name, &inst.Status, &inst.ConnectedAt, &inst.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, instance.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("error getting latest connected instance: %w", err)
	}
	return inst, nil
}

func (r *PostgresInstanceRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*instance.Instance, error) {
	query := `SELECT id, owner_id, name, status, connected_at, updated_at FROM instances WHERE owner_id = $1 ORDER BY id`
	return r.query(ctx, query, ownerID)
}

func (r *PostgresInstanceRepository) ListAll(ctx context.Context) ([]*instance.Instance, error) {
	query := `SELECT id, owner_id, name, status, connected_at, updated_at FROM instances ORDER BY id`
	return r.query(ctx, query)
}

// UpdateStatus stamps connected_at whenever an instance (re)connects.
func (r *PostgresInstanceRepository) UpdateStatus(ctx context.Context, id int64, status instance.Status) error {
	query := `UPDATE instances
              SET status = $2::text,
                  connected_at = CASE WHEN $2::text = 'connected' THEN NOW() ELSE connected_at END,
                  updated_at = NOW()
              WHERE id = $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("error updating instance status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return instance.ErrInstanceNotFound
	}
	return nil
}

func (r *PostgresInstanceRepository) query(ctx context.Context, query string, args ...interface{}) ([]*instance.Instance, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing instances: %w", err)
	}
	defer rows.Close()

	var list []*instance.Instance
	for rows.Next() {
		inst := &instance.Instance{}
		if err := rows.Scan(&inst.ID, &inst.OwnerID, &inst.Name, &inst.Status, &inst.ConnectedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning instance row: %w", err)
		}
		list = append(list, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instance rows: %w", err)
	}
	return list, nil
}
