package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresCooldownRepository keeps one "earliest next send" row per owner.
type PostgresCooldownRepository struct {
	db *sql.DB
}

func NewPostgresCooldownRepository(db *sql.DB) *PostgresCooldownRepository {
	return &PostgresCooldownRepository{db: db}
}

func (r *PostgresCooldownRepository) NextSendAt(ctx context.Context, ownerID int64) (time.Time, error) {
	var next time.Time
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT next_send_at FROM account_cooldowns WHERE owner_id = $1`, ownerID).Scan(&next)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("error reading cooldown: %w", err)
	}
	return next, nil
}

// TryAcquire is a single-statement compare-and-set; concurrent callers
// serialise on the row and at most one sees next_send_at <= now.
func (r *PostgresCooldownRepository) TryAcquire(ctx context.Context, ownerID int64, now, holdUntil time.Time) (bool, error) {
	query := `INSERT INTO account_cooldowns (owner_id, next_send_at, updated_at)
              VALUES ($1, $3, NOW())
              ON CONFLICT (owner_id) DO UPDATE
                  SET next_send_at = EXCLUDED.next_send_at, updated_at = NOW()
                  WHERE account_cooldowns.next_send_at <= $2
              RETURNING owner_id`
	var id int64
	err := conn(ctx, r.db).QueryRowContext(ctx, query, ownerID, now, holdUntil).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("error acquiring cooldown slot: %w", err)
	}
	return true, nil
}

func (r *PostgresCooldownRepository) Release(ctx context.Context, ownerID int64, held, next time.Time) (bool, error) {
	query := `UPDATE account_cooldowns SET next_send_at = $3, updated_at = NOW()
              WHERE owner_id = $1 AND next_send_at = $2`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, ownerID, held, next)
	if err != nil {
		return false, fmt.Errorf("error releasing cooldown slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n == 1, nil
}
