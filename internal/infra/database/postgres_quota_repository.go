package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outreach_engine/internal/domain/quota"
)

type PostgresQuotaRepository struct {
	db *sql.DB
}

func NewPostgresQuotaRepository(db *sql.DB) *PostgresQuotaRepository {
	return &PostgresQuotaRepository{db: db}
}

func (r *PostgresQuotaRepository) ActiveLicense(ctx context.Context, ownerID int64, now time.Time) (*quota.License, error) {
	query := `SELECT id, owner_id, tier, activated_at, expires_at
              FROM licenses
              WHERE owner_id = $1 AND status = 'active' AND activated_at <= $2
                AND (expires_at IS NULL OR expires_at > $2)
              ORDER BY activated_at DESC
              LIMIT 1`
	l := &quota.License{Active: true}
	err := conn(ctx, r.db).QueryRowContext(ctx, query, ownerID, now).
		Scan(&l.ID, &l.OwnerID, &l.Tier, &l.ActivatedAt, &l.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, quota.ErrNoActiveLicense
		}
		return nil, fmt.Errorf("error getting active license: %w", err)
	}
	return l, nil
}

// Reserve takes a per-owner advisory lock so concurrent reservations of the
// same owner see each other's ledger rows.
func (r *PostgresQuotaRepository) Reserve(ctx context.Context, entry *quota.LedgerEntry, limit int) error {
	return withTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, entry.OwnerID); err != nil {
			return fmt.Errorf("error locking owner quota: %w", err)
		}
		used, err := cycleUsage(ctx, tx, entry.OwnerID, entry.CycleStart)
		if err != nil {
			return err
		}
		if used+entry.LeadsConsumed > limit {
			return quota.ErrMonthlyQuotaExceeded
		}
		query := `INSERT INTO quota_ledger (owner_id, cycle_start, leads_consumed, source)
                  VALUES ($1, $2, $3, $4)
                  RETURNING id, created_at`
		err = tx.QueryRowContext(ctx, query, entry.OwnerID, entry.CycleStart, entry.LeadsConsumed, entry.Source).
			Scan(&entry.ID, &entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("error appending quota ledger entry: %w", err)
		}
		return nil
	})
}

func (r *PostgresQuotaRepository) CycleUsage(ctx context.Context, ownerID int64, cycleStart time.Time) (int, error) {
	return cycleUsage(ctx, conn(ctx, r.db), ownerID, cycleStart)
}

func cycleUsage(ctx context.Context, q querier, ownerID int64, cycleStart time.Time) (int, error) {
	query := `SELECT COALESCE(SUM(leads_consumed), 0) FROM quota_ledger
              WHERE owner_id = $1 AND cycle_start >= $2 AND cycle_start < $3`
	var used int
	if err := q.QueryRowContext(ctx, query, ownerID, cycleStart, cycleStart.Add(quota.CycleLength)).Scan(&used); err != nil {
		return 0, fmt.Errorf("error summing quota ledger: %w", err)
	}
	return used, nil
}
