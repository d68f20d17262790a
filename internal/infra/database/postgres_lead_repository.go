package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"outreach_engine/internal/domain/campaign"
)

func leadColumns(prefix string) string {
	cols := []string{"id", "campaign_id", "phone", "name", "status", "error", "sent_at", "provider_message_id",
		"instance_id", "claimed_at", "cadence_status", "current_step", "snooze_until", "last_sent_at", "notes",
		"created_at", "updated_at"}
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

// manualGuard keeps operator-owned cadence states when the dispatch loop
// records a send.
const manualGuard = `cadence_status IN ('converted', 'lost', 'stopped', 'replied')`

type PostgresLeadRepository struct {
	db *sql.DB
}

func NewPostgresLeadRepository(db *sql.DB) *PostgresLeadRepository {
	return &PostgresLeadRepository{db: db}
}

func (r *PostgresLeadRepository) ClaimNextPending(ctx context.Context, campaignID int64, now time.Time, lease time.Duration) (*campaign.Lead, error) {
	query := `UPDATE campaign_leads SET claimed_at = $2, updated_at = NOW()
              WHERE id = (
                  SELECT id FROM campaign_leads
                  WHERE campaign_id = $1 AND status = 'pending'
                    AND (claimed_at IS NULL OR claimed_at < $3)
                  ORDER BY id
                  LIMIT 1
                  FOR UPDATE SKIP LOCKED
              )
              RETURNING ` + leadColumns("")
	l, err := scanLead(conn(ctx, r.db).QueryRowContext(ctx, query, campaignID, now, now.Add(-lease)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, campaign.ErrNoPendingLead
		}
		return nil, fmt.Errorf("error claiming lead: %w", err)
	}
	return l, nil
}

func (r *PostgresLeadRepository) ReleaseClaim(ctx context.Context, leadID int64) error {
	query := `UPDATE campaign_leads SET claimed_at = NULL, updated_at = NOW() WHERE id = $1 AND status = 'pending'`
	if _, err := conn(ctx, r.db).ExecContext(ctx, query, leadID); err != nil {
		return fmt.Errorf("error releasing lead claim: %w", err)
	}
	return nil
}

func (r *PostgresLeadRepository) MarkSent(ctx context.Context, leadID int64, res campaign.SendResult) error {
	msgID := sql.NullString{String: res.ProviderMessageID, Valid: res.ProviderMessageID != ""}
	instanceID := sql.NullInt64{Int64: res.InstanceID, Valid: res.InstanceID != 0}
	if res.Cadence == nil {
		query := `UPDATE campaign_leads
                  SET status = 'sent', sent_at = $2, provider_message_id = $3, instance_id = $4,
                      error = NULL, claimed_at = NULL, updated_at = NOW()
                  WHERE id = $1 AND status = 'pending'`
		result, err := conn(ctx, r.db).ExecContext(ctx, query, leadID, res.SentAt, msgID, instanceID)
		return r.checkPendingWrite(ctx, leadID, result, err)
	}
	query := `UPDATE campaign_leads
              SET status = 'sent', sent_at = $2, provider_message_id = $3, instance_id = $4,
                  error = NULL, claimed_at = NULL, updated_at = NOW(),
                  cadence_status = CASE WHEN ` + manualGuard + ` THEN cadence_status ELSE $5 END,
                  current_step = CASE WHEN ` + manualGuard + ` THEN current_step ELSE $6 END,
                  snooze_until = CASE WHEN ` + manualGuard + ` THEN snooze_until ELSE $7 END,
                  last_sent_at = $8
              WHERE id = $1 AND status = 'pending'`
	upd := res.Cadence
	result, err := conn(ctx, r.db).ExecContext(ctx, query, leadID, res.SentAt, msgID, instanceID,
		string(upd.Status), upd.CurrentStep, upd.SnoozeUntil, upd.LastSentAt)
	return r.checkPendingWrite(ctx, leadID, result, err)
}

func (r *PostgresLeadRepository) MarkFailed(ctx context.Context, leadID int64, at time.Time, reason string) error {
	query := `UPDATE campaign_leads SET status = 'failed', error = $3, claimed_at = NULL, updated_at = $2
              WHERE id = $1 AND status = 'pending'`
	result, err := conn(ctx, r.db).ExecContext(ctx, query, leadID, at, reason)
	return r.checkPendingWrite(ctx, leadID, result, err)
}

func (r *PostgresLeadRepository) MarkInvalid(ctx context.Context, leadID int64, at time.Time) error {
	query := `UPDATE campaign_leads SET status = 'invalid', error = NULL, claimed_at = NULL, updated_at = $2
              WHERE id = $1 AND status = 'pending'`
	result, err := conn(ctx, r.db).ExecContext(ctx, query, leadID, at)
	return r.checkPendingWrite(ctx, leadID, result, err)
}

func (r *PostgresLeadRepository) checkPendingWrite(ctx context.Context, leadID int64, result sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("error updating lead status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, leadID); err != nil {
		return err
	}
	return campaign.ErrLeadNotClaimable
}

func (r *PostgresLeadRepository) CountOwnerSent(ctx context.Context, ownerID int64, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM campaign_leads l
              JOIN campaigns c ON c.id = l.campaign_id
              WHERE c.owner_id = $1 AND l.status = 'sent' AND l.sent_at >= $2 AND l.sent_at < $3`
	var n int
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, ownerID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting owner sends: %w", err)
	}
	return n, nil
}

func (r *PostgresLeadRepository) CountCampaignSent(ctx context.Context, campaignID int64, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM campaign_leads
              WHERE campaign_id = $1 AND status = 'sent' AND sent_at >= $2 AND sent_at < $3`
	var n int
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, campaignID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting campaign sends: %w", err)
	}
	return n, nil
}

func (r *PostgresLeadRepository) ListDueForCadence(ctx context.Context, now time.Time, limit int) ([]*campaign.Lead, error) {
	// Owners are interleaved by rank so one owner's backlog cannot fill the batch.
	query := `SELECT ` + leadColumns("d.") + `
              FROM (
                  SELECT l.*, ROW_NUMBER() OVER (PARTITION BY c.owner_id ORDER BY l.snooze_until, l.id) AS owner_rank
                  FROM campaign_leads l
                  JOIN campaigns c ON c.id = l.campaign_id
                  WHERE l.cadence_status = 'snoozed' AND l.snooze_until <= $1
                    AND c.cadence_enabled AND c.status <> 'paused'
              ) d
              ORDER BY d.owner_rank, d.snooze_until, d.id
              LIMIT $2`
	return r.queryLeads(ctx, query, now, limit)
}

func (r *PostgresLeadRepository) AdvanceCadence(ctx context.Context, leadID int64, expectedStep int, upd campaign.CadenceUpdate) (bool, error) {
	query := `UPDATE campaign_leads
              SET cadence_status = $3, current_step = $4, snooze_until = $5, last_sent_at = $6, updated_at = NOW()
              WHERE id = $1 AND cadence_status = 'snoozed' AND current_step = $2 AND $4 >= current_step`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, leadID, expectedStep, string(upd.Status), upd.CurrentStep, upd.SnoozeUntil, upd.LastSentAt)
	if err != nil {
		return false, fmt.Errorf("error advancing cadence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresLeadRepository) GetByID(ctx context.Context, id int64) (*campaign.Lead, error) {
	query := `SELECT ` + leadColumns("") + ` FROM campaign_leads WHERE id = $1`
	l, err := scanLead(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, campaign.ErrLeadNotFound
		}
		return nil, fmt.Errorf("error getting lead by ID: %w", err)
	}
	return l, nil
}

func (r *PostgresLeadRepository) List(ctx context.Context, campaignID int64, f campaign.LeadFilter) ([]*campaign.Lead, error) {
	where := []string{"campaign_id = $1"}
	args := []interface{}{campaignID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CadenceStatus != "" {
		args = append(args, string(f.CadenceStatus))
		where = append(where, fmt.Sprintf("cadence_status = $%d", len(args)))
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM campaign_leads WHERE %s ORDER BY id LIMIT $%d OFFSET $%d`,
		leadColumns(""), strings.Join(where, " AND "), len(args)-1, len(args))
	return r.queryLeads(ctx, query, args...)
}

func (r *PostgresLeadRepository) Stats(ctx context.Context, campaignID int64) (*campaign.Stats, error) {
	query := `SELECT status, cadence_status, COUNT(*) FROM campaign_leads
              WHERE campaign_id = $1 GROUP BY status, cadence_status`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("error reading campaign stats: %w", err)
	}
	defer rows.Close()

	stats := &campaign.Stats{
		CampaignID: campaignID,
		ByStatus:   make(map[campaign.LeadStatus]int),
		ByCadence:  make(map[campaign.CadenceStatus]int),
	}
	for rows.Next() {
		var status campaign.LeadStatus
		var cadence campaign.CadenceStatus
		var n int
		if err := rows.Scan(&status, &cadence, &n); err != nil {
			return nil, fmt.Errorf("error scanning stats row: %w", err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.ByCadence[cadence] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stats rows: %w", err)
	}
	return stats, nil
}

func (r *PostgresLeadRepository) SetCadenceStatus(ctx context.Context, leadID int64, status campaign.CadenceStatus, notes string) error {
	query := `UPDATE campaign_leads
              SET cadence_status = $2::text, notes = $3,
                  snooze_until = CASE WHEN $2::text = 'snoozed' THEN COALESCE(snooze_until, NOW()) ELSE snooze_until END,
                  updated_at = NOW()
              WHERE id = $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, leadID, string(status), notes)
	if err != nil {
		return fmt.Errorf("error setting cadence status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrLeadNotFound
	}
	return nil
}

func (r *PostgresLeadRepository) Requeue(ctx context.Context, leadID int64) (bool, error) {
	query := `UPDATE campaign_leads SET status = 'pending', error = NULL, claimed_at = NULL, updated_at = NOW()
              WHERE id = $1 AND status = 'failed'`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, leadID)
	if err != nil {
		return false, fmt.Errorf("error requeueing lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, leadID); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (r *PostgresLeadRepository) queryLeads(ctx context.Context, query string, args ...interface{}) ([]*campaign.Lead, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying leads: %w", err)
	}
	defer rows.Close()

	var leads []*campaign.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning lead row: %w", err)
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lead rows: %w", err)
	}
	return leads, nil
}

func scanLead(row rowScanner) (*campaign.Lead, error) {
	l := &campaign.Lead{}
	err := row.Scan(&l.ID, &l.CampaignID, &l.Phone, &l.Name, &l.Status, &l.Error, &l.SentAt, &l.ProviderMessageID,
		&l.InstanceID, &l.ClaimedAt, &l.CadenceStatus, &l.CurrentStep, &l.SnoozeUntil, &l.LastSentAt, &l.Notes,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}
