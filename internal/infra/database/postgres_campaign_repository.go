package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outreach_engine/internal/domain/campaign"

	"github.com/lib/pq"
)

const campaignColumns = `id, owner_id, name, status, rotation_mode, daily_limit, scheduled_at,
	cadence_enabled, rotation_cursor, created_at, updated_at`

type PostgresCampaignRepository struct {
	db *sql.DB
}

func NewPostgresCampaignRepository(db *sql.DB) *PostgresCampaignRepository {
	return &PostgresCampaignRepository{db: db}
}

func (r *PostgresCampaignRepository) Create(ctx context.Context, c *campaign.Campaign, steps []*campaign.Step, instanceIDs []int64, leads []*campaign.Lead) error {
	return withTx(ctx, r.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `INSERT INTO campaigns (owner_id, name, status, rotation_mode, daily_limit, scheduled_at, cadence_enabled)
                  VALUES ($1, $2, $3, $4, $5, $6, $7)
                  RETURNING id, created_at, updated_at`
		err := tx.QueryRowContext(ctx, query, c.OwnerID, c.Name, c.Status, c.RotationMode, c.DailyLimit, c.ScheduledAt, c.CadenceEnabled).
			Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("error creating campaign: %w", err)
		}

		stepQuery := `INSERT INTO campaign_steps (campaign_id, step_number, messages, media_path, media_type, delay_days)
                      VALUES ($1, $2, $3, $4, $5, $6)
                      RETURNING id`
		for _, s := range steps {
			s.CampaignID = c.ID
			err := tx.QueryRowContext(ctx, stepQuery, c.ID, s.StepNumber, pq.Array(s.Messages), s.MediaPath, s.MediaType, s.DelayDays).Scan(&s.ID)
			if err != nil {
				return fmt.Errorf("error creating step %d: %w", s.StepNumber, err)
			}
		}

		if len(instanceIDs) > 0 {
			linkQuery := `INSERT INTO campaign_instances (campaign_id, instance_id)
                          SELECT $1, unnest($2::bigint[])
                          ON CONFLICT DO NOTHING`
			if _, err := tx.ExecContext(ctx, linkQuery, c.ID, pq.Array(instanceIDs)); err != nil {
				return fmt.Errorf("error linking instances: %w", err)
			}
		}

		return copyLeads(ctx, tx, c.ID, leads)
	})
}

// copyLeads bulk-inserts leads with COPY; values never reach the SQL text.
func copyLeads(ctx context.Context, tx *sql.Tx, campaignID int64, leads []*campaign.Lead) error {
	if len(leads) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("campaign_leads",
		"campaign_id", "phone", "name", "status", "cadence_status", "current_step"))
	if err != nil {
		return fmt.Errorf("failed to prepare lead copy: %w", err)
	}
	for _, l := range leads {
		l.CampaignID = campaignID
		if l.Status == "" {
			l.Status = campaign.LeadStatusPending
		}
		if l.CadenceStatus == "" {
			l.CadenceStatus = campaign.CadencePending
		}
		if l.CurrentStep < 1 {
			l.CurrentStep = 1
		}
		if _, err := stmt.ExecContext(ctx, campaignID, l.Phone, l.Name, string(l.Status), string(l.CadenceStatus), l.CurrentStep); err != nil {
			stmt.Close()
			return fmt.Errorf("error copying lead %s: %w", l.Phone, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("error flushing lead copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("error closing lead copy: %w", err)
	}
	return nil
}

func (r *PostgresCampaignRepository) GetByID(ctx context.Context, id int64) (*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	c, err := scanCampaign(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, campaign.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("error getting campaign by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresCampaignRepository) ListRunnable(ctx context.Context, now time.Time) ([]*campaign.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
              WHERE status = 'running' AND (scheduled_at IS NULL OR scheduled_at <= $1)
              ORDER BY id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("error listing runnable campaigns: %w", err)
	}
	defer rows.Close()

	var list []*campaign.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning campaign row: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign rows: %w", err)
	}
	return list, nil
}

func (r *PostgresCampaignRepository) TransitionStatus(ctx context.Context, id int64, from []campaign.Status, to campaign.Status) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	query := `UPDATE campaigns SET status = $1, updated_at = NOW()
              WHERE id = $2 AND status = ANY($3)`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, to, id, pq.Array(allowed))
	if err != nil {
		return false, fmt.Errorf("error updating campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (r *PostgresCampaignRepository) CompleteIfDrained(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE campaigns SET status = 'completed', updated_at = NOW()
              WHERE id = $1 AND status = 'running'
                AND NOT EXISTS (SELECT 1 FROM campaign_leads WHERE campaign_id = $1 AND status = 'pending')`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("error completing campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresCampaignRepository) GetStep(ctx context.Context, campaignID int64, stepNumber int) (*campaign.Step, error) {
	query := `SELECT id, campaign_id, step_number, messages, media_path, media_type, delay_days
              FROM campaign_steps WHERE campaign_id = $1 AND step_number = $2`
	s, err := scanStep(conn(ctx, r.db).QueryRowContext(ctx, query, campaignID, stepNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, campaign.ErrStepNotFound
		}
		return nil, fmt.Errorf("error getting campaign step: %w", err)
	}
	return s, nil
}

func (r *PostgresCampaignRepository) ListSteps(ctx context.Context, campaignID int64) ([]*campaign.Step, error) {
	query := `SELECT id, campaign_id, step_number, messages, media_path, media_type, delay_days
              FROM campaign_steps WHERE campaign_id = $1 ORDER BY step_number`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("error listing campaign steps: %w", err)
	}
	defer rows.Close()

	var steps []*campaign.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning step row: %w", err)
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step rows: %w", err)
	}
	return steps, nil
}

func (r *PostgresCampaignRepository) SetRotationCursor(ctx context.Context, campaignID int64, instanceID int64) error {
	query := `UPDATE campaigns SET rotation_cursor = $2, updated_at = NOW() WHERE id = $1`
	res, err := conn(ctx, r.db).ExecContext(ctx, query, campaignID, instanceID)
	if err != nil {
		return fmt.Errorf("error updating rotation cursor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrCampaignNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*campaign.Campaign, error) {
	c := &campaign.Campaign{}
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Status, &c.RotationMode, &c.DailyLimit, &c.ScheduledAt,
		&c.CadenceEnabled, &c.RotationCursor, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func scanStep(row rowScanner) (*campaign.Step, error) {
	s := &campaign.Step{}
	var messages pq.StringArray
	if err := row.Scan(&s.ID, &s.CampaignID, &s.StepNumber, &messages, &s.MediaPath, &s.MediaType, &s.DelayDays); err != nil {
		return nil, err
	}
	s.Messages = []string(messages)
	return s, nil
}
