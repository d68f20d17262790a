package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/instance"

	"github.com/sirupsen/logrus"
)

var ErrInvalidCampaign = errors.New("invalid campaign")

// Transactor runs fn inside one database transaction carried by ctx.
type Transactor interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}

// StepInput describes one cadence step of a new campaign.
type StepInput struct {
	Messages  []string           `json:"messages"`
	MediaPath string             `json:"media_path,omitempty"`
	MediaType campaign.MediaType `json:"media_type,omitempty"`
	DelayDays int                `json:"delay_days"`
}

// LeadInput is one contact of a new campaign.
type LeadInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// BuildRequest is everything needed to create a campaign.
type BuildRequest struct {
	OwnerID        int64                 `json:"owner_id"`
	Name           string                `json:"name"`
	RotationMode   campaign.RotationMode `json:"rotation_mode"`
	DailyLimit     int                   `json:"daily_limit"`
	ScheduledAt    *time.Time            `json:"scheduled_at,omitempty"`
	CadenceEnabled bool                  `json:"cadence_enabled"`
	Steps          []StepInput           `json:"steps"`
	InstanceIDs    []int64               `json:"instance_ids"`
	Leads          []LeadInput           `json:"leads"`
	Start          bool                  `json:"start"`
}

// CampaignBuilder validates and persists new campaigns, consuming monthly quota.
type CampaignBuilder struct {
	campaigns campaign.Repository
	instances instance.Repository
	quota     *QuotaService
	tx        Transactor
	now       func() time.Time
	logger    *logrus.Entry
}

func NewCampaignBuilder(cr campaign.Repository, ir instance.Repository, qs *QuotaService, tx Transactor, logger *logrus.Entry) *CampaignBuilder {
	return &CampaignBuilder{
		campaigns: cr,
		instances: ir,
		quota:     qs,
		tx:        tx,
		now:       time.Now,
		logger:    logger.WithField("component", "builder"),
	}
}

// Build creates the campaign with its steps, instance links and leads, and
// returns it with the number of leads stored after dropping empty and
// duplicate phones. The quota reservation and the inserts commit together or
// not at all.
func (b *CampaignBuilder) Build(ctx context.Context, req BuildRequest) (*campaign.Campaign, int, error) {
	steps, err := buildSteps(req)
	if err != nil {
		return nil, 0, err
	}
	leads := buildLeads(req.Leads)
	if len(leads) == 0 {
		return nil, 0, fmt.Errorf("%w: no valid leads", ErrInvalidCampaign)
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, 0, fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	}
	mode := req.RotationMode
	if mode == "" {
		mode = campaign.RotationSingle
	}
	if mode != campaign.RotationSingle && mode != campaign.RotationRoundRobin {
		return nil, 0, fmt.Errorf("%w: unknown rotation mode %q", ErrInvalidCampaign, mode)
	}
	if req.DailyLimit < 0 {
		return nil, 0, fmt.Errorf("%w: negative daily limit", ErrInvalidCampaign)
	}
	if err := b.checkInstances(ctx, req.OwnerID, req.InstanceIDs); err != nil {
		return nil, 0, err
	}

	now := b.now()
	c := &campaign.Campaign{
		OwnerID:        req.OwnerID,
		Name:           strings.TrimSpace(req.Name),
		Status:         campaign.StatusPending,
		RotationMode:   mode,
		DailyLimit:     req.DailyLimit,
		CadenceEnabled: req.CadenceEnabled,
	}
	if req.Start {
		c.Status = campaign.StatusRunning
	}
	if req.ScheduledAt != nil {
		c.ScheduledAt.Time = *req.ScheduledAt
		c.ScheduledAt.Valid = true
	}

	err = b.tx.Transact(ctx, func(ctx context.Context) error {
		if err := b.quota.Reserve(ctx, req.OwnerID, len(leads), "campaign:"+c.Name, now); err != nil {
			return err
		}
		return b.campaigns.Create(ctx, c, steps, req.InstanceIDs, leads)
	})
	if err != nil {
		return nil, 0, err
	}
	b.logger.WithFields(logrus.Fields{"campaign_id": c.ID, "owner_id": c.OwnerID, "leads": len(leads), "steps": len(steps)}).Info("Campaign created")
	return c, len(leads), nil
}

// checkInstances rejects instances the owner does not have; sending through
// them would bypass that account's cooldown clock.
func (b *CampaignBuilder) checkInstances(ctx context.Context, ownerID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	owned, err := b.instances.ListByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to list owner instances: %w", err)
	}
	mine := make(map[int64]bool, len(owned))
	for _, inst := range owned {
		mine[inst.ID] = true
	}
	for _, id := range ids {
		if !mine[id] {
			return fmt.Errorf("%w: instance %d does not belong to owner %d", ErrInvalidCampaign, id, ownerID)
		}
	}
	return nil
}

func buildSteps(req BuildRequest) ([]*campaign.Step, error) {
	if len(req.Steps) == 0 {
		return nil, fmt.Errorf("%w: at least one step is required", ErrInvalidCampaign)
	}
	if !req.CadenceEnabled && len(req.Steps) > 1 {
		return nil, fmt.Errorf("%w: follow-up steps need cadence enabled", ErrInvalidCampaign)
	}
	steps := make([]*campaign.Step, 0, len(req.Steps))
	for i, in := range req.Steps {
		var variants []string
		for _, m := range in.Messages {
			if strings.TrimSpace(m) != "" {
				variants = append(variants, m)
			}
		}
		if len(variants) == 0 {
			return nil, fmt.Errorf("%w: step %d has no message", ErrInvalidCampaign, i+1)
		}
		if in.DelayDays < 0 {
			return nil, fmt.Errorf("%w: step %d has a negative delay", ErrInvalidCampaign, i+1)
		}
		switch in.MediaType {
		case campaign.MediaNone, campaign.MediaImage, campaign.MediaVideo, campaign.MediaDocument, campaign.MediaAudio:
		default:
			return nil, fmt.Errorf("%w: step %d has unknown media type %q", ErrInvalidCampaign, i+1, in.MediaType)
		}
		steps = append(steps, &campaign.Step{
			StepNumber: i + 1,
			Messages:   variants,
			MediaPath:  in.MediaPath,
			MediaType:  in.MediaType,
			DelayDays:  in.DelayDays,
		})
	}
	return steps, nil
}

// buildLeads normalises phones to digits and drops empty and duplicate numbers.
func buildLeads(in []LeadInput) []*campaign.Lead {
	seen := make(map[string]bool, len(in))
	leads := make([]*campaign.Lead, 0, len(in))
	for _, l := range in {
		phone := NormalizePhone(l.Phone)
		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true
		leads = append(leads, &campaign.Lead{
			Phone:         phone,
			Name:          strings.TrimSpace(l.Name),
			Status:        campaign.LeadStatusPending,
			CadenceStatus: campaign.CadencePending,
			CurrentStep:   1,
		})
	}
	return leads
}

// NormalizePhone keeps only the digits of a phone number.
func NormalizePhone(raw string) string {
	var sb strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
