package app

import (
	"context"
	"errors"
	"fmt"

	"outreach_engine/internal/domain/campaign"

	"github.com/sirupsen/logrus"
)

var ErrUnknownCadenceStatus = errors.New("unknown cadence status")

// OperatorService backs the operator surfaces (HTTP API and Telegram bot).
type OperatorService struct {
	campaigns campaign.Repository
	leads     campaign.LeadRepository
	logger    *logrus.Entry
}

func NewOperatorService(cr campaign.Repository, lr campaign.LeadRepository, logger *logrus.Entry) *OperatorService {
	return &OperatorService{
		campaigns: cr,
		leads:     lr,
		logger:    logger.WithField("component", "operator"),
	}
}

// PauseCampaign stops both loops from sending for the campaign.
func (s *OperatorService) PauseCampaign(ctx context.Context, id int64) (*campaign.Campaign, error) {
	return s.transition(ctx, id, []campaign.Status{campaign.StatusPending, campaign.StatusRunning}, campaign.StatusPaused)
}

// ResumeCampaign starts or resumes dispatch for a pending or paused campaign.
func (s *OperatorService) ResumeCampaign(ctx context.Context, id int64) (*campaign.Campaign, error) {
	return s.transition(ctx, id, []campaign.Status{campaign.StatusPending, campaign.StatusPaused}, campaign.StatusRunning)
}

func (s *OperatorService) transition(ctx context.Context, id int64, from []campaign.Status, to campaign.Status) (*campaign.Campaign, error) {
	ok, err := s.campaigns.TransitionStatus(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to move campaign %d to %s: %w", id, to, err)
	}
	c, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return c, fmt.Errorf("campaign %d is %s: %w", id, c.Status, campaign.ErrInvalidTransition)
	}
	s.logger.WithFields(logrus.Fields{"campaign_id": id, "status": to}).Info("Campaign status changed by operator")
	return c, nil
}

// CampaignStats returns lead counts by dispatch and cadence status.
func (s *OperatorService) CampaignStats(ctx context.Context, id int64) (*campaign.Stats, error) {
	if _, err := s.campaigns.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.leads.Stats(ctx, id)
}

// ListLeads pages through a campaign's leads.
func (s *OperatorService) ListLeads(ctx context.Context, campaignID int64, f campaign.LeadFilter) ([]*campaign.Lead, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.leads.List(ctx, campaignID, f)
}

func (s *OperatorService) GetLead(ctx context.Context, id int64) (*campaign.Lead, error) {
	return s.leads.GetByID(ctx, id)
}

// MoveLead is the kanban override. Manual states can be reached from any
// state but completed; the cadence loop never touches them afterwards.
func (s *OperatorService) MoveLead(ctx context.Context, leadID int64, to campaign.CadenceStatus, notes string) (*campaign.Lead, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%q: %w", to, ErrUnknownCadenceStatus)
	}
	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if to.IsManual() && lead.CadenceStatus == campaign.CadenceCompleted {
		return lead, fmt.Errorf("lead %d already completed its cadence: %w", leadID, campaign.ErrInvalidTransition)
	}
	if notes == "" {
		notes = lead.Notes
	}
	if err := s.leads.SetCadenceStatus(ctx, leadID, to, notes); err != nil {
		return nil, fmt.Errorf("failed to move lead %d: %w", leadID, err)
	}
	s.logger.WithFields(logrus.Fields{"lead_id": leadID, "from": lead.CadenceStatus, "to": to}).Info("Lead moved by operator")
	return s.leads.GetByID(ctx, leadID)
}

// RequeueLead gives a failed lead another dispatch attempt.
func (s *OperatorService) RequeueLead(ctx context.Context, leadID int64) (*campaign.Lead, error) {
	ok, err := s.leads.Requeue(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to requeue lead %d: %w", leadID, err)
	}
	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return lead, fmt.Errorf("lead %d is %s: %w", leadID, lead.Status, campaign.ErrInvalidTransition)
	}
	return lead, nil
}
