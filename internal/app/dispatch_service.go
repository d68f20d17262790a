// internal/app/dispatch_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/events"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DispatchService sends the first message of every lead of running campaigns,
// one lead per owner per cycle.
type DispatchService struct {
	engine
}

func NewDispatchService(deps EngineDeps, opts EngineOptions, logger *logrus.Entry) *DispatchService {
	return &DispatchService{engine: newEngine(deps, opts, logger.WithField("component", "dispatch"))}
}

// RunCycle performs one pass over the runnable campaigns.
func (s *DispatchService) RunCycle(ctx context.Context) error {
	log := s.logger.WithField("run_id", uuid.NewString())
	campaigns, err := s.Campaigns.ListRunnable(ctx, s.now())
	if err != nil {
		return fmt.Errorf("failed to list runnable campaigns: %w", err)
	}
	log.WithField("campaigns", len(campaigns)).Debug("Dispatch cycle started")

	served := make(map[int64]bool)
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if served[c.OwnerID] {
			s.Metrics.Skip(loopDispatch, skipAccountBusy)
			continue
		}
		clog := log.WithFields(logrus.Fields{"campaign_id": c.ID, "owner_id": c.OwnerID})
		attempted, err := s.dispatchCampaign(ctx, clog, c)
		if err != nil {
			clog.WithError(err).Error("Dispatch failed for campaign")
			continue
		}
		if attempted {
			served[c.OwnerID] = true
		}
	}
	return nil
}

// dispatchCampaign attempts at most one send for c and reports whether the
// owner's slot was spent on it.
func (s *DispatchService) dispatchCampaign(ctx context.Context, log *logrus.Entry, c *campaign.Campaign) (bool, error) {
	now := s.now()

	ready, err := s.gate.Ready(ctx, c.OwnerID, now)
	if err != nil {
		return false, err
	}
	if !ready {
		s.Metrics.Skip(loopDispatch, skipCooldown)
		return false, nil
	}

	inst, err := s.Selector.Resolve(ctx, c)
	if err != nil {
		if errors.Is(err, ErrNoConnectedInstance) {
			log.Debug("No connected instance, skipping")
			s.Metrics.Skip(loopDispatch, skipNoInstance)
			return false, nil
		}
		return false, err
	}

	reached, err := s.Quota.DailyQuotaReached(ctx, c.OwnerID, now)
	if err != nil {
		return false, err
	}
	if reached {
		log.Debug("Daily quota reached, skipping")
		s.Metrics.Skip(loopDispatch, skipDailyQuota)
		return false, nil
	}
	if capped, err := s.Quota.CampaignCapReached(ctx, c, now); err != nil {
		return false, err
	} else if capped {
		s.Metrics.Skip(loopDispatch, skipCampaignCap)
		return false, nil
	}

	sl, won, err := s.acquireSlot(ctx, c.OwnerID, now)
	if err != nil {
		return false, err
	}
	if !won {
		s.Metrics.Skip(loopDispatch, skipSlotLost)
		return false, nil
	}
	// The slot is held from here on; every path must release it.
	nextSend := now
	defer func() { s.releaseSlot(log, sl, nextSend) }()

	current, err := s.Campaigns.GetByID(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("failed to reload campaign: %w", err)
	}
	if current.Status != campaign.StatusRunning {
		log.WithField("status", current.Status).Info("Campaign no longer running, skipping")
		s.Metrics.Skip(loopDispatch, skipNotRunning)
		return false, nil
	}

	lead, err := s.Leads.ClaimNextPending(ctx, c.ID, now, s.opts.ClaimLease)
	if err != nil {
		if errors.Is(err, campaign.ErrNoPendingLead) {
			s.Metrics.Skip(loopDispatch, skipNoPending)
			return false, s.completeIfDrained(ctx, log, c)
		}
		return false, fmt.Errorf("failed to claim lead: %w", err)
	}
	log = log.WithFields(logrus.Fields{"lead_id": lead.ID, "instance": inst.Name})

	step, err := s.Campaigns.GetStep(ctx, c.ID, 1)
	if err != nil {
		if errors.Is(err, campaign.ErrStepNotFound) {
			s.markFailed(ctx, log, c, lead, now, "campaign has no first step")
			return false, nil
		}
		if rerr := s.Leads.ReleaseClaim(ctx, lead.ID); rerr != nil {
			log.WithError(rerr).Warn("Failed to release lead claim")
		}
		return false, fmt.Errorf("failed to load first step: %w", err)
	}

	var exists bool
	err = s.call(ctx, sl, func(ctx context.Context) error {
		var err error
		exists, err = s.Gateway.VerifyPhone(ctx, inst.Name, lead.Phone)
		return err
	})
	if errors.Is(err, errSlotExpired) {
		if rerr := s.Leads.ReleaseClaim(ctx, lead.ID); rerr != nil {
			log.WithError(rerr).Warn("Failed to release lead claim")
		}
		log.Warn("Send slot expired before verification, lead left pending")
		return false, nil
	}
	if err != nil {
		nextSend = s.now().Add(s.shortCooldown())
		s.markFailed(ctx, log, c, lead, s.now(), fmt.Sprintf("phone verification failed: %v", err))
		return true, nil
	}
	if !exists {
		nextSend = s.now().Add(s.shortCooldown())
		if err := s.Leads.MarkInvalid(ctx, lead.ID, s.now()); err != nil {
			return true, fmt.Errorf("failed to mark lead invalid: %w", err)
		}
		log.Info("Phone not on network, lead marked invalid")
		s.Metrics.Attempt(loopDispatch, resultInvalid)
		s.publish(ctx, log, events.Event{Type: events.LeadInvalid, OwnerID: c.OwnerID, CampaignID: c.ID, LeadID: lead.ID})
		return true, nil
	}

	msgID, sendErr := s.sendStep(ctx, log, sl, inst.Name, step, lead)
	sentAt := s.now()
	nextSend = sentAt.Add(s.sendCooldown())
	if err := s.Selector.Commit(ctx, c, inst); err != nil {
		log.WithError(err).Warn("Failed to advance rotation")
	}

	if sendErr != nil {
		s.markFailed(ctx, log, c, lead, sentAt, sendErr.Error())
		return true, nil
	}

	res := campaign.SendResult{SentAt: sentAt, ProviderMessageID: msgID, InstanceID: inst.ID}
	if c.CadenceEnabled {
		upd, err := s.cadenceHandOff(ctx, c.ID, sentAt)
		if err != nil {
			log.WithError(err).Error("Failed to plan cadence, lead will be recorded without follow-ups")
		} else {
			res.Cadence = upd
		}
	}
	if err := s.Leads.MarkSent(ctx, lead.ID, res); err != nil {
		if errors.Is(err, campaign.ErrLeadNotClaimable) {
			log.Warn("Lead changed while sending, send not recorded")
			return true, nil
		}
		return true, fmt.Errorf("failed to mark lead sent: %w", err)
	}
	log.WithField("next_send_at", nextSend).Info("Lead sent")
	s.Metrics.Attempt(loopDispatch, resultSent)
	s.publish(ctx, log, events.Event{Type: events.LeadSent, OwnerID: c.OwnerID, CampaignID: c.ID, LeadID: lead.ID, Step: 1, Detail: msgID})
	return true, nil
}

// cadenceHandOff plans the lead's follow-up after the first step went out.
func (s *DispatchService) cadenceHandOff(ctx context.Context, campaignID int64, sentAt time.Time) (*campaign.CadenceUpdate, error) {
	upd := &campaign.CadenceUpdate{LastSentAt: sql.NullTime{Time: sentAt, Valid: true}}
	next, err := s.Campaigns.GetStep(ctx, campaignID, 2)
	if err != nil {
		if errors.Is(err, campaign.ErrStepNotFound) {
			upd.Status = campaign.CadenceCompleted
			upd.CurrentStep = 1
			return upd, nil
		}
		return nil, err
	}
	upd.Status = campaign.CadenceSnoozed
	upd.CurrentStep = next.StepNumber
	upd.SnoozeUntil = sql.NullTime{Time: sentAt.Add(next.Delay()), Valid: true}
	return upd, nil
}

func (s *DispatchService) markFailed(ctx context.Context, log *logrus.Entry, c *campaign.Campaign, lead *campaign.Lead, at time.Time, reason string) {
	if err := s.Leads.MarkFailed(ctx, lead.ID, at, reason); err != nil {
		log.WithError(err).Error("Failed to mark lead failed")
		return
	}
	log.WithField("reason", reason).Warn("Lead failed")
	s.Metrics.Attempt(loopDispatch, resultFailed)
	s.publish(ctx, log, events.Event{Type: events.LeadFailed, OwnerID: c.OwnerID, CampaignID: c.ID, LeadID: lead.ID, Step: 1, Detail: reason})
}

func (s *DispatchService) completeIfDrained(ctx context.Context, log *logrus.Entry, c *campaign.Campaign) error {
	done, err := s.Campaigns.CompleteIfDrained(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to complete campaign: %w", err)
	}
	if done {
		log.Info("Campaign completed, no pending leads left")
		s.publish(ctx, log, events.Event{Type: events.CampaignCompleted, OwnerID: c.OwnerID, CampaignID: c.ID, Detail: c.Name})
	}
	return nil
}
