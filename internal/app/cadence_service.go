// internal/app/cadence_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/events"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CadenceService sends follow-up steps to leads whose snooze has elapsed.
type CadenceService struct {
	engine
}

func NewCadenceService(deps EngineDeps, opts EngineOptions, logger *logrus.Entry) *CadenceService {
	return &CadenceService{engine: newEngine(deps, opts, logger.WithField("component", "cadence"))}
}

// RunCycle advances due leads, at most one send per owner.
func (s *CadenceService) RunCycle(ctx context.Context) error {
	log := s.logger.WithField("run_id", uuid.NewString())
	due, err := s.Leads.ListDueForCadence(ctx, s.now(), s.opts.CadenceBatch)
	if err != nil {
		return fmt.Errorf("failed to list leads due for cadence: %w", err)
	}
	if len(due) == 0 {
		return nil
	}
	log.WithField("due", len(due)).Debug("Cadence cycle started")

	campaigns := make(map[int64]*campaign.Campaign)
	served := make(map[int64]bool)
	for _, lead := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c, ok := campaigns[lead.CampaignID]
		if !ok {
			c, err = s.Campaigns.GetByID(ctx, lead.CampaignID)
			if err != nil {
				log.WithError(err).WithField("campaign_id", lead.CampaignID).Error("Failed to load campaign")
				continue
			}
			campaigns[c.ID] = c
		}
		if c.Status == campaign.StatusPaused || !c.CadenceEnabled {
			continue
		}
		if served[c.OwnerID] {
			s.Metrics.Skip(loopCadence, skipAccountBusy)
			continue
		}
		llog := log.WithFields(logrus.Fields{"campaign_id": c.ID, "owner_id": c.OwnerID, "lead_id": lead.ID, "step": lead.CurrentStep})
		attempted, err := s.advanceLead(ctx, llog, c, lead)
		if err != nil {
			llog.WithError(err).Error("Cadence advance failed")
			continue
		}
		if attempted {
			served[c.OwnerID] = true
		}
	}
	return nil
}

// advanceLead sends the lead's current step and reports whether the owner's
// slot was spent on it.
func (s *CadenceService) advanceLead(ctx context.Context, log *logrus.Entry, c *campaign.Campaign, lead *campaign.Lead) (bool, error) {
	step, err := s.Campaigns.GetStep(ctx, c.ID, lead.CurrentStep)
	if err != nil {
		if errors.Is(err, campaign.ErrStepNotFound) {
			return false, s.finish(ctx, log, c, lead, campaign.CadenceUpdate{
				Status:      campaign.CadenceCompleted,
				CurrentStep: lead.CurrentStep,
				LastSentAt:  lead.LastSentAt,
			})
		}
		return false, fmt.Errorf("failed to load step %d: %w", lead.CurrentStep, err)
	}

	now := s.now()
	ready, err := s.gate.Ready(ctx, c.OwnerID, now)
	if err != nil {
		return false, err
	}
	if !ready {
		s.Metrics.Skip(loopCadence, skipCooldown)
		return false, nil
	}

	inst, err := s.Selector.Resolve(ctx, c)
	if err != nil {
		if errors.Is(err, ErrNoConnectedInstance) {
			s.Metrics.Skip(loopCadence, skipNoInstance)
			return false, nil
		}
		return false, err
	}

	sl, won, err := s.acquireSlot(ctx, c.OwnerID, now)
	if err != nil {
		return false, err
	}
	if !won {
		s.Metrics.Skip(loopCadence, skipSlotLost)
		return false, nil
	}
	nextSend := now
	defer func() { s.releaseSlot(log, sl, nextSend) }()

	// An operator may have paused the campaign or moved the lead meanwhile.
	fresh, err := s.Leads.GetByID(ctx, lead.ID)
	if err != nil {
		return false, fmt.Errorf("failed to reload lead: %w", err)
	}
	if fresh.CadenceStatus != campaign.CadenceSnoozed || fresh.CurrentStep != lead.CurrentStep ||
		!fresh.SnoozeUntil.Valid || fresh.SnoozeUntil.Time.After(now) {
		s.Metrics.Skip(loopCadence, skipLeadChanged)
		return false, nil
	}
	current, err := s.Campaigns.GetByID(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("failed to reload campaign: %w", err)
	}
	if current.Status == campaign.StatusPaused {
		c.Status = current.Status
		s.Metrics.Skip(loopCadence, skipNotRunning)
		return false, nil
	}

	_, sendErr := s.sendStep(ctx, log.WithField("instance", inst.Name), sl, inst.Name, step, fresh)
	sentAt := s.now()
	nextSend = sentAt.Add(s.sendCooldown())
	if err := s.Selector.Commit(ctx, c, inst); err != nil {
		log.WithError(err).Warn("Failed to advance rotation")
	}
	if sendErr != nil {
		log.WithError(sendErr).Warn("Follow-up send failed, will retry next poll")
		s.Metrics.Attempt(loopCadence, resultFailed)
		return true, nil
	}

	upd := campaign.CadenceUpdate{LastSentAt: sql.NullTime{Time: sentAt, Valid: true}}
	next, err := s.Campaigns.GetStep(ctx, c.ID, lead.CurrentStep+1)
	switch {
	case errors.Is(err, campaign.ErrStepNotFound):
		upd.Status = campaign.CadenceCompleted
		upd.CurrentStep = lead.CurrentStep
	case err != nil:
		// The step went out; keep the lead snoozed on the next step so it is not resent.
		log.WithError(err).Error("Failed to load next step after send")
		upd.Status = campaign.CadenceSnoozed
		upd.CurrentStep = lead.CurrentStep + 1
		upd.SnoozeUntil = sql.NullTime{Time: sentAt, Valid: true}
	default:
		upd.Status = campaign.CadenceSnoozed
		upd.CurrentStep = next.StepNumber
		upd.SnoozeUntil = sql.NullTime{Time: sentAt.Add(next.Delay()), Valid: true}
	}

	if upd.Status == campaign.CadenceCompleted {
		return true, s.finish(ctx, log, c, lead, upd)
	}
	ok, err := s.Leads.AdvanceCadence(ctx, lead.ID, lead.CurrentStep, upd)
	if err != nil {
		return true, fmt.Errorf("failed to advance cadence: %w", err)
	}
	if !ok {
		log.Warn("Lead changed while sending, cadence not advanced")
		return true, nil
	}
	log.WithFields(logrus.Fields{"next_step": upd.CurrentStep, "snooze_until": upd.SnoozeUntil.Time}).Info("Follow-up sent")
	s.Metrics.Attempt(loopCadence, resultAdvanced)
	s.publish(ctx, log, events.Event{Type: events.LeadCadenceAdvanced, OwnerID: c.OwnerID, CampaignID: c.ID, LeadID: lead.ID, Step: lead.CurrentStep})
	return true, nil
}

func (s *CadenceService) finish(ctx context.Context, log *logrus.Entry, c *campaign.Campaign, lead *campaign.Lead, upd campaign.CadenceUpdate) error {
	ok, err := s.Leads.AdvanceCadence(ctx, lead.ID, lead.CurrentStep, upd)
	if err != nil {
		return fmt.Errorf("failed to complete cadence: %w", err)
	}
	if !ok {
		return nil
	}
	log.Info("Cadence completed")
	s.Metrics.Attempt(loopCadence, resultComplete)
	s.publish(ctx, log, events.Event{Type: events.LeadCadenceCompleted, OwnerID: c.OwnerID, CampaignID: c.ID, LeadID: lead.ID, Step: lead.CurrentStep})
	return nil
}
