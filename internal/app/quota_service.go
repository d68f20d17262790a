package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/quota"

	"github.com/sirupsen/logrus"
)

// QuotaService applies license tiers to sends and lead consumption.
type QuotaService struct {
	repo     quota.Repository
	leads    campaign.LeadRepository
	location *time.Location
	logger   *logrus.Entry
}

func NewQuotaService(qr quota.Repository, lr campaign.LeadRepository, loc *time.Location, logger *logrus.Entry) *QuotaService {
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaService{repo: qr, leads: lr, location: loc, logger: logger}
}

// DailyLimit returns the owner's per-day send limit. Owners without an active
// license get the lowest tier.
func (s *QuotaService) DailyLimit(ctx context.Context, ownerID int64, now time.Time) (int, error) {
	lic, err := s.repo.ActiveLicense(ctx, ownerID, now)
	if err != nil {
		if errors.Is(err, quota.ErrNoActiveLicense) {
			return quota.TierBasic.DailyLimit(), nil
		}
		return 0, fmt.Errorf("failed to load license for owner %d: %w", ownerID, err)
	}
	return lic.Tier.DailyLimit(), nil
}

// DailyUsage counts the owner's sent leads in the calendar day containing now.
func (s *QuotaService) DailyUsage(ctx context.Context, ownerID int64, now time.Time) (int, error) {
	from, to := s.dayBounds(now)
	n, err := s.leads.CountOwnerSent(ctx, ownerID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to count sends for owner %d: %w", ownerID, err)
	}
	return n, nil
}

// DailyQuotaReached reports whether the owner has no sends left today.
func (s *QuotaService) DailyQuotaReached(ctx context.Context, ownerID int64, now time.Time) (bool, error) {
	limit, err := s.DailyLimit(ctx, ownerID, now)
	if err != nil {
		return false, err
	}
	used, err := s.DailyUsage(ctx, ownerID, now)
	if err != nil {
		return false, err
	}
	return used >= limit, nil
}

// CampaignCapReached applies the campaign's own daily limit, if any.
func (s *QuotaService) CampaignCapReached(ctx context.Context, c *campaign.Campaign, now time.Time) (bool, error) {
	if c.DailyLimit <= 0 {
		return false, nil
	}
	from, to := s.dayBounds(now)
	n, err := s.leads.CountCampaignSent(ctx, c.ID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to count sends for campaign %d: %w", c.ID, err)
	}
	return n >= c.DailyLimit, nil
}

// Reserve consumes n leads of the owner's monthly cap for the current billing
// cycle. The whole request is rejected when it does not fit.
func (s *QuotaService) Reserve(ctx context.Context, ownerID int64, n int, source string, now time.Time) error {
	lic, err := s.repo.ActiveLicense(ctx, ownerID, now)
	if err != nil {
		if errors.Is(err, quota.ErrNoActiveLicense) {
			return err
		}
		return fmt.Errorf("failed to load license for owner %d: %w", ownerID, err)
	}
	entry := &quota.LedgerEntry{
		OwnerID:       ownerID,
		CycleStart:    lic.CycleStart(now),
		LeadsConsumed: n,
		Source:        source,
	}
	if err := s.repo.Reserve(ctx, entry, lic.Tier.MonthlyCap()); err != nil {
		if errors.Is(err, quota.ErrMonthlyQuotaExceeded) {
			s.logger.WithFields(logrus.Fields{"owner_id": ownerID, "requested": n, "tier": lic.Tier}).Warn("Monthly quota exceeded")
			return err
		}
		return fmt.Errorf("failed to reserve quota for owner %d: %w", ownerID, err)
	}
	return nil
}

// MonthlyUsage returns the leads consumed in the current cycle and the tier cap.
func (s *QuotaService) MonthlyUsage(ctx context.Context, ownerID int64, now time.Time) (used, limit int, err error) {
	lic, err := s.repo.ActiveLicense(ctx, ownerID, now)
	if err != nil {
		return 0, 0, err
	}
	used, err = s.repo.CycleUsage(ctx, ownerID, lic.CycleStart(now))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cycle usage for owner %d: %w", ownerID, err)
	}
	return used, lic.Tier.MonthlyCap(), nil
}

func (s *QuotaService) dayBounds(now time.Time) (time.Time, time.Time) {
	local := now.In(s.location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	return start, start.AddDate(0, 0, 1)
}
