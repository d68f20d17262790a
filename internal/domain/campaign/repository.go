// internal/domain/campaign/repository.go
package campaign

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrStepNotFound      = errors.New("campaign step not found")
	ErrLeadNotFound      = errors.New("lead not found")
	ErrNoPendingLead     = errors.New("no pending lead to claim")
	ErrLeadNotClaimable  = errors.New("lead is no longer pending")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Repository persists campaigns and their cadence steps.
type Repository interface {
	// Create inserts the campaign, its steps, its instance links and its leads
	// in a single transaction.
	Create(ctx context.Context, c *Campaign, steps []*Step, instanceIDs []int64, leads []*Lead) error
	GetByID(ctx context.Context, id int64) (*Campaign, error)
	// ListRunnable returns running campaigns whose scheduled start has elapsed.
	ListRunnable(ctx context.Context, now time.Time) ([]*Campaign, error)
	// TransitionStatus moves a campaign to `to` only if it is currently in one of `from`.
	TransitionStatus(ctx context.Context, id int64, from []Status, to Status) (bool, error)
	// CompleteIfDrained marks a running campaign completed when it has no pending leads left.
	CompleteIfDrained(ctx context.Context, id int64) (bool, error)
	GetStep(ctx context.Context, campaignID int64, stepNumber int) (*Step, error)
	ListSteps(ctx context.Context, campaignID int64) ([]*Step, error)
	SetRotationCursor(ctx context.Context, campaignID int64, instanceID int64) error
}

// LeadRepository persists per-lead dispatch and cadence state.
type LeadRepository interface {
	// ClaimNextPending atomically claims the oldest pending lead of a campaign.
	// Leads whose claim is younger than lease are skipped. Returns ErrNoPendingLead.
	ClaimNextPending(ctx context.Context, campaignID int64, now time.Time, lease time.Duration) (*Lead, error)
	// ReleaseClaim drops a claim without changing the lead status.
	ReleaseClaim(ctx context.Context, leadID int64) error
	// MarkSent, MarkFailed and MarkInvalid only succeed while the lead is pending;
	// otherwise they return ErrLeadNotClaimable.
	MarkSent(ctx context.Context, leadID int64, res SendResult) error
	MarkFailed(ctx context.Context, leadID int64, at time.Time, reason string) error
	MarkInvalid(ctx context.Context, leadID int64, at time.Time) error

	// CountOwnerSent counts leads of all the owner's campaigns sent in [from, to).
	CountOwnerSent(ctx context.Context, ownerID int64, from, to time.Time) (int, error)
	// CountCampaignSent counts leads of one campaign sent in [from, to).
	CountCampaignSent(ctx context.Context, campaignID int64, from, to time.Time) (int, error)

	// ListDueForCadence returns snoozed leads whose snooze has elapsed, in
	// cadence-enabled campaigns that are not paused. Owners are interleaved:
	// every owner's oldest lead comes before any owner's second oldest.
	ListDueForCadence(ctx context.Context, now time.Time, limit int) ([]*Lead, error)
	// AdvanceCadence writes upd only if the lead is still snoozed at expectedStep.
	AdvanceCadence(ctx context.Context, leadID int64, expectedStep int, upd CadenceUpdate) (bool, error)

	GetByID(ctx context.Context, id int64) (*Lead, error)
	List(ctx context.Context, campaignID int64, f LeadFilter) ([]*Lead, error)
	Stats(ctx context.Context, campaignID int64) (*Stats, error)
	// SetCadenceStatus is the operator override (kanban move).
	SetCadenceStatus(ctx context.Context, leadID int64, status CadenceStatus, notes string) error
	// Requeue moves a failed lead back to pending.
	Requeue(ctx context.Context, leadID int64) (bool, error)
}
