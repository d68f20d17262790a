package app

import (
	"context"
	"errors"
	"fmt"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/instance"
)

var ErrNoConnectedInstance = errors.New("no connected instance available")

// InstanceSelector decides which messaging account sends the next message of
// a campaign.
type InstanceSelector struct {
	instances instance.Repository
	campaigns campaign.Repository
}

func NewInstanceSelector(ir instance.Repository, cr campaign.Repository) *InstanceSelector {
	return &InstanceSelector{instances: ir, campaigns: cr}
}

// Resolve picks the instance for the campaign's next send without persisting
// anything. Returns ErrNoConnectedInstance when nothing can send.
func (s *InstanceSelector) Resolve(ctx context.Context, c *campaign.Campaign) (*instance.Instance, error) {
	linked, err := s.instances.ListByCampaign(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances of campaign %d: %w", c.ID, err)
	}
	if len(linked) == 0 {
		return s.ownerFallback(ctx, c.OwnerID)
	}

	connected := make([]*instance.Instance, 0, len(linked))
	for _, inst := range linked {
		if inst.Connected() {
			connected = append(connected, inst)
		}
	}
	if len(connected) == 0 {
		return nil, ErrNoConnectedInstance
	}

	if c.RotationMode != campaign.RotationRoundRobin {
		return latestConnected(connected), nil
	}
	if len(connected) == 1 || !c.RotationCursor.Valid {
		return connected[0], nil
	}
	// linked is ordered by id: take the first connected one past the cursor,
	// wrapping to the lowest id.
	for _, inst := range connected {
		if inst.ID > c.RotationCursor.Int64 {
			return inst, nil
		}
	}
	return connected[0], nil
}

// Commit records that inst was used for a send attempt so round-robin moves on.
func (s *InstanceSelector) Commit(ctx context.Context, c *campaign.Campaign, inst *instance.Instance) error {
	if c.RotationMode != campaign.RotationRoundRobin {
		return nil
	}
	if err := s.campaigns.SetRotationCursor(ctx, c.ID, inst.ID); err != nil {
		return fmt.Errorf("failed to persist rotation cursor for campaign %d: %w", c.ID, err)
	}
	c.RotationCursor.Int64 = inst.ID
	c.RotationCursor.Valid = true
	return nil
}

func (s *InstanceSelector) ownerFallback(ctx context.Context, ownerID int64) (*instance.Instance, error) {
	inst, err := s.instances.LatestConnectedForOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, instance.ErrInstanceNotFound) {
			return nil, ErrNoConnectedInstance
		}
		return nil, fmt.Errorf("failed to load instance for owner %d: %w", ownerID, err)
	}
	return inst, nil
}

func latestConnected(list []*instance.Instance) *instance.Instance {
	best := list[0]
	for _, inst := range list[1:] {
		if inst.ConnectedAt.Time.After(best.ConnectedAt.Time) {
			best = inst
		}
	}
	return best
}
