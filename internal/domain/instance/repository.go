package instance

import (
	"context"
	"errors"
)

var ErrInstanceNotFound = errors.New("instance not found")

// Repository reads instances and their links to campaigns.
type Repository interface {
	// ListByCampaign returns the instances linked to a campaign ordered by id.
	ListByCampaign(ctx context.Context, campaignID int64) ([]*Instance, error)
	// LatestConnectedForOwner returns the owner's most recently connected instance.
	LatestConnectedForOwner(ctx context.Context, ownerID int64) (*Instance, error)
	// ListByOwner returns every instance of the owner ordered by id.
	ListByOwner(ctx context.Context, ownerID int64) ([]*Instance, error)
	ListAll(ctx context.Context) ([]*Instance, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}
