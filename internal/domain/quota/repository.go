package quota

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoActiveLicense      = errors.New("owner has no active license")
	ErrMonthlyQuotaExceeded = errors.New("monthly lead quota exceeded")
)

// Repository reads licenses and appends to the quota ledger.
type Repository interface {
	ActiveLicense(ctx context.Context, ownerID int64, now time.Time) (*License, error)
	// Reserve appends entry if the ledger sum for (owner, cycle) plus the entry
	// stays within limit. It is serialised per owner and returns
	// ErrMonthlyQuotaExceeded without writing otherwise.
	Reserve(ctx context.Context, entry *LedgerEntry, limit int) error
	CycleUsage(ctx context.Context, ownerID int64, cycleStart time.Time) (int, error)
}
