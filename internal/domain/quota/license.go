// internal/domain/quota/license.go
package quota

import (
	"database/sql"
	"time"
)

// Tier is a license plan level.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierPro     Tier = "pro"
	TierPremium Tier = "premium"
)

// DailyLimit is the number of one-shot sends per calendar day the tier allows.
func (t Tier) DailyLimit() int {
	switch t {
	case TierPremium:
		return 30
	case TierPro:
		return 20
	default:
		return 10
	}
}

// MonthlyCap is the number of leads the tier may consume per billing cycle.
func (t Tier) MonthlyCap() int {
	switch t {
	case TierPremium:
		return 900
	case TierPro:
		return 600
	default:
		return 300
	}
}

// License is an owner's subscription as issued by the billing layer.
type License struct {
	ID          int64
	OwnerID     int64
	Tier        Tier
	Active      bool
	ActivatedAt time.Time // subscription anniversary
	ExpiresAt   sql.NullTime
}

// CycleLength is the fixed billing window.
const CycleLength = 30 * 24 * time.Hour

// CycleStart returns the start of the 30-day billing window containing now,
// anchored at the license activation time.
func (l *License) CycleStart(now time.Time) time.Time {
	if now.Before(l.ActivatedAt) {
		return l.ActivatedAt
	}
	elapsed := now.Sub(l.ActivatedAt)
	cycles := elapsed / CycleLength
	return l.ActivatedAt.Add(cycles * CycleLength)
}

// LedgerEntry records leads consumed by an owner within a billing cycle.
// Rows are never updated or deleted.
type LedgerEntry struct {
	ID            int64
	OwnerID       int64
	CycleStart    time.Time
	LeadsConsumed int
	Source        string // e.g. "campaign:42"
	CreatedAt     time.Time
}
