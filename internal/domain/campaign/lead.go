// internal/domain/campaign/lead.go
package campaign

import (
	"database/sql"
	"time"
)

// Lead is a single contact targeted by a campaign.
// Corresponds to the 'campaign_leads' table.
type Lead struct {
	ID                int64
	CampaignID        int64
	Phone             string
	Name              string
	Status            LeadStatus
	Error             sql.NullString
	SentAt            sql.NullTime
	ProviderMessageID sql.NullString
	InstanceID        sql.NullInt64
	ClaimedAt         sql.NullTime // set while a dispatcher holds the lead

	// Cadence columns, meaningful only when the campaign enables cadence.
	CadenceStatus CadenceStatus
	CurrentStep   int // step the lead receives next, starts at 1
	SnoozeUntil   sql.NullTime
	LastSentAt    sql.NullTime
	Notes         string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CadenceUpdate is the cadence part of a lead written after a send.
type CadenceUpdate struct {
	Status      CadenceStatus
	CurrentStep int
	SnoozeUntil sql.NullTime
	LastSentAt  sql.NullTime
}

// SendResult is what the dispatch loop records on a successful one-shot send.
type SendResult struct {
	SentAt            time.Time
	ProviderMessageID string
	InstanceID        int64
	Cadence           *CadenceUpdate // nil when cadence is disabled
}

// LeadFilter narrows lead listings for the operator surface.
type LeadFilter struct {
	Status        LeadStatus
	CadenceStatus CadenceStatus
	Limit         int
	Offset        int
}
