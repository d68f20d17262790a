package events

import (
	"context"
	"time"
)

// Type names a domain event.
type Type string

const (
	LeadSent             Type = "lead.sent"
	LeadFailed           Type = "lead.failed"
	LeadInvalid          Type = "lead.invalid"
	LeadCadenceAdvanced  Type = "lead.cadence_advanced"
	LeadCadenceCompleted Type = "lead.cadence_completed"
	CampaignCompleted    Type = "campaign.completed"
)

// Event is published after a state change has been committed.
type Event struct {
	Type       Type      `json:"type"`
	OwnerID    int64     `json:"owner_id"`
	CampaignID int64     `json:"campaign_id"`
	LeadID     int64     `json:"lead_id,omitempty"`
	Step       int       `json:"step,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events to interested parties. Publishing is best-effort:
// implementations must not block the loops for long.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
