// internal/domain/campaign/campaign.go
package campaign

import (
	"database/sql"
	"time"
)

// Campaign is an owner-scoped outbound messaging run against a set of leads.
// Corresponds to the 'campaigns' table.
type Campaign struct {
	ID             int64
	OwnerID        int64 // account that owns the campaign and its cooldown
	Name           string
	Status         Status
	RotationMode   RotationMode
	DailyLimit     int          // 0 means only the plan limit applies
	ScheduledAt    sql.NullTime // dispatch starts once this has elapsed
	CadenceEnabled bool
	RotationCursor sql.NullInt64 // last instance used by round_robin
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Startable reports whether the scheduled start of c has elapsed at now.
func (c *Campaign) Startable(now time.Time) bool {
	return !c.ScheduledAt.Valid || !c.ScheduledAt.Time.After(now)
}

// Step is one stage of a campaign cadence.
// Corresponds to the 'campaign_steps' table, unique on (campaign_id, step_number).
type Step struct {
	ID         int64
	CampaignID int64
	StepNumber int      // 1-based
	Messages   []string // text variants, one is picked per send
	MediaPath  string
	MediaType  MediaType
	DelayDays  int // wait after the previous step before this one fires
}

// HasMedia reports whether the step carries an attachment.
func (s *Step) HasMedia() bool {
	return s.MediaPath != "" && s.MediaType != MediaNone
}

// Stats aggregates lead counts of a campaign.
type Stats struct {
	CampaignID int64                 `json:"campaign_id"`
	Total      int                   `json:"total"`
	ByStatus   map[LeadStatus]int    `json:"by_status"`
	ByCadence  map[CadenceStatus]int `json:"by_cadence"`
}

// Delay is the wait between the previous step and this one.
func (s *Step) Delay() time.Duration {
	return time.Duration(s.DelayDays) * 24 * time.Hour
}
