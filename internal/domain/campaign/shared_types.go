// internal/domain/campaign/shared_types.go
package campaign

// Status is the lifecycle status of a campaign.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// RotationMode decides how a campaign picks its sending instance.
type RotationMode string

const (
	RotationSingle     RotationMode = "single"
	RotationRoundRobin RotationMode = "round_robin"
)

// LeadStatus is the one-shot send status of a lead. Every value except
// LeadStatusPending is terminal for the dispatch loop.
type LeadStatus string

const (
	LeadStatusPending LeadStatus = "pending"
	LeadStatusSent    LeadStatus = "sent"
	LeadStatusFailed  LeadStatus = "failed"
	LeadStatusInvalid LeadStatus = "invalid"
)

// CadenceStatus tracks a lead through the follow-up sequence.
type CadenceStatus string

const (
	CadencePending   CadenceStatus = "pending"
	CadenceActive    CadenceStatus = "active"
	CadenceSnoozed   CadenceStatus = "snoozed"
	CadenceCompleted CadenceStatus = "completed"

	// Operator-only states. The cadence loop never moves a lead out of them.
	CadenceConverted CadenceStatus = "converted"
	CadenceLost      CadenceStatus = "lost"
	CadenceStopped   CadenceStatus = "stopped"
	CadenceReplied   CadenceStatus = "replied"
)

// IsManual reports whether s can only be reached by an operator action.
func (s CadenceStatus) IsManual() bool {
	switch s {
	case CadenceConverted, CadenceLost, CadenceStopped, CadenceReplied:
		return true
	}
	return false
}

// Valid reports whether s is a known cadence status.
func (s CadenceStatus) Valid() bool {
	switch s {
	case CadencePending, CadenceActive, CadenceSnoozed, CadenceCompleted:
		return true
	}
	return s.IsManual()
}

// MediaType is the kind of attachment a step carries.
type MediaType string

const (
	MediaNone     MediaType = ""
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaAudio    MediaType = "audio"
)
