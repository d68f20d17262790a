package app

const (
	loopDispatch = "dispatch"
	loopCadence  = "cadence"
)

// Send and skip outcomes reported to the Recorder.
const (
	resultSent     = "sent"
	resultFailed   = "failed"
	resultInvalid  = "invalid"
	resultAdvanced = "advanced"
	resultComplete = "completed"

	skipCooldown    = "cooldown"
	skipNoInstance  = "no_instance"
	skipDailyQuota  = "daily_quota"
	skipCampaignCap = "campaign_cap"
	skipSlotLost    = "slot_lost"
	skipNotRunning  = "not_running"
	skipAccountBusy = "account_served"
	skipLeadChanged = "lead_changed"
	skipNoPending   = "no_pending"
)

// Recorder receives loop outcomes for metrics.
type Recorder interface {
	Attempt(loop, result string)
	Skip(loop, reason string)
}

// NopRecorder drops every outcome.
type NopRecorder struct{}

func (NopRecorder) Attempt(string, string) {}
func (NopRecorder) Skip(string, string)    {}
