package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/events"
	"outreach_engine/internal/domain/gateway"
	"outreach_engine/internal/domain/instance"
	"outreach_engine/internal/domain/quota"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(at time.Time) *fakeClock { return &fakeClock{now: at} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}

// store is an in-memory database shared by the fake repositories.
type store struct {
	mu        sync.Mutex
	nextID    int64
	campaigns map[int64]*campaign.Campaign
	steps     map[int64][]*campaign.Step
	leads     map[int64]*campaign.Lead
	instances map[int64]*instance.Instance
	links     map[int64][]int64
	licenses  []*quota.License
	ledger    []*quota.LedgerEntry
	cooldowns map[int64]time.Time

	afterListRunnable func()
}

func newStore() *store {
	return &store{
		nextID:    100,
		campaigns: make(map[int64]*campaign.Campaign),
		steps:     make(map[int64][]*campaign.Step),
		leads:     make(map[int64]*campaign.Lead),
		instances: make(map[int64]*instance.Instance),
		links:     make(map[int64][]int64),
		cooldowns: make(map[int64]time.Time),
	}
}

func (s *store) id() int64 {
	s.nextID++
	return s.nextID
}

// seeding helpers, used before the services run

func (s *store) addCampaign(c *campaign.Campaign, steps ...*campaign.Step) *campaign.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	if c.Status == "" {
		c.Status = campaign.StatusRunning
	}
	if c.RotationMode == "" {
		c.RotationMode = campaign.RotationSingle
	}
	for i, st := range steps {
		st.ID = s.id()
		st.CampaignID = c.ID
		if st.StepNumber == 0 {
			st.StepNumber = i + 1
		}
	}
	s.campaigns[c.ID] = c
	s.steps[c.ID] = steps
	return c
}

func (s *store) addLead(campaignID int64, phone, name string) *campaign.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &campaign.Lead{
		ID:            s.id(),
		CampaignID:    campaignID,
		Phone:         phone,
		Name:          name,
		Status:        campaign.LeadStatusPending,
		CadenceStatus: campaign.CadencePending,
		CurrentStep:   1,
	}
	s.leads[l.ID] = l
	return l
}

func (s *store) addInstance(ownerID int64, name string, connected bool, connectedAt time.Time, campaignIDs ...int64) *instance.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst := &instance.Instance{ID: s.id(), OwnerID: ownerID, Name: name, Status: instance.StatusDisconnected}
	if connected {
		inst.Status = instance.StatusConnected
		inst.ConnectedAt = sql.NullTime{Time: connectedAt, Valid: true}
	}
	s.instances[inst.ID] = inst
	for _, cid := range campaignIDs {
		s.links[cid] = append(s.links[cid], inst.ID)
	}
	return inst
}

func (s *store) addLicense(ownerID int64, tier quota.Tier, activatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses = append(s.licenses, &quota.License{ID: s.id(), OwnerID: ownerID, Tier: tier, Active: true, ActivatedAt: activatedAt})
}

func (s *store) lead(id int64) campaign.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.leads[id]
}

func (s *store) campaign(id int64) campaign.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *store) cooldown(ownerID int64) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldowns[ownerID]
}

func (s *store) setCooldown(ownerID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[ownerID] = at
}

func (s *store) setCampaignStatus(id int64, st campaign.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = st
}

func (s *store) setInstanceStatus(id int64, st instance.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[id].Status = st
}

func (s *store) updateLead(id int64, fn func(l *campaign.Lead)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.leads[id])
}

func (s *store) sortedLeads() []*campaign.Lead {
	out := make([]*campaign.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// campaign.Repository

type fakeCampaigns struct{ *store }

func (f fakeCampaigns) Create(_ context.Context, c *campaign.Campaign, steps []*campaign.Step, instanceIDs []int64, leads []*campaign.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.id()
	c.CreatedAt = t0
	c.UpdatedAt = t0
	f.campaigns[c.ID] = c
	for _, st := range steps {
		st.ID = f.id()
		st.CampaignID = c.ID
	}
	f.steps[c.ID] = steps
	f.links[c.ID] = append(f.links[c.ID], instanceIDs...)
	for _, l := range leads {
		l.ID = f.id()
		l.CampaignID = c.ID
		cp := *l
		f.leads[l.ID] = &cp
	}
	return nil
}

func (f fakeCampaigns) GetByID(_ context.Context, id int64) (*campaign.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, campaign.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (f fakeCampaigns) ListRunnable(_ context.Context, now time.Time) ([]*campaign.Campaign, error) {
	f.mu.Lock()
	var out []*campaign.Campaign
	for _, c := range f.campaigns {
		if c.Status == campaign.StatusRunning && c.Startable(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	hook := f.afterListRunnable
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if hook != nil {
		hook()
	}
	return out, nil
}

func (f fakeCampaigns) TransitionStatus(_ context.Context, id int64, from []campaign.Status, to campaign.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return false, campaign.ErrCampaignNotFound
	}
	for _, st := range from {
		if c.Status == st {
			c.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f fakeCampaigns) CompleteIfDrained(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	if c == nil || c.Status != campaign.StatusRunning {
		return false, nil
	}
	for _, l := range f.leads {
		if l.CampaignID == id && l.Status == campaign.LeadStatusPending {
			return false, nil
		}
	}
	c.Status = campaign.StatusCompleted
	return true, nil
}

func (f fakeCampaigns) GetStep(_ context.Context, campaignID int64, stepNumber int) (*campaign.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.steps[campaignID] {
		if st.StepNumber == stepNumber {
			cp := *st
			return &cp, nil
		}
	}
	return nil, campaign.ErrStepNotFound
}

func (f fakeCampaigns) ListSteps(_ context.Context, campaignID int64) ([]*campaign.Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.steps[campaignID], nil
}

func (f fakeCampaigns) SetRotationCursor(_ context.Context, campaignID int64, instanceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[campaignID]
	if !ok {
		return campaign.ErrCampaignNotFound
	}
	c.RotationCursor = sql.NullInt64{Int64: instanceID, Valid: true}
	return nil
}

// campaign.LeadRepository

type fakeLeads struct{ *store }

func (f fakeLeads) ClaimNextPending(_ context.Context, campaignID int64, now time.Time, lease time.Duration) (*campaign.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.sortedLeads() {
		if l.CampaignID != campaignID || l.Status != campaign.LeadStatusPending {
			continue
		}
		if l.ClaimedAt.Valid && !l.ClaimedAt.Time.Before(now.Add(-lease)) {
			continue
		}
		l.ClaimedAt = sql.NullTime{Time: now, Valid: true}
		cp := *l
		return &cp, nil
	}
	return nil, campaign.ErrNoPendingLead
}

func (f fakeLeads) ReleaseClaim(_ context.Context, leadID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leads[leadID]; ok && l.Status == campaign.LeadStatusPending {
		l.ClaimedAt = sql.NullTime{}
	}
	return nil
}

func (f fakeLeads) pending(leadID int64) (*campaign.Lead, error) {
	l, ok := f.leads[leadID]
	if !ok {
		return nil, campaign.ErrLeadNotFound
	}
	if l.Status != campaign.LeadStatusPending {
		return nil, campaign.ErrLeadNotClaimable
	}
	return l, nil
}

func (f fakeLeads) MarkSent(_ context.Context, leadID int64, res campaign.SendResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.pending(leadID)
	if err != nil {
		return err
	}
	l.Status = campaign.LeadStatusSent
	l.SentAt = sql.NullTime{Time: res.SentAt, Valid: true}
	l.ProviderMessageID = sql.NullString{String: res.ProviderMessageID, Valid: res.ProviderMessageID != ""}
	l.InstanceID = sql.NullInt64{Int64: res.InstanceID, Valid: true}
	l.ClaimedAt = sql.NullTime{}
	if res.Cadence != nil {
		if !l.CadenceStatus.IsManual() {
			l.CadenceStatus = res.Cadence.Status
			l.CurrentStep = res.Cadence.CurrentStep
			l.SnoozeUntil = res.Cadence.SnoozeUntil
		}
		l.LastSentAt = res.Cadence.LastSentAt
	}
	return nil
}

func (f fakeLeads) MarkFailed(_ context.Context, leadID int64, at time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.pending(leadID)
	if err != nil {
		return err
	}
	l.Status = campaign.LeadStatusFailed
	l.Error = sql.NullString{String: reason, Valid: true}
	l.ClaimedAt = sql.NullTime{}
	l.UpdatedAt = at
	return nil
}

func (f fakeLeads) MarkInvalid(_ context.Context, leadID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.pending(leadID)
	if err != nil {
		return err
	}
	l.Status = campaign.LeadStatusInvalid
	l.ClaimedAt = sql.NullTime{}
	l.UpdatedAt = at
	return nil
}

func (f fakeLeads) CountOwnerSent(_ context.Context, ownerID int64, from, to time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.leads {
		c := f.campaigns[l.CampaignID]
		if c != nil && c.OwnerID == ownerID && sentWithin(l, from, to) {
			n++
		}
	}
	return n, nil
}

func (f fakeLeads) CountCampaignSent(_ context.Context, campaignID int64, from, to time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.leads {
		if l.CampaignID == campaignID && sentWithin(l, from, to) {
			n++
		}
	}
	return n, nil
}

func sentWithin(l *campaign.Lead, from, to time.Time) bool {
	return l.Status == campaign.LeadStatusSent && l.SentAt.Valid &&
		!l.SentAt.Time.Before(from) && l.SentAt.Time.Before(to)
}

func (f fakeLeads) ListDueForCadence(_ context.Context, now time.Time, limit int) ([]*campaign.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*campaign.Lead
	for _, l := range f.sortedLeads() {
		c := f.campaigns[l.CampaignID]
		if c == nil || !c.CadenceEnabled || c.Status == campaign.StatusPaused {
			continue
		}
		if l.CadenceStatus != campaign.CadenceSnoozed || !l.SnoozeUntil.Valid || l.SnoozeUntil.Time.After(now) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SnoozeUntil.Time.Before(out[j].SnoozeUntil.Time) })
	rank := make(map[int64]int, len(out))
	seen := make(map[int64]int)
	for _, l := range out {
		owner := f.campaigns[l.CampaignID].OwnerID
		seen[owner]++
		rank[l.ID] = seen[owner]
	}
	sort.SliceStable(out, func(i, j int) bool { return rank[out[i].ID] < rank[out[j].ID] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeLeads) AdvanceCadence(_ context.Context, leadID int64, expectedStep int, upd campaign.CadenceUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[leadID]
	if !ok || l.CadenceStatus != campaign.CadenceSnoozed || l.CurrentStep != expectedStep || upd.CurrentStep < l.CurrentStep {
		return false, nil
	}
	l.CadenceStatus = upd.Status
	l.CurrentStep = upd.CurrentStep
	l.SnoozeUntil = upd.SnoozeUntil
	l.LastSentAt = upd.LastSentAt
	return true, nil
}

func (f fakeLeads) GetByID(_ context.Context, id int64) (*campaign.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return nil, campaign.ErrLeadNotFound
	}
	cp := *l
	return &cp, nil
}

func (f fakeLeads) List(_ context.Context, campaignID int64, flt campaign.LeadFilter) ([]*campaign.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*campaign.Lead
	for _, l := range f.sortedLeads() {
		if l.CampaignID != campaignID {
			continue
		}
		if flt.Status != "" && l.Status != flt.Status {
			continue
		}
		if flt.CadenceStatus != "" && l.CadenceStatus != flt.CadenceStatus {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	if flt.Offset >= len(out) {
		return nil, nil
	}
	out = out[flt.Offset:]
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f fakeLeads) Stats(_ context.Context, campaignID int64) (*campaign.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &campaign.Stats{CampaignID: campaignID, ByStatus: map[campaign.LeadStatus]int{}, ByCadence: map[campaign.CadenceStatus]int{}}
	for _, l := range f.leads {
		if l.CampaignID == campaignID {
			st.Total++
			st.ByStatus[l.Status]++
			st.ByCadence[l.CadenceStatus]++
		}
	}
	return st, nil
}

func (f fakeLeads) SetCadenceStatus(_ context.Context, leadID int64, status campaign.CadenceStatus, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[leadID]
	if !ok {
		return campaign.ErrLeadNotFound
	}
	l.CadenceStatus = status
	l.Notes = notes
	return nil
}

func (f fakeLeads) Requeue(_ context.Context, leadID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[leadID]
	if !ok {
		return false, campaign.ErrLeadNotFound
	}
	if l.Status != campaign.LeadStatusFailed {
		return false, nil
	}
	l.Status = campaign.LeadStatusPending
	l.Error = sql.NullString{}
	return true, nil
}

// instance.Repository

type fakeInstances struct{ *store }

func (f fakeInstances) ListByCampaign(_ context.Context, campaignID int64) ([]*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*instance.Instance
	for _, id := range f.links[campaignID] {
		cp := *f.instances[id]
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeInstances) LatestConnectedForOwner(_ context.Context, ownerID int64) (*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *instance.Instance
	for _, inst := range f.instances {
		if inst.OwnerID != ownerID || !inst.Connected() {
			continue
		}
		if best == nil || inst.ConnectedAt.Time.After(best.ConnectedAt.Time) {
			best = inst
		}
	}
	if best == nil {
		return nil, instance.ErrInstanceNotFound
	}
	cp := *best
	return &cp, nil
}

func (f fakeInstances) ListByOwner(_ context.Context, ownerID int64) ([]*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range f.instances {
		if inst.OwnerID == ownerID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeInstances) ListAll(_ context.Context) ([]*instance.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range f.instances {
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeInstances) UpdateStatus(_ context.Context, id int64, status instance.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return instance.ErrInstanceNotFound
	}
	inst.Status = status
	return nil
}

// quota.Repository

type fakeQuota struct{ *store }

func (f fakeQuota) ActiveLicense(_ context.Context, ownerID int64, now time.Time) (*quota.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *quota.License
	for _, l := range f.licenses {
		if l.OwnerID == ownerID && l.Active && !l.ActivatedAt.After(now) && (!l.ExpiresAt.Valid || l.ExpiresAt.Time.After(now)) {
			if best == nil || l.ActivatedAt.After(best.ActivatedAt) {
				best = l
			}
		}
	}
	if best == nil {
		return nil, quota.ErrNoActiveLicense
	}
	cp := *best
	return &cp, nil
}

func (f fakeQuota) Reserve(_ context.Context, entry *quota.LedgerEntry, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usage(entry.OwnerID, entry.CycleStart)+entry.LeadsConsumed > limit {
		return quota.ErrMonthlyQuotaExceeded
	}
	entry.ID = f.id()
	f.ledger = append(f.ledger, entry)
	return nil
}

func (f fakeQuota) CycleUsage(_ context.Context, ownerID int64, cycleStart time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage(ownerID, cycleStart), nil
}

func (f fakeQuota) usage(ownerID int64, cycleStart time.Time) int {
	n := 0
	for _, e := range f.ledger {
		if e.OwnerID == ownerID && e.CycleStart.Equal(cycleStart) {
			n += e.LeadsConsumed
		}
	}
	return n
}

// cooldown.Store

type fakeCooldowns struct{ *store }

func (f fakeCooldowns) NextSendAt(_ context.Context, ownerID int64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooldowns[ownerID], nil
}

func (f fakeCooldowns) TryAcquire(_ context.Context, ownerID int64, now, holdUntil time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cooldowns[ownerID].After(now) {
		return false, nil
	}
	f.cooldowns[ownerID] = holdUntil
	return true, nil
}

func (f fakeCooldowns) Release(_ context.Context, ownerID int64, held, next time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cooldowns[ownerID].Equal(held) {
		return false, nil
	}
	f.cooldowns[ownerID] = next
	return true, nil
}

// gateway.Client

type sentMessage struct {
	Instance string
	Phone    string
	Text     string
	At       time.Time
}

type fakeGateway struct {
	mu        sync.Mutex
	clock     *fakeClock
	invalid   map[string]bool
	verifyErr error
	sendErr   error
	mediaErr  error
	states    map[string]gateway.ConnectionState
	sent      []sentMessage
	media     []gateway.Media
	verified  []string
	// sendDelay simulates a slow gateway.
	sendDelay time.Duration
	// callCost advances the fake clock on every call; a call that would
	// outlast its context deadline fails after spending what was left.
	callCost time.Duration
}

func (g *fakeGateway) spend(ctx context.Context) error {
	if g.callCost <= 0 {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < g.callCost {
			g.clock.Advance(left)
			return context.DeadlineExceeded
		}
	}
	g.clock.Advance(g.callCost)
	return nil
}

func newGateway(clock *fakeClock) *fakeGateway {
	return &fakeGateway{clock: clock, invalid: map[string]bool{}, states: map[string]gateway.ConnectionState{}}
}

func (g *fakeGateway) VerifyPhone(ctx context.Context, _, phone string) (bool, error) {
	if err := g.spend(ctx); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verified = append(g.verified, phone)
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	return !g.invalid[phone], nil
}

func (g *fakeGateway) SendText(ctx context.Context, inst, phone, text string) (string, error) {
	if g.sendDelay > 0 {
		time.Sleep(g.sendDelay)
	}
	if err := g.spend(ctx); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return "", g.sendErr
	}
	g.sent = append(g.sent, sentMessage{Instance: inst, Phone: phone, Text: text, At: g.clock.Now()})
	return "msg-" + phone, nil
}

func (g *fakeGateway) SendMedia(ctx context.Context, _, _ string, media gateway.Media) error {
	if err := g.spend(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mediaErr != nil {
		return g.mediaErr
	}
	g.media = append(g.media, media)
	return nil
}

func (g *fakeGateway) ConnectionState(_ context.Context, inst string) (gateway.ConnectionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[inst], nil
}

func (g *fakeGateway) sends() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

func (g *fakeGateway) verifications() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.verified)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type countingRecorder struct {
	mu       sync.Mutex
	attempts map[string]int
	skips    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{attempts: map[string]int{}, skips: map[string]int{}}
}

func (r *countingRecorder) Attempt(loop, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[loop+"/"+result]++
}

func (r *countingRecorder) Skip(loop, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skips[loop+"/"+reason]++
}

func (r *countingRecorder) skip(loop, reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skips[loop+"/"+reason]
}

// harness wires both loops to one store, gateway and clock.
type harness struct {
	store     *store
	clock     *fakeClock
	gateway   *fakeGateway
	events    *recordingPublisher
	metrics   *countingRecorder
	deps      EngineDeps
	opts      EngineOptions
	dispatch  *DispatchService
	cadence   *CadenceService
	logHook   *test.Hook
	logger    *logrus.Entry
	mediaRead []string
}

func newHarness() *harness {
	h := &harness{
		store:   newStore(),
		clock:   newClock(t0),
		events:  &recordingPublisher{},
		metrics: newCountingRecorder(),
	}
	h.gateway = newGateway(h.clock)
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	h.logHook = hook
	h.logger = logrus.NewEntry(log)

	quotaSvc := NewQuotaService(fakeQuota{h.store}, fakeLeads{h.store}, time.UTC, h.logger)
	h.deps = EngineDeps{
		Campaigns: fakeCampaigns{h.store},
		Leads:     fakeLeads{h.store},
		Selector:  NewInstanceSelector(fakeInstances{h.store}, fakeCampaigns{h.store}),
		Quota:     quotaSvc,
		Cooldowns: fakeCooldowns{h.store},
		Gateway:   h.gateway,
		Publisher: h.events,
		Metrics:   h.metrics,
	}
	h.opts = EngineOptions{Seed: 42}
	h.dispatch = h.newDispatch()
	h.cadence = h.newCadence()
	return h
}

func (h *harness) newDispatch() *DispatchService {
	s := NewDispatchService(h.deps, h.opts, h.logger)
	s.SetClock(h.clock.Now)
	s.loadMedia = h.fakeMedia
	return s
}

func (h *harness) newCadence() *CadenceService {
	s := NewCadenceService(h.deps, h.opts, h.logger)
	s.SetClock(h.clock.Now)
	s.loadMedia = h.fakeMedia
	return s
}

func (h *harness) fakeMedia(step *campaign.Step, caption string) (gateway.Media, error) {
	h.mediaRead = append(h.mediaRead, step.MediaPath)
	return gateway.Media{Type: string(step.MediaType), FileName: step.MediaPath, Base64: "AAAA", Caption: caption}, nil
}

func newStep(delayDays int, messages ...string) *campaign.Step {
	return &campaign.Step{Messages: messages, DelayDays: delayDays}
}
