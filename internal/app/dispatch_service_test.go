package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/events"
	"outreach_engine/internal/domain/instance"
	"outreach_engine/internal/domain/quota"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertCooldownWithin(t *testing.T, h *harness, ownerID int64, from time.Time, min, max time.Duration) {
	t.Helper()
	next := h.store.cooldown(ownerID)
	assert.False(t, next.Before(from.Add(min)), "next send %s earlier than %s", next, from.Add(min))
	assert.False(t, next.After(from.Add(max)), "next send %s later than %s", next, from.Add(max))
}

// Two running campaigns of one owner: only one lead goes out per cooldown window.
func TestDispatch_OneSendPerOwnerAcrossCampaigns(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	x := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "x"}, newStep(0, "hello from x"))
	y := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "y"}, newStep(0, "hello from y"))
	h.store.addInstance(1, "acc-1", true, t0.Add(-time.Hour), x.ID, y.ID)
	lx := h.store.addLead(x.ID, "5511900000001", "Ana")
	ly := h.store.addLead(y.ID, "5511900000002", "Bia")

	require.NoError(t, h.dispatch.RunCycle(ctx))
	sends := h.gateway.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "5511900000001", sends[0].Phone)
	assert.Equal(t, campaign.LeadStatusSent, h.store.lead(lx.ID).Status)
	assert.Equal(t, campaign.LeadStatusPending, h.store.lead(ly.ID).Status)
	assertCooldownWithin(t, h, 1, t0, DefaultCooldownMin, DefaultCooldownMax)
	assert.Equal(t, 1, h.metrics.skip(loopDispatch, skipAccountBusy))

	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.dispatch.RunCycle(ctx))
	assert.Len(t, h.gateway.sends(), 1)
	assert.Equal(t, campaign.LeadStatusPending, h.store.lead(ly.ID).Status)

	h.clock.Set(h.store.cooldown(1))
	require.NoError(t, h.dispatch.RunCycle(ctx))
	sends = h.gateway.sends()
	require.Len(t, sends, 2)
	assert.Equal(t, "5511900000002", sends[1].Phone)
	assert.GreaterOrEqual(t, sends[1].At.Sub(sends[0].At), DefaultCooldownMin)

	// x ran out of leads on the way.
	assert.Equal(t, campaign.StatusCompleted, h.store.campaign(x.ID).Status)
	assert.Contains(t, h.events.types(), events.CampaignCompleted)
}

func TestDispatch_InvalidPhoneGetsShortCooldown(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, newStep(0, "hi {name}"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l1 := h.store.addLead(c.ID, "5511900000001", "Ana")
	l2 := h.store.addLead(c.ID, "5511900000002", "Bia")
	l3 := h.store.addLead(c.ID, "5511900000003", "Cau")
	h.gateway.invalid["5511900000002"] = true

	require.NoError(t, h.dispatch.RunCycle(ctx))
	assert.Equal(t, campaign.LeadStatusSent, h.store.lead(l1.ID).Status)
	assertCooldownWithin(t, h, 1, t0, DefaultCooldownMin, DefaultCooldownMax)

	second := h.store.cooldown(1)
	h.clock.Set(second)
	require.NoError(t, h.dispatch.RunCycle(ctx))
	assert.Equal(t, campaign.LeadStatusInvalid, h.store.lead(l2.ID).Status)
	assertCooldownWithin(t, h, 1, second, DefaultInvalidCooldownMin, DefaultInvalidCooldownMax)
	assert.Len(t, h.gateway.sends(), 1)

	h.clock.Set(second.Add(DefaultInvalidCooldownMax))
	require.NoError(t, h.dispatch.RunCycle(ctx))
	assert.Equal(t, campaign.LeadStatusSent, h.store.lead(l3.ID).Status)
	assert.Len(t, h.gateway.sends(), 2)

	h.clock.Set(h.store.cooldown(1))
	require.NoError(t, h.dispatch.RunCycle(ctx))
	assert.Equal(t, campaign.StatusCompleted, h.store.campaign(c.ID).Status)
	assert.Equal(t, []events.Type{events.LeadSent, events.LeadInvalid, events.LeadSent, events.CampaignCompleted}, h.events.types())
}

func TestDispatch_NoConnectedInstanceLeavesEverythingUntouched(t *testing.T) {
	h := newHarness()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, newStep(0, "hi"))
	h.store.addInstance(1, "acc-1", false, time.Time{}, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "Ana")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	got := h.store.lead(l.ID)
	assert.Equal(t, campaign.LeadStatusPending, got.Status)
	assert.False(t, got.ClaimedAt.Valid)
	assert.True(t, h.store.cooldown(1).IsZero())
	assert.Empty(t, h.gateway.sends())
	assert.Zero(t, h.gateway.verifications())
	assert.Equal(t, 1, h.metrics.skip(loopDispatch, skipNoInstance))
}

func TestDispatch_ConcurrentReplicasSendOnce(t *testing.T) {
	h := newHarness()
	h.gateway.sendDelay = 20 * time.Millisecond
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, newStep(0, "hi"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	for _, p := range []string{"5511900000001", "5511900000002", "5511900000003"} {
		h.store.addLead(c.ID, p, "")
	}
	replicas := []*DispatchService{h.dispatch, h.newDispatch(), h.newDispatch()}

	var wg sync.WaitGroup
	for _, r := range replicas {
		wg.Add(1)
		go func(s *DispatchService) {
			defer wg.Done()
			assert.NoError(t, s.RunCycle(context.Background()))
		}(r)
	}
	wg.Wait()

	assert.Len(t, h.gateway.sends(), 1)
	assertCooldownWithin(t, h, 1, t0, DefaultCooldownMin, DefaultCooldownMax)
}

func TestDispatch_ConcurrentWithCadenceSendsOnce(t *testing.T) {
	h := newHarness()
	h.gateway.sendDelay = 20 * time.Millisecond
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c", CadenceEnabled: true},
		newStep(0, "first"), newStep(1, "second"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	h.store.addLead(c.ID, "5511900000001", "")
	snoozed := h.store.addLead(c.ID, "5511900000002", "")
	h.store.updateLead(snoozed.ID, func(l *campaign.Lead) {
		l.Status = campaign.LeadStatusSent
		l.CadenceStatus = campaign.CadenceSnoozed
		l.CurrentStep = 2
		l.SnoozeUntil.Time, l.SnoozeUntil.Valid = t0.Add(-time.Minute), true
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); assert.NoError(t, h.dispatch.RunCycle(context.Background())) }()
	go func() { defer wg.Done(); assert.NoError(t, h.cadence.RunCycle(context.Background())) }()
	wg.Wait()
	require.Len(t, h.gateway.sends(), 1)

	h.clock.Set(h.store.cooldown(1))
	wg.Add(2)
	go func() { defer wg.Done(); assert.NoError(t, h.dispatch.RunCycle(context.Background())) }()
	go func() { defer wg.Done(); assert.NoError(t, h.cadence.RunCycle(context.Background())) }()
	wg.Wait()

	sends := h.gateway.sends()
	require.Len(t, sends, 2)
	assert.GreaterOrEqual(t, sends[1].At.Sub(sends[0].At), DefaultCooldownMin)
}

// Verify, media and text together outlast the slot hold: the text call is cut
// off before the hold runs out, so no other loop can send inside the cooldown.
func TestDispatch_SlowGatewayStaysInsideSlot(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.opts.GatewayTimeout = 10 * time.Second
	h.opts.SlotHold = 70 * time.Second
	h.dispatch = h.newDispatch()
	h.cadence = h.newCadence()
	h.gateway.callCost = 25 * time.Second

	first := newStep(0, "first")
	first.MediaPath, first.MediaType = "/srv/media/promo.jpg", campaign.MediaImage
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c", CadenceEnabled: true}, first, newStep(1, "second"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")
	due := h.store.addLead(c.ID, "5511900000002", "")
	snooze(h, due.ID, 2, t0.Add(-time.Minute))

	require.NoError(t, h.dispatch.RunCycle(ctx))

	assert.Empty(t, h.gateway.sends(), "text would have finished after the hold")
	assert.False(t, h.clock.Now().After(t0.Add(70*time.Second-slotMargin)))
	got := h.store.lead(l.ID)
	assert.Equal(t, campaign.LeadStatusFailed, got.Status)
	assert.Contains(t, got.Error.String, "deadline")
	assertCooldownWithin(t, h, 1, t0.Add(60*time.Second), DefaultCooldownMin, DefaultCooldownMax+10*time.Second)

	// The cadence loop polls right after the hold would have expired.
	h.clock.Set(t0.Add(71 * time.Second))
	require.NoError(t, h.cadence.RunCycle(ctx))
	assert.Empty(t, h.gateway.sends())
	assert.Equal(t, 2, h.store.lead(due.ID).CurrentStep)
}

func TestDispatch_CadenceHandOff(t *testing.T) {
	h := newHarness()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c", CadenceEnabled: true},
		newStep(0, "first"), newStep(2, "second"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	got := h.store.lead(l.ID)
	assert.Equal(t, campaign.LeadStatusSent, got.Status)
	assert.Equal(t, campaign.CadenceSnoozed, got.CadenceStatus)
	assert.Equal(t, 2, got.CurrentStep)
	assert.Equal(t, t0.Add(48*time.Hour), got.SnoozeUntil.Time)
	assert.Equal(t, t0, got.LastSentAt.Time)
	assert.Equal(t, "msg-5511900000001", got.ProviderMessageID.String)
}

func TestDispatch_SingleStepCadenceCompletesImmediately(t *testing.T) {
	h := newHarness()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c", CadenceEnabled: true}, newStep(0, "only"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	got := h.store.lead(l.ID)
	assert.Equal(t, campaign.CadenceCompleted, got.CadenceStatus)
	assert.Equal(t, 1, got.CurrentStep)
	assert.False(t, got.SnoozeUntil.Valid)
}

func TestDispatch_DailyQuota(t *testing.T) {
	h := newHarness()
	h.store.addLicense(1, quota.TierBasic, t0.AddDate(0, 0, -3))
	done := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "done", Status: campaign.StatusCompleted}, newStep(0, "x"))
	for i := 0; i < quota.TierBasic.DailyLimit(); i++ {
		l := h.store.addLead(done.ID, "55119000000"+string(rune('a'+i)), "")
		h.store.updateLead(l.ID, func(l *campaign.Lead) {
			l.Status = campaign.LeadStatusSent
			l.SentAt.Time, l.SentAt.Valid = t0.Add(-time.Hour), true
		})
	}
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, newStep(0, "hi"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))
	assert.Empty(t, h.gateway.sends())
	assert.Equal(t, campaign.LeadStatusPending, h.store.lead(l.ID).Status)
	assert.Equal(t, 1, h.metrics.skip(loopDispatch, skipDailyQuota))

	// Next calendar day the quota resets.
	h.clock.Set(time.Date(2024, 3, 5, 0, 0, 1, 0, time.UTC))
	require.NoError(t, h.dispatch.RunCycle(context.Background()))
	assert.Len(t, h.gateway.sends(), 1)
}

func TestDispatch_CampaignDailyLimit(t *testing.T) {
	h := newHarness()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c", DailyLimit: 1}, newStep(0, "hi"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	h.store.addLead(c.ID, "5511900000001", "")
	h.store.addLead(c.ID, "5511900000002", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))
	h.clock.Set(h.store.cooldown(1))
	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	assert.Len(t, h.gateway.sends(), 1)
	assert.Equal(t, 1, h.metrics.skip(loopDispatch, skipCampaignCap))
}

func TestDispatch_PausedAfterListingDoesNotSend(t *testing.T) {
	h := newHarness()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, newStep(0, "hi"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")
	h.store.afterListRunnable = func() { h.store.setCampaignStatus(c.ID, campaign.StatusPaused) }

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	assert.Empty(t, h.gateway.sends())
	assert.Equal(t, campaign.LeadStatusPending, h.store.lead(l.ID).Status)
	assert.Equal(t, t0, h.store.cooldown(1), "slot released without spending the cooldown")
	assert.Equal(t, 1, h.metrics.skip(loopDispatch, skipNotRunning))
}

func TestDispatch_ScheduledCampaignWaits(t *testing.T) {
	h := newHarness()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, newStep(0, "hi"))
	c.ScheduledAt.Time, c.ScheduledAt.Valid = t0.Add(time.Hour), true
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	h.store.addLead(c.ID, "5511900000001", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))
	assert.Empty(t, h.gateway.sends())

	h.clock.Advance(time.Hour)
	require.NoError(t, h.dispatch.RunCycle(context.Background()))
	assert.Len(t, h.gateway.sends(), 1)
}

func TestDispatch_SendFailureMarksLeadFailed(t *testing.T) {
	h := newHarness()
	h.gateway.sendErr = errors.New("gateway said 500")
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, newStep(0, "hi"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	got := h.store.lead(l.ID)
	assert.Equal(t, campaign.LeadStatusFailed, got.Status)
	assert.Contains(t, got.Error.String, "gateway said 500")
	assertCooldownWithin(t, h, 1, t0, DefaultCooldownMin, DefaultCooldownMax)
	assert.Equal(t, []events.Type{events.LeadFailed}, h.events.types())
}

func TestDispatch_VerificationErrorFailsLeadWithShortCooldown(t *testing.T) {
	h := newHarness()
	h.gateway.verifyErr = errors.New("timeout")
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, newStep(0, "hi"))
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	got := h.store.lead(l.ID)
	assert.Equal(t, campaign.LeadStatusFailed, got.Status)
	assert.Contains(t, got.Error.String, "phone verification failed")
	assertCooldownWithin(t, h, 1, t0, DefaultInvalidCooldownMin, DefaultInvalidCooldownMax)
	assert.Empty(t, h.gateway.sends())
}

func TestDispatch_CampaignWithoutStepsFailsLead(t *testing.T) {
	h := newHarness()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"})
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	got := h.store.lead(l.ID)
	assert.Equal(t, campaign.LeadStatusFailed, got.Status)
	assert.Equal(t, "campaign has no first step", got.Error.String)
	assert.Equal(t, t0, h.store.cooldown(1))
}

func TestDispatch_RendersNameAndSendsMediaFirst(t *testing.T) {
	h := newHarness()
	st := newStep(0, "Olá {nome}, tudo bem?")
	st.MediaPath, st.MediaType = "/srv/media/promo.jpg", campaign.MediaImage
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, st)
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	h.store.addLead(c.ID, "5511900000001", "Ana")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	sends := h.gateway.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "Olá Ana, tudo bem?", sends[0].Text)
	assert.Equal(t, "acc-1", sends[0].Instance)
	require.Len(t, h.gateway.media, 1)
	assert.Equal(t, "image", h.gateway.media[0].Type)
}

func TestDispatch_MediaFailureStillSendsText(t *testing.T) {
	h := newHarness()
	h.gateway.mediaErr = errors.New("upload rejected")
	st := newStep(0, "hi")
	st.MediaPath, st.MediaType = "/srv/media/promo.pdf", campaign.MediaDocument
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c"}, st)
	h.store.addInstance(1, "acc-1", true, t0, c.ID)
	l := h.store.addLead(c.ID, "5511900000001", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	assert.Len(t, h.gateway.sends(), 1)
	assert.Equal(t, campaign.LeadStatusSent, h.store.lead(l.ID).Status)
}

func TestDispatch_RoundRobinRotatesInstances(t *testing.T) {
	h := newHarness()
	c := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "c", RotationMode: campaign.RotationRoundRobin}, newStep(0, "hi"))
	a := h.store.addInstance(1, "acc-a", true, t0, c.ID)
	b := h.store.addInstance(1, "acc-b", true, t0, c.ID)
	h.store.addInstance(1, "acc-c", true, t0, c.ID)
	for _, p := range []string{"1", "2", "3", "4"} {
		h.store.addLead(c.ID, "551190000000"+p, "")
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, h.dispatch.RunCycle(context.Background()))
		h.clock.Set(h.store.cooldown(1))
	}

	var used []string
	for _, s := range h.gateway.sends() {
		used = append(used, s.Instance)
	}
	assert.Equal(t, []string{"acc-a", "acc-b", "acc-c", "acc-a"}, used)
	assert.Equal(t, a.ID, h.store.campaign(c.ID).RotationCursor.Int64)

	// A disconnected instance is skipped by the rotation.
	h.store.setInstanceStatus(b.ID, instance.StatusDisconnected)
	h.store.addLead(c.ID, "5511900000005", "")
	require.NoError(t, h.dispatch.RunCycle(context.Background()))
	sends := h.gateway.sends()
	assert.Equal(t, "acc-c", sends[len(sends)-1].Instance)
}

func TestDispatch_OwnersAreIndependent(t *testing.T) {
	h := newHarness()
	c1 := h.store.addCampaign(&campaign.Campaign{OwnerID: 1, Name: "one"}, newStep(0, "hi"))
	c2 := h.store.addCampaign(&campaign.Campaign{OwnerID: 2, Name: "two"}, newStep(0, "hi"))
	h.store.addInstance(1, "acc-1", true, t0, c1.ID)
	h.store.addInstance(2, "acc-2", true, t0, c2.ID)
	h.store.addLead(c1.ID, "5511900000001", "")
	h.store.addLead(c2.ID, "5511900000002", "")

	require.NoError(t, h.dispatch.RunCycle(context.Background()))

	assert.Len(t, h.gateway.sends(), 2)
	assert.False(t, h.store.cooldown(1).IsZero())
	assert.False(t, h.store.cooldown(2).IsZero())
}
