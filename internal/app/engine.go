package app

import (
	"context"
	"errors"
	"time"

	"outreach_engine/internal/domain/campaign"
	"outreach_engine/internal/domain/cooldown"
	"outreach_engine/internal/domain/events"
	"outreach_engine/internal/domain/gateway"

	"github.com/sirupsen/logrus"
)

// EngineDeps are the collaborators shared by the dispatch and cadence loops.
type EngineDeps struct {
	Campaigns campaign.Repository
	Leads     campaign.LeadRepository
	Selector  *InstanceSelector
	Quota     *QuotaService
	Cooldowns cooldown.Store
	Gateway   gateway.Client
	Publisher events.Publisher
	Metrics   Recorder
}

// EngineOptions tune pacing. Zero values fall back to the defaults below.
type EngineOptions struct {
	CooldownMin        time.Duration
	CooldownMax        time.Duration
	InvalidCooldownMin time.Duration
	InvalidCooldownMax time.Duration
	// GatewayTimeout is the per-call HTTP timeout of the gateway client.
	GatewayTimeout time.Duration
	// SlotHold bounds how long a crashed slot holder can block its owner.
	// It is raised to fit three gateway calls when set lower.
	SlotHold     time.Duration
	ClaimLease   time.Duration
	CadenceBatch int
	Seed         int64
}

// slotMargin is kept free at the end of a hold for the result writes.
const slotMargin = 5 * time.Second

// errSlotExpired aborts a send whose owner slot ran out.
var errSlotExpired = errors.New("owner send slot expired")

const (
	DefaultCooldownMin        = 300 * time.Second
	DefaultCooldownMax        = 600 * time.Second
	DefaultInvalidCooldownMin = 5 * time.Second
	DefaultInvalidCooldownMax = 15 * time.Second
	DefaultGatewayTimeout     = 20 * time.Second
	DefaultSlotHold           = 2 * time.Minute
	DefaultClaimLease         = 15 * time.Minute
	DefaultCadenceBatch       = 200
)

func (o EngineOptions) withDefaults() EngineOptions {
	if o.CooldownMin <= 0 {
		o.CooldownMin = DefaultCooldownMin
	}
	if o.CooldownMax <= 0 {
		o.CooldownMax = DefaultCooldownMax
	}
	if o.CooldownMax < o.CooldownMin {
		o.CooldownMax = o.CooldownMin
	}
	if o.InvalidCooldownMin <= 0 {
		o.InvalidCooldownMin = DefaultInvalidCooldownMin
	}
	if o.InvalidCooldownMax <= 0 {
		o.InvalidCooldownMax = DefaultInvalidCooldownMax
	}
	if o.InvalidCooldownMax < o.InvalidCooldownMin {
		o.InvalidCooldownMax = o.InvalidCooldownMin
	}
	if o.GatewayTimeout <= 0 {
		o.GatewayTimeout = DefaultGatewayTimeout
	}
	if o.SlotHold <= 0 {
		o.SlotHold = DefaultSlotHold
	}
	// verify, media and text may each take a full timeout
	if floor := 3*o.GatewayTimeout + slotMargin + 25*time.Second; o.SlotHold < floor {
		o.SlotHold = floor
	}
	if o.ClaimLease <= 0 {
		o.ClaimLease = DefaultClaimLease
	}
	if o.CadenceBatch <= 0 {
		o.CadenceBatch = DefaultCadenceBatch
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

// engine holds what both loops need to send one message for one owner.
type engine struct {
	EngineDeps
	opts      EngineOptions
	gate      *accountGate
	rng       *lockedRand
	loadMedia mediaLoader
	now       func() time.Time
	logger    *logrus.Entry
}

func newEngine(deps EngineDeps, opts EngineOptions, logger *logrus.Entry) engine {
	opts = opts.withDefaults()
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NopRecorder{}
	}
	return engine{
		EngineDeps: deps,
		opts:       opts,
		gate:       &accountGate{store: deps.Cooldowns},
		rng:        newLockedRand(opts.Seed),
		loadMedia:  loadMediaFile,
		now:        time.Now,
		logger:     logger,
	}
}

// slot is an owner's held send slot. Gateway calls made under it must end
// before deadline.
type slot struct {
	ownerID  int64
	held     time.Time
	deadline time.Time
}

func (e *engine) acquireSlot(ctx context.Context, ownerID int64, now time.Time) (*slot, bool, error) {
	held, won, err := e.gate.Acquire(ctx, ownerID, now, now.Add(e.opts.SlotHold))
	if err != nil || !won {
		return nil, false, err
	}
	return &slot{ownerID: ownerID, held: held, deadline: held.Add(-slotMargin)}, true, nil
}

// call runs one gateway call bounded by what is left of the slot.
func (e *engine) call(ctx context.Context, sl *slot, fn func(ctx context.Context) error) error {
	remaining := sl.deadline.Sub(e.now())
	if remaining <= 0 {
		return errSlotExpired
	}
	cctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return fn(cctx)
}

// sendStep delivers a step to a lead: media first (best-effort), then the text.
func (e *engine) sendStep(ctx context.Context, log *logrus.Entry, sl *slot, instanceName string, step *campaign.Step, lead *campaign.Lead) (string, error) {
	text := renderMessage(e.rng.pickVariant(step.Messages), lead)
	if step.HasMedia() {
		media, err := e.loadMedia(step, "")
		if err != nil {
			log.WithError(err).Warn("Skipping step media")
		} else if err := e.call(ctx, sl, func(ctx context.Context) error {
			return e.Gateway.SendMedia(ctx, instanceName, lead.Phone, media)
		}); err != nil {
			log.WithError(err).Warn("Failed to send step media, sending text anyway")
		}
	}
	var msgID string
	err := e.call(ctx, sl, func(ctx context.Context) error {
		var err error
		msgID, err = e.Gateway.SendText(ctx, instanceName, lead.Phone, text)
		return err
	})
	return msgID, err
}

// releaseSlot sets the owner's next send time; errors are only logged since
// the slot hold expires on its own.
func (e *engine) releaseSlot(log *logrus.Entry, sl *slot, next time.Time) {
	// The send already happened; a cancelled cycle context must not skip the write.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ok, err := e.gate.Release(ctx, sl.ownerID, sl.held, next)
	if err != nil {
		log.WithError(err).Error("Failed to store owner cooldown")
		return
	}
	if !ok {
		log.WithField("held_until", sl.held).Warn("Send slot expired before release, cooldown left to its new holder")
	}
}

func (e *engine) sendCooldown() time.Duration {
	return e.rng.between(e.opts.CooldownMin, e.opts.CooldownMax)
}

func (e *engine) shortCooldown() time.Duration {
	return e.rng.between(e.opts.InvalidCooldownMin, e.opts.InvalidCooldownMax)
}

func (e *engine) publish(ctx context.Context, log *logrus.Entry, ev events.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now()
	}
	if err := e.Publisher.Publish(ctx, ev); err != nil {
		log.WithError(err).WithField("event", ev.Type).Warn("Failed to publish event")
	}
}

// SetClock replaces the time source. Used by tests and replays.
func (e *engine) SetClock(now func() time.Time) {
	e.now = now
}
