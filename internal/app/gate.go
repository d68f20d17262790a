package app

import (
	"context"
	"fmt"
	"time"

	"outreach_engine/internal/domain/cooldown"
)

// accountGate enforces the shared per-account send spacing on top of the
// durable cooldown store.
type accountGate struct {
	store cooldown.Store
}

// Ready reports whether the owner's cooldown has elapsed at now.
func (g *accountGate) Ready(ctx context.Context, ownerID int64, now time.Time) (bool, error) {
	next, err := g.store.NextSendAt(ctx, ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to read cooldown for owner %d: %w", ownerID, err)
	}
	return !next.After(now), nil
}

// Acquire reserves the owner's send slot until holdUntil. Only one caller
// across loops and replicas wins a given slot. The returned held value is
// what Release must present.
func (g *accountGate) Acquire(ctx context.Context, ownerID int64, now, holdUntil time.Time) (time.Time, bool, error) {
	// Postgres stores microseconds; Release compares against the stored value.
	held := holdUntil.Truncate(time.Microsecond)
	won, err := g.store.TryAcquire(ctx, ownerID, now, held)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to acquire send slot for owner %d: %w", ownerID, err)
	}
	return held, won, nil
}

// Release ends a held slot and sets the next allowed send time. It reports
// false when the slot had already expired and passed to another holder.
func (g *accountGate) Release(ctx context.Context, ownerID int64, held, next time.Time) (bool, error) {
	ok, err := g.store.Release(ctx, ownerID, held, next)
	if err != nil {
		return false, fmt.Errorf("failed to set cooldown for owner %d: %w", ownerID, err)
	}
	return ok, nil
}
