package cooldown

import (
	"context"
	"time"
)

// Store is the durable per-account "earliest next send" clock shared by the
// dispatch loop, the cadence loop and every replica of both.
type Store interface {
	// NextSendAt returns the earliest time the owner may send again.
	// A zero time means the owner has never sent.
	NextSendAt(ctx context.Context, ownerID int64) (time.Time, error)
	// TryAcquire sets next_send_at to holdUntil only if it is <= now, and
	// reports whether this caller won the slot.
	TryAcquire(ctx context.Context, ownerID int64, now, holdUntil time.Time) (bool, error)
	// Release sets next_send_at to next only while it still equals held,
	// so a holder whose slot expired cannot clobber the next holder's value.
	Release(ctx context.Context, ownerID int64, held, next time.Time) (bool, error)
}
