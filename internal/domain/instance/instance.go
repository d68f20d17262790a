package instance

import (
	"database/sql"
	"time"
)

// Status is the connectivity state of a messaging account.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Instance is a connected messaging account belonging to one owner.
type Instance struct {
	ID          int64
	OwnerID     int64
	Name        string // instance name on the gateway
	Status      Status
	ConnectedAt sql.NullTime
	UpdatedAt   time.Time
}

// Connected reports whether the instance can send right now.
func (i *Instance) Connected() bool {
	return i.Status == StatusConnected
}
