package gateway

import (
	"context"
	"errors"
)

var ErrInstanceNotConnected = errors.New("gateway instance is not connected")

// Media is an attachment sent ahead of a step's text.
type Media struct {
	Type     string // image, video, document, audio
	MimeType string
	FileName string
	Base64   string
	Caption  string
}

// ConnectionState is the gateway-side state of an instance.
type ConnectionState string

const (
	StateOpen       ConnectionState = "open"
	StateConnecting ConnectionState = "connecting"
	StateClose      ConnectionState = "close"
)

// Client wraps the external messaging gateway operations used by the engine.
// All calls block until the gateway answers or the client timeout expires.
type Client interface {
	VerifyPhone(ctx context.Context, instance, phone string) (bool, error)
	SendText(ctx context.Context, instance, phone, text string) (string, error)
	SendMedia(ctx context.Context, instance, phone string, media Media) error
	ConnectionState(ctx context.Context, instance string) (ConnectionState, error)
}
