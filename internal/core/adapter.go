package core

import (
	"context"
	"errors"
)

var (
	ErrPrinterNotFound      = errors.New("printer not found")
	ErrPrinterOffline       = errors.New("printer is offline")
	ErrPrinterAlreadyExists = errors.New("printer already registered")
	ErrAdapterClosed        = errors.New("adapter closed")
)

// Adapter is one session with a physical printer. Vendor wire details
// (TLS/MQTT framing, REST polling, WebSocket handshakes) stay behind this
// contract; the core only ever sees CanonicalStatus.
//
// Push-capable adapters deliver frames on Events(); poll-only adapters
// return nil from Events() and are driven by the registry calling Status()
// on the configured interval. Both paths feed the same monitor loop.
type Adapter interface {
	Connect(ctx context.Context) error
	Status(ctx context.Context) (*CanonicalStatus, error)
	Pause(ctx context.Context) bool
	Resume(ctx context.Context) bool
	Cancel(ctx context.Context) bool
	Events() <-chan CanonicalStatus
	Close() error
}
