package port

import (
	"context"

	"github.com/Wyydra/medsignal/internal/core/domain"
)

type TransportEventKind int

const (
	TransportConnected TransportEventKind = iota
	TransportDisconnected
	TransportMessage
)

type TransportEvent struct {
	Kind     TransportEventKind
	Envelope domain.Envelope
	Err      error
}

// SignalingTransport is the client side connection to the signaling server.
// Run dials and keeps the connection alive until ctx is done.
type SignalingTransport interface {
	Run(ctx context.Context) error
	Send(env domain.Envelope) error
	Events() <-chan TransportEvent
	Close() error
}
