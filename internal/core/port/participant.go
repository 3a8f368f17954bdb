package port

import (
	"context"

	"github.com/Wyydra/medsignal/internal/core/domain"
)

// Participant is one connected signaling client.
type Participant interface {
	ID() domain.ParticipantID
	Send(env domain.Envelope) error
	Close() error
}

// Directory resolves connection ids to live participants.
type Directory interface {
	Lookup(id domain.ParticipantID) (Participant, bool)
}

// SignalHandler receives connection lifecycle and inbound frames. Calls are
// made from a single goroutine.
type SignalHandler interface {
	Connected(ctx context.Context, p Participant)
	Handle(ctx context.Context, p Participant, env domain.Envelope)
	Disconnected(ctx context.Context, p Participant)
}
