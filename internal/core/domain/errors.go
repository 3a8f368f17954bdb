package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRoom    = errors.New("invalid room id")
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyInRoom  = errors.New("participant already in another room")
	ErrNotInRoom      = errors.New("participant is not in a room")
	ErrMediaDenied    = errors.New("media capture denied")
	ErrNotConnected   = errors.New("signaling transport not connected")
	ErrSessionClosed  = errors.New("session closed")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnexpectedRoom = errors.New("joined an unexpected room")
)

// ProtocolError reports a signal that does not fit the current negotiation
// state, such as an answer with no outstanding offer.
type ProtocolError struct {
	Event  Event
	State  NegotiationState
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s in state %s: %s", e.Event, e.State, e.Reason)
}

func newProtocolError(ev Event, st NegotiationState, reason string) *ProtocolError {
	return &ProtocolError{Event: ev, State: st, Reason: reason}
}
