package domain

import (
	"encoding/json"
	"fmt"
)

type Event string

const (
	// client -> server
	EventJoinRoom  Event = "join-room"
	EventLeaveRoom Event = "leave-room"

	// server -> client
	EventWelcome       Event = "welcome"
	EventJoined        Event = "joined"
	EventPeerConnected Event = "peer-connected"
	EventPeerLeft      Event = "peer-left"
	EventError         Event = "error"

	// both directions
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventIceCandidate Event = "ice-candidate"
)

// Envelope is a single websocket frame.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(ev Event, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev, err)
	}
	return Envelope{Event: ev, Data: raw}, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformedFrame, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, e.Event, err)
	}
	return nil
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type Welcome struct {
	PeerID ParticipantID `json:"peerId"`
}

type Joined struct {
	RoomID RoomID          `json:"roomId"`
	PeerID ParticipantID   `json:"peerId"`
	Role   Role            `json:"role"`
	Peers  []ParticipantID `json:"peers"`
}

type PeerConnected struct {
	PeerID ParticipantID `json:"peerId"`
	Role   Role          `json:"role"`
}

type PeerLeft struct {
	PeerID ParticipantID `json:"peerId"`
}

type ErrorCode string

const (
	CodeRoomFull    ErrorCode = "room-full"
	CodeInvalidRoom ErrorCode = "invalid-room"
)

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
