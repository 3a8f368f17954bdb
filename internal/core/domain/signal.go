package domain

import (
	"encoding/json"
	"fmt"
)

// SignalKind is one of the three relayed negotiation messages.
type SignalKind = Event

// Outbound is what a client sends: the payload plus who should get it.
type Outbound struct {
	Target    ParticipantID   `json:"target"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Inbound is what the server forwards, tagged with the sender.
type Inbound struct {
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Caller    ParticipantID   `json:"caller"`
}

// Signal is a decoded relay request. Payload is never inspected.
type Signal struct {
	Kind    SignalKind
	Target  ParticipantID
	Payload json.RawMessage
}

func IsSignal(ev Event) bool {
	switch ev {
	case EventOffer, EventAnswer, EventIceCandidate:
		return true
	}
	return false
}

// ParseSignal extracts a relay request from a client envelope.
func ParseSignal(env Envelope) (Signal, error) {
	if !IsSignal(env.Event) {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	var out Outbound
	if err := env.Decode(&out); err != nil {
		return Signal{}, err
	}
	if out.Target == "" {
		return Signal{}, fmt.Errorf("%w: %s without target", ErrMalformedFrame, env.Event)
	}
	payload := out.SDP
	if env.Event == EventIceCandidate {
		payload = out.Candidate
	}
	if len(payload) == 0 {
		return Signal{}, fmt.Errorf("%w: %s without payload", ErrMalformedFrame, env.Event)
	}
	return Signal{Kind: env.Event, Target: out.Target, Payload: payload}, nil
}

// Forward builds the envelope delivered to the target.
func (s Signal) Forward(caller ParticipantID) (Envelope, error) {
	in := Inbound{Caller: caller}
	if s.Kind == EventIceCandidate {
		in.Candidate = s.Payload
	} else {
		in.SDP = s.Payload
	}
	return NewEnvelope(s.Kind, in)
}

// Outgoing builds the envelope a client sends for this signal.
func (s Signal) Outgoing() (Envelope, error) {
	out := Outbound{Target: s.Target}
	if s.Kind == EventIceCandidate {
		out.Candidate = s.Payload
	} else {
		out.SDP = s.Payload
	}
	return NewEnvelope(s.Kind, out)
}
