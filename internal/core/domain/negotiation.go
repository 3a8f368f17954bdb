package domain

type NegotiationState int

const (
	StateDisconnected NegotiationState = iota
	StateJoining
	StateOffering
	StateAwaitingAnswer
	StateAnswering
	StateConnected
	StateFailed
)

func (s NegotiationState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type TriggerKind int

const (
	TriggerConnected TriggerKind = iota
	TriggerDisconnected
	TriggerWelcome
	TriggerJoined
	TriggerPeerConnected
	TriggerPeerLeft
	TriggerOffer
	TriggerAnswer
	TriggerCandidate
	TriggerOfferSent
	TriggerAnswerSent
	TriggerLinkUp
	TriggerLinkFailed
	TriggerTimeout
	TriggerRejoin
	TriggerLeave
)

var triggerEvents = map[TriggerKind]Event{
	TriggerWelcome:       EventWelcome,
	TriggerJoined:        EventJoined,
	TriggerPeerConnected: EventPeerConnected,
	TriggerPeerLeft:      EventPeerLeft,
	TriggerOffer:         EventOffer,
	TriggerAnswer:        EventAnswer,
	TriggerCandidate:     EventIceCandidate,
}

// Trigger is one input to the negotiation machine. Peer carries the caller,
// the new peer or our own id depending on Kind.
type Trigger struct {
	Kind TriggerKind
	Peer ParticipantID
	Role Role
}

// Action tells the coordinator which side effect the transition needs.
type Action int

const (
	ActionNone Action = iota
	ActionJoin
	ActionCreateOffer
	ActionCreateAnswer
	ActionApplyAnswer
	ActionApplyCandidate
	ActionResetPeer
	ActionRejoin
	ActionTeardown
	ActionEstablished
)

// Negotiation is the client side session state. It is a value: Apply returns
// the next state and never mutates the receiver.
type Negotiation struct {
	State       NegotiationState
	Role        Role
	Self        ParticipantID
	Peer        ParticipantID
	Established bool
}

// Negotiating reports whether the session is waiting on the network to make
// progress and should be bounded by a timeout.
func (n Negotiation) Negotiating() bool {
	switch n.State {
	case StateOffering, StateAwaitingAnswer, StateAnswering:
		return true
	case StateConnected:
		return !n.Established
	}
	return false
}

func (n Negotiation) reject(t Trigger, reason string) (Negotiation, Action, error) {
	ev, ok := triggerEvents[t.Kind]
	if !ok {
		ev = "internal"
	}
	return n, ActionNone, newProtocolError(ev, n.State, reason)
}

func (n Negotiation) Apply(t Trigger) (Negotiation, Action, error) {
	next := n
	switch t.Kind {
	case TriggerLeave:
		return Negotiation{State: StateDisconnected}, ActionTeardown, nil

	case TriggerConnected:
		if n.State != StateDisconnected {
			return n, ActionNone, nil
		}
		next.State = StateJoining
		return next, ActionJoin, nil

	case TriggerDisconnected:
		if n.State == StateDisconnected {
			return n, ActionNone, nil
		}
		return Negotiation{State: StateDisconnected}, ActionResetPeer, nil

	case TriggerWelcome:
		next.Self = t.Peer
		return next, ActionNone, nil

	case TriggerJoined:
		if n.State != StateJoining {
			return n.reject(t, "joined outside of join")
		}
		next.Role = t.Role
		if t.Role == RoleInitiator && t.Peer != "" {
			next.State = StateOffering
			next.Peer = t.Peer
			return next, ActionCreateOffer, nil
		}
		return next, ActionNone, nil

	case TriggerPeerConnected:
		if n.State != StateJoining || n.Role == RoleInitiator {
			return n.reject(t, "peer connected while negotiating")
		}
		if n.Peer != "" && n.Peer != t.Peer {
			return n.reject(t, "second peer in room")
		}
		next.Peer = t.Peer
		return next, ActionNone, nil

	case TriggerOffer:
		if n.State != StateJoining || n.Role == RoleInitiator {
			return n.reject(t, "offer while not waiting for one")
		}
		if n.Peer != "" && n.Peer != t.Peer {
			return n.reject(t, "offer from unknown caller")
		}
		next.State = StateAnswering
		next.Role = RoleResponder
		next.Peer = t.Peer
		return next, ActionCreateAnswer, nil

	case TriggerOfferSent:
		if n.State != StateOffering {
			return n.reject(t, "offer sent outside of offering")
		}
		next.State = StateAwaitingAnswer
		return next, ActionNone, nil

	case TriggerAnswerSent:
		if n.State != StateAnswering {
			return n.reject(t, "answer sent outside of answering")
		}
		next.State = StateConnected
		return next, ActionNone, nil

	case TriggerAnswer:
		if n.State != StateAwaitingAnswer {
			return n.reject(t, "answer with no outstanding offer")
		}
		if t.Peer != n.Peer {
			return n.reject(t, "answer from unknown caller")
		}
		next.State = StateConnected
		return next, ActionApplyAnswer, nil

	case TriggerCandidate:
		if n.Peer == "" || t.Peer != n.Peer {
			return n.reject(t, "candidate from unknown caller")
		}
		switch n.State {
		case StateJoining, StateOffering, StateAwaitingAnswer, StateAnswering, StateConnected:
			return n, ActionApplyCandidate, nil
		}
		return n.reject(t, "candidate outside of negotiation")

	case TriggerLinkUp:
		if n.State != StateConnected || n.Established {
			return n, ActionNone, nil
		}
		next.Established = true
		return next, ActionEstablished, nil

	case TriggerLinkFailed, TriggerTimeout:
		if t.Kind == TriggerTimeout && !n.Negotiating() {
			return n, ActionNone, nil
		}
		switch n.State {
		case StateOffering, StateAwaitingAnswer, StateAnswering, StateConnected:
			next.State = StateFailed
			next.Established = false
			return next, ActionNone, nil
		}
		return n, ActionNone, nil

	case TriggerPeerLeft:
		if n.State == StateDisconnected || (n.Peer != "" && t.Peer != n.Peer) {
			return n, ActionNone, nil
		}
		return Negotiation{State: StateJoining, Role: RoleResponder, Self: n.Self}, ActionResetPeer, nil

	case TriggerRejoin:
		if n.State == StateDisconnected {
			return n, ActionNone, nil
		}
		return Negotiation{State: StateJoining, Self: n.Self}, ActionRejoin, nil
	}
	return n, ActionNone, nil
}
