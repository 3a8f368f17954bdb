package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
)

// SignalingService routes negotiation messages between the members of a
// room. It implements port.SignalHandler and expects to be driven from one
// goroutine.
type SignalingService struct {
	registry  port.RoomRegistry
	directory port.Directory
	metrics   port.Metrics
}

func NewSignalingService(registry port.RoomRegistry, directory port.Directory, metrics port.Metrics) *SignalingService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &SignalingService{
		registry:  registry,
		directory: directory,
		metrics:   metrics,
	}
}

func (s *SignalingService) Connected(ctx context.Context, p port.Participant) {
	s.metrics.ParticipantConnected()
	s.send(p, domain.EventWelcome, domain.Welcome{PeerID: p.ID()})
}

func (s *SignalingService) Disconnected(ctx context.Context, p port.Participant) {
	s.metrics.ParticipantDisconnected()
	s.leave(p.ID())
}

func (s *SignalingService) Handle(ctx context.Context, p port.Participant, env domain.Envelope) {
	l := log.With().Str("client_id", p.ID().String()).Str("event", string(env.Event)).Logger()

	switch {
	case env.Event == domain.EventJoinRoom:
		var req domain.JoinRoom
		if err := env.Decode(&req); err != nil {
			l.Warn().Err(err).Msg("Dropping join")
			s.metrics.Dropped(port.DropMalformed)
			return
		}
		s.Join(p, req.RoomID)

	case env.Event == domain.EventLeaveRoom:
		s.leave(p.ID())

	case domain.IsSignal(env.Event):
		sig, err := domain.ParseSignal(env)
		if err != nil {
			l.Warn().Err(err).Msg("Dropping signal")
			s.metrics.Dropped(port.DropMalformed)
			return
		}
		s.Relay(p.ID(), sig)

	default:
		l.Warn().Msg("Unknown event")
		s.metrics.Dropped(port.DropMalformed)
	}
}

// Join adds p to the room and tells the members already there.
func (s *SignalingService) Join(p port.Participant, rawRoomID string) {
	l := log.With().Str("client_id", p.ID().String()).Logger()

	roomID, err := domain.ParseRoomID(rawRoomID)
	if err != nil {
		l.Warn().Str("room_id", rawRoomID).Msg("Rejecting join with invalid room id")
		s.sendError(p, domain.CodeInvalidRoom, err)
		return
	}
	l = l.With().Str("room_id", roomID.String()).Logger()

	if current, ok := s.registry.RoomOf(p.ID()); ok && current != roomID {
		if !s.registry.HasRoom(roomID) {
			l.Info().Str("current_room", current.String()).Msg("Room full, staying in current room")
			s.sendError(p, domain.CodeRoomFull, domain.ErrRoomFull)
			return
		}
		l.Info().Str("previous_room", current.String()).Msg("Switching rooms")
		s.leave(p.ID())
	}

	m, err := s.registry.Join(roomID, p.ID())
	if err != nil {
		if errors.Is(err, domain.ErrRoomFull) {
			l.Info().Msg("Room full")
			s.sendError(p, domain.CodeRoomFull, err)
			return
		}
		l.Error().Err(err).Msg("Join failed")
		return
	}

	s.send(p, domain.EventJoined, domain.Joined{
		RoomID: roomID,
		PeerID: p.ID(),
		Role:   m.Role,
		Peers:  nonNil(m.Peers),
	})
	if m.Rejoined {
		l.Debug().Msg("Already in room")
		return
	}

	s.metrics.RoomJoined()
	s.metrics.RoomsActive(s.registry.Rooms())
	l.Info().Str("role", string(m.Role)).Int("count", len(m.Peers)+1).Msg("Client joined room")

	for _, id := range m.Peers {
		if other, ok := s.directory.Lookup(id); ok {
			s.send(other, domain.EventPeerConnected, domain.PeerConnected{PeerID: p.ID(), Role: m.Role})
		}
	}
}

// Relay forwards sig to its target when both ends share a room. Anything else
// is dropped without telling the sender.
func (s *SignalingService) Relay(from domain.ParticipantID, sig domain.Signal) {
	l := log.With().
		Str("client_id", from.String()).
		Str("target", sig.Target.String()).
		Str("event", string(sig.Kind)).
		Logger()

	if _, ok := s.registry.RoomOf(from); !ok {
		l.Debug().Msg("Dropping signal from client outside any room")
		s.metrics.Dropped(port.DropSenderNotJoined)
		return
	}
	target, ok := s.directory.Lookup(sig.Target)
	if !ok {
		l.Debug().Msg("Dropping signal for unreachable target")
		s.metrics.Dropped(port.DropTargetUnreachable)
		return
	}
	if !s.registry.SameRoom(from, sig.Target) {
		l.Debug().Msg("Dropping signal across rooms")
		s.metrics.Dropped(port.DropNotInRoom)
		return
	}

	env, err := sig.Forward(from)
	if err != nil {
		l.Error().Err(err).Msg("Failed to build relay frame")
		return
	}
	if err := target.Send(env); err != nil {
		l.Warn().Err(err).Msg("Dropping signal, target not accepting")
		s.metrics.Dropped(port.DropBackpressure)
		return
	}
	s.metrics.Relayed(sig.Kind)
}

func (s *SignalingService) leave(id domain.ParticipantID) {
	roomID, remaining, ok := s.registry.Leave(id)
	if !ok {
		return
	}
	s.metrics.RoomsActive(s.registry.Rooms())
	log.Info().
		Str("client_id", id.String()).
		Str("room_id", roomID.String()).
		Int("count", len(remaining)).
		Msg("Client left room")

	for _, other := range remaining {
		if p, ok := s.directory.Lookup(other); ok {
			s.send(p, domain.EventPeerLeft, domain.PeerLeft{PeerID: id})
		}
	}
}

func (s *SignalingService) send(p port.Participant, ev domain.Event, data any) {
	env, err := domain.NewEnvelope(ev, data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build frame")
		return
	}
	if err := p.Send(env); err != nil {
		log.Warn().Err(err).Str("client_id", p.ID().String()).Str("event", string(ev)).Msg("Error sending frame")
		s.metrics.Dropped(port.DropBackpressure)
	}
}

func (s *SignalingService) sendError(p port.Participant, code domain.ErrorCode, err error) {
	s.send(p, domain.EventError, domain.ErrorPayload{Code: code, Message: err.Error()})
}

func nonNil(ids []domain.ParticipantID) []domain.ParticipantID {
	if ids == nil {
		return []domain.ParticipantID{}
	}
	return ids
}

type nopMetrics struct{}

func (nopMetrics) ParticipantConnected()     {}
func (nopMetrics) ParticipantDisconnected()  {}
func (nopMetrics) RoomJoined()               {}
func (nopMetrics) RoomsActive(int)           {}
func (nopMetrics) Relayed(domain.SignalKind) {}
func (nopMetrics) Dropped(port.DropReason)   {}
