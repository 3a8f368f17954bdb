package port

import "github.com/Wyydra/medsignal/internal/core/domain"

type DropReason string

const (
	DropSenderNotJoined   DropReason = "sender_not_joined"
	DropTargetUnreachable DropReason = "target_unreachable"
	DropNotInRoom         DropReason = "not_in_room"
	DropBackpressure      DropReason = "backpressure"
	DropMalformed         DropReason = "malformed"
)

type Metrics interface {
	ParticipantConnected()
	ParticipantDisconnected()
	RoomJoined()
	RoomsActive(n int)
	Relayed(kind domain.SignalKind)
	Dropped(reason DropReason)
}
