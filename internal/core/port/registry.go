package port

import "github.com/Wyydra/medsignal/internal/core/domain"

// RoomRegistry tracks which participants are in which room.
type RoomRegistry interface {
	Join(room domain.RoomID, id domain.ParticipantID) (domain.Membership, error)
	// HasRoom reports whether one more participant fits in room.
	HasRoom(room domain.RoomID) bool
	Leave(id domain.ParticipantID) (room domain.RoomID, remaining []domain.ParticipantID, ok bool)
	RoomOf(id domain.ParticipantID) (domain.RoomID, bool)
	Members(room domain.RoomID) []domain.ParticipantID
	SameRoom(a, b domain.ParticipantID) bool
	Rooms() int
	Close()
}
