package memory

import (
	"sync"

	"github.com/Wyydra/medsignal/internal/core/domain"
)

// RoomRegistry implements port.RoomRegistry in process memory.
type RoomRegistry struct {
	mu       sync.RWMutex
	capacity int
	rooms    map[domain.RoomID]*domain.Room
	memberOf map[domain.ParticipantID]domain.RoomID
}

// NewRoomRegistry creates a registry. A capacity of zero or less means rooms
// are unbounded.
func NewRoomRegistry(capacity int) *RoomRegistry {
	return &RoomRegistry{
		capacity: capacity,
		rooms:    make(map[domain.RoomID]*domain.Room),
		memberOf: make(map[domain.ParticipantID]domain.RoomID),
	}
}

func (r *RoomRegistry) Join(roomID domain.RoomID, id domain.ParticipantID) (domain.Membership, error) {
	if roomID == "" {
		return domain.Membership{}, domain.ErrInvalidRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.memberOf[id]; ok {
		if current != roomID {
			return domain.Membership{}, domain.ErrAlreadyInRoom
		}
		room := r.rooms[roomID]
		return domain.Membership{
			Room:     roomID,
			Role:     room.RoleOf(id),
			Peers:    room.Others(id),
			Rejoined: true,
		}, nil
	}

	room, ok := r.rooms[roomID]
	if !ok {
		room = domain.NewRoom(roomID)
	}
	if r.capacity > 0 && room.Len() >= r.capacity {
		return domain.Membership{}, domain.ErrRoomFull
	}

	room.Add(id)
	r.rooms[roomID] = room
	r.memberOf[id] = roomID

	return domain.Membership{
		Room:  roomID,
		Role:  room.RoleOf(id),
		Peers: room.Others(id),
	}, nil
}

func (r *RoomRegistry) HasRoom(roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.capacity <= 0 {
		return true
	}
	room, ok := r.rooms[roomID]
	return !ok || room.Len() < r.capacity
}

func (r *RoomRegistry) Leave(id domain.ParticipantID) (domain.RoomID, []domain.ParticipantID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.memberOf[id]
	if !ok {
		return "", nil, false
	}
	delete(r.memberOf, id)

	room, ok := r.rooms[roomID]
	if !ok {
		return roomID, nil, true
	}
	room.Remove(id)
	if room.Empty() {
		delete(r.rooms, roomID)
		return roomID, nil, true
	}
	return roomID, room.Members(), true
}

func (r *RoomRegistry) RoomOf(id domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.memberOf[id]
	return roomID, ok
}

func (r *RoomRegistry) Members(roomID domain.RoomID) []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	return room.Members()
}

func (r *RoomRegistry) SameRoom(a, b domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ra, ok := r.memberOf[a]
	if !ok {
		return false
	}
	rb, ok := r.memberOf[b]
	return ok && ra == rb
}

func (r *RoomRegistry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close drops all rooms.
func (r *RoomRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.rooms)
	clear(r.memberOf)
}
