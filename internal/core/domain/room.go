package domain

import "slices"

type Role string

const (
	// RoleResponder waits for an offer. The first member of a room gets it.
	RoleResponder Role = "responder"
	// RoleInitiator sends the offer. Every later member gets it.
	RoleInitiator Role = "initiator"
)

// Room keeps its members in arrival order.
type Room struct {
	ID      RoomID
	members []ParticipantID
}

func NewRoom(id RoomID) *Room {
	return &Room{ID: id}
}

func (r *Room) Add(id ParticipantID) {
	if r.Has(id) {
		return
	}
	r.members = append(r.members, id)
}

func (r *Room) Remove(id ParticipantID) bool {
	i := slices.Index(r.members, id)
	if i < 0 {
		return false
	}
	r.members = slices.Delete(r.members, i, i+1)
	return true
}

func (r *Room) Has(id ParticipantID) bool {
	return slices.Contains(r.members, id)
}

func (r *Room) Len() int {
	return len(r.members)
}

func (r *Room) Empty() bool {
	return len(r.members) == 0
}

// RoleOf derives the role from arrival order.
func (r *Room) RoleOf(id ParticipantID) Role {
	if len(r.members) > 0 && r.members[0] == id {
		return RoleResponder
	}
	return RoleInitiator
}

// Members returns a copy of the member list.
func (r *Room) Members() []ParticipantID {
	return slices.Clone(r.members)
}

// Others returns every member except id, in arrival order.
func (r *Room) Others(id ParticipantID) []ParticipantID {
	out := make([]ParticipantID, 0, len(r.members))
	for _, m := range r.members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// Membership is the result of joining a room.
type Membership struct {
	Room     RoomID
	Role     Role
	Peers    []ParticipantID
	Rejoined bool
}
