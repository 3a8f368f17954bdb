package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wyydra/medsignal/internal/core/domain"
)

func TestRoomRegistry_JoinAssignsRolesInArrivalOrder(t *testing.T) {
	r := NewRoomRegistry(2)

	first, err := r.Join("room-1", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleResponder, first.Role)
	assert.Empty(t, first.Peers)

	second, err := r.Join("room-1", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleInitiator, second.Role)
	assert.Equal(t, []domain.ParticipantID{"a"}, second.Peers)
	assert.True(t, r.SameRoom("a", "b"))
}

func TestRoomRegistry_CapacityIsEnforced(t *testing.T) {
	r := NewRoomRegistry(2)
	_, err := r.Join("room-1", "a")
	require.NoError(t, err)
	_, err = r.Join("room-1", "b")
	require.NoError(t, err)

	_, err = r.Join("room-1", "c")
	require.ErrorIs(t, err, domain.ErrRoomFull)
	_, ok := r.RoomOf("c")
	assert.False(t, ok)
	assert.Len(t, r.Members("room-1"), 2)
}

func TestRoomRegistry_HasRoom(t *testing.T) {
	r := NewRoomRegistry(2)
	assert.True(t, r.HasRoom("room-1"))
	_, _ = r.Join("room-1", "a")
	assert.True(t, r.HasRoom("room-1"))
	_, _ = r.Join("room-1", "b")
	assert.False(t, r.HasRoom("room-1"))

	assert.True(t, NewRoomRegistry(0).HasRoom("room-1"))
}

func TestRoomRegistry_UnboundedWhenCapacityZero(t *testing.T) {
	r := NewRoomRegistry(0)
	for _, id := range []domain.ParticipantID{"a", "b", "c", "d"} {
		_, err := r.Join("room-1", id)
		require.NoError(t, err)
	}
	assert.Len(t, r.Members("room-1"), 4)
}

func TestRoomRegistry_RejoinSameRoom(t *testing.T) {
	r := NewRoomRegistry(2)
	_, err := r.Join("room-1", "a")
	require.NoError(t, err)
	_, err = r.Join("room-1", "b")
	require.NoError(t, err)

	again, err := r.Join("room-1", "b")
	require.NoError(t, err)
	assert.True(t, again.Rejoined)
	assert.Equal(t, domain.RoleInitiator, again.Role)
	assert.Len(t, r.Members("room-1"), 2)
}

func TestRoomRegistry_JoinOtherRoomRequiresLeave(t *testing.T) {
	r := NewRoomRegistry(2)
	_, err := r.Join("room-1", "a")
	require.NoError(t, err)

	_, err = r.Join("room-2", "a")
	require.ErrorIs(t, err, domain.ErrAlreadyInRoom)
}

func TestRoomRegistry_LeaveRemovesAndCollectsEmptyRooms(t *testing.T) {
	r := NewRoomRegistry(2)
	_, _ = r.Join("room-1", "a")
	_, _ = r.Join("room-1", "b")

	room, remaining, ok := r.Leave("a")
	require.True(t, ok)
	assert.Equal(t, domain.RoomID("room-1"), room)
	assert.Equal(t, []domain.ParticipantID{"b"}, remaining)
	assert.False(t, r.SameRoom("a", "b"))

	// b is now first in the room, so it answers the next joiner.
	next, err := r.Join("room-1", "c")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleInitiator, next.Role)
	assert.Equal(t, []domain.ParticipantID{"b"}, next.Peers)

	_, _, _ = r.Leave("b")
	_, _, _ = r.Leave("c")
	assert.Equal(t, 0, r.Rooms())

	_, _, ok = r.Leave("c")
	assert.False(t, ok)
}

func TestRoomRegistry_Close(t *testing.T) {
	r := NewRoomRegistry(2)
	_, _ = r.Join("room-1", "a")
	r.Close()
	assert.Equal(t, 0, r.Rooms())
	_, ok := r.RoomOf("a")
	assert.False(t, ok)
}
