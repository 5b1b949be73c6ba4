package memory

import (
	"testing"
	"time"

	"github.com/krishimitra/relay/backend/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_RegisterKeepsJoinOrder(t *testing.T) {
	ms := NewMemStore()

	require.NoError(t, ms.Register("a", "r1", model.ModeVideo, model.RoleFarmer, ""))
	require.NoError(t, ms.Register("b", "r1", model.ModeVideo, model.RoleExpert, ""))
	require.NoError(t, ms.Register("c", "r1", model.ModeVideo, model.RoleFarmer, "Ravi"))

	parts := ms.ListParticipants("r1")
	require.Len(t, parts, 3)
	assert.Equal(t, "a", parts[0].ConnID)
	assert.Equal(t, "b", parts[1].ConnID)
	assert.Equal(t, "c", parts[2].ConnID)
	assert.Equal(t, "Ravi", parts[2].Name)

	assert.True(t, ms.HasRole("r1", model.RoleExpert))
	assert.True(t, ms.HasRole("r1", model.RoleFarmer))
	assert.False(t, ms.HasRole("r2", model.RoleFarmer))
}

func TestMemStore_RegisterRejects(t *testing.T) {
	ms := NewMemStore()
	require.NoError(t, ms.Register("a", "r1", model.ModeChat, model.RoleFarmer, ""))

	assert.ErrorIs(t, ms.Register("a", "r1", model.ModeChat, model.RoleFarmer, ""), ErrAlreadyJoined)
	assert.ErrorIs(t, ms.Register("a", "r2", model.ModeChat, model.RoleExpert, ""), ErrAlreadyJoined)
	assert.ErrorIs(t, ms.Register("b", "r1", model.ModeVideo, model.RoleExpert, ""), ErrModeMismatch)
	assert.ErrorIs(t, ms.Register("b", "r1", model.ModeChat, model.Role("admin"), ""), ErrInvalidSession)
	assert.ErrorIs(t, ms.Register("", "r1", model.ModeChat, model.RoleFarmer, ""), ErrInvalidSession)

	assert.Len(t, ms.ListParticipants("r1"), 1)
	_, err := ms.GetRoom("r2")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMemStore_UnregisterConnection(t *testing.T) {
	ms := NewMemStore()
	require.NoError(t, ms.Register("a", "r1", model.ModeVideo, model.RoleFarmer, ""))
	require.NoError(t, ms.Register("b", "r1", model.ModeVideo, model.RoleExpert, ""))

	roomID, ok := ms.UnregisterConnection("a")
	require.True(t, ok)
	assert.Equal(t, "r1", roomID)
	_, _, ok = ms.Session("a")
	assert.False(t, ok)
	assert.Len(t, ms.ListParticipants("r1"), 1)

	roomID, ok = ms.UnregisterConnection("b")
	require.True(t, ok)
	assert.Equal(t, "r1", roomID)
	assert.Empty(t, ms.ListParticipants("r1"))
	_, err := ms.GetRoom("r1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, ok = ms.UnregisterConnection("b")
	assert.False(t, ok)

	rooms, sessions := ms.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, sessions)
}

func TestMemStore_UnregisterRoom(t *testing.T) {
	ms := NewMemStore()
	require.NoError(t, ms.Register("a", "r1", model.ModeChat, model.RoleFarmer, ""))
	require.NoError(t, ms.Register("b", "r1", model.ModeChat, model.RoleExpert, ""))
	require.NoError(t, ms.Register("c", "r2", model.ModeChat, model.RoleFarmer, ""))

	assert.Equal(t, []string{"a", "b"}, ms.UnregisterRoom("r1"))
	assert.Nil(t, ms.UnregisterRoom("r1"))

	_, _, ok := ms.Session("a")
	assert.False(t, ok)
	_, roomID, ok := ms.Session("c")
	assert.True(t, ok)
	assert.Equal(t, "r2", roomID)

	// a connection freed by a room teardown may join again
	require.NoError(t, ms.Register("a", "r3", model.ModeChat, model.RoleFarmer, ""))
}

func TestMemStore_History(t *testing.T) {
	ms := NewMemStore()
	require.NoError(t, ms.Register("a", "r1", model.ModeChat, model.RoleFarmer, ""))

	for _, text := range []string{"one", "two", "three"} {
		assert.True(t, ms.AppendMessage("r1", model.ChatMessage{Message: text}, 2))
	}
	assert.False(t, ms.AppendMessage("r1", model.ChatMessage{Message: "x"}, 0))
	assert.False(t, ms.AppendMessage("nope", model.ChatMessage{Message: "x"}, 2))

	msgs, err := ms.Messages("r1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Message)
	assert.Equal(t, "three", msgs[1].Message)

	_, err = ms.Messages("nope")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMemStore_ListRooms(t *testing.T) {
	ms := NewMemStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	ms.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	require.NoError(t, ms.Register("a", "r2", model.ModeVideo, model.RoleFarmer, ""))
	require.NoError(t, ms.Register("b", "r1", model.ModeVideo, model.RoleExpert, ""))
	require.NoError(t, ms.Register("c", "r1", model.ModeVideo, model.RoleFarmer, ""))

	rooms := ms.ListRooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "r2", rooms[0].ID)
	assert.Equal(t, model.StateWaitingForExpert, rooms[0].State)
	assert.Equal(t, "r1", rooms[1].ID)
	assert.Equal(t, model.StateReady, rooms[1].State)
	assert.Equal(t, 2, rooms[1].Participants)
}

func TestMemStore_SnapshotsAreCopies(t *testing.T) {
	ms := NewMemStore()
	require.NoError(t, ms.Register("a", "r1", model.ModeChat, model.RoleFarmer, ""))

	parts := ms.ListParticipants("r1")
	parts[0].ConnID = "mutated"

	room, err := ms.GetRoom("r1")
	require.NoError(t, err)
	room.Participants[0].Role = model.RoleExpert

	assert.Equal(t, "a", ms.ListParticipants("r1")[0].ConnID)
	assert.False(t, ms.HasRole("r1", model.RoleExpert))
}
