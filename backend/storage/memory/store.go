package memory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/krishimitra/relay/backend/model"
)

var (
	ErrRoomNotFound   = errors.New("room is not found")
	ErrAlreadyJoined  = errors.New("connection already joined a room")
	ErrModeMismatch   = errors.New("room belongs to another relay mode")
	ErrInvalidSession = errors.New("invalid session")
)

type session struct {
	roomID string
	p      model.Participant
}

// MemStore is the room registry. Rooms and the reverse connection index
// are always mutated together under mx.
type MemStore struct {
	mx       *sync.Mutex
	db       map[string]*model.Room
	sessions map[string]session
	now      func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx:       &sync.Mutex{},
		db:       make(map[string]*model.Room),
		sessions: make(map[string]session),
		now:      time.Now,
	}
}

func (ms *MemStore) Register(connID, roomID string, mode model.Mode, role model.Role, name string) error {
	if connID == "" || roomID == "" || !role.Valid() {
		return ErrInvalidSession
	}

	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.sessions[connID]; ok {
		return ErrAlreadyJoined
	}

	now := ms.now()
	room, ok := ms.db[roomID]
	if !ok {
		room = &model.Room{
			ID:        roomID,
			Mode:      mode,
			CreatedAt: now,
		}
		ms.db[roomID] = room
	} else if room.Mode != mode {
		return ErrModeMismatch
	}

	p := model.Participant{
		ConnID:   connID,
		Role:     role,
		Name:     name,
		JoinedAt: now,
	}
	room.Participants = append(room.Participants, p)
	ms.sessions[connID] = session{roomID: roomID, p: p}
	return nil
}

func (ms *MemStore) UnregisterConnection(connID string) (string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	s, ok := ms.sessions[connID]
	if !ok {
		return "", false
	}
	delete(ms.sessions, connID)

	room, ok := ms.db[s.roomID]
	if !ok {
		return s.roomID, true
	}
	for i, p := range room.Participants {
		if p.ConnID == connID {
			room.Participants = append(room.Participants[:i], room.Participants[i+1:]...)
			break
		}
	}
	if len(room.Participants) == 0 {
		delete(ms.db, s.roomID)
	}
	return s.roomID, true
}

func (ms *MemStore) UnregisterRoom(roomID string) []string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(room.Participants))
	for _, p := range room.Participants {
		members = append(members, p.ConnID)
		delete(ms.sessions, p.ConnID)
	}
	delete(ms.db, roomID)
	return members
}

func (ms *MemStore) ListParticipants(roomID string) []model.Participant {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil
	}
	out := make([]model.Participant, len(room.Participants))
	copy(out, room.Participants)
	return out
}

func (ms *MemStore) HasRole(roomID string, role model.Role) bool {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return false
	}
	for _, p := range room.Participants {
		if p.Role == role {
			return true
		}
	}
	return false
}

func (ms *MemStore) Session(connID string) (model.Participant, string, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	s, ok := ms.sessions[connID]
	return s.p, s.roomID, ok
}

// AppendMessage keeps at most limit messages per room, dropping the oldest.
// A non-positive limit disables history.
func (ms *MemStore) AppendMessage(roomID string, msg model.ChatMessage, limit int) bool {
	if limit <= 0 {
		return false
	}

	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return false
	}
	room.History = append(room.History, msg)
	if over := len(room.History) - limit; over > 0 {
		room.History = append(room.History[:0], room.History[over:]...)
	}
	return true
}

func (ms *MemStore) Messages(roomID string) ([]model.ChatMessage, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	out := make([]model.ChatMessage, len(room.History))
	copy(out, room.History)
	return out, nil
}

func (ms *MemStore) GetRoom(roomID string) (model.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	if !ok {
		return model.Room{}, ErrRoomNotFound
	}
	return copyRoom(room), nil
}

func (ms *MemStore) ListRooms() []model.RoomInfo {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	out := make([]model.RoomInfo, 0, len(ms.db))
	for _, room := range ms.db {
		out = append(out, model.RoomInfo{
			ID:           room.ID,
			Mode:         room.Mode,
			State:        room.State(),
			Participants: len(room.Participants),
			CreatedAt:    room.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stats returns the number of live rooms and registered sessions.
func (ms *MemStore) Stats() (rooms, sessions int) {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	return len(ms.db), len(ms.sessions)
}

func copyRoom(room *model.Room) model.Room {
	out := *room
	out.Participants = make([]model.Participant, len(room.Participants))
	copy(out.Participants, room.Participants)
	out.History = make([]model.ChatMessage, len(room.History))
	copy(out.History, room.History)
	return out
}
