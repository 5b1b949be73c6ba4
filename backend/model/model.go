package model

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleExpert Role = "expert"
)

func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleExpert
}

// State is derived from the role composition of a room, it is never stored.
type State string

const (
	StateEmpty            State = "EMPTY"
	StateWaitingForExpert State = "WAITING_FOR_EXPERT"
	StateWaitingForFarmer State = "WAITING_FOR_FARMER"
	StateReady            State = "READY"
	StateEnded            State = "ENDED"
)

type Participant struct {
	ConnID   string    `json:"socketId"`
	Role     Role      `json:"userType"`
	Name     string    `json:"userName,omitempty"`
	JoinedAt time.Time `json:"joinedAt"`
}

type ChatMessage struct {
	ConnID   string    `json:"socketId"`
	Sender   string    `json:"sender"`
	UserType string    `json:"userType"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sentAt"`
}

type Room struct {
	ID           string        `json:"roomId"`
	Mode         Mode          `json:"mode"`
	Participants []Participant `json:"participants"`
	History      []ChatMessage `json:"-"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// State reports READY iff at least one expert and one farmer are present.
func (r *Room) State() State {
	var farmer, expert bool
	for _, p := range r.Participants {
		switch p.Role {
		case RoleFarmer:
			farmer = true
		case RoleExpert:
			expert = true
		}
	}
	switch {
	case len(r.Participants) == 0:
		return StateEmpty
	case farmer && expert:
		return StateReady
	case farmer:
		return StateWaitingForExpert
	default:
		return StateWaitingForFarmer
	}
}

type RoomInfo struct {
	ID           string    `json:"roomId"`
	Mode         Mode      `json:"mode"`
	State        State     `json:"state"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Announcement is the envelope of every frame exchanged with a connection.
type Announcement struct {
	DST     string          `json:"dst,omitempty"`
	SRC     string          `json:"src,omitempty"` // for inbound messages server re-assigns this based on websocket session
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Wire struct {
	RX chan Announcement
	TX chan Announcement
}

func NewWire(txBuffer int) Wire {
	return Wire{
		RX: make(chan Announcement),
		TX: make(chan Announcement, txBuffer),
	}
}
