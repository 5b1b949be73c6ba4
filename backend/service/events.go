package service

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/krishimitra/relay/backend/model"
)

// Error codes reported to clients in error announcements.
const (
	CodeBadRequest    = "bad-request"
	CodeUnknownEvent  = "unknown-event"
	CodeInvalidRole   = "invalid-role"
	CodeAlreadyJoined = "already-joined"
	CodeNotAMember    = "not-a-member"
	CodeModeMismatch  = "mode-mismatch"
)

type EventError struct {
	Code    string
	Message string
}

func (e *EventError) Error() string {
	return e.Code + ": " + e.Message
}

func badRequest(format string, args ...any) *EventError {
	return &EventError{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Event is one validated inbound event.
type Event interface {
	Name() string
	Room() string
	Sender() string
}

type JoinEvent struct {
	Type     string
	RoomID   string
	Src      string
	Role     model.Role
	UserName string
}

type RelayEvent struct {
	Type    string
	RoomID  string
	Src     string
	Payload json.RawMessage
}

// MessageEvent is a relayed chat message that is also kept in room history.
type MessageEvent struct {
	RelayEvent
	Message  string
	From     string
	UserType string
}

type EndEvent struct {
	Type   string
	RoomID string
	Src    string
}

func (e JoinEvent) Name() string    { return e.Type }
func (e JoinEvent) Room() string    { return e.RoomID }
func (e JoinEvent) Sender() string  { return e.Src }
func (e RelayEvent) Name() string   { return e.Type }
func (e RelayEvent) Room() string   { return e.RoomID }
func (e RelayEvent) Sender() string { return e.Src }
func (e EndEvent) Name() string     { return e.Type }
func (e EndEvent) Room() string     { return e.RoomID }
func (e EndEvent) Sender() string   { return e.Src }

type joinPayload struct {
	RoomID   string `json:"roomId"`
	UserType string `json:"userType"`
	UserName string `json:"userName"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type togglePayload struct {
	RoomID   string `json:"roomId"`
	VideoOff *bool  `json:"videoOff"`
	Muted    *bool  `json:"muted"`
}

type messagePayload struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Sender   string `json:"sender"`
	UserType string `json:"userType"`
}

// Decode turns an inbound announcement into a typed event of the given event set.
func Decode(events model.EventSet, ann model.Announcement) (Event, error) {
	if ann.Type == "" {
		return nil, badRequest("malformed event: type is required")
	}
	if _, relayed := events.Relay[ann.Type]; !relayed && ann.Type != events.Join && ann.Type != events.End {
		return nil, &EventError{Code: CodeUnknownEvent, Message: fmt.Sprintf("unknown event %q", ann.Type)}
	}

	payload := bytes.TrimSpace(ann.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, badRequest("%s: payload is required", ann.Type)
	}

	switch ann.Type {
	case events.Join:
		var p joinPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, badRequest("%s: %v", ann.Type, err)
		}
		if p.RoomID == "" {
			return nil, badRequest("%s: roomId is required", ann.Type)
		}
		role := model.Role(p.UserType)
		if !role.Valid() {
			return nil, &EventError{
				Code:    CodeInvalidRole,
				Message: fmt.Sprintf("userType must be %q or %q", model.RoleFarmer, model.RoleExpert),
			}
		}
		return JoinEvent{
			Type:     ann.Type,
			RoomID:   p.RoomID,
			Src:      ann.SRC,
			Role:     role,
			UserName: p.UserName,
		}, nil

	case events.End:
		roomID, err := decodeRoomRef(payload)
		if err != nil {
			return nil, badRequest("%s: %v", ann.Type, err)
		}
		return EndEvent{Type: ann.Type, RoomID: roomID, Src: ann.SRC}, nil
	}

	relay := RelayEvent{Type: ann.Type, Src: ann.SRC, Payload: ann.Payload}

	switch ann.Type {
	case events.Message:
		var p messagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, badRequest("%s: %v", ann.Type, err)
		}
		if p.RoomID == "" {
			return nil, badRequest("%s: roomId is required", ann.Type)
		}
		if p.Message == "" {
			return nil, badRequest("%s: message is required", ann.Type)
		}
		relay.RoomID = p.RoomID
		return MessageEvent{
			RelayEvent: relay,
			Message:    p.Message,
			From:       p.Sender,
			UserType:   p.UserType,
		}, nil

	case "video-toggle", "audio-toggle":
		var p togglePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, badRequest("%s: %v", ann.Type, err)
		}
		relay.RoomID = p.RoomID

	default:
		var p roomPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, badRequest("%s: %v", ann.Type, err)
		}
		relay.RoomID = p.RoomID
	}

	if relay.RoomID == "" {
		return nil, badRequest("%s: roomId is required", ann.Type)
	}
	return relay, nil
}

// decodeRoomRef accepts a bare room id string or an object with roomId.
func decodeRoomRef(payload []byte) (string, error) {
	var roomID string
	if err := json.Unmarshal(payload, &roomID); err == nil {
		if roomID == "" {
			return "", fmt.Errorf("roomId is required")
		}
		return roomID, nil
	}
	var p roomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", err
	}
	if p.RoomID == "" {
		return "", fmt.Errorf("roomId is required")
	}
	return p.RoomID, nil
}
