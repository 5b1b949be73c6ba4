package model

import "fmt"

type Mode string

const (
	ModeVideo Mode = "video"
	ModeChat  Mode = "chat"
)

// Outbound announcements shared by both modes.
const (
	AnnouncementTypeConnected         = "connected"
	AnnouncementTypeUserConnected     = "user-connected"
	AnnouncementTypeExpertJoined      = "expert-joined"
	AnnouncementTypeWaitingForExpert  = "waiting-for-expert"
	AnnouncementTypeNoExpertAvailable = "no-expert-available"
	AnnouncementTypeUserDisconnected  = "user-disconnected"
	AnnouncementTypeStartCall         = "start-call"
	AnnouncementTypeChatHistory       = "chat-history"
	AnnouncementTypeError             = "error"
)

// EventSet is the table of event names one relay mode speaks.
type EventSet struct {
	Mode  Mode
	Join  string
	End   string
	Ready string
	Ended string

	// Relay maps an inbound event name to the name peers receive it under.
	Relay map[string]string

	// Message is the inbound event carrying chat text that is kept in room history.
	Message string

	// StartCall tells the relay to ask the farmer side to create an offer once the room is ready.
	StartCall bool
}

var (
	VideoEvents = EventSet{
		Mode:  ModeVideo,
		Join:  "join-room",
		End:   "end-call",
		Ready: "call-ready",
		Ended: "call-ended",
		Relay: map[string]string{
			"offer":         "offer",
			"answer":        "answer",
			"ice-candidate": "ice-candidate",
			"video-toggle":  "remote-video-toggle",
			"audio-toggle":  "remote-audio-toggle",
			"chat-message":  "chat-message",
		},
		StartCall: true,
	}

	ChatEvents = EventSet{
		Mode:  ModeChat,
		Join:  "join-chat",
		End:   "end-chat",
		Ready: "chat-ready",
		Ended: "chat-ended",
		Relay: map[string]string{
			"send-message": "receive-message",
		},
		Message: "send-message",
	}
)

func EventSetFor(mode Mode) (EventSet, error) {
	switch mode {
	case ModeVideo:
		return VideoEvents, nil
	case ModeChat:
		return ChatEvents, nil
	}
	return EventSet{}, fmt.Errorf("unknown relay mode %q", mode)
}

// Outbound payloads.

type UserConnected struct {
	SocketID string `json:"socketId"`
	UserType Role   `json:"userType"`
	UserName string `json:"userName,omitempty"`
}

type Ended struct {
	EndedBy string `json:"endedBy"`
}

type StartCall struct {
	SocketID string `json:"socketId"`
}

type NoExpertAvailable struct {
	RoomID  string `json:"roomId"`
	Waited  string `json:"waited"`
	Message string `json:"message"`
}

type Connected struct {
	SocketID string `json:"socketId"`
	Mode     Mode   `json:"mode"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
