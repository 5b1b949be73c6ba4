package service

import (
	"github.com/krishimitra/relay/backend/model"
)

// relay forwards the payload unchanged to every other member of the room.
func (svc *Service) relay(e RelayEvent) {
	parts, ok := svc.relayAudience(e)
	if !ok {
		return
	}
	svc.forward(e, parts)
}

func (svc *Service) forward(e RelayEvent, parts []model.Participant) {
	out := svc.events.Relay[e.Type]
	for _, dst := range connIDs(parts, e.Src) {
		svc.deliver(model.Announcement{
			DST:     dst,
			SRC:     e.Src,
			Type:    out,
			Payload: e.Payload,
		})
	}
}

func (svc *Service) relayMessage(e MessageEvent) {
	parts, ok := svc.relayAudience(e.RelayEvent)
	if !ok {
		return
	}
	sess, _, _ := svc.store.Session(e.Src)
	userType := e.UserType
	if userType == "" {
		userType = string(sess.Role)
	}
	svc.store.AppendMessage(e.RoomID, model.ChatMessage{
		ConnID:   e.Src,
		Sender:   e.From,
		UserType: userType,
		Message:  e.Message,
		SentAt:   svc.now(),
	}, svc.historyLimit)
	svc.forward(e.RelayEvent, parts)
}

// relayAudience returns the room members when the sender may relay into the
// room. Unknown rooms are silently ignored.
func (svc *Service) relayAudience(e RelayEvent) ([]model.Participant, bool) {
	parts := svc.store.ListParticipants(e.RoomID)
	if len(parts) == 0 {
		svc.logger.Debug().
			Str("roomID", e.RoomID).
			Str("connID", e.Src).
			Str("event", e.Type).
			Msg("event for unknown room dropped")
		return nil, false
	}
	if !isMember(parts, e.Src) {
		svc.reject(e.Src, e.Type, &EventError{Code: CodeNotAMember, Message: "connection is not a member of this room"})
		return nil, false
	}
	return parts, true
}
