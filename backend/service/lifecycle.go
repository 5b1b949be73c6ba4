package service

import (
	"errors"
	"time"

	"github.com/krishimitra/relay/backend/model"
	"github.com/krishimitra/relay/backend/storage/memory"
)

type (
	Waiting struct {
		RoomID  string `json:"roomId"`
		Timeout string `json:"timeout,omitempty"`
	}

	Ready struct {
		RoomID       string              `json:"roomId"`
		Participants []model.Participant `json:"participants"`
	}

	waitTimer struct {
		timer *time.Timer
		seq   uint64
	}
)

func (svc *Service) join(e JoinEvent) {
	err := svc.store.Register(e.Src, e.RoomID, svc.events.Mode, e.Role, e.UserName)
	switch {
	case errors.Is(err, memory.ErrAlreadyJoined):
		svc.reject(e.Src, e.Type, &EventError{Code: CodeAlreadyJoined, Message: "connection already belongs to a room"})
		return
	case errors.Is(err, memory.ErrModeMismatch):
		svc.reject(e.Src, e.Type, &EventError{Code: CodeModeMismatch, Message: "room is used by another relay mode"})
		return
	case err != nil:
		svc.reject(e.Src, e.Type, err)
		return
	}

	logger := svc.logger.With().
		Str("roomID", e.RoomID).
		Str("connID", e.Src).
		Str("role", string(e.Role)).
		Logger()
	logger.Debug().Msg("participant joined room")

	parts := svc.store.ListParticipants(e.RoomID)
	others := connIDs(parts, e.Src)
	joined := model.UserConnected{SocketID: e.Src, UserType: e.Role, UserName: e.UserName}
	svc.broadcast(others, model.AnnouncementTypeUserConnected, joined)

	if svc.events.Message != "" {
		if history, err := svc.store.Messages(e.RoomID); err == nil && len(history) > 0 {
			svc.unicast(e.Src, model.AnnouncementTypeChatHistory, history)
		}
	}

	switch e.Role {
	case model.RoleFarmer:
		if svc.store.HasRole(e.RoomID, model.RoleExpert) {
			svc.ready(e.RoomID, e.Src, e.Role, parts)
			return
		}
		logger.Debug().Msg("farmer is waiting for an expert")
		svc.unicast(e.Src, model.AnnouncementTypeWaitingForExpert, svc.waitingPayload(e.RoomID))
		svc.armWait(e.RoomID)

	case model.RoleExpert:
		svc.broadcast(others, model.AnnouncementTypeExpertJoined, joined)
		if svc.store.HasRole(e.RoomID, model.RoleFarmer) {
			svc.ready(e.RoomID, e.Src, e.Role, parts)
		}
	}
}

// ready notifies every participant that the room has both roles present.
func (svc *Service) ready(roomID, joiner string, role model.Role, parts []model.Participant) {
	svc.stopWait(roomID)
	svc.logger.Debug().
		Str("roomID", roomID).
		Str("state", string(model.StateReady)).
		Msg("room is ready")

	svc.broadcast(connIDs(parts, ""), svc.events.Ready, Ready{RoomID: roomID, Participants: parts})

	if !svc.events.StartCall {
		return
	}
	// farmers create the offer
	switch role {
	case model.RoleExpert:
		svc.broadcast(roleIDs(parts, model.RoleFarmer), model.AnnouncementTypeStartCall, model.StartCall{SocketID: joiner})
	case model.RoleFarmer:
		if experts := roleIDs(parts, model.RoleExpert); len(experts) > 0 {
			svc.unicast(joiner, model.AnnouncementTypeStartCall, model.StartCall{SocketID: experts[0]})
		}
	}
}

func (svc *Service) end(e EndEvent) {
	parts := svc.store.ListParticipants(e.RoomID)
	if len(parts) == 0 {
		svc.logger.Debug().
			Str("roomID", e.RoomID).
			Str("connID", e.Src).
			Msg("end for unknown room ignored")
		return
	}
	if !isMember(parts, e.Src) {
		svc.reject(e.Src, e.Type, &EventError{Code: CodeNotAMember, Message: "connection is not a member of this room"})
		return
	}

	svc.broadcast(connIDs(parts, ""), svc.events.Ended, model.Ended{EndedBy: e.Src})
	svc.stopWait(e.RoomID)
	members := svc.store.UnregisterRoom(e.RoomID)

	svc.logger.Info().
		Str("roomID", e.RoomID).
		Str("endedBy", e.Src).
		Int("members", len(members)).
		Str("state", string(model.StateEnded)).
		Msg("room ended")
}

// disconnect must be called with mx held.
func (svc *Service) disconnect(connID string) {
	sess, roomID, ok := svc.store.Session(connID)
	if !ok {
		return
	}
	svc.store.UnregisterConnection(connID)

	logger := svc.logger.With().
		Str("roomID", roomID).
		Str("connID", connID).
		Logger()

	remaining := svc.store.ListParticipants(roomID)
	if len(remaining) == 0 {
		svc.stopWait(roomID)
		logger.Debug().Msg("last participant left, room destroyed")
		return
	}

	svc.broadcast(connIDs(remaining, ""), model.AnnouncementTypeUserDisconnected, connID)
	logger.Debug().Msg("participant disconnected")

	if sess.Role == model.RoleExpert &&
		!svc.store.HasRole(roomID, model.RoleExpert) &&
		svc.store.HasRole(roomID, model.RoleFarmer) {
		logger.Debug().Msg("room fell back to waiting for an expert")
		svc.broadcast(roleIDs(remaining, model.RoleFarmer), model.AnnouncementTypeWaitingForExpert, svc.waitingPayload(roomID))
		svc.armWait(roomID)
	}
}

func (svc *Service) waitingPayload(roomID string) Waiting {
	w := Waiting{RoomID: roomID}
	if svc.waitTimeout > 0 {
		w.Timeout = svc.waitTimeout.String()
	}
	return w
}

// armWait starts the no-expert timer for roomID unless one is already running.
func (svc *Service) armWait(roomID string) {
	if svc.waitTimeout <= 0 {
		return
	}
	if _, ok := svc.waits[roomID]; ok {
		return
	}
	w := &waitTimer{seq: svc.nextSeq()}
	seq := w.seq
	w.timer = time.AfterFunc(svc.waitTimeout, func() { svc.expireWait(roomID, seq) })
	svc.waits[roomID] = w
}

func (svc *Service) stopWait(roomID string) {
	if w, ok := svc.waits[roomID]; ok {
		w.timer.Stop()
		delete(svc.waits, roomID)
	}
}

func (svc *Service) expireWait(roomID string, seq uint64) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	w, ok := svc.waits[roomID]
	if !ok || w.seq != seq {
		return
	}
	delete(svc.waits, roomID)

	if svc.store.HasRole(roomID, model.RoleExpert) {
		return
	}
	farmers := roleIDs(svc.store.ListParticipants(roomID), model.RoleFarmer)
	if len(farmers) == 0 {
		return
	}

	svc.metrics.WaitTimeout(string(svc.events.Mode))
	svc.logger.Info().
		Str("roomID", roomID).
		Dur("waited", svc.waitTimeout).
		Msg("no expert joined in time")
	svc.broadcast(farmers, model.AnnouncementTypeNoExpertAvailable, model.NoExpertAvailable{
		RoomID:  roomID,
		Waited:  svc.waitTimeout.String(),
		Message: "no expert is available right now, please try again later",
	})
}

func (svc *Service) nextSeq() uint64 {
	svc.seq++
	return svc.seq
}

func connIDs(parts []model.Participant, except string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.ConnID != except {
			out = append(out, p.ConnID)
		}
	}
	return out
}

func roleIDs(parts []model.Participant, role model.Role) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Role == role {
			out = append(out, p.ConnID)
		}
	}
	return out
}

func isMember(parts []model.Participant, connID string) bool {
	for _, p := range parts {
		if p.ConnID == connID {
			return true
		}
	}
	return false
}
