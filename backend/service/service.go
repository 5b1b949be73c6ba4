package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/krishimitra/relay/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrConnect = errors.New("unable to connect")
)

type (
	RoomStore interface {
		Register(connID, roomID string, mode model.Mode, role model.Role, name string) error
		UnregisterConnection(connID string) (string, bool)
		UnregisterRoom(roomID string) []string
		ListParticipants(roomID string) []model.Participant
		HasRole(roomID string, role model.Role) bool
		Session(connID string) (model.Participant, string, bool)
		AppendMessage(roomID string, msg model.ChatMessage, limit int) bool
		Messages(roomID string) ([]model.ChatMessage, error)
		GetRoom(roomID string) (model.Room, error)
		Stats() (rooms, sessions int)
	}

	Switch interface {
		Connect(endpoint string, wire model.Wire) error
		Disconnect(endpoint string)
		Send(ann model.Announcement) bool
	}

	Metrics interface {
		Event(mode, event string)
		Dropped(mode string)
		WaitTimeout(mode string)
		Error(mode, code string)
		SetRegistryStats(rooms, participants int)
	}

	// Service is the session lifecycle controller and relay for one event set.
	// Every inbound event runs to completion under mx before the next one starts.
	// Services sharing a RoomStore must share mx as well.
	Service struct {
		events       model.EventSet
		store        RoomStore
		sw           Switch
		metrics      Metrics
		logger       zerolog.Logger
		waitTimeout  time.Duration
		historyLimit int
		now          func() time.Time

		mx    *sync.Mutex
		waits map[string]*waitTimer
		seq   uint64
	}

	Config struct {
		Events       model.EventSet
		RoomStore    RoomStore
		Switch       Switch
		Metrics      Metrics
		Logger       *zerolog.Logger
		WaitTimeout  time.Duration
		HistoryLimit int

		// Mutex serializes event turns. Pass the same one to every service
		// built over the same RoomStore.
		Mutex *sync.Mutex
	}
)

func NewService(cfg Config) *Service {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	mx := cfg.Mutex
	if mx == nil {
		mx = &sync.Mutex{}
	}
	return &Service{
		events:       cfg.Events,
		store:        cfg.RoomStore,
		sw:           cfg.Switch,
		metrics:      metrics,
		logger:       cfg.Logger.With().Str("component", "relay").Str("mode", string(cfg.Events.Mode)).Logger(),
		waitTimeout:  cfg.WaitTimeout,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
		mx:           mx,
		waits:        make(map[string]*waitTimer),
	}
}

func (svc *Service) Mode() model.Mode { return svc.events.Mode }

// CreateSignalingSession attaches a transport connection to the relay and
// starts consuming its inbound announcements until ctx is done.
func (svc *Service) CreateSignalingSession(ctx context.Context, connID string, wire model.Wire) error {
	if err := svc.sw.Connect(connID, wire); err != nil {
		return errors.Join(ErrConnect, err)
	}
	svc.logger.Debug().
		Str("connID", connID).
		Msg("signaling session connected")

	svc.mx.Lock()
	svc.unicast(connID, model.AnnouncementTypeConnected, model.Connected{SocketID: connID, Mode: svc.events.Mode})
	svc.mx.Unlock()

	go svc.consume(ctx, connID, wire.RX)
	return nil
}

// DeleteSignalingSession is the transport-level disconnect path.
func (svc *Service) DeleteSignalingSession(_ context.Context, connID string) error {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	svc.sw.Disconnect(connID)
	svc.disconnect(connID)
	svc.syncStats()

	svc.logger.Debug().
		Str("connID", connID).
		Msg("signaling session deleted")
	return nil
}

func (svc *Service) consume(ctx context.Context, connID string, rx <-chan model.Announcement) {
	for {
		select {
		case <-ctx.Done():
			return
		case ann, ok := <-rx:
			if !ok {
				return
			}
			if ann.SRC != connID {
				svc.logger.Error().
					Str("connID", connID).
					Str("src", ann.SRC).
					Msg("announcement with foreign src")
				continue
			}
			svc.Handle(ann)
		}
	}
}

// Handle runs one event turn: decode, validate, transition and deliver.
func (svc *Service) Handle(ann model.Announcement) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	evt, err := Decode(svc.events, ann)
	if err != nil {
		var evtErr *EventError
		if ann.Type == "" || errors.As(err, &evtErr) && evtErr.Code == CodeUnknownEvent {
			svc.metrics.Event(string(svc.events.Mode), "unknown")
		} else {
			svc.metrics.Event(string(svc.events.Mode), ann.Type)
		}
		svc.reject(ann.SRC, ann.Type, err)
		return
	}
	svc.metrics.Event(string(svc.events.Mode), ann.Type)

	switch e := evt.(type) {
	case JoinEvent:
		svc.join(e)
	case EndEvent:
		svc.end(e)
	case MessageEvent:
		svc.relayMessage(e)
	case RelayEvent:
		svc.relay(e)
	}
	svc.syncStats()

	svc.logger.Trace().Func(func(le *zerolog.Event) {
		room, err := svc.store.GetRoom(evt.Room())
		if err != nil {
			le.Str("room", "<none>")
			return
		}
		le.Str("room", spew.Sdump(room))
	}).Str("event", evt.Name()).Msg("event turn finished")
}

func (svc *Service) reject(dst, event string, err error) {
	var evtErr *EventError
	if !errors.As(err, &evtErr) {
		evtErr = &EventError{Code: CodeBadRequest, Message: err.Error()}
	}
	svc.logger.Debug().
		Str("connID", dst).
		Str("event", event).
		Str("code", evtErr.Code).
		Msg(evtErr.Message)

	svc.metrics.Error(string(svc.events.Mode), evtErr.Code)
	svc.unicast(dst, model.AnnouncementTypeError, model.Error{
		Code:    evtErr.Code,
		Message: evtErr.Message,
		Event:   event,
	})
}

func (svc *Service) unicast(dst, typ string, payload any) {
	svc.broadcast([]string{dst}, typ, payload)
}

func (svc *Service) broadcast(dsts []string, typ string, payload any) {
	if len(dsts) == 0 {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		svc.logger.Error().Err(err).Str("type", typ).Msg("failed to marshal announcement")
		return
	}
	for _, dst := range dsts {
		svc.deliver(model.Announcement{DST: dst, Type: typ, Payload: b})
	}
}

func (svc *Service) deliver(ann model.Announcement) {
	if !svc.sw.Send(ann) {
		svc.metrics.Dropped(string(svc.events.Mode))
	}
}

func (svc *Service) syncStats() {
	svc.metrics.SetRegistryStats(svc.store.Stats())
}

type nopMetrics struct{}

func (nopMetrics) Event(string, string)      {}
func (nopMetrics) Dropped(string)            {}
func (nopMetrics) WaitTimeout(string)        {}
func (nopMetrics) Error(string, string)      {}
func (nopMetrics) SetRegistryStats(int, int) {}
