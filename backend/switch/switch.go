package _switch

import (
	"errors"
	"sync"

	"github.com/krishimitra/relay/backend/model"
	"github.com/rs/zerolog"
)

var (
	ErrEndpointExists = errors.New("endpoint is already connected")
)

// Switch owns the table of live endpoints and delivers announcements to them.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]model.Wire
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]model.Wire),
	}
}

func (sw *Switch) Connect(endpoint string, wire model.Wire) error {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	if _, ok := sw.fwd[endpoint]; ok {
		return ErrEndpointExists
	}
	sw.fwd[endpoint] = wire
	sw.logger.Debug().
		Str("endpoint", endpoint).
		Msg("endpoint connected")
	return nil
}

func (sw *Switch) Disconnect(endpoint string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	delete(sw.fwd, endpoint)
	sw.logger.Debug().
		Str("endpoint", endpoint).
		Msg("endpoint disconnected")
}

func (sw *Switch) Connected(endpoint string) bool {
	sw.mx.RLock()
	defer sw.mx.RUnlock()

	_, ok := sw.fwd[endpoint]
	return ok
}

// Send hands ann to its DST endpoint without blocking. It reports false when
// the endpoint is unknown or its outbound queue is full; the announcement is
// dropped in both cases.
func (sw *Switch) Send(ann model.Announcement) bool {
	logger := sw.logger.With().
		Str("type", ann.Type).
		Str("src", ann.SRC).
		Str("dst", ann.DST).
		Logger()

	sw.mx.RLock()
	wire, ok := sw.fwd[ann.DST]
	sw.mx.RUnlock()

	if !ok {
		logger.Debug().Msg("cannot forward, dst not found")
		return false
	}

	select {
	case wire.TX <- ann:
		logger.Trace().Msg("announce is forwarded")
		return true
	default:
		logger.Error().Msg("dead endpoint, outbound queue is full")
		return false
	}
}
