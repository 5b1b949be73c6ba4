package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	namespace = "krishimitra_relay"

	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

// Metrics holds relay collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	rooms        prometheus.Gauge
	participants prometheus.Gauge
	events       *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	waitTimeouts *prometheus.CounterVec
	errors       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of rooms currently held in the registry.",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Number of sessions currently registered in rooms.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events processed by the relay.",
		}, []string{"mode", "event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_dropped_total",
			Help:      "Announcements that could not be delivered to a connection.",
		}, []string{"mode"}),
		waitTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wait_timeouts_total",
			Help:      "Rooms where no expert arrived before the waiting timeout.",
		}, []string{"mode"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error announcements sent back to clients.",
		}, []string{"mode", "code"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rooms, m.participants, m.events, m.dropped, m.waitTimeouts, m.errors,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) SetRegistryStats(rooms, participants int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.participants.Set(float64(participants))
}

func (m *Metrics) Event(mode, event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(mode, event).Inc()
}

func (m *Metrics) Dropped(mode string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(mode).Inc()
}

func (m *Metrics) WaitTimeout(mode string) {
	if m == nil {
		return
	}
	m.waitTimeouts.WithLabelValues(mode).Inc()
}

func (m *Metrics) Error(mode, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(mode, code).Inc()
}

type Config struct {
	Logger           *zerolog.Logger
	Metrics          *Metrics
	ListenAddr       string
	URLPrefix        string
	MetricsEnabled   bool
	ProfilingEnabled bool
}

// Server exposes metrics and pprof handlers on a separate listener.
type Server struct {
	logger zerolog.Logger
	*http.Server
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "monitoring").Logger(),
	}

	h := http.NewServeMux()
	if cfg.ProfilingEnabled {
		prefix := cfg.URLPrefix + "/debug/pprof"
		srv.logger.Info().Str("path", prefix).Msg("profiling is enabled")
		h.HandleFunc(prefix+"/", pprof.Index)
		h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
		h.HandleFunc(prefix+"/profile", pprof.Profile)
		h.HandleFunc(prefix+"/symbol", pprof.Symbol)
		h.HandleFunc(prefix+"/trace", pprof.Trace)
	}
	if cfg.MetricsEnabled && cfg.Metrics != nil {
		path := cfg.URLPrefix + "/metrics"
		srv.logger.Info().Str("path", path).Msg("prometheus metrics are enabled")
		h.Handle(path, promhttp.HandlerFor(cfg.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
