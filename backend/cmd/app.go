package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/krishimitra/relay/backend/config"
	"github.com/krishimitra/relay/backend/model"
	"github.com/krishimitra/relay/backend/monitoring"
	httpServer "github.com/krishimitra/relay/backend/server/http"
	websocketServer "github.com/krishimitra/relay/backend/server/websocket"
	"github.com/krishimitra/relay/backend/service"
	store "github.com/krishimitra/relay/backend/storage/memory"
	sw "github.com/krishimitra/relay/backend/switch"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		configPath    = fs.StringP("config", "c", "", "path to the yaml config file")
		apiListenAddr = fs.StringP("api-listen-addr", "a", "", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", "", "websocket signaling listen address")
		logLevel      = fs.StringP("log-level", "l", "", "log level")
		waitTimeout   = fs.Duration("wait-timeout", 0, "how long a farmer waits for an expert, 0 disables")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if fs.Changed("api-listen-addr") {
		cfg.API.ListenAddr = *apiListenAddr
	}
	if fs.Changed("ws-listen-addr") {
		cfg.Signaling.ListenAddr = *wsListenAddr
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("wait-timeout") {
		cfg.Signaling.WaitTimeout = *waitTimeout
	}

	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = newLogger(cfg.Log.Console, os.Stdout).Level(lvl)

	var (
		registry = store.NewMemStore()
		metrics  = monitoring.NewMetrics()
		swtch    = sw.NewSwitch(&logger)
		turns    = &sync.Mutex{}
		services = make(map[model.Mode]websocketServer.SignalingService)
	)
	for _, events := range []model.EventSet{model.VideoEvents, model.ChatEvents} {
		services[events.Mode] = service.NewService(service.Config{
			Events:       events,
			RoomStore:    registry,
			Switch:       swtch,
			Metrics:      metrics,
			Logger:       &logger,
			WaitTimeout:  cfg.Signaling.WaitTimeout,
			HistoryLimit: cfg.Signaling.HistoryLimit,
			Mutex:        turns,
		})
	}

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:     &logger,
		RoomStore:  registry,
		ListenAddr: cfg.API.ListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		Services:       services,
		ListenAddr:     cfg.Signaling.ListenAddr,
		AllowedOrigins: cfg.Signaling.AllowedOrigins,
		SendBuffer:     cfg.Signaling.SendBuffer,
		MaxMessageSize: cfg.Signaling.MaxMessageSize,
		PingInterval:   cfg.Signaling.PingInterval,
		PongWait:       cfg.Signaling.PongWait,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 3)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	if cfg.Monitoring.IsEnabled() {
		monSrv := monitoring.NewServer(monitoring.Config{
			Logger:           &logger,
			Metrics:          metrics,
			ListenAddr:       cfg.Monitoring.ListenAddr,
			URLPrefix:        cfg.Monitoring.URLPrefix,
			MetricsEnabled:   cfg.Monitoring.MetricsEnabled,
			ProfilingEnabled: cfg.Monitoring.ProfilingEnabled,
		})
		wg.Add(1)
		go monSrv.Run(ctx, wg, errc)
	}

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}

func newLogger(console bool, out io.Writer) zerolog.Logger {
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}
