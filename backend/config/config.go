package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kkyr/fig"
	"github.com/rs/zerolog"
)

const EnvPrefix = "KRISHIMITRA"

type Config struct {
	Log        Log        `fig:"log"`
	API        API        `fig:"api"`
	Signaling  Signaling  `fig:"signaling"`
	Monitoring Monitoring `fig:"monitoring"`
}

type Log struct {
	Level   string `fig:"level" default:"info"`
	Console bool   `fig:"console"`
}

type API struct {
	ListenAddr string `fig:"listen_addr" default:":8080"`
}

type Signaling struct {
	ListenAddr     string        `fig:"listen_addr" default:":8888"`
	AllowedOrigins []string      `fig:"allowed_origins"`
	SendBuffer     int           `fig:"send_buffer" default:"64"`
	MaxMessageSize int64         `fig:"max_message_size" default:"65536"`
	PingInterval   time.Duration `fig:"ping_interval" default:"5s"`
	PongWait       time.Duration `fig:"pong_wait" default:"7s"`
	WaitTimeout    time.Duration `fig:"wait_timeout" default:"2m"`
	HistoryLimit   int           `fig:"history_limit" default:"200"`
}

type Monitoring struct {
	ListenAddr       string `fig:"listen_addr" default:":9090"`
	URLPrefix        string `fig:"url_prefix"`
	MetricsEnabled   bool   `fig:"metrics_enabled"`
	ProfilingEnabled bool   `fig:"profiling_enabled"`
}

func (m Monitoring) IsEnabled() bool { return m.MetricsEnabled || m.ProfilingEnabled }

// Load reads the configuration file at path, when given, and applies
// KRISHIMITRA_* environment variables on top of it. Without a path only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	var (
		cfg  Config
		opts = []fig.Option{fig.UseEnv(EnvPrefix)}
	)
	if path == "" {
		opts = append(opts, fig.IgnoreFile())
	} else {
		opts = append(opts, fig.File(filepath.Base(path)), fig.Dirs(filepath.Dir(path)))
	}
	if err := fig.Load(&cfg, opts...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Signaling.ListenAddr == "" {
		errs = append(errs, errors.New("signaling.listen_addr is required"))
	}
	if c.API.ListenAddr == "" {
		errs = append(errs, errors.New("api.listen_addr is required"))
	}
	if c.Signaling.PingInterval <= 0 {
		errs = append(errs, errors.New("signaling.ping_interval must be positive"))
	}
	if c.Signaling.PongWait <= c.Signaling.PingInterval {
		errs = append(errs, errors.New("signaling.pong_wait must be greater than signaling.ping_interval"))
	}
	if c.Signaling.WaitTimeout < 0 {
		errs = append(errs, errors.New("signaling.wait_timeout must not be negative"))
	}
	if c.Signaling.SendBuffer <= 0 {
		errs = append(errs, errors.New("signaling.send_buffer must be positive"))
	}
	if c.Monitoring.IsEnabled() && c.Monitoring.ListenAddr == "" {
		errs = append(errs, errors.New("monitoring.listen_addr is required when monitoring is enabled"))
	}
	return errors.Join(errs...)
}
