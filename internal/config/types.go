package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "trainboard/pkg/logx"
)

// Config is the whole service configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted fields keep the values from Default().
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	API      APIConfig      `json:"api"`
	Registry RegistryConfig `json:"registry"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Board    BoardConfig    `json:"board"`
	Feed     FeedConfig     `json:"feed"`
	Report   ReportConfig   `json:"report"`
	Storage  StorageConfig  `json:"storage"`
	Systemd  SystemdConfig  `json:"systemd"`
	Pprof    PprofConfig    `json:"pprof"`
}

type HTTPConfig struct {
	Addr            string `json:"addr"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	IdleTimeout     string `json:"idle_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
	MaxBodyBytes    int64  `json:"max_body_bytes"`
}

// APIConfig limits the rate of POST /api/{kind}. RatePerSec 0 disables limiting.
type APIConfig struct {
	RatePerSec float64 `json:"rate_per_sec"`
	Burst      int     `json:"burst"`
}

type RegistryConfig struct {
	SnapshotPath string `json:"snapshot_path"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type BoardConfig struct {
	Title    string `json:"title"`
	CacheTTL string `json:"cache_ttl"`
}

type FeedConfig struct {
	Enabled      bool   `json:"enabled"`
	PingInterval string `json:"ping_interval"`
}

// ReportConfig schedules the periodic registry stats log. An empty schedule
// disables it.
type ReportConfig struct {
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the optional audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./trainboard_audit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}

// PprofConfig exposes net/http/pprof on a separate listener. A non-loopback
// addr needs a token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Prefix        string `json:"prefix"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure"`

	MutexProfileFraction int `json:"mutex_profile_fraction"`
	BlockProfileRate     int `json:"block_profile_rate"`
}

const (
	DefaultAddr         = "127.0.0.1:3000"
	DefaultSnapshotPath = "trainboard.json"
	DefaultMaxBodyBytes = 1 << 20
)

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     "10s",
			WriteTimeout:    "10s",
			IdleTimeout:     "60s",
			ShutdownTimeout: "5s",
			MaxBodyBytes:    DefaultMaxBodyBytes,
		},
		Registry: RegistryConfig{SnapshotPath: DefaultSnapshotPath},
		Logging:  LoggingConfig{Level: "INFO", Console: true},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
		Board:    BoardConfig{Title: "Train stations", CacheTTL: "2s"},
		Feed:     FeedConfig{Enabled: true, PingInterval: "30s"},
		Report:   ReportConfig{Schedule: "@every 5m"},
		Storage:  StorageConfig{Driver: "none", BusyTimeout: "1s"},
		Systemd:  SystemdConfig{Notify: true, Watchdog: true},
		Pprof:    PprofConfig{Addr: "127.0.0.1:6060", Prefix: "/debug/pprof/"},
	}
}

// LogxConfig converts the logging section for logx.Service.
func (c LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// Validate checks fields that would otherwise fail late, at first use.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr: required"))
	}
	if c.HTTP.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("http.max_body_bytes: must be >= 0"))
	}
	for path, raw := range map[string]string{
		"http.read_timeout":     c.HTTP.ReadTimeout,
		"http.write_timeout":    c.HTTP.WriteTimeout,
		"http.idle_timeout":     c.HTTP.IdleTimeout,
		"http.shutdown_timeout": c.HTTP.ShutdownTimeout,
		"board.cache_ttl":       c.Board.CacheTTL,
		"feed.ping_interval":    c.Feed.PingInterval,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.API.RatePerSec < 0 {
		errs = append(errs, errors.New("api.rate_per_sec: must be >= 0"))
	}
	if c.API.Burst < 0 {
		errs = append(errs, errors.New("api.burst: must be >= 0"))
	}
	if strings.TrimSpace(c.Registry.SnapshotPath) == "" {
		errs = append(errs, errors.New("registry.snapshot_path: required"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path: %q must start with /", c.Metrics.Path))
	}
	if tz := strings.TrimSpace(c.Report.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("report.timezone: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
	case "file", "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path: required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Pprof.MutexProfileFraction < 0 || c.Pprof.BlockProfileRate < 0 {
		errs = append(errs, errors.New("pprof: profile rates must be >= 0"))
	}
	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Addr) == "" {
		errs = append(errs, errors.New("pprof.addr: required when enabled"))
	}
	return errors.Join(errs...)
}
