package app

import (
	"strings"
	"time"

	"trainboard/internal/audit"
	"trainboard/internal/config"
	"trainboard/internal/httpapi"
	"trainboard/internal/observability/pprof"
	"trainboard/internal/report"
)

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("board.cache_ttl", cfg.Board.CacheTTL, 2*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	ping, err := config.ParseDurationOrDefault("feed.ping_interval", cfg.Feed.PingInterval, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}

	hc := httpapi.Config{
		Addr:         strings.TrimSpace(cfg.HTTP.Addr),
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		FeedEnabled:  cfg.Feed.Enabled,
		PingInterval: ping,
		BoardTitle:   cfg.Board.Title,
		BoardTTL:     ttl,
		RatePerSec:   cfg.API.RatePerSec,
		Burst:        cfg.API.Burst,
	}
	if cfg.Metrics.Enabled {
		hc.MetricsPath = cfg.Metrics.Path
	}
	return hc, nil
}

// mapAuditConfig reports false when the audit log is disabled.
func mapAuditConfig(cfg *config.Config) (audit.Config, bool, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return audit.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return audit.Config{}, false, err
	}
	return audit.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, true, nil
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		Schedule: strings.TrimSpace(cfg.Report.Schedule),
		Timezone: strings.TrimSpace(cfg.Report.Timezone),
	}
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	p := cfg.Pprof
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 strings.TrimSpace(p.Addr),
		Prefix:               strings.TrimSpace(p.Prefix),
		Token:                strings.TrimSpace(p.Token),
		AllowInsecure:        p.AllowInsecure,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}

// validateConfig runs the checks that need packages config cannot import.
func validateConfig(cfg *config.Config) error {
	if err := report.ValidateSchedule(cfg.Report.Schedule); err != nil {
		return err
	}
	return pprof.Check(mapPprofConfig(cfg))
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}
