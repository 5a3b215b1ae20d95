package config

import (
	"sort"
	"strings"

	logx "trainboard/pkg/logx"
)

// SummarizeConfigChange returns the sorted names of changed sections, safe
// structured attrs for logging, and the subset of changed sections that only
// take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed = make([]string, 0, 4)
	attrs = make([]logx.Field, 0, 16)

	mark := func(section string, needsRestart bool, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if needsRestart {
			restart = append(restart, section)
		}
	}

	if oldCfg.HTTP != newCfg.HTTP {
		mark("http", true,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Int64("http.max_body_bytes", newCfg.HTTP.MaxBodyBytes),
		)
	}
	if oldCfg.API != newCfg.API {
		mark("api", false,
			logx.Any("api.rate_per_sec", newCfg.API.RatePerSec),
			logx.Int("api.burst", newCfg.API.Burst),
		)
	}
	if strings.TrimSpace(oldCfg.Registry.SnapshotPath) != strings.TrimSpace(newCfg.Registry.SnapshotPath) {
		mark("registry", true, logx.String("registry.snapshot_path", newCfg.Registry.SnapshotPath))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Metrics != newCfg.Metrics {
		mark("metrics", true,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.path", newCfg.Metrics.Path),
		)
	}
	if oldCfg.Board != newCfg.Board {
		mark("board", false,
			logx.String("board.title", newCfg.Board.Title),
			logx.String("board.cache_ttl", strings.TrimSpace(newCfg.Board.CacheTTL)),
		)
	}
	if oldCfg.Feed != newCfg.Feed {
		mark("feed", true,
			logx.Bool("feed.enabled", newCfg.Feed.Enabled),
			logx.String("feed.ping_interval", strings.TrimSpace(newCfg.Feed.PingInterval)),
		)
	}
	if oldCfg.Report != newCfg.Report {
		mark("report", false,
			logx.String("report.schedule", strings.TrimSpace(newCfg.Report.Schedule)),
			logx.String("report.timezone", strings.TrimSpace(newCfg.Report.Timezone)),
		)
	}
	// Nil-equivalent storage sections compare by effective driver.
	oS, nS := oldCfg.Storage, newCfg.Storage
	if storageDriver(oS) != storageDriver(nS) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		mark("storage", true,
			logx.String("storage.driver", storageDriver(nS)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}
	if oldCfg.Systemd != newCfg.Systemd {
		mark("systemd", true,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	// never log the token
	if oldCfg.Pprof != newCfg.Pprof {
		mark("pprof", false,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}

func storageDriver(s StorageConfig) string {
	d := strings.ToLower(strings.TrimSpace(s.Driver))
	if d == "" {
		return "none"
	}
	return d
}
