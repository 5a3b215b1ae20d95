// Package app wires the registry, HTTP server and background services
// together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"trainboard/internal/audit"
	"trainboard/internal/config"
	"trainboard/internal/eventbus"
	"trainboard/internal/httpapi"
	"trainboard/internal/metrics"
	"trainboard/internal/observability/pprof"
	"trainboard/internal/registry"
	"trainboard/internal/report"
	rtsup "trainboard/internal/runtime/supervisor"
	"trainboard/internal/sdnotify"
	logx "trainboard/pkg/logx"
)

// Options override parts of the config file.
type Options struct {
	ConfigPath   string
	SnapshotPath string // overrides registry.snapshot_path when set
	Addr         string // overrides http.addr when set
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	snapshotPath string
	stopTimeout  time.Duration
	httpCfg      httpapi.Config

	reg     *registry.Service
	store   audit.Store
	metrics *metrics.Metrics
	report  *report.Reporter
	notify  *sdnotify.Notifier
	pprof   *pprof.Service
	http    *httpapi.Server

	mu   sync.Mutex
	addr net.Addr
}

// New loads the config and the registry snapshot. A snapshot that exists but
// cannot be read or decoded is an error: the app never starts with a
// silently empty registry.
func New(opts Options) (*App, error) {
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	httpCfg, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	if a := strings.TrimSpace(opts.Addr); a != "" {
		httpCfg.Addr = a
	}
	snapshotPath := strings.TrimSpace(cfg.Registry.SnapshotPath)
	if p := strings.TrimSpace(opts.SnapshotPath); p != "" {
		snapshotPath = p
	}

	logSvc, log := logx.New(cfg.Logging.LogxConfig())
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	loaded, err := registry.ReadSnapshotFile(snapshotPath)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	reg := registry.NewService(loaded, registry.WithBus(bus))
	log.Info("registry loaded",
		logx.String("path", snapshotPath),
		logx.Uint64("version", loaded.Version()),
		logx.Int("stations", loaded.Len()),
	)

	// Audit log (optional)
	var store audit.Store
	if ac, enabled, err := mapAuditConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := audit.Open(ac, log.With(logx.String("comp", "audit")))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		store = st
		log.Info("audit log enabled", logx.String("driver", ac.Driver))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.TrackDropped("events_dropped_total", "Registry events dropped because a subscriber was slow.",
			func() uint64 { return eventbus.Dropped(bus) })
		m.SetRegistryStats(reg.Stats())
	}

	return &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		snapshotPath: snapshotPath,
		stopTimeout:  shutdownTimeout(cfg),
		httpCfg:      httpCfg,
		reg:          reg,
		store:        store,
		metrics:      m,
		report:       report.New(mapReportConfig(cfg), reg, m, log),
		notify: sdnotify.New(sdnotify.Config{
			Notify:   cfg.Systemd.Notify,
			Watchdog: cfg.Systemd.Watchdog,
		}, log),
		pprof: pprof.New(mapPprofConfig(cfg), log),
	}, nil
}

// Registry returns the registry service owned by the app.
func (a *App) Registry() *registry.Service { return a.reg }

// Addr is the bound listen address, nil before Start.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.http = httpapi.New(a.httpCfg, httpapi.Deps{
		Registry:   a.reg,
		Bus:        a.bus,
		Audit:      a.store,
		Metrics:    a.metrics,
		Supervisor: a.sup,
		Log:        a.log,
	})
	addr, err := a.http.Listen()
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("listen %s: %w", a.httpCfg.Addr, err)
	}
	a.mu.Lock()
	a.addr = addr
	a.mu.Unlock()

	a.sup.Go("http.serve", a.http.Serve)
	a.sup.GoRestart("http.events", a.http.WatchEvents)

	if a.metrics != nil {
		events, unsub := a.bus.Subscribe(64)
		a.sup.Go0("metrics.registry", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case _, ok := <-events:
					if !ok {
						return
					}
					a.metrics.SetRegistryStats(a.reg.Stats())
				}
			}
		})
	}

	if err := a.report.Start(); err != nil {
		a.log.Warn("report schedule not started", logx.Err(err))
	}

	if err := a.pprof.Start(a.sup.Context()); err != nil {
		a.log.Warn("pprof not started", logx.Err(err))
	}

	a.sup.Go("systemd.watchdog", a.notify.Watchdog)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.notify.Ready()
	a.notify.Status("serving on " + addr.String())
	a.log.Info("app started", logx.String("addr", addr.String()))
	return nil
}

// reloadLoop applies the live config sections and warns about the ones that
// need a restart.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			if len(restart) > 0 {
				a.log.Warn("config changed; restart required for changes to take effect",
					logx.String("sections", strings.Join(restart, ",")))
			}
			a.apply(c, newCfg)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) apply(c context.Context, cfg *config.Config) {
	a.logs.Apply(cfg.Logging.LogxConfig())

	a.http.SetRateLimit(cfg.API.RatePerSec, cfg.API.Burst)

	ttl, err := config.ParseDurationOrDefault("board.cache_ttl", cfg.Board.CacheTTL, a.httpCfg.BoardTTL)
	if err != nil {
		a.log.Warn("invalid board config; keeping previous", logx.Err(err))
	} else {
		a.http.SetBoard(cfg.Board.Title, ttl)
	}

	if err := a.report.Apply(mapReportConfig(cfg)); err != nil {
		a.log.Warn("invalid report config; keeping previous", logx.Err(err))
	}

	pctx, cancel := context.WithTimeout(c, 3*time.Second)
	defer cancel()
	if err := a.pprof.Reconfigure(pctx, mapPprofConfig(cfg)); err != nil {
		a.log.Warn("pprof reconfigure failed", logx.Err(err))
	}
}
