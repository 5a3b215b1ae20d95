// Package report logs registry statistics on a cron schedule and refreshes
// the registry gauges at the same time.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"trainboard/internal/metrics"
	"trainboard/internal/registry"
	logx "trainboard/pkg/logx"
)

// Config selects when reports run. An empty Schedule disables reporting.
type Config struct {
	Schedule string
	Timezone string
}

// parser accepts 5-field and 6-field (with seconds) specs plus descriptors
// such as "@every 5m" and "@hourly".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a usable schedule. Empty is valid.
func ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	return nil
}

type Reporter struct {
	reg     *registry.Service
	metrics *metrics.Metrics
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	active  bool // between Start and Stop
	c       *cron.Cron
	lastRev uint64
	runs    uint64
}

func New(cfg Config, reg *registry.Service, m *metrics.Metrics, log logx.Logger) *Reporter {
	return &Reporter{cfg: cfg, reg: reg, metrics: m, log: log.With(logx.String("comp", "report"))}
}

// Start schedules reports. It is a no-op when already running or disabled.
func (r *Reporter) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	return r.startLocked()
}

func (r *Reporter) startLocked() error {
	if r.c != nil {
		return nil
	}
	spec := strings.TrimSpace(r.cfg.Schedule)
	if spec == "" {
		r.log.Debug("report disabled")
		return nil
	}
	loc := time.Local
	if tz := strings.TrimSpace(r.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("report.timezone: %w", err)
		}
		loc = l
	}

	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, r.RunOnce); err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	c.Start()
	r.c = c
	r.log.Info("report scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

// Apply switches to cfg, restarting the schedule when it changed.
func (r *Reporter) Apply(cfg Config) error {
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg == r.cfg {
		return nil
	}
	r.stopLocked(context.Background())
	r.cfg = cfg
	if !r.active {
		return nil
	}
	return r.startLocked()
}

// Stop halts the schedule and waits for a running report within ctx.
func (r *Reporter) Stop(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.stopLocked(ctx)
}

func (r *Reporter) stopLocked(ctx context.Context) {
	if r.c == nil {
		return
	}
	done := r.c.Stop()
	r.c = nil
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce logs the current stats and refreshes the gauges.
func (r *Reporter) RunOnce() {
	st := r.reg.Stats()
	r.metrics.SetRegistryStats(st)

	r.mu.Lock()
	changes := st.Revision - r.lastRev
	r.lastRev = st.Revision
	r.runs++
	r.mu.Unlock()

	r.log.Info("registry stats",
		logx.Int("stations", st.Stations),
		logx.Int("entries", st.Entries),
		logx.Uint64("revision", st.Revision),
		logx.Uint64("changes", changes),
	)
}

// Runs reports how many times RunOnce has executed.
func (r *Reporter) Runs() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}
