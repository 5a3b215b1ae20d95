// Package sdnotify reports service state to systemd. Outside a systemd unit
// (no NOTIFY_SOCKET) every call is a silent no-op.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "trainboard/pkg/logx"
)

type Config struct {
	Notify   bool
	Watchdog bool
}

type Notifier struct {
	cfg Config
	log logx.Logger

	notify          func(state string) (bool, error)
	watchdogEnabled func() (time.Duration, error)
}

func New(cfg Config, log logx.Logger) *Notifier {
	return &Notifier{
		cfg:             cfg,
		log:             log.With(logx.String("comp", "systemd")),
		notify:          func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdogEnabled: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) send(state string) {
	if !n.cfg.Notify {
		return
	}
	sent, err := n.notify(state)
	switch {
	case err != nil:
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		n.log.Debug("systemd notified", logx.String("state", state))
	}
}

// Ready tells systemd that the listener is bound and requests are served.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown has begun.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) { n.send("STATUS=" + msg) }

// Watchdog pings systemd at half the unit's WatchdogSec until ctx is done.
// It returns at once when the watchdog is disabled.
func (n *Notifier) Watchdog(ctx context.Context) error {
	if !n.cfg.Notify || !n.cfg.Watchdog {
		return nil
	}
	interval, err := n.watchdogEnabled()
	if err != nil {
		n.log.Warn("systemd watchdog config invalid", logx.Err(err))
		return nil
	}
	if interval <= 0 {
		return nil
	}
	tick := interval / 2
	n.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
