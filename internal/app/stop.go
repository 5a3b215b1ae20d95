package app

import (
	"context"
	"fmt"
	"time"

	"trainboard/internal/registry"
	logx "trainboard/pkg/logx"
)

// Stop shuts the app down in order: HTTP intake, registry mutations,
// background goroutines, the final snapshot save, then the audit store.
// Each step except the save is bounded by ctx and its own limit; the save
// always completes before Stop returns. The returned error is the snapshot
// save error, if any.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) error {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		var cancel context.CancelFunc
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			if limit > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
			return err
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
			return fmt.Errorf("stop step %s: %w", name, stepCtx.Err())
		}
	}

	// New requests stop first; in-flight dispatches finish before the registry is sealed.
	_ = step("http", a.stopTimeout, func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Shutdown(c)
	})
	a.reg.Close()

	a.sup.Cancel()
	_ = step("report", 2*time.Second, func(c context.Context) error { a.report.Stop(c); return nil })
	_ = step("pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	_ = step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	// The save runs inline even when ctx is done: the process must not exit mid-write.
	saveErr := a.saveSnapshot()
	if saveErr != nil {
		a.log.Error("snapshot save failed", logx.String("path", a.snapshotPath), logx.Err(saveErr))
	}

	_ = step("audit", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return saveErr
}

func (a *App) saveSnapshot() error {
	data, err := a.reg.Save()
	if err == nil {
		err = registry.WriteSnapshotFile(a.snapshotPath, data)
	}
	a.metrics.SnapshotSaved(err)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", a.snapshotPath, err)
	}
	st := a.reg.Stats()
	a.log.Info("snapshot saved",
		logx.String("path", a.snapshotPath),
		logx.Int("stations", st.Stations),
		logx.Int("bytes", len(data)),
	)
	return nil
}
