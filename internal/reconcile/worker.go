package reconcile

import (
	"context"
	"log/slog"
	"time"
)

// Worker runs reconciliation passes on a fixed interval. It is the
// in-process stand-in for an external scheduler: one pass at a time, the
// next one no sooner than interval after the previous finished.
type Worker struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker around engine. If interval is <= 0, it defaults
// to 15 minutes.
func NewWorker(engine *Engine, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Worker{
		engine:   engine,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run executes passes until ctx is cancelled. The first pass starts
// immediately.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("reconciliation pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.interval):
		}
	}
}

// RunOnce executes a single pass. A pass with item-level failures is not an
// error here; those are already tallied and logged on the report.
func (w *Worker) RunOnce(ctx context.Context) error {
	report, err := w.engine.Run(ctx)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		w.logger.Warn("reconciliation pass finished with failures",
			"failed", report.Failed, "succeeded", report.Succeeded)
	}
	return nil
}
