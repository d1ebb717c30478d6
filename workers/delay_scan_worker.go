package workers

import (
	"context"
	"errors"
	"time"

	"github.com/phonginreallife/masajid/db"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

// DelayScanWorker runs the delay scan on a fixed interval.
type DelayScanWorker struct {
	Scanner     *services.DelayScanner
	Interval    time.Duration
	ScanOnStart bool

	log *logger.Logger
}

func NewDelayScanWorker(scanner *services.DelayScanner, interval time.Duration, scanOnStart bool, log *logger.Logger) *DelayScanWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &DelayScanWorker{
		Scanner:     scanner,
		Interval:    interval,
		ScanOnStart: scanOnStart,
		log:         logger.OrNop(log).With("actor", db.GetSystemActorBySource("worker")),
	}
}

// Run blocks until ctx is cancelled.
func (w *DelayScanWorker) Run(ctx context.Context) {
	w.log.Info("delay scan worker started", "interval", w.Interval.String(), "scan_on_start", w.ScanOnStart)

	if w.ScanOnStart {
		w.scan(ctx)
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("delay scan worker stopped")
			return
		case <-ticker.C:
			w.scan(ctx)
		}
	}
}

func (w *DelayScanWorker) scan(ctx context.Context) {
	result, err := w.Scanner.RunDelayScan(ctx)
	switch {
	case errors.Is(err, services.ErrScanInProgress):
		w.log.Warn("previous delay scan still running, skipping tick")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		w.log.Info("delay scan interrupted", "processed", result.Processed, "scanned", result.Scanned)
	case err != nil:
		w.log.Error("delay scan failed", "error", err)
	case result.Failed > 0:
		w.log.Warn("delay scan finished with failures", "failed", result.Failed, "escalated", result.Escalated)
	}
}
