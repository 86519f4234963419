package review

import (
	"context"
	"sync"
	"time"

	"github.com/gaia-review/gaia/internal/logger"
	"github.com/gaia-review/gaia/internal/observability/metrics"
)

// Released counts locks freed by ReleaseStaleLocks.
type Released struct {
	POIs  int64
	Cells int64
}

// ReleaseStaleLocks frees POI and cell locks taken before now-olderThan by
// reviewers who never submitted. olderThan <= 0 uses the configured lock
// timeout. Finalised rows are never touched.
func (e *Engine) ReleaseStaleLocks(ctx context.Context, olderThan time.Duration) (Released, error) {
	if olderThan <= 0 {
		olderThan = e.lockTimeout
	}
	cutoff := e.now().Add(-olderThan)

	var out Released
	n, err := e.pois.ReleaseStaleLocks(ctx, cutoff)
	if err != nil {
		return out, wrap(err, metrics.OpReleaseLocks, "entity", metrics.LabelPOI)
	}
	out.POIs = n

	n, err = e.cells.ReleaseStaleLocks(ctx, cutoff)
	if err != nil {
		return out, wrap(err, metrics.OpReleaseLocks, "entity", metrics.LabelCell)
	}
	out.Cells = n

	if e.metrics != nil {
		e.metrics.RecordStaleLocksReleased(metrics.LabelPOI, out.POIs)
		e.metrics.RecordStaleLocksReleased(metrics.LabelCell, out.Cells)
	}
	if out.POIs+out.Cells > 0 {
		e.log.Info("released stale locks",
			logger.Int64("pois", out.POIs),
			logger.Int64("cells", out.Cells),
			logger.Duration("older_than", olderThan))
	}
	return out, nil
}

// Reaper periodically releases stale locks and refreshes the adjudication
// backlog gauge.
type Reaper struct {
	engine    *Engine
	interval  time.Duration
	olderThan time.Duration
	log       logger.Logger

	wg sync.WaitGroup
}

// NewReaper returns a reaper that runs every interval. olderThan <= 0 uses
// the engine's lock timeout.
func NewReaper(engine *Engine, interval, olderThan time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		engine:    engine,
		interval:  interval,
		olderThan: olderThan,
		log:       engine.log.With(logger.String("component", "reaper")),
	}
}

// Start runs the reaper until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Wait blocks until the reaper goroutine has returned.
func (r *Reaper) Wait() {
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("lock reaper started",
		logger.Duration("interval", r.interval),
		logger.Duration("older_than", r.olderThan))

	for {
		select {
		case <-ctx.Done():
			r.log.Info("lock reaper stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	if _, err := r.engine.ReleaseStaleLocks(ctx, r.olderThan); err != nil && ctx.Err() == nil {
		r.log.Error("stale lock release failed", logger.Error(err))
	}
	if err := r.engine.RefreshAdjudicationGauge(ctx); err != nil && ctx.Err() == nil {
		r.log.Warn("adjudication backlog not refreshed", logger.Error(err))
	}
}
