package admission

import (
	"context"
	"log/slog"
	"time"

	"roomgate/cmd/internal/lease"
)

// SweepResult counts what one sweep changed.
type SweepResult struct {
	ReclaimedLeases int64
	DeletedCodes    int64
}

// Reaper reclaims timed-out leases and deletes expired codes.
// Both sweeps are bulk conditional statements, so concurrent or redundant runs are safe.
type Reaper struct {
	store   lease.Store
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

// NewReaper shares the controller's store, timings, clock and metrics.
func NewReaper(c *Controller) *Reaper {
	return &Reaper{
		store:   c.store,
		cfg:     c.cfg,
		now:     c.now,
		log:     c.log,
		metrics: c.metrics,
	}
}

// Sweep runs both sweeps once. The lease sweep's result is kept even when the code sweep fails.
func (r *Reaper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := r.now()

	var res SweepResult
	n, err := r.store.SweepStale(ctx, now.Add(-r.cfg.LeaseTimeout))
	if err != nil {
		err = storeErr("sweep stale", err)
		r.metrics.sweep(res, time.Since(start).Seconds(), err)
		return res, err
	}
	res.ReclaimedLeases = n

	n, err = r.store.DeleteExpired(ctx, now.Add(-r.cfg.ExpiryGrace))
	if err != nil {
		err = storeErr("delete expired", err)
		r.metrics.sweep(res, time.Since(start).Seconds(), err)
		return res, err
	}
	res.DeletedCodes = n

	r.metrics.sweep(res, time.Since(start).Seconds(), nil)
	if res.ReclaimedLeases > 0 || res.DeletedCodes > 0 {
		r.log.Info("reaper.sweep", "reclaimed_leases", res.ReclaimedLeases, "deleted_codes", res.DeletedCodes)
	}
	return res, nil
}

// Run sweeps every SweepInterval until ctx is done. Failures are logged and the loop continues.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweepCtx, cancel := context.WithTimeout(ctx, r.cfg.SweepInterval)
			if _, err := r.Sweep(sweepCtx); err != nil && ctx.Err() == nil {
				r.log.Error("reaper.sweep.fail", "err", err)
			}
			cancel()
		}
	}
}
