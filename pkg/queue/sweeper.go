package queue

import (
	"context"
	"log/slog"
	"time"
)

// sweepTimeout bounds one pass of a background sweep.
const sweepTimeout = 30 * time.Second

// expireLoop periodically transitions pending events past their ExpiresAt
// to expired. A single UPDATE, safe to run from every replica.
func (p *WorkerPool) expireLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ExpireSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(p.baseCtx, sweepTimeout)
		n, err := p.store.ExpireEvents(ctx)
		cancel()
		if err != nil {
			if p.baseCtx.Err() == nil {
				slog.Warn("Expire sweep failed", "error", err)
			}
			continue
		}
		if n > 0 {
			slog.Info("Expired stale events", "count", n)
		}
	}
}

// orphanLoop periodically recovers work stranded by crashed workers.
func (p *WorkerPool) orphanLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.OrphanSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}
		p.sweepOrphans(p.baseCtx)
	}
}

// sweepOrphans runs one recovery pass: clear leases whose holder stopped
// renewing, return their processing events to pending, and hand threads
// that still have dispatchable work to free worker slots. Each step is a
// single statement, so concurrent sweeps from several replicas are safe.
func (p *WorkerPool) sweepOrphans(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	cleared, err := p.store.ClearExpiredLeases(sctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Lease sweep failed", "error", err)
		}
		return
	}
	reset, err := p.store.ResetOrphanedEvents(sctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Orphaned event sweep failed", "error", err)
		}
		return
	}

	restarted := 0
	p.mu.Lock()
	free := p.cfg.WorkerCount - len(p.sessions)
	p.mu.Unlock()
	if free > 0 {
		threads, err := p.store.ThreadsWithPendingWork(sctx, free)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Pending work scan failed", "error", err)
			}
		} else {
			for _, pt := range threads {
				err := p.Ensure(pt.ID, pt.Namespace, nil)
				if err != nil {
					break
				}
				restarted++
			}
		}
	}

	if cleared > 0 || reset > 0 || restarted > 0 {
		slog.Info("Orphan sweep recovered work",
			"leases_cleared", cleared, "events_reset", reset, "workers_started", restarted)
	}

	p.sweepMu.Lock()
	p.lastOrphanSweep = time.Now()
	p.orphansRecovered += int64(restarted)
	p.sweepMu.Unlock()
}
