package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/processor"
	"github.com/weftlabs/weft/pkg/store"
)

// WorkerPool runs at most WorkerCount thread workers concurrently and
// tracks which threads they hold, so a run can cancel its thread's worker.
// Start launches the background sweeps; Stop drains gracefully and then
// cancels stragglers.
type WorkerPool struct {
	store    *store.Store
	cfg      *config.QueueConfig
	registry *processor.Registry
	// deps are the defaults used for sweep-restarted workers; Ensure callers
	// may pass their own, carrying run-scoped agent and tool registries.
	deps     *processor.Deps
	instance string

	baseCtx  context.Context
	baseStop context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*workerSession
	stopped  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	workerSeq        atomic.Int64
	threadsProcessed atomic.Int64

	sweepMu          sync.Mutex
	lastOrphanSweep  time.Time
	orphansRecovered int64
}

type workerSession struct {
	cancel    context.CancelFunc
	namespace string
	startedAt time.Time
}

// NewWorkerPool builds a pool. deps is the default dependency bundle for
// workers the sweeps start on their own.
func NewWorkerPool(st *store.Store, cfg *config.QueueConfig, registry *processor.Registry, deps *processor.Deps) *WorkerPool {
	baseCtx, baseStop := context.WithCancel(context.Background())
	return &WorkerPool{
		store:    st,
		cfg:      cfg,
		registry: registry,
		deps:     deps,
		instance: uuid.NewString()[:8],
		baseCtx:  baseCtx,
		baseStop: baseStop,
		sessions: make(map[string]*workerSession),
		stopCh:   make(chan struct{}),
	}
}

// Start runs a recovery pass for work stranded by an unclean shutdown and
// launches the periodic expiry and orphan sweeps.
func (p *WorkerPool) Start(ctx context.Context) {
	p.sweepOrphans(ctx)
	p.wg.Add(2)
	go p.expireLoop()
	go p.orphanLoop()
	slog.Info("Worker pool started", "instance", p.instance, "capacity", p.cfg.WorkerCount)
}

// Ensure guarantees a worker is draining the thread. It is a no-op when
// one already is; otherwise it claims a slot and starts one. deps nil
// means the pool's defaults.
func (p *WorkerPool) Ensure(threadID, namespace string, deps *processor.Deps) error {
	if deps == nil {
		deps = p.deps
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	if _, ok := p.sessions[threadID]; ok {
		p.mu.Unlock()
		return nil
	}
	if len(p.sessions) >= p.cfg.WorkerCount {
		p.mu.Unlock()
		return ErrAtCapacity
	}
	sctx, cancel := context.WithCancel(p.baseCtx)
	p.sessions[threadID] = &workerSession{cancel: cancel, namespace: namespace, startedAt: time.Now()}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.runWorker(sctx, threadID, namespace, deps)
	return nil
}

// Cancel aborts the worker holding threadID, if any. The event in flight
// may still complete and persist; later events stay pending.
func (p *WorkerPool) Cancel(threadID string) bool {
	p.mu.Lock()
	s, ok := p.sessions[threadID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	return true
}

// Active lists the threads currently held by this pool's workers.
func (p *WorkerPool) Active() []WorkerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]WorkerInfo, 0, len(p.sessions))
	for threadID, s := range p.sessions {
		infos = append(infos, WorkerInfo{ThreadID: threadID, Namespace: s.namespace, StartedAt: s.startedAt})
	}
	return infos
}

// Health snapshots the pool.
func (p *WorkerPool) Health() PoolHealth {
	p.mu.Lock()
	active := len(p.sessions)
	stopped := p.stopped
	p.mu.Unlock()

	p.sweepMu.Lock()
	lastSweep := p.lastOrphanSweep
	recovered := p.orphansRecovered
	p.sweepMu.Unlock()

	brokerHealthy := p.deps == nil || p.deps.Broker == nil || p.deps.Broker.Healthy()
	return PoolHealth{
		Healthy:          !stopped && brokerHealthy,
		ActiveThreads:    active,
		Capacity:         p.cfg.WorkerCount,
		BrokerHealthy:    brokerHealthy,
		ThreadsProcessed: p.threadsProcessed.Load(),
		LastOrphanSweep:  lastSweep,
		OrphansRecovered: recovered,
	}
}

// Stop shuts the pool down: no new workers, a soft stop to the running
// ones, and after GracefulShutdownTimeout a hard cancel for whatever is
// still going. Blocks until every worker and sweep goroutine returned.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		slog.Warn("Graceful shutdown timed out, cancelling workers")
		p.baseStop()
		<-done
	}
	p.baseStop()
	slog.Info("Worker pool stopped", "instance", p.instance)
}

func (p *WorkerPool) runWorker(ctx context.Context, threadID, namespace string, deps *processor.Deps) {
	defer p.wg.Done()

	w := newWorker(p.workerID(), threadID, namespace, p.store, p.workerConfig(), p.registry, deps, p.stopCh)
	err := w.run(ctx)

	p.mu.Lock()
	if s, ok := p.sessions[threadID]; ok {
		s.cancel()
		delete(p.sessions, threadID)
	}
	stopped := p.stopped
	p.mu.Unlock()

	switch {
	case err == nil:
		p.threadsProcessed.Add(1)
	case errors.Is(err, store.ErrLeaseNotAcquired):
		slog.Debug("Thread leased by another replica", "thread_id", threadID)
	case errors.Is(err, context.Canceled):
		slog.Info("Worker cancelled", "thread_id", threadID)
	default:
		slog.Error("Worker failed", "thread_id", threadID, "error", err)
	}
	if stopped || err != nil {
		return
	}

	// An event enqueued while the worker was concluding its drain would
	// otherwise sit until the next orphan sweep. The session is already
	// unregistered here, so a recheck either sees that late event or the
	// enqueuer's own Ensure found the slot free.
	n, cerr := p.store.PendingCount(p.baseCtx, threadID, namespace)
	if cerr != nil || n == 0 {
		return
	}
	if rerr := p.Ensure(threadID, namespace, deps); rerr != nil {
		slog.Warn("Worker restart after late enqueue failed", "thread_id", threadID, "error", rerr)
	}
}

func (p *WorkerPool) workerID() string {
	return fmt.Sprintf("%s-w%d", p.instance, p.workerSeq.Add(1))
}

func (p *WorkerPool) workerConfig() *workerConfig {
	return &workerConfig{
		pollInterval:       p.cfg.PollInterval,
		pollIntervalJitter: p.cfg.PollIntervalJitter,
		leaseTTL:           p.cfg.LeaseTTL,
		leaseRenewInterval: p.cfg.LeaseRenewInterval,
		eventTimeout:       p.cfg.EventTimeout,
	}
}
