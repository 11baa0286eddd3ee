package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/processor"
	"github.com/weftlabs/weft/pkg/store"
)

// ackTimeout bounds the status writes that must still land after the run
// context is cancelled, so a finished event's result is persisted.
const ackTimeout = 15 * time.Second

// Worker drains one thread's event queue under a lease. It acquires the
// lease, resets events stranded in processing by a previous holder, then
// dispatches pending events in order until the queue is empty. The lease
// is renewed on a heartbeat; losing it aborts the worker mid-drain.
type Worker struct {
	id        string
	threadID  string
	namespace string

	store    *store.Store
	cfg      *workerConfig
	registry *processor.Registry
	deps     *processor.Deps
	broker   *events.Broker

	// stopCh is the pool-wide soft stop: the worker finishes the event in
	// flight and exits without draining.
	stopCh <-chan struct{}

	processed   int
	lastEventID string
}

// workerConfig is the slice of QueueConfig a worker needs, copied so a
// worker never races a caller mutating the shared struct.
type workerConfig struct {
	pollInterval       time.Duration
	pollIntervalJitter time.Duration
	leaseTTL           time.Duration
	leaseRenewInterval time.Duration
	eventTimeout       time.Duration
}

func newWorker(id, threadID, namespace string, st *store.Store, cfg *workerConfig, registry *processor.Registry, deps *processor.Deps, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:        id,
		threadID:  threadID,
		namespace: namespace,
		store:     st,
		cfg:       cfg,
		registry:  registry,
		deps:      deps,
		broker:    deps.Broker,
		stopCh:    stopCh,
	}
}

// run claims the thread and drains it. It returns nil after a drain or a
// soft stop, ErrLeaseNotAcquired when another worker holds the thread, and
// the underlying error when cancelled or hard-failed. The lease is always
// released on the way out.
func (w *Worker) run(ctx context.Context) error {
	log := slog.With("worker_id", w.id, "thread_id", w.threadID)

	if err := w.store.AcquireLease(ctx, w.threadID, w.id, w.cfg.leaseTTL); err != nil {
		if errors.Is(err, store.ErrLeaseNotAcquired) {
			log.Debug("Thread leased elsewhere")
			return err
		}
		return fmt.Errorf("acquire lease: %w", err)
	}
	defer w.releaseLease(log)

	// A previous holder may have died mid-event; its processing rows are
	// ours now that we hold the lease.
	n, err := w.store.ResetProcessingEvents(ctx, w.threadID)
	if err != nil {
		return fmt.Errorf("reset processing events: %w", err)
	}
	if n > 0 {
		log.Info("Reset events stranded by a previous worker", "count", n)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go w.renewLease(runCtx, cancel, hbDone, log)
	defer func() {
		cancel()
		<-hbDone
	}()

	log.Debug("Worker started")
	for {
		select {
		case <-w.stopCh:
			log.Info("Worker stopping before drain", "processed", w.processed)
			return nil
		case <-runCtx.Done():
			return runCtx.Err()
		default:
		}

		ev, err := w.store.Dequeue(runCtx, w.threadID, w.namespace)
		if err != nil {
			if errors.Is(err, store.ErrQueueEmpty) {
				w.publishDrained(runCtx, log)
				log.Info("Thread drained", "processed", w.processed)
				return nil
			}
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			log.Error("Dequeue failed", "error", err)
			if !w.sleep(runCtx, w.pollInterval()) {
				return runCtx.Err()
			}
			continue
		}

		if err := w.handle(runCtx, ev, log); err != nil {
			return err
		}
	}
}

// handle dispatches one event and settles its terminal status. Processor
// failures are recorded on the event and the loop moves on; only
// cancellation, infrastructure failure, or a failed status write stop the
// worker.
func (w *Worker) handle(ctx context.Context, ev *models.Event, log *slog.Logger) error {
	inst := w.deps.Instruments()
	start := time.Now()

	evCtx, cancelEv := context.WithTimeout(ctx, w.cfg.eventTimeout)
	result, procErr := w.registry.Dispatch(evCtx, ev, w.deps)
	cancelEv()

	outcome := "completed"
	var kind processor.Category
	if procErr != nil {
		kind = processor.Categorize(procErr)
		if kind == processor.CategoryCancelled {
			outcome = "cancelled"
		} else {
			outcome = "failed"
		}
	}
	inst.EventsProcessed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", string(ev.Type)),
		attribute.String("outcome", outcome)))
	inst.EventDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
		attribute.String("event_type", string(ev.Type))))

	if procErr != nil {
		return w.dispose(ctx, ev, procErr, kind, log)
	}

	var produced []models.EnqueueInput
	if result != nil {
		produced = result.Produced
	}

	// The ack must outlive a cancel that lands after processing finished:
	// the work is done, so its result is persisted.
	ackCtx, cancelAck := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancelAck()
	inserted, err := w.store.AckAndEnqueue(ackCtx, ev.ID, w.threadID, w.namespace, produced)
	if err != nil {
		return fmt.Errorf("ack event %s: %w", ev.ID, err)
	}
	// Produced events are announced before the loop moves on, so their
	// observations always precede anything the next dispatch emits.
	w.publishProduced(ackCtx, inserted, log)

	w.processed++
	w.lastEventID = ev.ID
	return nil
}

// dispose settles an event whose processor returned an error. Transient
// and permanent failures mark the event failed and keep the worker going.
// Cancellation and fatal failures leave the event in processing, to be
// reset by the next lease holder, and stop the worker.
func (w *Worker) dispose(ctx context.Context, ev *models.Event, procErr error, kind processor.Category, log *slog.Logger) error {
	switch kind {
	case processor.CategoryCancelled:
		log.Info("Event processing cancelled", "event_id", ev.ID, "event_type", string(ev.Type))
		return procErr
	case processor.CategoryFatal:
		log.Error("Infrastructure failure, stopping worker", "event_id", ev.ID, "error", procErr)
		return procErr
	}

	log.Warn("Event failed", "event_id", ev.ID, "event_type", string(ev.Type), "kind", string(kind), "error", procErr)

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := w.store.FailEvent(failCtx, ev.ID, procErr.Error(), string(kind)); err != nil {
		return fmt.Errorf("fail event %s: %w", ev.ID, err)
	}
	if w.broker != nil {
		if err := w.broker.Publish(failCtx, events.FailedEvent(w.threadID, ev.ID, procErr.Error(), string(kind))); err != nil {
			log.Debug("Failure observation not published", "event_id", ev.ID, "error", err)
		}
	}

	w.processed++
	w.lastEventID = ev.ID
	return nil
}

// publishProduced announces events the ack transaction inserted. Best
// effort: a crash between the commit and the publish loses the observation,
// and the drain signal still covers the run's completion.
func (w *Worker) publishProduced(ctx context.Context, produced []*models.Event, log *slog.Logger) {
	if w.broker == nil {
		return
	}
	for _, e := range produced {
		if err := w.broker.Publish(ctx, events.FromQueueEvent(e)); err != nil {
			log.Debug("Produced observation not published", "event_id", e.ID, "error", err)
		}
	}
}

// renewLease re-issues the lease CAS on a heartbeat. A rejected renewal
// means another worker took the thread over; the session hard-fails so two
// workers never drain the same thread.
func (w *Worker) renewLease(ctx context.Context, lost context.CancelFunc, done chan<- struct{}, log *slog.Logger) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.leaseRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.store.AcquireLease(ctx, w.threadID, w.id, w.cfg.leaseTTL); err != nil {
			if errors.Is(err, store.ErrLeaseNotAcquired) {
				log.Error("Thread lease lost, aborting worker")
				lost()
				return
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn("Lease renewal failed", "error", err)
		}
	}
}

func (w *Worker) publishDrained(ctx context.Context, log *slog.Logger) {
	if w.broker == nil {
		return
	}
	if err := w.broker.Publish(ctx, events.DrainedEvent(w.threadID, w.processed, w.lastEventID)); err != nil {
		log.Warn("Drained observation not published", "error", err)
	}
}

func (w *Worker) releaseLease(log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.ReleaseLease(ctx, w.threadID, w.id); err != nil {
		log.Warn("Lease release failed", "error", err)
	}
}

// pollInterval returns the configured poll interval with jitter applied,
// so workers backing off after a dequeue error do not retry in lockstep.
func (w *Worker) pollInterval() time.Duration {
	base, jitter := w.cfg.pollInterval, w.cfg.pollIntervalJitter
	if jitter <= 0 {
		return base
	}
	return base - jitter + time.Duration(rand.Int64N(int64(2*jitter)))
}

// sleep waits for d unless the worker is stopped or cancelled first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
