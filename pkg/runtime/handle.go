package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weftlabs/weft/pkg/events"
	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/store"
)

// Run statuses reported by RunHandle.Status.
const (
	StatusQueued    = "queued"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// rehydrateTimeout bounds the re-read of a truncated relay envelope.
const rehydrateTimeout = 5 * time.Second

// RunHandle tracks one submitted message through the queue. Events streams
// every observation on the thread from submission on; Done closes when the
// queue drains past the submitted event, when the submitted event itself
// fails, or when the run is cancelled.
type RunHandle struct {
	// QueueID is the submitted event's id, ThreadID the conversation it
	// joined, Namespace the namespace its events carry.
	QueueID   string
	ThreadID  string
	Namespace string

	store        *store.Store
	sub          *events.Subscription
	cancelWorker func()
	onEvent      func(*events.StreamEvent)
	noTokens     bool

	events  chan *events.StreamEvent
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.Mutex
	status string
	err    error
	fin    bool
}

func newRunHandle(queueID, threadID, ns string, st *store.Store, sub *events.Subscription, opts *RunOptions, cancelWorker func()) *RunHandle {
	return &RunHandle{
		QueueID:      queueID,
		ThreadID:     threadID,
		Namespace:    ns,
		store:        st,
		sub:          sub,
		cancelWorker: cancelWorker,
		onEvent:      opts.OnEvent,
		noTokens:     opts.DisableStream,
		events:       make(chan *events.StreamEvent, cap(sub.Events())),
		done:         make(chan struct{}),
		status:       StatusQueued,
	}
}

// Events returns the handle's observation stream. The channel closes after
// Done resolves. Slow consumers lose tokens first; lifecycle events evict
// the oldest buffered entry instead of being dropped.
func (h *RunHandle) Events() <-chan *events.StreamEvent {
	return h.events
}

// Done closes when the run reaches a terminal state. Err reports how.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error, if any. It is meaningful after Done.
func (h *RunHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Status reports the run's current state: queued, completed, failed, or
// cancelled.
func (h *RunHandle) Status() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Dropped counts observations lost to slow consumption, on the relay
// subscription and the handle buffer combined.
func (h *RunHandle) Dropped() int64 {
	return h.dropped.Load() + h.sub.Dropped()
}

// Cancel aborts the thread's worker and resolves Done. The in-flight event
// keeps its processing status and is reset when the next worker takes the
// lease; later pending events stay queued.
func (h *RunHandle) Cancel() {
	if h.cancelWorker != nil {
		h.cancelWorker()
	}
	h.finish(StatusCancelled, nil)
}

// loop consumes the subscription until a terminal observation arrives.
func (h *RunHandle) loop() {
	defer close(h.events)
	for ev := range h.sub.Events() {
		ev = h.rehydrate(ev)
		if h.noTokens && ev.Type == models.EventToken {
			continue
		}
		if h.onEvent != nil {
			h.callback(ev)
		}
		h.deliver(ev)

		switch ev.Type {
		case models.EventQueueDrained:
			var p events.DrainedPayload
			// Event ids are ULIDs, so a lexicographic compare orders them by
			// creation time: a drain at or past the submitted event covers it.
			if json.Unmarshal(ev.Payload, &p) == nil && p.LastEventID >= h.QueueID {
				h.finish(StatusCompleted, nil)
				return
			}
		case models.EventFailed:
			var p events.FailurePayload
			if json.Unmarshal(ev.Payload, &p) == nil && p.EventID == h.QueueID {
				h.finish(StatusFailed, fmt.Errorf("message processing failed (%s): %s", p.Kind, p.Error))
				return
			}
		}
	}
	// The relay shut down before a covering drain was observed.
	h.finish(StatusFailed, errors.New("event stream closed before the queue drained"))
}

// rehydrate re-reads an event whose relay envelope exceeded the NOTIFY
// payload limit. On failure the truncated envelope is passed through.
func (h *RunHandle) rehydrate(ev *events.StreamEvent) *events.StreamEvent {
	if !ev.Truncated || ev.EventID == "" || h.store == nil {
		return ev
	}
	ctx, cancel := context.WithTimeout(context.Background(), rehydrateTimeout)
	defer cancel()
	full, err := h.store.GetEvent(ctx, ev.EventID)
	if err != nil {
		slog.Debug("Truncated event could not be re-read",
			"event_id", ev.EventID, "error", err)
		return ev
	}
	out := events.FromQueueEvent(full)
	out.Timestamp = ev.Timestamp
	return out
}

// deliver forwards an observation to the handle channel without blocking,
// with the same loss policy as the relay: tokens are droppable, lifecycle
// events evict the oldest buffered entry.
func (h *RunHandle) deliver(ev *events.StreamEvent) {
	select {
	case h.events <- ev:
		return
	default:
	}
	if ev.Type == models.EventToken {
		h.dropped.Add(1)
		return
	}
	select {
	case <-h.events:
		h.dropped.Add(1)
	default:
	}
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
	}
}

func (h *RunHandle) callback(ev *events.StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Run event callback panicked",
				"thread_id", h.ThreadID, "panic", r)
		}
	}()
	h.onEvent(ev)
}

// finish records the terminal state exactly once. Closing the subscription
// ends the loop; the loop's own finish call then no-ops.
func (h *RunHandle) finish(status string, err error) {
	h.mu.Lock()
	if h.fin {
		h.mu.Unlock()
		return
	}
	h.fin = true
	h.status = status
	h.err = err
	h.mu.Unlock()

	h.sub.Close()
	close(h.done)
}
