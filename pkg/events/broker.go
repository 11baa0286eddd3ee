package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weftlabs/weft/pkg/models"
)

// DefaultSubscriptionBuffer is the per-subscription channel capacity.
const DefaultSubscriptionBuffer = 256

// Broker fans stream events out to in-process subscribers and relays them
// across processes over NOTIFY. Events published here reach local
// subscriptions directly; the NOTIFY copy is tagged with this broker's
// origin so its loopback is discarded instead of delivered twice.
//
// With a nil pool and empty connString the broker runs purely in-process,
// which is what unit tests and single-process embeddings use.
type Broker struct {
	publisher *Publisher
	listener  *Listener
	origin    string

	mu      sync.Mutex
	subs    map[string]map[*Subscription]struct{}
	stopped bool
}

// Subscription is one consumer of a thread's stream. Receive from Events
// until it closes; Close releases the slot and, for the thread's last
// subscriber, stops the LISTEN.
type Subscription struct {
	threadID string
	broker   *Broker
	ch       chan *StreamEvent
	closed   bool // guarded by broker.mu
	dropped  atomic.Int64
}

// Events returns the receive channel. It closes when the subscription or
// the broker shuts down.
func (s *Subscription) Events() <-chan *StreamEvent {
	return s.ch
}

// Dropped reports how many observations were discarded because the
// subscriber fell behind.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	b := s.broker

	b.mu.Lock()
	if s.closed {
		b.mu.Unlock()
		return
	}
	s.closed = true
	last := false
	if set, ok := b.subs[s.threadID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, s.threadID)
			last = true
		}
	}
	close(s.ch)
	b.mu.Unlock()

	if last && b.listener != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.listener.Unsubscribe(ctx, ChannelForThread(s.threadID)); err != nil {
			slog.Warn("UNLISTEN failed", "thread_id", s.threadID, "error", err)
		}
	}
}

// NewBroker builds a broker. pool carries outbound NOTIFY; connString is
// dialed for the dedicated LISTEN connection. Either may be zero for a
// purely in-process broker.
func NewBroker(pool *pgxpool.Pool, connString string) *Broker {
	b := &Broker{
		origin: uuid.NewString(),
		subs:   make(map[string]map[*Subscription]struct{}),
	}
	if pool != nil {
		b.publisher = NewPublisher(pool)
	}
	if connString != "" {
		b.listener = NewListener(connString, b.handleNotification)
	}
	return b
}

// Start brings up the LISTEN connection when the broker has one.
func (b *Broker) Start(ctx context.Context) error {
	if b.listener == nil {
		return nil
	}
	return b.listener.Start(ctx)
}

// Stop closes the listener and every open subscription.
func (b *Broker) Stop(ctx context.Context) {
	if b.listener != nil {
		b.listener.Stop(ctx)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	for _, set := range b.subs {
		for sub := range set {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
}

// Healthy reports whether the cross-process relay is up. A purely
// in-process broker is always healthy.
func (b *Broker) Healthy() bool {
	return b.listener == nil || b.listener.Healthy()
}

// Subscribe registers a consumer for a thread's stream. The first
// subscriber for a thread starts the LISTEN on its channel.
func (b *Broker) Subscribe(ctx context.Context, threadID string, buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	sub := &Subscription{
		threadID: threadID,
		broker:   b,
		ch:       make(chan *StreamEvent, buffer),
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, fmt.Errorf("broker stopped")
	}
	set, ok := b.subs[threadID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[threadID] = set
	}
	first := len(set) == 0
	set[sub] = struct{}{}
	b.mu.Unlock()

	if first && b.listener != nil {
		if err := b.listener.Subscribe(ctx, ChannelForThread(threadID)); err != nil {
			sub.Close()
			return nil, err
		}
	}
	return sub, nil
}

// Publish delivers an event to local subscribers and relays it over
// NOTIFY for other processes. The NOTIFY copy carries this broker's
// origin, so the loopback notification is dropped on receipt.
func (b *Broker) Publish(ctx context.Context, ev *StreamEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Origin = b.origin
	b.fanout(ev)

	if b.publisher == nil {
		return nil
	}
	return b.publisher.Publish(ctx, ev)
}

// handleNotification decodes a NOTIFY payload and fans it out, skipping
// notifications this broker published itself.
func (b *Broker) handleNotification(channel string, payload []byte) {
	var ev StreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		slog.Warn("Undecodable NOTIFY payload", "channel", channel, "error", err)
		return
	}
	if ev.Origin != "" && ev.Origin == b.origin {
		return
	}
	b.fanout(&ev)
}

func (b *Broker) fanout(ev *StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[ev.ThreadID] {
		b.deliver(sub, ev)
	}
}

// deliver pushes without blocking. Tokens are lossy: a full buffer drops
// the incoming token. Any other observation evicts the oldest buffered one
// to make room, so lifecycle events still arrive on a lagging consumer.
// Caller holds b.mu.
func (b *Broker) deliver(sub *Subscription, ev *StreamEvent) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- ev:
		return
	default:
	}

	if ev.Type == models.EventToken {
		sub.dropped.Add(1)
		return
	}
	select {
	case <-sub.ch:
		sub.dropped.Add(1)
	default:
	}
	select {
	case sub.ch <- ev:
	default:
		sub.dropped.Add(1)
	}
}
