package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"doorman/internal/domain"
)

// queueDepth bounds each subscriber's delivery queue. Publish blocks once a
// subscriber falls this far behind instead of reordering or dropping events.
const queueDepth = 64

type envelope struct {
	ctx   context.Context
	event domain.Event
}

// subscription owns one handler and the ordered queue feeding it.
type subscription struct {
	id      uint64
	handler domain.EventHandler
	queue   chan envelope
}

// Bus is an in-process, goroutine-safe event bus. Door controllers publish
// card reads, sensor changes and lock transitions here; the audit recorder
// subscribes to the full stream.
//
// Every subscriber gets its own delivery goroutine draining an ordered
// queue: a slow audit write never holds up a door controller, and two
// events published back to back reach each subscriber in publish order.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]*subscription
	allSubs []*subscription
	nextID  uint64
	closed  bool
	log     *slog.Logger
	wg      sync.WaitGroup
}

// New creates an event bus.
func New(log *slog.Logger) *Bus {
	return &Bus{
		typed: make(map[domain.EventType][]*subscription),
		log:   log,
	}
}

// Publish queues an event for matching typed subscribers and all-event
// subscribers. The read lock is held across the sends so Close cannot tear
// down a queue mid-publish.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	env := envelope{ctx: ctx, event: event}
	for _, sub := range b.typed[event.Type] {
		sub.queue <- env
	}
	for _, sub := range b.allSubs {
		sub.queue <- env
	}
}

// deliver drains one subscriber's queue until it is closed by unsubscribe
// or Close. Queued events are still handled before the goroutine exits.
func (b *Bus) deliver(sub *subscription) {
	defer b.wg.Done()
	for env := range sub.queue {
		b.invoke(env.ctx, env.event, sub.handler)
	}
}

func (b *Bus) invoke(ctx context.Context, event domain.Event, handler domain.EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				"event", string(event.Type),
				"door", event.DoorID,
				"panic", r,
			)
		}
	}()
	handler(ctx, event)
}

// newSubscription is called with b.mu held.
func (b *Bus) newSubscription(handler domain.EventHandler) *subscription {
	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		handler: handler,
		queue:   make(chan envelope, queueDepth),
	}
	b.wg.Add(1)
	go b.deliver(sub)
	return sub
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	sub := b.newSubscription(handler)
	b.typed[eventType] = append(b.typed[eventType], sub)

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		b.typed[eventType] = removeSub(b.typed[eventType], id)
	}
}

// SubscribeAll registers a handler that receives every event regardless of
// type. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	sub := b.newSubscription(handler)
	b.allSubs = append(b.allSubs, sub)

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.closed {
			return
		}
		b.allSubs = removeSub(b.allSubs, id)
	}
}

// removeSub is called with b.mu held. Closing the queue ends the
// subscriber's delivery goroutine once queued events are handled.
func removeSub(subs []*subscription, id uint64) []*subscription {
	for i, s := range subs {
		if s.id == id {
			close(s.queue)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close prevents new publishes, drains every subscriber queue, and waits
// for the delivery goroutines to finish. No handler runs after Close
// returns. Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.typed {
		for _, sub := range subs {
			close(sub.queue)
		}
	}
	for _, sub := range b.allSubs {
		close(sub.queue)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
