package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"mcpchat/internal/domain"
)

// defaultQueueSize bounds how many undelivered events a subscriber may lag.
const defaultQueueSize = 64

type subscription struct {
	id      uint64
	handler domain.EventHandler
	queue   chan queued
	once    sync.Once
}

type queued struct {
	ctx   context.Context
	event domain.Event
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.queue) })
}

// Bus is an in-process, goroutine-safe event bus. Each subscriber receives
// events in publish order on its own goroutine; a slow subscriber drops
// events instead of blocking publishers.
type Bus struct {
	mu        sync.RWMutex
	typed     map[domain.EventType][]*subscription
	allSubs   []*subscription
	nextID    atomic.Uint64
	queueSize int
	logger    *slog.Logger
	wg        sync.WaitGroup
	closed    atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:     make(map[domain.EventType][]*subscription),
		queueSize: defaultQueueSize,
		logger:    logger,
	}
}

// Publish enqueues an event for matching typed subscribers and all-event
// subscribers.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, sub := range b.typed[event.Type] {
		b.enqueue(ctx, event, sub)
	}
	for _, sub := range b.allSubs {
		b.enqueue(ctx, event, sub)
	}
}

func (b *Bus) enqueue(ctx context.Context, event domain.Event, sub *subscription) {
	select {
	case sub.queue <- queued{ctx: ctx, event: event}:
	default:
		b.logger.Warn("event dropped for slow subscriber",
			"event", string(event.Type),
			"subscriber", sub.id,
		)
	}
}

func (b *Bus) start(handler domain.EventHandler) *subscription {
	sub := &subscription{
		id:      b.nextID.Add(1),
		handler: handler,
		queue:   make(chan queued, b.queueSize),
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for q := range sub.queue {
			b.deliver(q, sub)
		}
	}()
	return sub
}

func (b *Bus) deliver(q queued, sub *subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(q.event.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(q.ctx, q.event)
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	sub := b.start(handler)

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == sub.id {
				b.typed[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	sub := b.start(handler)

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, s := range b.allSubs {
			if s.id == sub.id {
				b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// Close prevents new publishes, lets every subscriber drain its queue and
// waits for them to finish. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	for _, subs := range b.typed {
		for _, s := range subs {
			s.stop()
		}
	}
	for _, s := range b.allSubs {
		s.stop()
	}
	b.mu.Unlock()

	b.wg.Wait()
}
