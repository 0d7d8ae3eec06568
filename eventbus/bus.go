// Package eventbus provides an in-process publish/subscribe bus for
// lifecycle events raised by the Execution Engine, Resilience Layer,
// Worker Pool Manager, and Saga Coordinator.
//
// Each event is queued once for every subscriber current at publish
// time; there is no acknowledgement and no redelivery. Each subscriber
// owns a single worker goroutine draining a bounded, buffered channel; a
// publisher never blocks on a slow subscriber and never holds a lock
// across delivery. A subscriber that falls behind drops its oldest
// undelivered event, which is then never delivered to it, and the bus
// records the drop via the optional logger rather than applying
// backpressure to the publisher.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/lesleslie/mahavishnu/observe"
)

// Type identifies the category of an Event, following the
// "<domain>.<verb>" convention used across Mahavishnu's subsystems.
type Type string

// Event catalogue. Subsystems publish exactly these types; consumers
// subscribe by Type and type-assert Data to the documented payload.
const (
	// Workflow lifecycle.
	WorkflowStarted   Type = "workflow.started"
	WorkflowCompleted Type = "workflow.completed"
	WorkflowFailed    Type = "workflow.failed"
	WorkflowCancelled Type = "workflow.cancelled"

	// Per-repository task outcomes within a workflow.
	RepoStarted   Type = "repo.started"
	RepoCompleted Type = "repo.completed"
	RepoFailed    Type = "repo.failed"

	// Dead-letter queue.
	DLQEnqueued Type = "dlq.enqueued"
	DLQReplayed Type = "dlq.replayed"
	DLQPurged   Type = "dlq.purged"

	// Circuit breaker transitions.
	BreakerOpened   Type = "breaker.opened"
	BreakerClosed   Type = "breaker.closed"
	BreakerHalfOpen Type = "breaker.half_open"

	// Worker pool lifecycle.
	PoolScaledUp   Type = "pool.scaled_up"
	PoolScaledDown Type = "pool.scaled_down"
	PoolDegraded   Type = "pool.degraded"
	PoolDraining   Type = "pool.draining"

	// Individual worker lifecycle.
	WorkerSpawned   Type = "worker.spawned"
	WorkerReady     Type = "worker.ready"
	WorkerUnhealthy Type = "worker.unhealthy"
	WorkerLost      Type = "worker.lost"
	WorkerStopped   Type = "worker.stopped"

	// Saga lifecycle.
	SagaStarted       Type = "saga.started"
	SagaStepCompleted Type = "saga.step_completed"
	SagaStepFailed    Type = "saga.step_failed"
	SagaCompensating  Type = "saga.compensating"
	SagaCompensated   Type = "saga.compensated"
	SagaCompleted     Type = "saga.completed"
	SagaOrphaned      Type = "saga.orphaned"
)

// Event is a single occurrence published onto the Bus. Data carries a
// type-specific payload; callers subscribing to a Type know its shape.
type Event struct {
	Type      Type
	Source    string // "<engine>:<repo>", saga id, worker id, or similar
	Timestamp time.Time
	Data      any
}

// Handler processes a delivered Event. Handlers run on the bus's
// per-subscriber worker goroutine; a handler that blocks only delays
// delivery to that one subscriber.
type Handler func(ctx context.Context, event Event)

// Subscription is returned by Subscribe and cancels delivery when closed.
type Subscription struct {
	bus    *Bus
	typ    Type
	id     uint64
	cancel context.CancelFunc
	queue  chan Event
}

// Unsubscribe stops delivery to this subscription and releases its
// worker goroutine. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	subs := s.bus.subscribers[s.typ]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscribers[s.typ] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()
	s.cancel()
}

// Config configures a Bus.
type Config struct {
	// QueueSize bounds the per-subscriber buffered channel. Default: 64.
	QueueSize int

	// Logger receives a Warn on every dropped event. Optional.
	Logger observe.Logger
}

// Bus is an in-process, multi-producer, multi-consumer event dispatcher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Type][]*Subscription
	nextID      uint64
	queueSize   int
	logger      observe.Logger
}

// New constructs a Bus. A zero Config applies defaults.
func New(cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Bus{
		subscribers: make(map[Type][]*Subscription),
		queueSize:   cfg.QueueSize,
		logger:      cfg.Logger,
	}
}

// Subscribe registers handler for every Event of the given Type,
// returning a Subscription the caller may later Unsubscribe. The
// handler runs serially on a dedicated goroutine per subscription.
func (b *Bus) Subscribe(ctx context.Context, typ Type, handler Handler) *Subscription {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.nextID++
	sub := &Subscription{
		bus:    b,
		typ:    typ,
		id:     b.nextID,
		cancel: cancel,
		queue:  make(chan Event, b.queueSize),
	}
	b.subscribers[typ] = append(b.subscribers[typ], sub)
	b.mu.Unlock()

	go sub.run(ctx, handler, b.logger)

	return sub
}

func (s *Subscription) run(ctx context.Context, handler Handler, logger observe.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			handler(ctx, event)
		}
	}
}

// Publish delivers event to every current subscriber of event.Type. It
// never blocks: a subscriber whose queue is full has its oldest queued
// event dropped to make room, and the drop is logged at Warn.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*Subscription, len(b.subscribers[event.Type]))
	copy(subs, b.subscribers[event.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- event:
		default:
			select {
			case <-sub.queue:
			default:
			}
			select {
			case sub.queue <- event:
			default:
			}
			if b.logger != nil {
				b.logger.Warn(context.Background(), "eventbus: dropped event for slow subscriber",
					observe.Field{Key: "event_type", Value: string(event.Type)},
					observe.Field{Key: "source", Value: event.Source},
				)
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions for typ,
// primarily for tests and diagnostics.
func (b *Bus) SubscriberCount(typ Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[typ])
}
