// Package messaging delivers engine signals (XP awarded, level up, streak
// changes, shop activity) to UI-side handlers, either in process or relayed
// between instances over Redis Pub/Sub.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

var (
	// ErrEventBusClosed rejects Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is logged when a handler panics; the bus keeps running.
	ErrHandlerPanic = errors.New("handler panicked")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus fans events out to handlers in the same process.
// A failing or panicking handler never affects the publisher or other handlers.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	asyncMode   bool
	workerPool  chan struct{}
	log         *logger.Logger
	metrics     Metrics
	closed      bool
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig tunes handler concurrency.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded worker pool instead of the
	// publisher's goroutine.
	AsyncMode bool

	// WorkerPoolSize bounds concurrent handlers in async mode.
	WorkerPoolSize int

	Logger *logger.Logger
}

// DefaultInMemoryEventBusConfig returns a synchronous bus. The UI expects
// signals in the order the engine emits them.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{WorkerPoolSize: 8}
}

// NewInMemoryEventBus returns a process-local bus. Zero config fields take defaults.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 8
	}

	return &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		log:        config.Logger.With(logger.Component("eventbus")),
	}
}

// Subscribe adds handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	return nil
}

// SubscribeAll adds handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish delivers the event to every matching handler. Handler errors are
// logged and counted, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	if b.asyncMode {
		// Registered under the read lock so Close cannot miss it.
		b.wg.Add(len(handlers))
	}
	b.mu.RUnlock()

	b.metrics.published.Add(1)

	for _, h := range handlers {
		if b.asyncMode {
			go b.runAsync(event, h)
			continue
		}
		b.run(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) runAsync(event shared.Event, handler shared.EventHandler) {
	defer b.wg.Done()

	b.workerPool <- struct{}{}
	defer func() { <-b.workerPool }()
	b.run(event, handler)
}

func (b *InMemoryEventBus) run(event shared.Event, handler shared.EventHandler) {
	start := time.Now()
	err := safeCall(event, handler)
	b.metrics.handled.Add(1)

	if err != nil {
		b.metrics.failed.Add(1)
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.UserID(event.AggregateID()),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
	}
}

func safeCall(event shared.Event, handler shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return handler(event)
}

// Close stops accepting events and waits until every async handler queued
// before it has run.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Metrics returns a point-in-time snapshot of the bus counters.
func (b *InMemoryEventBus) Metrics() MetricsSnapshot {
	return b.metrics.snapshot()
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics counts bus activity.
type Metrics struct {
	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
	relayed   atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Published       int64
	HandlerExecs    int64
	HandlerFailures int64
	Relayed         int64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Published:       m.published.Load(),
		HandlerExecs:    m.handled.Load(),
		HandlerFailures: m.failed.Load(),
		Relayed:         m.relayed.Load(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultEventsChannel is the Redis channel events are relayed on.
const DefaultEventsChannel = "gamification:events"

// RedisEventBus delivers events locally and relays them to other instances.
// Events published by this instance are not delivered twice.
type RedisEventBus struct {
	client     redis.UniversalClient
	local      *InMemoryEventBus
	channel    string
	instanceID string
	log        *logger.Logger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// RedisEventBusConfig wires the relay to a go-redis client.
type RedisEventBusConfig struct {
	Client redis.UniversalClient

	// Channel defaults to DefaultEventsChannel.
	Channel string

	// InstanceID filters self-published events. Generated when empty.
	InstanceID string

	Local  InMemoryEventBusConfig
	Logger *logger.Logger
}

// NewRedisEventBus subscribes to the relay channel and returns a running bus.
func NewRedisEventBus(ctx context.Context, config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultEventsChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Local.Logger == nil {
		config.Local.Logger = config.Logger
	}

	pubsub := config.Client.Subscribe(ctx, config.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", config.Channel, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	bus := &RedisEventBus{
		client:     config.Client,
		local:      NewInMemoryEventBus(config.Local),
		channel:    config.Channel,
		instanceID: config.InstanceID,
		log:        config.Logger.With(logger.Component("redis_eventbus")),
		pubsub:     pubsub,
		cancel:     cancel,
	}

	bus.wg.Add(1)
	go bus.listen(loopCtx, pubsub.Channel())

	return bus, nil
}

// Subscribe adds handler for one event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

// SubscribeAll adds handler for every event type.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish delivers the event locally and relays it. A relay failure is
// logged; local delivery still happens.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(envelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.log.Warn("event relay failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
	}

	return b.local.Publish(event)
}

func (b *RedisEventBus) listen(ctx context.Context, messages <-chan *redis.Message) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			b.handleMessage(msg)
		}
	}
}

func (b *RedisEventBus) handleMessage(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.Warn("dropping malformed relayed event", logger.Err(err))
		return
	}
	if env.InstanceID == b.instanceID {
		return
	}

	b.local.metrics.relayed.Add(1)
	if err := b.local.Publish(&relayedEvent{env: env}); err != nil && !errors.Is(err, ErrEventBusClosed) {
		b.log.Warn("relayed event not delivered", logger.Err(err))
	}
}

// Close unsubscribes and drains local handlers.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()

	if lerr := b.local.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}

// Metrics returns the local bus counters, including relayed events.
func (b *RedisEventBus) Metrics() MetricsSnapshot {
	return b.local.Metrics()
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

type envelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// relayedEvent is an event received from another instance.
type relayedEvent struct {
	env envelope
}

func (e *relayedEvent) EventType() shared.EventType     { return e.env.EventType }
func (e *relayedEvent) AggregateID() string             { return e.env.AggregateID }
func (e *relayedEvent) OccurredAt() time.Time           { return e.env.OccurredAt }
func (e *relayedEvent) Payload() map[string]interface{} { return e.env.Payload }

var (
	_ shared.EventBus = (*InMemoryEventBus)(nil)
	_ shared.EventBus = (*RedisEventBus)(nil)
)
