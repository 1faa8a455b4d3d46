// Package events provides the publish/subscribe bus that fans
// broker-stream status, position, and audit events out to every
// subscriber — internal/stream (its runner and reconciler) publishes,
// internal/realtime subscribes.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"go.uber.org/zap"
)

// EventType identifies the shape of an Event's payload.
type EventType string

const (
	EventTypeTick         EventType = "tick"
	EventTypePosition     EventType = "position"
	EventTypeAudit        EventType = "audit"
	EventTypeStreamStatus EventType = "stream_status"
)

// Event is the common interface every published value satisfies.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent carries the fields every Event needs.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// TickEvent carries a single price tick for market-data fan-out.
type TickEvent struct {
	BaseEvent
	Tick types.Tick `json:"tick"`
}

func NewTickEvent(tick types.Tick) *TickEvent {
	return &TickEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeTick, Timestamp: tick.Timestamp},
		Tick:      tick,
	}
}

// PositionEvent carries a position upsert or close for account-channel
// fan-out.
type PositionEvent struct {
	BaseEvent
	Position types.Position `json:"position"`
}

func NewPositionEvent(position types.Position) *PositionEvent {
	ts := position.OpenedAt
	if position.ClosedAt != nil {
		ts = *position.ClosedAt
	}
	return &PositionEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypePosition, Timestamp: ts},
		Position:  position,
	}
}

// AuditEvent wraps a types.AuditEvent so the append-only audit trail
// (order submissions, compliance rejections, reconciliation
// discrepancies) rides the same bus as market data.
type AuditEvent struct {
	BaseEvent
	Audit types.AuditEvent `json:"audit"`
}

func NewAuditEvent(audit types.AuditEvent) *AuditEvent {
	return &AuditEvent{
		BaseEvent: BaseEvent{ID: audit.ID, Type: EventTypeAudit, Timestamp: audit.Timestamp},
		Audit:     audit,
	}
}

// StreamConnectionState is the transaction and tick stream's connection
// lifecycle, broadcast to admin subscribers.
type StreamConnectionState string

const (
	StreamConnected    StreamConnectionState = "connected"
	StreamDisconnected StreamConnectionState = "disconnected"
	StreamReconnecting StreamConnectionState = "reconnecting"
	StreamError        StreamConnectionState = "error"
)

// StreamStatusEvent reports a broker connection's health.
type StreamStatusEvent struct {
	BaseEvent
	Account string                `json:"account"`
	State   StreamConnectionState `json:"state"`
	Detail  string                `json:"detail,omitempty"`
}

func NewStreamStatusEvent(account string, state StreamConnectionState, detail string) *StreamStatusEvent {
	return &StreamStatusEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeStreamStatus, Timestamp: time.Now()},
		Account:   account,
		State:     state,
		Detail:    detail,
	}
}

// EventHandler processes a published event.
type EventHandler func(event Event) error

// EventFilter selectively admits events to a subscription.
type EventFilter func(event Event) bool

// SubscriptionOptions configures a single Subscribe call.
type SubscriptionOptions struct {
	Filter EventFilter
	Async  bool
}

// Subscription is a live registration returned by Subscribe.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

func (s *Subscription) IsActive() bool { return s.active.Load() }

// EventBusConfig configures the bus's worker pool and channel depth.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{NumWorkers: 8, BufferSize: 4096}
}

// EventBusStats reports the bus's running counters.
type EventBusStats struct {
	EventsPublished   int64
	EventsProcessed   int64
	EventsDropped     int64
	ProcessingErrors  int64
	ActiveSubscribers int64
	AvgLatencyNs      int64
	MaxLatencyNs      int64
	P99LatencyNs      int64
}

// EventBus is a buffered, worker-pool-backed publish/subscribe bus.
//
// Built on a buffered channel drained by a fixed worker pool, with
// per-type and catch-all subscriber lists and async-by-default dispatch
// with panic recovery, carrying the four payloads this platform's
// stream and realtime fan-out actually produce.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies  []int64
	latencyMu  sync.Mutex
	maxLatency atomic.Int64
	avgLatency atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	workerCount := config.NumWorkers
	if workerCount <= 0 {
		workerCount = 8
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, bufferSize),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		latencies:   make([]int64, 0, 1000),
	}

	for i := 0; i < workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.dispatch(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (eb *EventBus) dispatch(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.deliver(sub, event)
	}
	for _, sub := range allSubs {
		eb.deliver(sub, event)
	}
	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) deliver(sub *Subscription, event Event) {
	if !sub.active.Load() {
		return
	}
	if sub.Options.Filter != nil && !sub.Options.Filter(event) {
		return
	}
	if sub.Options.Async {
		go eb.executeHandler(sub, event)
	} else {
		eb.executeHandler(sub, event)
	}
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r))
		}
	}()
	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err))
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	eb.latencies = append(eb.latencies, latencyNs)
	if len(eb.latencies) > 1000 {
		eb.latencies = eb.latencies[500:]
	}
	if current := eb.maxLatency.Load(); latencyNs > current {
		eb.maxLatency.Store(latencyNs)
	}
	currentAvg := eb.avgLatency.Load()
	eb.avgLatency.Store((currentAvg*9 + latencyNs) / 10)
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	return "sub_" + time.Now().Format("20060102150405.000000000") + "_" + itoa(subscriptionCounter.Add(1))
}

var eventCounter atomic.Int64

func generateEventID() string {
	return "evt_" + time.Now().Format("20060102150405.000000000") + "_" + itoa(eventCounter.Add(1))
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Subscribe registers handler for one event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.mu.Lock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.mu.Unlock()
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.mu.Lock()
	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.mu.Unlock()
	eb.activeSubscribers.Add(1)
	return sub
}

func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish enqueues event for async dispatch, dropping it if the buffer
// is full rather than blocking the publisher.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("event dropped, buffer full", zap.String("event_type", string(event.GetType())))
	}
}

// PublishSync dispatches event to subscribers on the calling goroutine.
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.dispatch(event)
}

func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		ActiveSubscribers: eb.activeSubscribers.Load(),
		AvgLatencyNs:      eb.avgLatency.Load(),
		MaxLatencyNs:      eb.maxLatency.Load(),
		P99LatencyNs:      eb.p99LatencyNs(),
	}
}

func (eb *EventBus) p99LatencyNs() int64 {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()
	if len(eb.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stop drains the worker pool, waiting up to 5s for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.cancel()
	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		eb.logger.Warn("event bus shutdown timed out")
	}
}
