package events

import (
	"sync"
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestSubscribeReceivesMatchingEventType(t *testing.T) {
	eb := NewEventBus(zap.NewNop(), DefaultEventBusConfig())
	defer eb.Stop()

	var mu sync.Mutex
	received := []Event{}
	eb.Subscribe(EventTypeStreamStatus, func(e Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	})

	eb.Publish(NewStreamStatusEvent("acct-1", StreamConnected, ""))
	eb.Publish(NewTickEvent(types.Tick{Instrument: "EUR_USD", Mid: decimal.NewFromFloat(1.1), Timestamp: time.Now()}))

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for subscriber delivery")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected exactly one stream_status delivery, got %d", len(received))
	}
	if received[0].GetType() != EventTypeStreamStatus {
		t.Fatalf("expected stream_status event, got %s", received[0].GetType())
	}
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	eb := NewEventBus(zap.NewNop(), DefaultEventBusConfig())
	defer eb.Stop()

	var count atomicCounter
	eb.SubscribeAll(func(e Event) error {
		count.Inc()
		return nil
	})

	eb.Publish(NewStreamStatusEvent("acct-1", StreamConnected, ""))
	eb.Publish(NewAuditEvent(types.AuditEvent{ID: "evt-1", Timestamp: time.Now()}))

	deadline := time.After(time.Second)
	for count.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for catch-all delivery, got %d", count.Load())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPublishSyncDeliversOnCallingGoroutine(t *testing.T) {
	eb := NewEventBus(zap.NewNop(), DefaultEventBusConfig())
	defer eb.Stop()

	delivered := false
	eb.Subscribe(EventTypePosition, func(e Event) error {
		delivered = true
		return nil
	}, SubscriptionOptions{Async: false})

	eb.PublishSync(NewPositionEvent(types.Position{Instrument: "EUR_USD", OpenedAt: time.Now()}))
	if !delivered {
		t.Fatalf("expected synchronous delivery before PublishSync returns")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	eb := NewEventBus(zap.NewNop(), DefaultEventBusConfig())
	defer eb.Stop()

	var count atomicCounter
	sub := eb.Subscribe(EventTypeStreamStatus, func(e Event) error {
		count.Inc()
		return nil
	}, SubscriptionOptions{Async: false})

	eb.PublishSync(NewStreamStatusEvent("acct-1", StreamConnected, ""))
	eb.Unsubscribe(sub)
	eb.PublishSync(NewStreamStatusEvent("acct-1", StreamDisconnected, ""))

	if count.Load() != 1 {
		t.Fatalf("expected exactly one delivery before unsubscribe, got %d", count.Load())
	}
	if sub.IsActive() {
		t.Fatalf("expected subscription to report inactive after Unsubscribe")
	}
}

type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) Inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCounter) Load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
