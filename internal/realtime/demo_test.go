package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDemoFeedEmitsTicksForEachInstrument(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	instruments := []DemoInstrument{{Instrument: "EUR_USD", BasePrice: 1.1, Spread: 0.0001, Volatility: 0.0001}}
	c := newTestClient(hub, MarketDataGroup(DemoAccount, "EUR_USD"), BatchConfig{Enabled: false})
	hub.add(c)
	time.Sleep(10 * time.Millisecond)

	feed := NewDemoFeed(zap.NewNop(), hub, instruments, 5*time.Millisecond, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	feed.Run(ctx)

	select {
	case raw := <-c.send:
		var msg outboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != MsgTick {
			t.Fatalf("expected a tick message, got %+v", msg)
		}
	default:
		t.Fatalf("expected at least one tick emitted")
	}
}

func TestDemoFeedWalkStaysWithinBounds(t *testing.T) {
	feed := NewDemoFeed(zap.NewNop(), NewHub(zap.NewNop()), nil, time.Second, 42)
	inst := DemoInstrument{Instrument: "EUR_USD", BasePrice: 1.1, Volatility: 0.01}

	price := inst.BasePrice
	for i := 0; i < 10000; i++ {
		price = feed.walk(price, inst)
		if price < inst.BasePrice*0.95 || price > inst.BasePrice*1.05 {
			t.Fatalf("walk escaped bounds: %f", price)
		}
	}
}

func TestDemoFeedEmitsReminderEvery60Ticks(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	c := newTestClient(hub, MarketDataGroup(DemoAccount, "EUR_USD"), BatchConfig{Enabled: false})
	hub.add(c)
	time.Sleep(10 * time.Millisecond)

	inst := DemoInstrument{Instrument: "EUR_USD", BasePrice: 1.1, Spread: 0.0001, Volatility: 0.0001}
	feed := NewDemoFeed(zap.NewNop(), hub, []DemoInstrument{inst}, time.Second, 7)

	now := time.Now()
	for i := 0; i < 60; i++ {
		feed.emit(inst, 1.1, now)
		<-c.send // drain each tick
	}

	select {
	case raw := <-c.send:
		var msg outboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Type != MsgDemoReminder {
			t.Fatalf("expected a demo_reminder on the 60th tick, got %+v", msg)
		}
	default:
		t.Fatalf("expected a reminder message after 60 ticks")
	}
}
