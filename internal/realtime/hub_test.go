package realtime

import (
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestClient(hub *Hub, group string, cfg BatchConfig) *Client {
	return NewClient("test-client", hub, nil, zap.NewNop(), group, cfg)
}

func TestHubRegisterAndGroupSize(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	c := newTestClient(hub, MarketDataGroup("acct-1", "EUR_USD"), DefaultBatchConfig())
	hub.add(c)
	time.Sleep(10 * time.Millisecond)

	if hub.GroupSize(MarketDataGroup("acct-1", "EUR_USD")) != 1 {
		t.Fatalf("expected one client registered in group")
	}

	hub.remove(c)
	time.Sleep(10 * time.Millisecond)
	if hub.GroupSize(MarketDataGroup("acct-1", "EUR_USD")) != 0 {
		t.Fatalf("expected group empty after unregister")
	}
}

func TestPublishTickOnlyReachesSubscribedGroup(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	subscribed := newTestClient(hub, MarketDataGroup("acct-1", "EUR_USD"), BatchConfig{Enabled: false})
	other := newTestClient(hub, MarketDataGroup("acct-1", "GBP_USD"), BatchConfig{Enabled: false})
	hub.add(subscribed)
	hub.add(other)
	time.Sleep(10 * time.Millisecond)

	tick, _ := types.NewTick("EUR_USD", time.Now(), decimal.NewFromFloat(1.1), decimal.NewFromFloat(1.1002), nil)
	hub.PublishTick("acct-1", "EUR_USD", tick)

	select {
	case <-subscribed.send:
	case <-time.After(time.Second):
		t.Fatalf("expected subscribed client to receive the tick")
	}

	select {
	case <-other.send:
		t.Fatalf("expected unrelated instrument's client to receive nothing")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishPositionIsNeverBatched(t *testing.T) {
	hub := NewHub(zap.NewNop())
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	c := newTestClient(hub, PositionsGroup("acct-1"), DefaultBatchConfig())
	hub.add(c)
	time.Sleep(10 * time.Millisecond)

	hub.PublishPosition("acct-1", types.Position{Instrument: "EUR_USD", Account: "acct-1"})

	select {
	case <-c.send:
	case <-time.After(time.Second):
		t.Fatalf("expected immediate position delivery")
	}
}
