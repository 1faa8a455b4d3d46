package execution

import (
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestOrderManagerTracksAndUpdates(t *testing.T) {
	m := NewOrderManager(zap.NewNop())
	order := types.Order{ID: "o-1", Instrument: "EUR_USD", Units: decimal.NewFromInt(10), Status: types.OrderStatusPending}

	m.Track(order)
	if got, ok := m.Get("o-1"); !ok || got.Status != types.OrderStatusPending {
		t.Fatalf("expected tracked pending order, got %v ok=%v", got, ok)
	}

	now := time.Now()
	if err := m.UpdateStatus("o-1", types.OrderStatusFilled, &now, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := m.Get("o-1")
	if got.Status != types.OrderStatusFilled || got.FilledAt == nil {
		t.Fatalf("expected filled order with timestamp, got %v", got)
	}

	var latest *OrderUpdate
	for drained := false; !drained; {
		select {
		case update := <-m.Updates():
			latest = &update
		default:
			drained = true
		}
	}
	if latest == nil {
		t.Fatalf("expected an update on the updates channel")
	}
	if latest.Order.Status != types.OrderStatusFilled {
		t.Fatalf("expected latest update to carry FILLED status")
	}
}

func TestOrderManagerUpdateStatusUnknownOrder(t *testing.T) {
	m := NewOrderManager(zap.NewNop())
	if err := m.UpdateStatus("missing", types.OrderStatusFilled, nil, ""); err == nil {
		t.Fatalf("expected an error updating an untracked order")
	}
}

func TestOrderManagerOpenFiltersByStatus(t *testing.T) {
	m := NewOrderManager(zap.NewNop())
	m.Track(types.Order{ID: "pending", Status: types.OrderStatusPending, Instrument: "EUR_USD"})
	m.Track(types.Order{ID: "filled", Status: types.OrderStatusFilled, Instrument: "EUR_USD"})

	open := m.Open()
	if len(open) != 1 || open[0].ID != "pending" {
		t.Fatalf("expected only the pending order, got %v", open)
	}
}

func TestOrderManagerLooksUpByBrokerOrderID(t *testing.T) {
	m := NewOrderManager(zap.NewNop())
	m.Track(types.Order{ID: "o-1", BrokerOrderID: "broker-1", Status: types.OrderStatusPending, Instrument: "EUR_USD"})

	got, ok := m.GetByBrokerOrderID("broker-1")
	if !ok || got.ID != "o-1" {
		t.Fatalf("expected to find order o-1 by broker order ID, got %v ok=%v", got, ok)
	}

	now := time.Now()
	if err := m.UpdateStatusByBrokerOrderID("broker-1", types.OrderStatusFilled, &now, ""); err != nil {
		t.Fatalf("UpdateStatusByBrokerOrderID: %v", err)
	}
	got, _ = m.Get("o-1")
	if got.Status != types.OrderStatusFilled {
		t.Fatalf("expected order filled via broker order ID update, got %v", got)
	}
}

func TestOrderManagerLinkBrokerOrderID(t *testing.T) {
	m := NewOrderManager(zap.NewNop())
	m.Track(types.Order{ID: "o-2", Status: types.OrderStatusPending, Instrument: "EUR_USD"})

	m.LinkBrokerOrderID("o-2", "broker-2")
	got, ok := m.GetByBrokerOrderID("broker-2")
	if !ok || got.ID != "o-2" || got.BrokerOrderID != "broker-2" {
		t.Fatalf("expected link to resolve broker-2 to o-2, got %v ok=%v", got, ok)
	}
}

func TestOrderManagerByInstrument(t *testing.T) {
	m := NewOrderManager(zap.NewNop())
	m.Track(types.Order{ID: "a", Instrument: "EUR_USD"})
	m.Track(types.Order{ID: "b", Instrument: "GBP_USD"})

	matches := m.ByInstrument("EUR_USD")
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Fatalf("expected one EUR_USD order, got %v", matches)
	}
}
