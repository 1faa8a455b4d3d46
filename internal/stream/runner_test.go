package stream

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/internal/events"
	"github.com/atlas-fx/floor-engine/internal/execution"
	"github.com/atlas-fx/floor-engine/internal/execution/broker"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"go.uber.org/zap"
)

type fakeStreamBroker struct {
	ch  chan broker.Transaction
	err error
}

func (f *fakeStreamBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	return broker.OrderResult{}, nil
}
func (f *fakeStreamBroker) CancelOrder(ctx context.Context, account types.BrokerAccount, brokerOrderID string) error {
	return nil
}
func (f *fakeStreamBroker) OpenPositions(ctx context.Context, account types.BrokerAccount) ([]types.Position, error) {
	return nil, nil
}
func (f *fakeStreamBroker) PendingOrders(ctx context.Context, account types.BrokerAccount) ([]types.Order, error) {
	return nil, nil
}
func (f *fakeStreamBroker) StreamTransactions(ctx context.Context, account types.BrokerAccount) (<-chan broker.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ch, nil
}
func (f *fakeStreamBroker) StreamPrices(ctx context.Context, account types.BrokerAccount, instrument string) (<-chan types.Tick, error) {
	return nil, nil
}

func newTestRunner(t *testing.T, fb *fakeStreamBroker) (*Runner, *PositionStore, *execution.OrderManager, *events.EventBus) {
	t.Helper()
	logger := zap.NewNop()
	store := NewPositionStore()
	orders := execution.NewOrderManager(logger)
	bus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	account := types.BrokerAccount{ID: "acct-1"}
	r := NewRunner(logger, fb, account, store, orders, bus)
	return r, store, orders, bus
}

func TestRunnerAppliesFillIntoPositionStore(t *testing.T) {
	fb := &fakeStreamBroker{ch: make(chan broker.Transaction, 4)}
	r, store, orders, bus := newTestRunner(t, fb)
	defer bus.Stop()

	orders.Track(types.Order{ID: "ord-1", BrokerOrderID: "broker-ord-1", Account: "acct-1", Instrument: "EUR_USD", Direction: types.DirectionLong, Status: types.OrderStatusPending})

	fb.ch <- broker.Transaction{
		ID: "tx-1", Type: broker.TransactionOrderFill, Account: "acct-1", Instrument: "EUR_USD",
		BrokerOrderID: "broker-ord-1", Units: d("1000"), Price: d("1.1000"), Timestamp: time.Now(),
	}
	close(fb.ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.drain(ctx, fb.ch); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}

	positions := store.OpenPositions("acct-1")
	if len(positions) != 1 {
		t.Fatalf("expected one open position after fill, got %d", len(positions))
	}
	order, ok := orders.Get("ord-1")
	if !ok {
		t.Fatalf("expected order to remain tracked")
	}
	if order.Status != types.OrderStatusFilled {
		t.Fatalf("expected order status FILLED, got %s", order.Status)
	}
}

func TestRunnerAppliesCloseToPositionStore(t *testing.T) {
	fb := &fakeStreamBroker{ch: make(chan broker.Transaction, 4)}
	r, store, _, bus := newTestRunner(t, fb)
	defer bus.Stop()

	store.Upsert("acct-1", "EUR_USD", types.DirectionLong, d("1000"), d("1.1000"), "trend", time.Now())

	fb.ch <- broker.Transaction{
		ID: "tx-2", Type: broker.TransactionTradeClose, Account: "acct-1", Instrument: "EUR_USD",
		Units: d("1000"), Price: d("1.1050"), PnL: d("5.00"), Timestamp: time.Now(),
	}
	close(fb.ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.drain(ctx, fb.ch); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}

	if len(store.OpenPositions("acct-1")) != 0 {
		t.Fatalf("expected position closed")
	}
}

func TestRunnerHeartbeatIsNoop(t *testing.T) {
	fb := &fakeStreamBroker{ch: make(chan broker.Transaction, 4)}
	r, store, _, bus := newTestRunner(t, fb)
	defer bus.Stop()

	fb.ch <- broker.Transaction{ID: "tx-3", Type: broker.TransactionHeartbeat, Timestamp: time.Now()}
	close(fb.ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.drain(ctx, fb.ch); err != nil {
		t.Fatalf("drain returned error: %v", err)
	}
	if len(store.OpenPositions("acct-1")) != 0 {
		t.Fatalf("expected heartbeat to leave position store untouched")
	}
}

func TestRunnerDrainReturnsNilOnContextCancel(t *testing.T) {
	fb := &fakeStreamBroker{ch: make(chan broker.Transaction)}
	r, _, _, bus := newTestRunner(t, fb)
	defer bus.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.drain(ctx, fb.ch); err != nil {
		t.Fatalf("expected nil error on cancelled context, got %v", err)
	}
}
