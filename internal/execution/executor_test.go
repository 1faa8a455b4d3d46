package execution

import (
	"context"
	"testing"
	"time"

	"github.com/atlas-fx/floor-engine/internal/execution/broker"
	pkgerrors "github.com/atlas-fx/floor-engine/pkg/errors"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeBook struct{}

func (fakeBook) OpenPositions(string) []types.Position { return nil }
func (fakeBook) Drawdown(string) decimal.Decimal        { return decimal.Zero }

type fakeBroker struct {
	submitCalls  int
	failUntil    int
	rejectAlways bool
	cancelErr    error
}

func (f *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	f.submitCalls++
	if f.rejectAlways {
		return broker.OrderResult{Status: types.OrderStatusRejected, RejectReason: "insufficient margin"}, nil
	}
	if f.submitCalls <= f.failUntil {
		return broker.OrderResult{}, pkgerrors.Transport("connection reset", nil)
	}
	now := time.Now()
	price := decimal.NewFromFloat(1.1)
	return broker.OrderResult{BrokerOrderID: "bo-1", Status: types.OrderStatusFilled, FilledPrice: &price, FilledAt: &now}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, account types.BrokerAccount, brokerOrderID string) error {
	return f.cancelErr
}

func (f *fakeBroker) OpenPositions(ctx context.Context, account types.BrokerAccount) ([]types.Position, error) {
	return nil, nil
}

func (f *fakeBroker) PendingOrders(ctx context.Context, account types.BrokerAccount) ([]types.Order, error) {
	return nil, nil
}

func (f *fakeBroker) StreamTransactions(ctx context.Context, account types.BrokerAccount) (<-chan broker.Transaction, error) {
	ch := make(chan broker.Transaction)
	close(ch)
	return ch, nil
}

func (f *fakeBroker) StreamPrices(ctx context.Context, account types.BrokerAccount, instrument string) (<-chan types.Tick, error) {
	ch := make(chan types.Tick)
	close(ch)
	return ch, nil
}

func newTestExecutor(b *fakeBroker) *Executor {
	orders := NewOrderManager(zap.NewNop())
	risk := NewRiskManager(zap.NewNop(), types.RiskLimits{MaxPositionSize: decimal.NewFromInt(100), MaxOpenPositions: 5})
	compliance := NewComplianceChecker(DefaultComplianceConfig())
	ex := NewExecutor(zap.NewNop(), b, orders, risk, compliance)
	ex.retry.InitialDelay = time.Millisecond
	ex.retry.MaxDelay = 5 * time.Millisecond
	return ex
}

func testSpec() OrderSpec {
	return OrderSpec{
		Account:    types.BrokerAccount{ID: "acct-1", Jurisdiction: types.JurisdictionDefault},
		Instrument: "EUR_USD",
		Type:       types.OrderTypeMarket,
		Direction:  types.DirectionLong,
		Units:      decimal.NewFromInt(10),
	}
}

func TestSubmitFillsOnFirstAttempt(t *testing.T) {
	b := &fakeBroker{}
	ex := newTestExecutor(b)

	order, err := ex.Submit(context.Background(), testSpec(), fakeBook{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Fatalf("expected FILLED, got %v", order.Status)
	}
	if b.submitCalls != 1 {
		t.Fatalf("expected a single submit call, got %d", b.submitCalls)
	}
}

func TestSubmitRetriesTransportErrorsThenSucceeds(t *testing.T) {
	b := &fakeBroker{failUntil: 2}
	ex := newTestExecutor(b)

	order, err := ex.Submit(context.Background(), testSpec(), fakeBook{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Fatalf("expected eventual fill, got %v", order.Status)
	}
	if b.submitCalls != 3 {
		t.Fatalf("expected 3 submit attempts, got %d", b.submitCalls)
	}
}

func TestSubmitDoesNotRetryBrokerRejection(t *testing.T) {
	b := &fakeBroker{rejectAlways: true}
	ex := newTestExecutor(b)

	order, err := ex.Submit(context.Background(), testSpec(), fakeBook{})
	if err == nil {
		t.Fatalf("expected an error for a broker rejection")
	}
	if order.Status != types.OrderStatusRejected {
		t.Fatalf("expected REJECTED status, got %v", order.Status)
	}
	if b.submitCalls != 1 {
		t.Fatalf("expected no retry on a broker-level rejection, got %d calls", b.submitCalls)
	}
}

func TestSubmitRejectsBelowMinimumLotBeforeTouchingBroker(t *testing.T) {
	b := &fakeBroker{}
	ex := newTestExecutor(b)
	spec := testSpec()
	spec.Units = decimal.NewFromFloat(0.1)

	_, err := ex.Submit(context.Background(), spec, fakeBook{})
	if err == nil {
		t.Fatalf("expected compliance rejection")
	}
	if b.submitCalls != 0 {
		t.Fatalf("expected broker never called for a compliance violation, got %d calls", b.submitCalls)
	}
}

func TestCancelTransitionsOrderToCancelled(t *testing.T) {
	b := &fakeBroker{}
	ex := newTestExecutor(b)

	order, err := ex.Submit(context.Background(), testSpec(), fakeBook{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	order.BrokerOrderID = "bo-1"
	order.Status = types.OrderStatusPending
	ex.orders.Track(order)

	if err := ex.Cancel(context.Background(), testSpec().Account, order); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, ok := ex.orders.Get(order.ID)
	if !ok || got.Status != types.OrderStatusCancelled {
		t.Fatalf("expected CANCELLED, got %v ok=%v", got, ok)
	}
}

func TestAuditEventsEmittedOnSubmit(t *testing.T) {
	b := &fakeBroker{}
	ex := newTestExecutor(b)

	if _, err := ex.Submit(context.Background(), testSpec(), fakeBook{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case event := <-ex.AuditEvents():
		if event.Type != "order_submitted" {
			t.Fatalf("expected order_submitted audit event, got %s", event.Type)
		}
	default:
		t.Fatalf("expected an audit event after a successful submit")
	}
}
