package stream

import (
	"context"
	"time"

	"github.com/atlas-fx/floor-engine/internal/events"
	"github.com/atlas-fx/floor-engine/internal/execution"
	"github.com/atlas-fx/floor-engine/internal/execution/broker"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/atlas-fx/floor-engine/pkg/utils"
	"go.uber.org/zap"
)

// Runner consumes one broker account's transaction feed, applying each
// transaction to the shared PositionStore and OrderManager and
// publishing a status/audit event for every state change. It
// reconnects across drops following the same [1,2,4,8,16]s backoff,
// giving up and reporting StreamError after 5 attempts.
//
// Grounded on original_source/backend/trading/transaction_streamer.py's
// TransactionStreamer/ReconnectionManager: the message-type routing
// (_process_transaction_message) and the exponential-backoff reconnect
// loop are ported directly; Django's Event.log_* calls become
// events.EventBus publishes.
type Runner struct {
	logger  *zap.Logger
	broker  broker.Client
	account types.BrokerAccount
	store   *PositionStore
	orders  *execution.OrderManager
	bus     *events.EventBus
}

func NewRunner(logger *zap.Logger, client broker.Client, account types.BrokerAccount, store *PositionStore, orders *execution.OrderManager, bus *events.EventBus) *Runner {
	return &Runner{logger: logger, broker: client, account: account, store: store, orders: orders, bus: bus}
}

// Run blocks, processing transactions until ctx is cancelled or the
// reconnect budget is exhausted.
func (r *Runner) Run(ctx context.Context) error {
	for {
		ch, err := r.connectWithRetry(ctx)
		if err != nil {
			r.bus.Publish(events.NewStreamStatusEvent(r.account.ID, events.StreamError, err.Error()))
			return err
		}
		r.bus.Publish(events.NewStreamStatusEvent(r.account.ID, events.StreamConnected, ""))

		if err := r.drain(ctx, ch); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.bus.Publish(events.NewStreamStatusEvent(r.account.ID, events.StreamReconnecting, "stream closed, reconnecting"))
	}
}

func (r *Runner) connectWithRetry(ctx context.Context) (<-chan broker.Transaction, error) {
	return utils.RetryIntervals(utils.StreamReconnectIntervals(), func() (<-chan broker.Transaction, error) {
		return r.broker.StreamTransactions(ctx, r.account)
	})
}

// drain reads transactions off ch until it closes (a drop) or ctx is
// cancelled (a clean shutdown, returns nil).
func (r *Runner) drain(ctx context.Context, ch <-chan broker.Transaction) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tx, open := <-ch:
			if !open {
				return nil
			}
			r.apply(tx)
		}
	}
}

func (r *Runner) apply(tx broker.Transaction) {
	switch tx.Type {
	case broker.TransactionOrderFill:
		r.handleFill(tx)
	case broker.TransactionOrderCancel:
		r.handleCancel(tx)
	case broker.TransactionOrderReject:
		r.handleReject(tx)
	case broker.TransactionTradeClose:
		r.handleClose(tx)
	case broker.TransactionTradeReduce:
		r.handleReduce(tx)
	case broker.TransactionHeartbeat:
		// no state change; the channel being alive is the signal.
	}
}

func (r *Runner) handleFill(tx broker.Transaction) {
	now := time.Now()
	if err := r.orders.UpdateStatusByBrokerOrderID(tx.BrokerOrderID, types.OrderStatusFilled, &now, ""); err != nil {
		r.logger.Warn("fill for untracked order", zap.String("broker_order_id", tx.BrokerOrderID), zap.Error(err))
	}

	order, ok := r.orders.GetByBrokerOrderID(tx.BrokerOrderID)
	direction := types.DirectionLong
	strategy := ""
	if ok {
		direction = order.Direction
		strategy = order.Account
	}

	pos := r.store.Upsert(r.account.ID, tx.Instrument, direction, tx.Units, tx.Price, strategy, tx.Timestamp)
	r.bus.Publish(events.NewPositionEvent(pos))
	r.bus.Publish(events.NewAuditEvent(types.AuditEvent{
		ID:        tx.ID,
		Category:  types.EventCategoryTrading,
		Type:      "order_filled",
		Severity:  types.SeverityInfo,
		Timestamp: tx.Timestamp,
		Account:   r.account.ID,
		Details: map[string]interface{}{
			"broker_order_id": tx.BrokerOrderID,
			"instrument":      tx.Instrument,
			"units":           tx.Units.String(),
			"price":           tx.Price.String(),
			"pnl":             tx.PnL.String(),
		},
	}))
}

func (r *Runner) handleCancel(tx broker.Transaction) {
	if err := r.orders.UpdateStatusByBrokerOrderID(tx.BrokerOrderID, types.OrderStatusCancelled, nil, tx.Reason); err != nil {
		r.logger.Warn("cancel for untracked order", zap.String("broker_order_id", tx.BrokerOrderID), zap.Error(err))
	}
	r.bus.Publish(events.NewAuditEvent(types.AuditEvent{
		ID: tx.ID, Category: types.EventCategoryTrading, Type: "order_cancelled",
		Severity: types.SeverityInfo, Timestamp: tx.Timestamp, Account: r.account.ID,
		Details: map[string]interface{}{"broker_order_id": tx.BrokerOrderID, "reason": tx.Reason},
	}))
}

func (r *Runner) handleReject(tx broker.Transaction) {
	if err := r.orders.UpdateStatusByBrokerOrderID(tx.BrokerOrderID, types.OrderStatusRejected, nil, tx.Reason); err != nil {
		r.logger.Warn("reject for untracked order", zap.String("broker_order_id", tx.BrokerOrderID), zap.Error(err))
	}
	r.bus.Publish(events.NewAuditEvent(types.AuditEvent{
		ID: tx.ID, Category: types.EventCategoryTrading, Type: "order_broker_rejected",
		Severity: types.SeverityWarning, Timestamp: tx.Timestamp, Account: r.account.ID,
		Details: map[string]interface{}{"broker_order_id": tx.BrokerOrderID, "reason": tx.Reason},
	}))
}

func (r *Runner) handleClose(tx broker.Transaction) {
	direction := types.DirectionLong
	if tx.Units.IsNegative() {
		direction = types.DirectionShort
	}
	r.store.Close(r.account.ID, tx.Instrument, direction, tx.Price, tx.PnL, tx.Timestamp)
	r.bus.Publish(events.NewAuditEvent(types.AuditEvent{
		ID: tx.ID, Category: types.EventCategoryTrading, Type: "position_closed",
		Severity: types.SeverityInfo, Timestamp: tx.Timestamp, Account: r.account.ID,
		Details: map[string]interface{}{"instrument": tx.Instrument, "price": tx.Price.String(), "pnl": tx.PnL.String()},
	}))
}

func (r *Runner) handleReduce(tx broker.Transaction) {
	direction := types.DirectionLong
	if tx.Units.IsNegative() {
		direction = types.DirectionShort
	}
	r.store.Reduce(r.account.ID, tx.Instrument, direction, tx.Units.Abs(), tx.Price)
	r.bus.Publish(events.NewAuditEvent(types.AuditEvent{
		ID: tx.ID, Category: types.EventCategoryTrading, Type: "position_reduced",
		Severity: types.SeverityInfo, Timestamp: tx.Timestamp, Account: r.account.ID,
		Details: map[string]interface{}{"instrument": tx.Instrument, "remaining_units": tx.Units.Abs().String()},
	}))
}
