// Package broker defines the single-broker capability the execution
// package submits orders through. The platform talks to exactly one
// broker account per task, ruling out a smart order router across
// venues, so this replaces a multi-exchange ExchangeAdapter interface
// with one narrower surface modelled on OANDA's v20 API.
package broker

import (
	"context"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// Client is the capability an order executor and transaction stream
// need from a broker connection: submit and cancel orders, list the
// account's current book, and stream the transaction feed that reports
// fills, rejects, and closes as they happen.
//
// Grounded on original_source/backend/trading/order_executor.py's
// OrderExecutor, which wraps a single v20.Context per account rather
// than selecting among adapters.
type Client interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, account types.BrokerAccount, brokerOrderID string) error
	OpenPositions(ctx context.Context, account types.BrokerAccount) ([]types.Position, error)
	PendingOrders(ctx context.Context, account types.BrokerAccount) ([]types.Order, error)

	// StreamTransactions blocks, pushing Transaction values (or a
	// Heartbeat) until ctx is cancelled or the connection drops;
	// internal/stream.Runner applies utils.StreamReconnectIntervals
	// across repeated calls, the same reconnect policy
	// StreamPrices shares via internal/ticksource.Live.
	StreamTransactions(ctx context.Context, account types.BrokerAccount) (<-chan Transaction, error)

	// StreamPrices opens the account's live pricing feed for one
	// instrument, satisfying internal/ticksource.PriceStreamer once
	// bound to a fixed account (see execution.accountPriceStreamer).
	StreamPrices(ctx context.Context, account types.BrokerAccount, instrument string) (<-chan types.Tick, error)
}

// OrderRequest is a single order submission, covering all four of
// OANDA's order types the executor issues (market, limit, stop, and
// the two-leg OCO bracket).
type OrderRequest struct {
	Account     types.BrokerAccount
	Instrument  string
	Type        types.OrderType
	Direction   types.Direction
	Units       decimal.Decimal
	Price       *decimal.Decimal // required for LIMIT/STOP, nil for MARKET
	TakeProfit  *decimal.Decimal
	StopLoss    *decimal.Decimal
	ClientOrder string // idempotency key, echoed back on the broker order if supported
}

// OrderResult reports how the broker disposed of a submitted order.
// Market orders settle synchronously (Filled or Rejected comes back on
// the same response); limit/stop/OCO orders come back Pending and
// settle later over the transaction stream.
type OrderResult struct {
	BrokerOrderID string
	Status        types.OrderStatus
	FilledPrice   *decimal.Decimal
	FilledAt      *time.Time
	RejectReason  string
}

// TransactionType distinguishes the broker events the transaction
// stream and reconciler care about. Grounded on
// transaction_streamer.py's handling of OANDA's ORDER_FILL/ORDER_CANCEL
// transaction types plus TRADE_CLOSE/TRADE_REDUCE for partial and full
// position exits raised independently of an order (e.g. a stop-loss
// fill on a linked order).
type TransactionType string

const (
	TransactionOrderFill   TransactionType = "ORDER_FILL"
	TransactionOrderCancel TransactionType = "ORDER_CANCEL"
	TransactionOrderReject TransactionType = "ORDER_REJECT"
	TransactionTradeClose  TransactionType = "TRADE_CLOSE"
	TransactionTradeReduce TransactionType = "TRADE_REDUCE"
	TransactionHeartbeat   TransactionType = "HEARTBEAT"
)

// Transaction is one event off the broker's account transaction feed.
type Transaction struct {
	ID            string
	Type          TransactionType
	Account       string
	Instrument    string
	BrokerOrderID string
	TradeID       string
	Units         decimal.Decimal
	Price         decimal.Decimal
	PnL           decimal.Decimal
	Reason        string
	Timestamp     time.Time
}
