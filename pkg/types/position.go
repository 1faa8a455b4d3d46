package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is long or short exposure.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// Position is a live holding on a broker account.
type Position struct {
	ID            string          `json:"id"`
	Account       string          `json:"account"`
	Strategy      string          `json:"strategy"`
	Instrument    string          `json:"instrument"`
	Direction     Direction       `json:"direction"`
	Units         decimal.Decimal `json:"units"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	OpenedAt      time.Time       `json:"openedAt"`
	ClosedAt      *time.Time      `json:"closedAt,omitempty"`
}

// IsClosed reports whether the position has been closed.
func (p Position) IsClosed() bool { return p.ClosedAt != nil }

// OrderType enumerates the four supported order shapes.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
	OrderTypeOCO    OrderType = "OCO"
)

// OrderStatus is the lifecycle of a submitted order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Order is a request submitted to the broker, and its resulting state.
type Order struct {
	ID            string          `json:"id"`
	Account       string          `json:"account"`
	BrokerOrderID string          `json:"brokerOrderId,omitempty"`
	Instrument    string          `json:"instrument"`
	Type          OrderType       `json:"type"`
	Direction     Direction       `json:"direction"`
	Units         decimal.Decimal `json:"units"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	TakeProfit    *decimal.Decimal `json:"takeProfit,omitempty"`
	StopLoss      *decimal.Decimal `json:"stopLoss,omitempty"`
	Status        OrderStatus     `json:"status"`
	FilledAt      *time.Time      `json:"filledAt,omitempty"`
	RejectReason  string          `json:"rejectReason,omitempty"`
}
