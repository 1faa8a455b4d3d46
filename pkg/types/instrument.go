// Package types holds the shared domain value types for the trading
// platform: instruments, ticks, tasks, positions, orders, and strategy
// state. All monetary and quantity fields are decimal.Decimal; floating
// point is never used for anything that represents money.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is immutable trading-pair configuration.
type Instrument struct {
	Symbol      string          `json:"symbol"`
	PipSize     decimal.Decimal `json:"pipSize"`
	LotUnitSize decimal.Decimal `json:"lotUnitSize"`
}

// IsJPYPair reports whether the instrument quotes in JPY, which
// conventionally uses a 0.01 pip size instead of 0.0001.
func (i Instrument) IsJPYPair() bool {
	return len(i.Symbol) >= 3 && i.Symbol[len(i.Symbol)-3:] == "JPY"
}

// Tick is one quote sample for an instrument.
type Tick struct {
	Instrument string          `json:"instrument"`
	Timestamp  time.Time       `json:"timestamp"`
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	Mid        decimal.Decimal `json:"mid"`
}

// NewTick builds a Tick, deriving Mid when not supplied and validating
// bid <= mid <= ask.
func NewTick(instrument string, ts time.Time, bid, ask decimal.Decimal, mid *decimal.Decimal) (Tick, error) {
	if bid.GreaterThan(ask) {
		return Tick{}, fmt.Errorf("tick for %s: bid %s greater than ask %s", instrument, bid, ask)
	}
	m := bid.Add(ask).Div(decimal.NewFromInt(2))
	if mid != nil {
		m = *mid
	}
	if m.LessThan(bid) || m.GreaterThan(ask) {
		return Tick{}, fmt.Errorf("tick for %s: mid %s outside [bid %s, ask %s]", instrument, m, bid, ask)
	}
	return Tick{Instrument: instrument, Timestamp: ts, Bid: bid, Ask: ask, Mid: m}, nil
}

// Environment distinguishes a practice (paper) broker account from a
// live one.
type Environment string

const (
	EnvironmentPractice Environment = "practice"
	EnvironmentLive     Environment = "live"
)

// Jurisdiction selects the compliance rule set applied by the order
// executor (netting forces FIFO close order; hedging jurisdictions do
// not).
type Jurisdiction string

const (
	JurisdictionUS      Jurisdiction = "US"      // netting
	JurisdictionDefault Jurisdiction = "DEFAULT" // hedging
)

// BrokerAccount is a user's brokerage credential and live balance.
type BrokerAccount struct {
	ID           string          `json:"id"`
	Owner        string          `json:"owner"`
	BrokerID     string          `json:"brokerId"`
	APIToken     []byte          `json:"-"` // encrypted at rest, never serialised
	Environment  Environment     `json:"environment"`
	Jurisdiction Jurisdiction    `json:"jurisdiction"`
	Balance      decimal.Decimal `json:"balance"`
	IsActive     bool            `json:"isActive"`
}

// NettingMode reports whether this account's jurisdiction forces FIFO
// take-profit ordering instead of LIFO.
func (a BrokerAccount) NettingMode() bool {
	return a.Jurisdiction == JurisdictionUS
}
