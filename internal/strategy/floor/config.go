// Package floor implements the Floor strategy: layered positions with
// retracement scale-ins, take-profit, ATR-driven volatility locking,
// and margin-protection closeout.
package floor

import (
	"github.com/shopspring/decimal"
)

// DirectionMethod selects how Floor picks the direction of a fresh
// layer when it has no open entries.
type DirectionMethod string

const (
	DirectionMomentum   DirectionMethod = "momentum"
	DirectionSMACross   DirectionMethod = "sma_cross"
	DirectionPriceVsSMA DirectionMethod = "price_vs_sma"
	DirectionRSI        DirectionMethod = "rsi"
)

// ProgressionMode selects how per-retracement lot size grows across a
// layer's scale-ins.
type ProgressionMode string

const (
	ProgressionConstant       ProgressionMode = "constant"
	ProgressionAdditive       ProgressionMode = "additive"
	ProgressionSubtractive    ProgressionMode = "subtractive"
	ProgressionMultiplicative ProgressionMode = "multiplicative"
	ProgressionDivisive       ProgressionMode = "divisive"
)

// Config parameterises one Floor instance. ParameterSchema describes
// its tunable fields; nothing validates a Config against that schema
// before a task starts.
type Config struct {
	Instrument     string
	PipSize        decimal.Decimal
	BaseLotSize    decimal.Decimal
	RetracementPips decimal.Decimal
	TakeProfitPips decimal.Decimal

	MaxLayers               int
	MaxRetracementsPerLayer int

	RetracementLotMode      ProgressionMode
	RetracementLotIncrement decimal.Decimal
	RetracementLotFloor     decimal.Decimal

	// NettingMode forces FIFO take-profit ordering and forbids opposing
	// simultaneous exposure, per US jurisdiction rules. False means
	// hedging mode: LIFO take-profit and hedge-neutralize on volatility
	// lock are available.
	NettingMode bool

	DirectionMethod  DirectionMethod
	MomentumLookback int
	SMAFastPeriod    int
	SMASlowPeriod    int
	RSIPeriod        int
	RSIOverbought    decimal.Decimal
	RSIOversold      decimal.Decimal

	VolatilityEnabled bool
	ATRPeriod         int
	ATRBaselinePeriod int
	LockMultiplier    decimal.Decimal
	UnlockMultiplier  decimal.Decimal

	MarginCutStartRatio  decimal.Decimal
	MarginCutTargetRatio decimal.Decimal
	RequiredMarginRate   decimal.Decimal

	DynamicParamsEnabled bool
}

// indicatorWindow returns the largest lookback any configured
// indicator needs, used to bound price_history.
func (c Config) indicatorWindow() int {
	max := c.MomentumLookback
	for _, v := range []int{c.SMAFastPeriod, c.SMASlowPeriod, c.RSIPeriod + 1, c.ATRPeriod + 1, c.ATRBaselinePeriod + 1} {
		if v > max {
			max = v
		}
	}
	if max < 2 {
		max = 2
	}
	return max
}

// DefaultConfig returns the documented seed-scenario configuration:
// base_lot=1, retracement_pips=20, take_profit_pips=20, max_layers=3,
// max_retracements=2, EUR_USD pip 0.0001.
func DefaultConfig() Config {
	return Config{
		Instrument:              "EUR_USD",
		PipSize:                 decimal.NewFromFloat(0.0001),
		BaseLotSize:             decimal.NewFromInt(1),
		RetracementPips:         decimal.NewFromInt(20),
		TakeProfitPips:          decimal.NewFromInt(20),
		MaxLayers:               3,
		MaxRetracementsPerLayer: 2,
		RetracementLotMode:      ProgressionConstant,
		RetracementLotIncrement: decimal.NewFromFloat(0.5),
		RetracementLotFloor:     decimal.NewFromFloat(0.1),
		NettingMode:             false,
		DirectionMethod:         DirectionMomentum,
		MomentumLookback:        5,
		SMAFastPeriod:           5,
		SMASlowPeriod:           20,
		RSIPeriod:               14,
		RSIOverbought:           decimal.NewFromInt(70),
		RSIOversold:             decimal.NewFromInt(30),
		VolatilityEnabled:       false,
		ATRPeriod:               14,
		ATRBaselinePeriod:       50,
		LockMultiplier:          decimal.NewFromFloat(2.0),
		UnlockMultiplier:        decimal.NewFromFloat(1.2),
		MarginCutStartRatio:     decimal.NewFromFloat(0.8),
		MarginCutTargetRatio:    decimal.NewFromFloat(0.5),
		RequiredMarginRate:      decimal.NewFromFloat(0.02),
		DynamicParamsEnabled:    false,
	}
}
