package floor

import (
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/atlas-fx/floor-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// atrFromHistory estimates average true range from a bounded run of
// recent mids, since Floor's only indicator input is price_history:
// true range per step is approximated as the absolute tick-to-tick
// move. Returns zero if history is too short.
func atrFromHistory(history []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(history) < period+1 {
		return decimal.Zero
	}
	window := history[len(history)-period-1:]
	sum := decimal.Zero
	for i := 1; i < len(window); i++ {
		sum = sum.Add(window[i].Sub(window[i-1]).Abs())
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// smaOverLast computes a simple moving average over the last `period`
// values of history.
func smaOverLast(history []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(history) < period {
		return decimal.Zero
	}
	window := history[len(history)-period:]
	sum := decimal.Zero
	for _, v := range window {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}

// rsiOverLast computes the classic average-gain/average-loss RSI over
// the last `period`+1 values of history.
func rsiOverLast(history []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(history) < period+1 {
		return decimal.NewFromInt(50)
	}
	window := history[len(history)-period-1:]

	gain, loss := decimal.Zero, decimal.Zero
	for i := 1; i < len(window); i++ {
		delta := window[i].Sub(window[i-1])
		if delta.Sign() > 0 {
			gain = gain.Add(delta)
		} else {
			loss = loss.Add(delta.Abs())
		}
	}

	if loss.IsZero() {
		return decimal.NewFromInt(100)
	}

	avgGain := gain.Div(decimal.NewFromInt(int64(period)))
	avgLoss := loss.Div(decimal.NewFromInt(int64(period)))
	rs := avgGain.Div(avgLoss)

	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// pickDirection chooses the direction of a fresh layer, deterministically
// from price_history only.
func (f *Floor) pickDirection(history []decimal.Decimal) types.Direction {
	switch f.config.DirectionMethod {
	case DirectionSMACross:
		return smaCrossDirection(history, f.config.SMAFastPeriod, f.config.SMASlowPeriod)
	case DirectionPriceVsSMA:
		return priceVsSMADirection(history, f.config.SMASlowPeriod)
	case DirectionRSI:
		return rsiDirection(history, f.config.RSIPeriod, f.config.RSIOverbought, f.config.RSIOversold, f.config.MomentumLookback)
	default:
		return momentumDirection(history, f.config.MomentumLookback)
	}
}

func momentumDirection(history []decimal.Decimal, lookback int) types.Direction {
	if len(history) < lookback+1 || lookback <= 0 {
		return types.DirectionLong
	}
	past := history[len(history)-lookback-1]
	now := history[len(history)-1]
	if now.GreaterThanOrEqual(past) {
		return types.DirectionLong
	}
	return types.DirectionShort
}

func smaCrossDirection(history []decimal.Decimal, fast, slow int) types.Direction {
	fastAvg := smaOverLast(history, fast)
	slowAvg := smaOverLast(history, slow)
	if fastAvg.IsZero() && slowAvg.IsZero() {
		return types.DirectionLong
	}
	if fastAvg.GreaterThanOrEqual(slowAvg) {
		return types.DirectionLong
	}
	return types.DirectionShort
}

func priceVsSMADirection(history []decimal.Decimal, period int) types.Direction {
	if len(history) == 0 {
		return types.DirectionLong
	}
	avg := smaOverLast(history, period)
	current := history[len(history)-1]
	if current.GreaterThanOrEqual(avg) {
		return types.DirectionLong
	}
	return types.DirectionShort
}

func rsiDirection(history []decimal.Decimal, period int, overbought, oversold decimal.Decimal, momentumLookback int) types.Direction {
	rsi := rsiOverLast(history, period)
	if rsi.GreaterThanOrEqual(overbought) {
		return types.DirectionShort
	}
	if rsi.LessThanOrEqual(oversold) {
		return types.DirectionLong
	}
	return momentumDirection(history, momentumLookback)
}

// progressionValue implements the documented mode table: the
// per-retracement lot size at (0-based) index i.
func progressionValue(mode ProgressionMode, base, increment, floor decimal.Decimal, index int) decimal.Decimal {
	i := decimal.NewFromInt(int64(index))
	two := decimal.NewFromInt(2)

	switch mode {
	case ProgressionAdditive:
		return base.Add(increment.Mul(i))
	case ProgressionSubtractive:
		return utils.MaxDecimal(base.Sub(increment.Mul(i)), floor)
	case ProgressionMultiplicative:
		return base.Mul(two.Pow(i))
	case ProgressionDivisive:
		return utils.MaxDecimal(base.Div(two.Pow(i)), floor)
	default:
		return base
	}
}
