package realtime

import (
	"context"
	"math/rand"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(5)
}

// DemoAccount is the reserved synthetic-stream account ID: subscribing
// to market-data/default/{instrument} needs no authentication and gets
// a simulated tick feed instead of a real broker connection.
const DemoAccount = "default"

// demoReminderEvery is how often (in emitted ticks) the synthetic feed
// reminds subscribers the stream isn't real.
const demoReminderEvery = 60

// DemoInstrument seeds one synthetic instrument's random walk.
type DemoInstrument struct {
	Instrument string
	BasePrice  float64
	Spread     float64 // typical bid/ask spread, in price units
	Volatility float64 // per-tick standard deviation, in price units
}

// DefaultDemoInstruments mirrors the common majors any FX demo feed
// would showcase, with spreads/volatility scaled to each pair's typical
// pip size.
func DefaultDemoInstruments() []DemoInstrument {
	return []DemoInstrument{
		{Instrument: "EUR_USD", BasePrice: 1.1000, Spread: 0.00008, Volatility: 0.00015},
		{Instrument: "GBP_USD", BasePrice: 1.2700, Spread: 0.00010, Volatility: 0.00018},
		{Instrument: "USD_JPY", BasePrice: 149.50, Spread: 0.008, Volatility: 0.015},
	}
}

// DemoFeed generates a bounded random walk per instrument and publishes
// it onto a Hub's market-data/default/{instrument} groups, standing in
// for a live broker connection so the UI is usable before onboarding.
//
// Built on internal/backtester/montecarlo.go's seeded *rand.Rand usage
// pattern; the random-walk shape itself (bounded drift around a base
// price, typical spread) is authored fresh since no live feed exists to
// generate it from.
type DemoFeed struct {
	logger      *zap.Logger
	hub         *Hub
	instruments []DemoInstrument
	interval    time.Duration
	rng         *rand.Rand

	counts map[string]int
}

func NewDemoFeed(logger *zap.Logger, hub *Hub, instruments []DemoInstrument, interval time.Duration, seed int64) *DemoFeed {
	return &DemoFeed{
		logger:      logger,
		hub:         hub,
		instruments: instruments,
		interval:    interval,
		rng:         rand.New(rand.NewSource(seed)),
		counts:      make(map[string]int),
	}
}

// Run blocks, emitting one tick per instrument every interval until ctx
// is cancelled.
func (f *DemoFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	mid := make(map[string]float64, len(f.instruments))
	for _, inst := range f.instruments {
		mid[inst.Instrument] = inst.BasePrice
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, inst := range f.instruments {
				mid[inst.Instrument] = f.walk(mid[inst.Instrument], inst)
				f.emit(inst, mid[inst.Instrument], now)
			}
		}
	}
}

// walk applies one bounded random-walk step: a Gaussian increment
// scaled by the instrument's volatility, clamped to stay within 5% of
// the base price so the demo feed never wanders into nonsense territory.
func (f *DemoFeed) walk(current float64, inst DemoInstrument) float64 {
	next := current + f.rng.NormFloat64()*inst.Volatility
	lower := inst.BasePrice * 0.95
	upper := inst.BasePrice * 1.05
	if next < lower {
		next = lower
	}
	if next > upper {
		next = upper
	}
	return next
}

func (f *DemoFeed) emit(inst DemoInstrument, mid float64, at time.Time) {
	half := inst.Spread / 2
	bid := decimalFromFloat(mid - half)
	ask := decimalFromFloat(mid + half)
	midDec := decimalFromFloat(mid)

	tick, err := types.NewTick(inst.Instrument, at, bid, ask, &midDec)
	if err != nil {
		f.logger.Warn("demo feed produced an invalid tick", zap.String("instrument", inst.Instrument), zap.Error(err))
		return
	}

	f.hub.PublishTick(DemoAccount, inst.Instrument, tick)

	f.counts[inst.Instrument]++
	if f.counts[inst.Instrument]%demoReminderEvery == 0 {
		f.hub.publishDemoReminder(inst.Instrument)
	}
}
