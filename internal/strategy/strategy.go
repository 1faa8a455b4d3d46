// Package strategy defines the pure per-tick strategy contract and a
// registry of strategy factories keyed by strategy_type.
package strategy

import (
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Event is the closed set of value objects a strategy may emit from a
// single contract call. All concrete event types implement it.
type Event interface {
	EventType() string
	OccurredAt() time.Time
}

type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (b BaseEvent) OccurredAt() time.Time { return b.Timestamp }

// Stamp builds the embedded BaseEvent from the tick timestamp that
// produced it, never from the wall clock, preserving OnTick's
// determinism requirement (it reads no clock other than
// tick.timestamp).
func Stamp(t time.Time) BaseEvent { return BaseEvent{Timestamp: t} }

// InitialEntry is emitted when a layer opens its first entry.
type InitialEntry struct {
	BaseEvent
	Layer     int             `json:"layer"`
	Direction types.Direction `json:"direction"`
	EntryID   string          `json:"entryId"`
	Price     decimal.Decimal `json:"price"`
	Units     decimal.Decimal `json:"units"`
}

func (InitialEntry) EventType() string { return "InitialEntry" }

// Retracement is emitted when a scale-in entry opens within a layer.
type Retracement struct {
	BaseEvent
	Layer            int             `json:"layer"`
	EntryID          string          `json:"entryId"`
	Price            decimal.Decimal `json:"price"`
	Units            decimal.Decimal `json:"units"`
	RetracementIndex int             `json:"retracementIndex"`
}

func (Retracement) EventType() string { return "Retracement" }

// TakeProfit is emitted when an entry closes at or past its effective
// take-profit distance.
type TakeProfit struct {
	BaseEvent
	Layer       int             `json:"layer"`
	EntryID     string          `json:"entryId"`
	Direction   types.Direction `json:"direction"`
	Pips        decimal.Decimal `json:"pips"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
}

func (TakeProfit) EventType() string { return "TakeProfit" }

// AddLayer is emitted when retracements on the active layer are
// exhausted and a new layer opens.
type AddLayer struct {
	BaseEvent
	Layer     int             `json:"layer"`
	Direction types.Direction `json:"direction"`
}

func (AddLayer) EventType() string { return "AddLayer" }

// RemoveLayer is emitted when a non-home layer empties and control
// returns to the layer on top of the return stack.
type RemoveLayer struct {
	BaseEvent
	Layer int `json:"layer"`
}

func (RemoveLayer) EventType() string { return "RemoveLayer" }

// VolatilityLockReason distinguishes the two cases Floor emits under
// VolatilityLock: entering a non-hedging lock, and unwinding a
// hedging-mode lock.
type VolatilityLockReason string

const (
	VolatilityLockReasonClose       VolatilityLockReason = "CLOSE"
	VolatilityLockReasonCloseUnwind VolatilityLockReason = "CLOSE unwind"
)

// VolatilityLock is emitted on entering a non-hedging lock (handler
// closes all entries) and again, with reason CLOSE unwind, when a
// hedging-mode lock unwinds.
type VolatilityLock struct {
	BaseEvent
	Reason VolatilityLockReason `json:"reason"`
}

func (VolatilityLock) EventType() string { return "VolatilityLock" }

// VolatilityHedgeNeutralize is emitted when entering a hedging-mode
// lock: one mirror entry per existing entry has been opened.
type VolatilityHedgeNeutralize struct {
	BaseEvent
	HedgeEntryIDs []string `json:"hedgeEntryIds"`
}

func (VolatilityHedgeNeutralize) EventType() string { return "VolatilityHedgeNeutralize" }

// MarginProtection is emitted when the margin ratio forces a closeout
// of the oldest entries.
type MarginProtection struct {
	BaseEvent
	ClosedEntryIDs []string        `json:"closedEntryIds"`
	TargetUnits    decimal.Decimal `json:"targetUnits"`
}

func (MarginProtection) EventType() string { return "MarginProtection" }

// GenericSignal is the fallback for any tag a decoder does not
// recognise, so deserialisation never crashes on an unknown variant.
type GenericSignal struct {
	BaseEvent
	Tag     string                 `json:"tag"`
	Details map[string]interface{} `json:"details"`
}

func (GenericSignal) EventType() string { return "GenericSignal" }

// ParamSpec describes one strategy configuration parameter. Parameters
// are not checked against it before persistence or before a task
// starts.
type ParamSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        string      `json:"type"` // "int", "decimal", "bool", "string", "enum"
	Default     interface{} `json:"default"`
	Min         interface{} `json:"min,omitempty"`
	Max         interface{} `json:"max,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
}

// Strategy is the pure per-tick contract every strategy implements. No
// method performs I/O; every side effect downstream is realised by
// consumers of the returned events. Implementations must never mutate
// the state argument they are given.
type Strategy interface {
	Name() string
	ParameterSchema() map[string]ParamSpec

	OnStart(state *types.StrategyState) (*types.StrategyState, []Event, error)
	OnTick(tick types.Tick, state *types.StrategyState) (*types.StrategyState, []Event, error)
	OnPause(state *types.StrategyState) (*types.StrategyState, []Event, error)
	OnResume(state *types.StrategyState) (*types.StrategyState, []Event, error)
	OnStop(state *types.StrategyState) (*types.StrategyState, []Event, error)
}

// Factory constructs a configured Strategy instance from a validated
// parameter map.
type Factory func(logger *zap.Logger, parameters map[string]interface{}) (Strategy, error)

// Registry maps strategy_type identifiers to factories — the same
// dynamic-dispatch idiom a momentum/breakout/grid strategy set would
// use, generalised to the pure OnTick contract: dynamic dispatch
// between strategies maps to a registry keyed by strategy_type, no
// inheritance required.
type Registry struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logger, factories: make(map[string]Factory)}
}

// Register adds a factory under name, overwriting any prior
// registration. Intended to be called only at process boot.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create builds a new Strategy instance by name.
func (r *Registry) Create(name string, parameters map[string]interface{}) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, unknownStrategyError(name)
	}
	return factory(r.logger, parameters)
}

// List returns every registered strategy_type.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

type unknownStrategyError string

func (e unknownStrategyError) Error() string { return "unknown strategy type: " + string(e) }
