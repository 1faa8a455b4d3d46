package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunState is the Floor strategy's own run status, distinct from the
// owning task's TaskStatus but driven by the same lifecycle hooks.
type RunState string

const (
	RunStateRunning RunState = "RUNNING"
	RunStatePaused  RunState = "PAUSED"
	RunStateStopped RunState = "STOPPED"
)

// Entry is one open position leg within a layer.
type Entry struct {
	EntryID        string          `json:"entryId"`
	LayerIndex     int             `json:"layerIndex"`
	Direction      Direction       `json:"direction"`
	EntryPrice     decimal.Decimal `json:"entryPrice"`
	Units          decimal.Decimal `json:"units"`
	TakeProfitPips decimal.Decimal `json:"takeProfitPips"`
	OpenedAt       time.Time       `json:"openedAt"`
	IsInitial      bool            `json:"isInitial"`
	IsHedge        bool            `json:"isHedge,omitempty"`
	SourceEntryID  string          `json:"sourceEntryId,omitempty"`
}

// StrategyState is the opaque-to-the-engine, Floor-shaped state blob.
// It is mutated only by its owning task run and is held in memory for
// that run; it is not persisted to the Task row.
type StrategyState struct {
	Status      RunState `json:"status"`
	Initialized bool     `json:"initialized"`
	TicksSeen   int64    `json:"ticksSeen"`

	// PriceHistory is a bounded ring of recent mids, sized to the
	// largest configured indicator window.
	PriceHistory []decimal.Decimal `json:"priceHistory"`
	LastBid      decimal.Decimal   `json:"lastBid"`
	LastAsk      decimal.Decimal   `json:"lastAsk"`
	LastMid      decimal.Decimal   `json:"lastMid"`

	OpenEntries []Entry `json:"openEntries"`

	// LayerDirections and LayerRetracementCounts are keyed by layer
	// index (as a string, for lossless JSON round-tripping of a
	// map[int]...).
	LayerDirections         map[int]Direction `json:"layerDirections"`
	LayerRetracementCounts  map[int]int       `json:"layerRetracementCounts"`

	ActiveLayerIndex int   `json:"activeLayerIndex"`
	HomeLayerIndex   int   `json:"homeLayerIndex"`
	ReturnStack      []int `json:"returnStack"`

	VolatilityLocked  bool     `json:"volatilityLocked"`
	HedgeNeutralized  bool     `json:"hedgeNeutralized"`
	HedgeEntryIDs     []string `json:"hedgeEntryIds"`
	LockReason        string   `json:"lockReason,omitempty"`

	AccountBalance decimal.Decimal        `json:"accountBalance"`
	AccountNAV     decimal.Decimal        `json:"accountNav"`
	Metrics        map[string]decimal.Decimal `json:"metrics"`
}

// NewStrategyState returns a zeroed, initialised-false state ready for
// OnStart.
func NewStrategyState(startingBalance decimal.Decimal) *StrategyState {
	return &StrategyState{
		Status:                 RunStateRunning,
		LayerDirections:        make(map[int]Direction),
		LayerRetracementCounts: make(map[int]int),
		ReturnStack:            make([]int, 0),
		HedgeEntryIDs:          make([]string, 0),
		AccountBalance:         startingBalance,
		AccountNAV:             startingBalance,
		Metrics:                make(map[string]decimal.Decimal),
	}
}

// Clone performs a deep copy so OnTick never mutates its input state.
func (s *StrategyState) Clone() *StrategyState {
	if s == nil {
		return nil
	}
	out := *s
	out.PriceHistory = append([]decimal.Decimal(nil), s.PriceHistory...)
	out.OpenEntries = append([]Entry(nil), s.OpenEntries...)
	out.ReturnStack = append([]int(nil), s.ReturnStack...)
	out.HedgeEntryIDs = append([]string(nil), s.HedgeEntryIDs...)
	out.LayerDirections = make(map[int]Direction, len(s.LayerDirections))
	for k, v := range s.LayerDirections {
		out.LayerDirections[k] = v
	}
	out.LayerRetracementCounts = make(map[int]int, len(s.LayerRetracementCounts))
	for k, v := range s.LayerRetracementCounts {
		out.LayerRetracementCounts[k] = v
	}
	out.Metrics = make(map[string]decimal.Decimal, len(s.Metrics))
	for k, v := range s.Metrics {
		out.Metrics[k] = v
	}
	return &out
}
