package execution

import (
	"fmt"
	"sync"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RiskCheckResult reports a pre-submission sanity check's verdict,
// trimmed down to the four limits types.RiskLimits actually carries.
type RiskCheckResult struct {
	Approved   bool
	Violations []string
	Warnings   []string
}

// RiskManager enforces a task's types.RiskLimits against its current
// open-position book before an order reaches the broker. It holds no
// position ledger of its own — internal/stream owns that — and is
// consulted fresh on every submission with the caller's current view of
// the account.
type RiskManager struct {
	logger *zap.Logger
	mu     sync.RWMutex
	limits types.RiskLimits

	dailyPnL    decimal.Decimal
	dailyLosses decimal.Decimal
}

func NewRiskManager(logger *zap.Logger, limits types.RiskLimits) *RiskManager {
	return &RiskManager{logger: logger, limits: limits}
}

// CheckOrder validates a prospective order against position-size,
// open-position-count, and daily-loss limits, using the caller's
// current book rather than an internally tracked one so the check is
// always against the latest reconciled state.
func (r *RiskManager) CheckOrder(req types.Order, openPositions []types.Position, drawdown decimal.Decimal) RiskCheckResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := RiskCheckResult{Approved: true}

	if !r.limits.MaxPositionSize.IsZero() && req.Units.GreaterThan(r.limits.MaxPositionSize) {
		result.Approved = false
		result.Violations = append(result.Violations,
			fmt.Sprintf("order size %s exceeds max position size %s", req.Units, r.limits.MaxPositionSize))
	}

	if r.limits.MaxOpenPositions > 0 {
		open := 0
		for _, pos := range openPositions {
			if !pos.IsClosed() {
				open++
			}
		}
		if open >= r.limits.MaxOpenPositions {
			result.Approved = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("open position count %d at or above max %d", open, r.limits.MaxOpenPositions))
		}
	}

	if !r.limits.MaxDrawdown.IsZero() && drawdown.GreaterThanOrEqual(r.limits.MaxDrawdown) {
		result.Approved = false
		result.Violations = append(result.Violations,
			fmt.Sprintf("drawdown %s at or beyond max drawdown %s", drawdown, r.limits.MaxDrawdown))
	}

	if !r.limits.MaxDailyLoss.IsZero() && r.dailyLosses.GreaterThanOrEqual(r.limits.MaxDailyLoss) {
		result.Approved = false
		result.Violations = append(result.Violations,
			fmt.Sprintf("daily loss %s at or beyond max daily loss %s", r.dailyLosses, r.limits.MaxDailyLoss))
	}

	if !result.Approved {
		r.logger.Warn("order rejected by risk manager",
			zap.Strings("violations", result.Violations),
			zap.String("instrument", req.Instrument))
	}
	return result
}

// RecordClose folds a closed trade's realised P&L into the day's
// running total, reset on ResetDailyStats at the caller's discretion (a
// new trading day, typically).
func (r *RiskManager) RecordClose(pnl decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dailyPnL = r.dailyPnL.Add(pnl)
	if pnl.IsNegative() {
		r.dailyLosses = r.dailyLosses.Add(pnl.Neg())
	}
}

func (r *RiskManager) ResetDailyStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dailyPnL = decimal.Zero
	r.dailyLosses = decimal.Zero
}

func (r *RiskManager) DailyPnL() decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dailyPnL
}

func (r *RiskManager) UpdateLimits(limits types.RiskLimits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits = limits
}

func (r *RiskManager) Limits() types.RiskLimits {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limits
}
