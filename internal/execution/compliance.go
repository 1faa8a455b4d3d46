package execution

import (
	"fmt"

	pkgerrors "github.com/atlas-fx/floor-engine/pkg/errors"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// ComplianceConfig bounds the jurisdiction rule set a ComplianceChecker
// enforces. The underlying rule tables (RegulatoryComplianceManager,
// PositionDifferentiationManager) that
// original_source/backend/trading/order_executor.py delegates to are
// not part of the retrieved source; this is authored directly against
// the documented compliance behaviour, using order_executor.py only
// for the call-site shape: when validation runs in the submit pipeline
// and what an adjustment's audit details look like.
type ComplianceConfig struct {
	MinUnits decimal.Decimal
	MaxUnits decimal.Decimal // zero means unbounded
}

func DefaultComplianceConfig() ComplianceConfig {
	return ComplianceConfig{
		MinUnits: decimal.NewFromInt(1),
	}
}

// ComplianceChecker validates an order against its account's
// jurisdiction rule set and rewrites its requested units under the
// position-differentiation policy before submission.
type ComplianceChecker struct {
	config ComplianceConfig
}

func NewComplianceChecker(config ComplianceConfig) *ComplianceChecker {
	return &ComplianceChecker{config: config}
}

// ValidateJurisdiction enforces the min/max lot rule set and, for
// netting-mode accounts (US jurisdiction), the FIFO-close requirement:
// a reducing or reversing order on an existing position must close the
// oldest lot first, so a short-selling instruction against the same
// instrument while a long lot is open is rejected rather than allowed
// to net against an arbitrary lot.
func (c *ComplianceChecker) ValidateJurisdiction(account types.BrokerAccount, req types.Order, openPositions []types.Position) error {
	if req.Units.LessThan(c.config.MinUnits) {
		return pkgerrors.ComplianceViolation(
			fmt.Sprintf("order size %s below minimum lot %s", req.Units, c.config.MinUnits))
	}
	if !c.config.MaxUnits.IsZero() && req.Units.GreaterThan(c.config.MaxUnits) {
		return pkgerrors.ComplianceViolation(
			fmt.Sprintf("order size %s exceeds maximum lot %s", req.Units, c.config.MaxUnits))
	}

	if !account.NettingMode() {
		return nil
	}

	for _, pos := range openPositions {
		if pos.Instrument != req.Instrument || pos.IsClosed() {
			continue
		}
		if pos.Direction != req.Direction {
			return pkgerrors.ComplianceViolation(
				fmt.Sprintf("netting jurisdiction requires closing the existing %s %s position before opening %s",
					pos.Direction, pos.Instrument, req.Direction))
		}
	}
	return nil
}

// DifferentiateUnits rewrites the requested units to avoid an exact
// collision with an existing open position of the same size on the
// same instrument, clamped to [min_units, max_units]. Colliding sizes
// are a known broker-side fingerprinting signal some jurisdictions
// flag; nudging the size by one increment avoids it without changing
// the economics of the trade materially.
//
// Returns the (possibly unchanged) units and whether an adjustment was
// applied, so the caller can record both the before and after value on
// the order's audit event.
func (c *ComplianceChecker) DifferentiateUnits(instrument string, units decimal.Decimal, openPositions []types.Position) (decimal.Decimal, bool) {
	increment := decimal.NewFromFloat(0.01)
	adjusted := units
	adjustedFlag := false

	for _, pos := range openPositions {
		if pos.Instrument != instrument || pos.IsClosed() {
			continue
		}
		if !pos.Units.Equal(adjusted) {
			continue
		}

		candidate := adjusted.Add(increment)
		if !c.config.MaxUnits.IsZero() && candidate.GreaterThan(c.config.MaxUnits) {
			candidate = adjusted.Sub(increment)
		}
		if candidate.LessThan(c.config.MinUnits) {
			candidate = c.config.MinUnits
		}
		adjusted = candidate
		adjustedFlag = true
	}

	return adjusted, adjustedFlag
}
