// Package execution submits orders to a single broker account, applying
// jurisdiction and position-differentiation rules ahead of submission
// and tracking each order's lifecycle from PENDING through its terminal
// state.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/internal/execution/broker"
	pkgerrors "github.com/atlas-fx/floor-engine/pkg/errors"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/atlas-fx/floor-engine/pkg/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderSpec is the caller-facing order request, before jurisdiction
// validation or position-differentiation have touched it.
type OrderSpec struct {
	Account    types.BrokerAccount
	Instrument string
	Type       types.OrderType
	Direction  types.Direction
	Units      decimal.Decimal
	Price      *decimal.Decimal
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
}

// PositionBook is the view of current exposure an Executor needs to run
// compliance and risk checks; internal/stream's position store
// satisfies this.
type PositionBook interface {
	OpenPositions(account string) []types.Position
	Drawdown(account string) decimal.Decimal
}

// Executor is the order-submission pipeline: validate jurisdiction,
// adjust units for position differentiation, run a pre-submission risk
// check, submit to the broker with a bounded retry for transport
// failures only, and emit an audit event carrying the full rationale
// for the order as submitted.
//
// Built on an Execute/ExecuteWithSLTP pipeline shape (lookup → validate
// → risk check → submit → retry), generalised from a multi-exchange
// ExchangeAdapter lookup to a single broker.Client, since this platform
// rules out a smart order router across venues.
type Executor struct {
	logger     *zap.Logger
	broker     broker.Client
	orders     *OrderManager
	risk       *RiskManager
	compliance *ComplianceChecker
	retry      utils.RetryConfig

	mu         sync.RWMutex
	killSwitch bool

	audit chan types.AuditEvent
}

func NewExecutor(logger *zap.Logger, client broker.Client, orders *OrderManager, risk *RiskManager, compliance *ComplianceChecker) *Executor {
	return &Executor{
		logger:     logger,
		broker:     client,
		orders:     orders,
		risk:       risk,
		compliance: compliance,
		retry:      utils.DefaultRetryConfig(),
		audit:      make(chan types.AuditEvent, 256),
	}
}

// AuditEvents exposes the audit trail every submitted or cancelled
// order produces.
func (e *Executor) AuditEvents() <-chan types.AuditEvent { return e.audit }

// ActivateKillSwitch stops all further submissions until cleared. It
// does not touch orders already resting with the broker; cancelling
// those is the caller's separate responsibility.
func (e *Executor) ActivateKillSwitch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killSwitch = true
}

func (e *Executor) ClearKillSwitch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killSwitch = false
}

func (e *Executor) killSwitchActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.killSwitch
}

// Submit runs the full order pipeline and returns the order as the
// broker accepted it (PENDING for resting limit/stop/OCO orders,
// FILLED or REJECTED for market orders, which settle synchronously).
func (e *Executor) Submit(ctx context.Context, spec OrderSpec, book PositionBook) (types.Order, error) {
	if e.killSwitchActive() {
		return types.Order{}, pkgerrors.Authorisation("kill switch active, order submission blocked")
	}

	open := book.OpenPositions(spec.Account.ID)

	draft := types.Order{
		ID:         uuid.New().String(),
		Account:    spec.Account.ID,
		Instrument: spec.Instrument,
		Type:       spec.Type,
		Direction:  spec.Direction,
		Units:      spec.Units,
		Price:      spec.Price,
		TakeProfit: spec.TakeProfit,
		StopLoss:   spec.StopLoss,
		Status:     types.OrderStatusPending,
	}

	if err := e.compliance.ValidateJurisdiction(spec.Account, draft, open); err != nil {
		e.publishAudit(draft, "order_rejected_compliance", types.SeverityWarning, map[string]interface{}{
			"reason": err.Error(),
		})
		return types.Order{}, err
	}

	adjustedUnits, wasAdjusted := e.compliance.DifferentiateUnits(spec.Instrument, draft.Units, open)
	originalUnits := draft.Units
	draft.Units = adjustedUnits

	riskResult := e.risk.CheckOrder(draft, open, book.Drawdown(spec.Account.ID))
	if !riskResult.Approved {
		e.publishAudit(draft, "order_rejected_risk", types.SeverityWarning, map[string]interface{}{
			"violations": riskResult.Violations,
		})
		return types.Order{}, pkgerrors.Validation("order failed risk check: " + joinViolations(riskResult.Violations))
	}

	result, err := e.submitWithRetry(ctx, spec, draft)
	if err != nil {
		e.publishAudit(draft, "order_submit_failed", types.SeverityError, map[string]interface{}{
			"error": err.Error(),
		})
		return types.Order{}, err
	}

	draft.BrokerOrderID = result.BrokerOrderID
	draft.Status = result.Status
	draft.FilledAt = result.FilledAt
	draft.RejectReason = result.RejectReason
	if result.FilledPrice != nil {
		draft.Price = result.FilledPrice
	}

	e.orders.Track(draft)

	details := map[string]interface{}{
		"original_units": originalUnits.String(),
		"final_units":    draft.Units.String(),
		"adjusted":       wasAdjusted,
		"status":         string(draft.Status),
	}
	severity := types.SeverityInfo
	eventType := "order_submitted"
	if draft.Status == types.OrderStatusRejected {
		severity = types.SeverityWarning
		eventType = "order_broker_rejected"
		details["reject_reason"] = draft.RejectReason
	}
	e.publishAudit(draft, eventType, severity, details)

	if draft.Status == types.OrderStatusRejected {
		return draft, pkgerrors.BrokerReject(draft.RejectReason)
	}
	return draft, nil
}

// submitWithRetry retries only transport failures (connection resets,
// 5xx responses, timeouts); a broker-level rejection is a decision, not
// a fault, and is returned to the caller immediately.
func (e *Executor) submitWithRetry(ctx context.Context, spec OrderSpec, draft types.Order) (broker.OrderResult, error) {
	req := broker.OrderRequest{
		Account:     spec.Account,
		Instrument:  spec.Instrument,
		Type:        spec.Type,
		Direction:   spec.Direction,
		Units:       draft.Units,
		Price:       spec.Price,
		TakeProfit:  spec.TakeProfit,
		StopLoss:    spec.StopLoss,
		ClientOrder: draft.ID,
	}

	delay := e.retry.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		result, err := e.broker.SubmitOrder(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var taxErr *pkgerrors.Error
		if as, ok := err.(*pkgerrors.Error); ok {
			taxErr = as
		}
		if taxErr == nil || !pkgerrors.Retryable(taxErr.Kind()) {
			return broker.OrderResult{}, err
		}
		if attempt == e.retry.MaxAttempts {
			break
		}

		e.logger.Warn("order submit transport error, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return broker.OrderResult{}, ctx.Err()
		case <-time.After(delay):
		}
		delay = minDuration(time.Duration(float64(delay)*e.retry.Multiplier), e.retry.MaxDelay)
	}
	return broker.OrderResult{}, pkgerrors.RetryLimitExceeded("order submit exhausted retries: " + lastErr.Error())
}

// Cancel cancels a resting order, transitioning it from PENDING to
// CANCELLED on broker acknowledgement.
func (e *Executor) Cancel(ctx context.Context, account types.BrokerAccount, order types.Order) error {
	if err := e.broker.CancelOrder(ctx, account, order.BrokerOrderID); err != nil {
		e.publishAudit(order, "order_cancel_failed", types.SeverityError, map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	if err := e.orders.UpdateStatus(order.ID, types.OrderStatusCancelled, nil, ""); err != nil {
		e.logger.Warn("cancel acknowledged but order not tracked", zap.String("order_id", order.ID), zap.Error(err))
	}
	order.Status = types.OrderStatusCancelled
	e.publishAudit(order, "order_cancelled", types.SeverityInfo, nil)
	return nil
}

func (e *Executor) publishAudit(order types.Order, eventType string, severity types.EventSeverity, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["order_id"] = order.ID
	details["instrument"] = order.Instrument
	details["units"] = order.Units.String()
	details["direction"] = string(order.Direction)

	event := types.AuditEvent{
		ID:        uuid.New().String(),
		Category:  types.EventCategoryTrading,
		Type:      eventType,
		Severity:  severity,
		Timestamp: time.Now(),
		Account:   order.Account,
		Details:   details,
	}
	select {
	case e.audit <- event:
	default:
		e.logger.Warn("audit event channel full, dropping event", zap.String("type", eventType))
	}
}

func joinViolations(violations []string) string {
	out := ""
	for i, v := range violations {
		if i > 0 {
			out += "; "
		}
		out += v
	}
	return out
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
