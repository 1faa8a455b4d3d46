package stream

import (
	"context"
	"time"

	"github.com/atlas-fx/floor-engine/internal/events"
	"github.com/atlas-fx/floor-engine/internal/execution"
	"github.com/atlas-fx/floor-engine/internal/execution/broker"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/atlas-fx/floor-engine/pkg/utils"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Reconciler periodically compares the broker's authoritative open
// positions and pending orders against this platform's local view,
// raising an audit event for every discrepancy — a broker-side fill or
// cancel the transaction stream missed, or a position size drift.
//
// Authored fresh against robfig/cron/v3, an already-vendored
// dependency with no periodic-job component of its own to adapt.
type Reconciler struct {
	logger  *zap.Logger
	broker  broker.Client
	account types.BrokerAccount
	store   *PositionStore
	orders  *execution.OrderManager
	bus     *events.EventBus

	cron *cron.Cron
}

func NewReconciler(logger *zap.Logger, client broker.Client, account types.BrokerAccount, store *PositionStore, orders *execution.OrderManager, bus *events.EventBus) *Reconciler {
	return &Reconciler{
		logger:  logger,
		broker:  client,
		account: account,
		store:   store,
		orders:  orders,
		bus:     bus,
		cron:    cron.New(),
	}
}

// Start schedules periodic reconciliation at the given cron spec (e.g.
// "@every 1m") and begins running it in the background.
func (r *Reconciler) Start(ctx context.Context, schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		r.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for any in-flight run to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce performs a single reconciliation pass, diffing broker state
// against the local view and publishing an audit event for every
// discrepancy found.
func (r *Reconciler) RunOnce(ctx context.Context) {
	r.reconcilePositions(ctx)
	r.reconcileOrders(ctx)
}

func (r *Reconciler) reconcilePositions(ctx context.Context) {
	remote, err := utils.Retry(utils.DefaultRetryConfig(), func() ([]types.Position, error) {
		return r.broker.OpenPositions(ctx, r.account)
	})
	if err != nil {
		r.logger.Error("reconciler: fetch broker positions failed", zap.Error(err))
		r.publishDiscrepancy("position_reconciliation_failed", map[string]interface{}{"error": err.Error()})
		return
	}

	local := r.store.OpenPositions(r.account.ID)
	localByKey := make(map[string]types.Position, len(local))
	for _, p := range local {
		localByKey[positionKey(p.Instrument, p.Direction)] = p
	}

	seen := make(map[string]bool, len(remote))
	for _, rp := range remote {
		key := positionKey(rp.Instrument, rp.Direction)
		seen[key] = true
		lp, ok := localByKey[key]
		if !ok {
			r.publishDiscrepancy("position_missing_locally", map[string]interface{}{
				"instrument": rp.Instrument,
				"direction":  string(rp.Direction),
				"units":      rp.Units.String(),
			})
			continue
		}
		if !lp.Units.Equal(rp.Units) {
			r.publishDiscrepancy("position_units_mismatch", map[string]interface{}{
				"instrument":   rp.Instrument,
				"direction":    string(rp.Direction),
				"local_units":  lp.Units.String(),
				"broker_units": rp.Units.String(),
			})
		}
	}

	for key, lp := range localByKey {
		if !seen[key] {
			r.publishDiscrepancy("position_missing_at_broker", map[string]interface{}{
				"instrument": lp.Instrument,
				"direction":  string(lp.Direction),
				"units":      lp.Units.String(),
			})
		}
	}
}

func (r *Reconciler) reconcileOrders(ctx context.Context) {
	remote, err := utils.Retry(utils.DefaultRetryConfig(), func() ([]types.Order, error) {
		return r.broker.PendingOrders(ctx, r.account)
	})
	if err != nil {
		r.logger.Error("reconciler: fetch broker pending orders failed", zap.Error(err))
		r.publishDiscrepancy("order_reconciliation_failed", map[string]interface{}{"error": err.Error()})
		return
	}

	remoteByBrokerID := make(map[string]types.Order, len(remote))
	for _, o := range remote {
		remoteByBrokerID[o.BrokerOrderID] = o
	}

	for _, lo := range r.orders.Open() {
		if _, ok := remoteByBrokerID[lo.BrokerOrderID]; !ok {
			r.publishDiscrepancy("order_missing_at_broker", map[string]interface{}{
				"order_id":        lo.ID,
				"broker_order_id": lo.BrokerOrderID,
				"instrument":      lo.Instrument,
			})
		}
	}
}

func (r *Reconciler) publishDiscrepancy(eventType string, details map[string]interface{}) {
	audit := types.AuditEvent{
		ID:        uuid.New().String(),
		Category:  types.EventCategoryTrading,
		Type:      eventType,
		Severity:  types.SeverityWarning,
		Timestamp: time.Now(),
		Account:   r.account.ID,
		Details:   details,
	}
	r.bus.Publish(events.NewAuditEvent(audit))
}
