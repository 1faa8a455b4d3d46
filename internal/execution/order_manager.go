// Package execution submits orders to a single broker account, applying
// jurisdiction and position-differentiation rules ahead of submission
// and tracking each order's lifecycle from PENDING through its terminal
// state.
package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"go.uber.org/zap"
)

// OrderManager tracks submitted orders through their lifecycle. It
// does not maintain a position ledger: updatePosition-style weighted
// average-entry bookkeeping belongs to internal/stream, which owns the
// authoritative position view built off the broker's transaction feed
// rather than the executor's own submit-time guesses.
//
// Built on a map-plus-mutex tracking shape with channel-based update
// notification, with RecordFill/updatePosition's position-ledger half
// removed.
type OrderManager struct {
	logger *zap.Logger
	mu     sync.RWMutex
	orders map[string]*types.Order
	byBrokerID map[string]string // broker order ID -> internal order ID

	updates chan OrderUpdate
}

// OrderUpdate is published whenever a tracked order's status changes.
type OrderUpdate struct {
	Order     types.Order
	Timestamp time.Time
}

func NewOrderManager(logger *zap.Logger) *OrderManager {
	return &OrderManager{
		logger:     logger,
		orders:     make(map[string]*types.Order),
		byBrokerID: make(map[string]string),
		updates:    make(chan OrderUpdate, 256),
	}
}

// Track registers a newly submitted order.
func (m *OrderManager) Track(order types.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := order
	m.orders[order.ID] = &o
	if order.BrokerOrderID != "" {
		m.byBrokerID[order.BrokerOrderID] = order.ID
	}
	m.publish(o)
}

// LinkBrokerOrderID records the broker-assigned order ID once known, so
// later transaction-feed messages (which carry only the broker's ID)
// can be matched back to the tracked order.
func (m *OrderManager) LinkBrokerOrderID(id, brokerOrderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if brokerOrderID == "" {
		return
	}
	m.byBrokerID[brokerOrderID] = id
	if order, ok := m.orders[id]; ok {
		order.BrokerOrderID = brokerOrderID
	}
}

// UpdateStatus transitions a tracked order to a new status, recording
// the fill time and reject reason where applicable.
func (m *OrderManager) UpdateStatus(id string, status types.OrderStatus, filledAt *time.Time, rejectReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return fmt.Errorf("order %s not tracked", id)
	}
	order.Status = status
	if filledAt != nil {
		order.FilledAt = filledAt
	}
	if rejectReason != "" {
		order.RejectReason = rejectReason
	}
	m.publish(*order)
	return nil
}

// GetByBrokerOrderID returns a tracked order by its broker-assigned ID.
func (m *OrderManager) GetByBrokerOrderID(brokerOrderID string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byBrokerID[brokerOrderID]
	if !ok {
		return types.Order{}, false
	}
	order, ok := m.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *order, true
}

// UpdateStatusByBrokerOrderID transitions a tracked order to a new
// status, looked up by the broker's order ID rather than the internal
// one — the shape transaction-feed messages arrive in.
func (m *OrderManager) UpdateStatusByBrokerOrderID(brokerOrderID string, status types.OrderStatus, filledAt *time.Time, rejectReason string) error {
	m.mu.RLock()
	id, ok := m.byBrokerID[brokerOrderID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no order tracked for broker order %s", brokerOrderID)
	}
	return m.UpdateStatus(id, status, filledAt, rejectReason)
}

func (m *OrderManager) publish(order types.Order) {
	update := OrderUpdate{Order: order, Timestamp: time.Now()}
	select {
	case m.updates <- update:
	default:
		m.logger.Warn("order update channel full, dropping update", zap.String("order_id", order.ID))
	}
}

// Updates exposes the order-status change feed.
func (m *OrderManager) Updates() <-chan OrderUpdate { return m.updates }

// Get returns a tracked order by ID.
func (m *OrderManager) Get(id string) (types.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return types.Order{}, false
	}
	return *order, true
}

// Open returns every tracked order still PENDING.
func (m *OrderManager) Open() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []types.Order
	for _, o := range m.orders {
		if o.Status == types.OrderStatusPending {
			open = append(open, *o)
		}
	}
	return open
}

// ByInstrument returns every tracked order for the given instrument.
func (m *OrderManager) ByInstrument(instrument string) []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matches []types.Order
	for _, o := range m.orders {
		if o.Instrument == instrument {
			matches = append(matches, *o)
		}
	}
	return matches
}
