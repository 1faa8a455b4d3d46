package storage

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

// MemoryStore is an in-process Store backing tests that need
// persistence semantics without a live Postgres instance, grounded on
// internal/kv.MemoryStore's same hand-rolled-fake-over-mocking-library
// preference.
type MemoryStore struct {
	mu sync.Mutex

	accounts   map[string]types.BrokerAccount
	configs    map[string]types.StrategyConfig
	tasks      map[string]types.Task
	executions map[string][]types.TaskExecution
	orders     map[string]types.Order
	positions  map[string]types.Position
	events     []types.AuditEvent
	logs       []TaskLog
	metrics    []TaskMetric
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]types.BrokerAccount),
		configs:    make(map[string]types.StrategyConfig),
		tasks:      make(map[string]types.Task),
		executions: make(map[string][]types.TaskExecution),
		orders:     make(map[string]types.Order),
		positions:  make(map[string]types.Position),
	}
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) SaveBrokerAccount(_ context.Context, account types.BrokerAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = account
	return nil
}

func (m *MemoryStore) GetBrokerAccount(_ context.Context, id string) (types.BrokerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return types.BrokerAccount{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) ListBrokerAccountsByOwner(_ context.Context, owner string) ([]types.BrokerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.BrokerAccount
	for _, a := range m.accounts {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetBrokerAccountByAPIToken(_ context.Context, token string) (types.BrokerAccount, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.IsActive && string(a.APIToken) == token {
			return a, true, nil
		}
	}
	return types.BrokerAccount{}, false, nil
}

func (m *MemoryStore) SaveStrategyConfig(_ context.Context, cfg types.StrategyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ID] = cfg
	return nil
}

func (m *MemoryStore) GetStrategyConfig(_ context.Context, id string) (types.StrategyConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return types.StrategyConfig{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) SaveBacktestTask(_ context.Context, task *types.BacktestTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveTradingTask(_ context.Context, task *types.TradingTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) UpdateTaskStatus(_ context.Context, id string, apply func(*types.TaskBase) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if err := apply(t.Base()); err != nil {
		return err
	}
	t.Base().UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListTasksByOwner(_ context.Context, owner string) ([]types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Task
	for _, t := range m.tasks {
		if t.Base().Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListTradingTasksByAccount(_ context.Context, brokerAccountID string) ([]*types.TradingTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.TradingTask
	for _, t := range m.tasks {
		tt, ok := t.(*types.TradingTask)
		if ok && tt.BrokerAccountID == brokerAccountID {
			cp := *tt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveTaskExecution(_ context.Context, exec types.TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	execs := m.executions[exec.TaskID]
	for i, e := range execs {
		if e.ID == exec.ID {
			execs[i] = exec
			m.executions[exec.TaskID] = execs
			return nil
		}
	}
	m.executions[exec.TaskID] = append(execs, exec)
	return nil
}

func (m *MemoryStore) GetLatestExecution(_ context.Context, taskID string) (types.TaskExecution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	execs := m.executions[taskID]
	if len(execs) == 0 {
		return types.TaskExecution{}, false, nil
	}
	latest := execs[0]
	for _, e := range execs[1:] {
		if e.ExecutionNumber > latest.ExecutionNumber {
			latest = e
		}
	}
	return latest, true, nil
}

func (m *MemoryStore) ListExecutions(_ context.Context, taskID string) ([]types.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TaskExecution, len(m.executions[taskID]))
	copy(out, m.executions[taskID])
	return out, nil
}

func (m *MemoryStore) SaveOrder(_ context.Context, order types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return types.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) ListOpenOrders(_ context.Context, account string) ([]types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Order
	for _, o := range m.orders {
		if o.Account == account && o.Status == types.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemoryStore) SavePosition(_ context.Context, position types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[position.ID] = position
	return nil
}

func (m *MemoryStore) ListOpenPositions(_ context.Context, account string) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Position
	for _, p := range m.positions {
		if p.Account == account && p.ClosedAt == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPositionHistory(_ context.Context, account string, since time.Time) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Position
	for _, p := range m.positions {
		if p.Account == account && p.ClosedAt != nil && !p.ClosedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) SaveAuditEvent(_ context.Context, event types.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStore) ListAuditEvents(_ context.Context, account string, since time.Time) ([]types.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.AuditEvent
	for _, e := range m.events {
		if e.Account == account && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendTaskLog(_ context.Context, log TaskLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *MemoryStore) AppendTaskMetric(_ context.Context, metric TaskMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, metric)
	return nil
}
