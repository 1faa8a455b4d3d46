// Package storage defines the relational persistence abstraction over
// the documented tables (broker_account, strategy_config,
// backtest_task, trading_task, task_execution, order, position, event,
// task_log, task_metric), with jackc/pgx/v5 as the only concrete
// implementation.
package storage

import (
	"context"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

// TaskLog is one append-only log line attached to a task execution.
type TaskLog struct {
	ID            string
	TaskID        string
	ExecutionID   string
	Level         string
	Message       string
	Timestamp     time.Time
}

// TaskMetric is one named, timestamped numeric sample attached to a
// task execution (equity curve points, tick-processing counters).
type TaskMetric struct {
	ID          string
	TaskID      string
	ExecutionID string
	Name        string
	Value       float64
	Timestamp   time.Time
}

// Store is the relational persistence contract the task executor,
// execution layer, and backtest engine depend on. In the concrete
// implementation, task status transitions take a row-level lock via
// `SELECT ... FOR UPDATE`; order and position writes are plain upserts
// and take no row lock.
type Store interface {
	// Broker accounts
	SaveBrokerAccount(ctx context.Context, account types.BrokerAccount) error
	GetBrokerAccount(ctx context.Context, id string) (types.BrokerAccount, error)
	ListBrokerAccountsByOwner(ctx context.Context, owner string) ([]types.BrokerAccount, error)
	GetBrokerAccountByAPIToken(ctx context.Context, token string) (types.BrokerAccount, bool, error)

	// Strategy configs
	SaveStrategyConfig(ctx context.Context, cfg types.StrategyConfig) error
	GetStrategyConfig(ctx context.Context, id string) (types.StrategyConfig, error)

	// Tasks
	SaveBacktestTask(ctx context.Context, task *types.BacktestTask) error
	SaveTradingTask(ctx context.Context, task *types.TradingTask) error
	GetTask(ctx context.Context, id string) (types.Task, error)
	// UpdateTaskStatus performs the row-level-locked read-modify-write
	// the task state machine needs: it loads the task FOR UPDATE, lets
	// apply mutate it, and persists the result in the same transaction.
	UpdateTaskStatus(ctx context.Context, id string, apply func(*types.TaskBase) error) error
	ListTasksByOwner(ctx context.Context, owner string) ([]types.Task, error)
	// ListTradingTasksByAccount backs the one-running-TRADING-task-per-
	// account exclusivity rule.
	ListTradingTasksByAccount(ctx context.Context, brokerAccountID string) ([]*types.TradingTask, error)

	// Task executions
	SaveTaskExecution(ctx context.Context, exec types.TaskExecution) error
	GetLatestExecution(ctx context.Context, taskID string) (types.TaskExecution, bool, error)
	ListExecutions(ctx context.Context, taskID string) ([]types.TaskExecution, error)

	// Orders
	SaveOrder(ctx context.Context, order types.Order) error
	GetOrder(ctx context.Context, id string) (types.Order, error)
	ListOpenOrders(ctx context.Context, account string) ([]types.Order, error)

	// Positions
	SavePosition(ctx context.Context, position types.Position) error
	ListOpenPositions(ctx context.Context, account string) ([]types.Position, error)
	ListPositionHistory(ctx context.Context, account string, since time.Time) ([]types.Position, error)

	// Events, logs, metrics
	SaveAuditEvent(ctx context.Context, event types.AuditEvent) error
	ListAuditEvents(ctx context.Context, account string, since time.Time) ([]types.AuditEvent, error)
	AppendTaskLog(ctx context.Context, log TaskLog) error
	AppendTaskMetric(ctx context.Context, metric TaskMetric) error

	Close()
}
