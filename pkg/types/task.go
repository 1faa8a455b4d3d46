package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus is a node in the task lifecycle state machine.
type TaskStatus string

const (
	TaskStatusCreated   TaskStatus = "CREATED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusPaused    TaskStatus = "PAUSED"
	TaskStatusStopped   TaskStatus = "STOPPED"
)

// TaskType tags the BACKTEST | TRADING variant.
type TaskType string

const (
	TaskTypeBacktest TaskType = "BACKTEST"
	TaskTypeTrading  TaskType = "TRADING"
)

// TaskBase holds the fields common to every task variant.
type TaskBase struct {
	ID         string     `json:"id"`
	Owner      string     `json:"owner"`
	ConfigID   string     `json:"configId"`
	Name       string     `json:"name"`
	Status     TaskStatus `json:"status"`
	RetryCount int        `json:"retryCount"`
	MaxRetries int        `json:"maxRetries"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Task is implemented by BacktestTask and TradingTask.
type Task interface {
	Base() *TaskBase
	Type() TaskType
}

// BacktestTask drives the backtest engine over a bounded historical
// window.
type BacktestTask struct {
	TaskBase
	StartTime          time.Time       `json:"startTime"`
	EndTime            time.Time       `json:"endTime"`
	Instrument         string          `json:"instrument"`
	InitialBalance     decimal.Decimal `json:"initialBalance"`
	CommissionPerTrade decimal.Decimal `json:"commissionPerTrade"`
	DataSource         string          `json:"dataSource"`
}

// Base implements Task.
func (t *BacktestTask) Base() *TaskBase { return &t.TaskBase }

// Type implements Task.
func (t *BacktestTask) Type() TaskType { return TaskTypeBacktest }

// TradingTask drives a live strategy against a broker account.
type TradingTask struct {
	TaskBase
	BrokerAccountID string `json:"brokerAccountId"`
	SellOnStop      bool   `json:"sellOnStop"`
}

// Base implements Task.
func (t *TradingTask) Base() *TaskBase { return &t.TaskBase }

// Type implements Task.
func (t *TradingTask) Type() TaskType { return TaskTypeTrading }

// TaskExecution records one run of a Task. ExecutionNumber is
// monotonically increasing per task and gap-free; exactly one
// execution per task is non-terminal at a time.
type TaskExecution struct {
	ID             string     `json:"id"`
	TaskType       TaskType   `json:"taskType"`
	TaskID         string     `json:"taskId"`
	ExecutionNumber int64     `json:"executionNumber"`
	Status         TaskStatus `json:"status"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	Progress       int        `json:"progress"`
}

// IsTerminal reports whether the execution has left RUNNING/PAUSED.
func (e TaskExecution) IsTerminal() bool {
	switch e.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusStopped:
		return true
	default:
		return false
	}
}

// transitions enumerates the admissible edges of the state machine.
// Keyed by (from, action) -> to.
type transitionKey struct {
	from   TaskStatus
	action string
}

var transitions = map[transitionKey]TaskStatus{
	{TaskStatusCreated, "submit"}:  TaskStatusRunning,
	{TaskStatusRunning, "complete"}: TaskStatusCompleted,
	{TaskStatusRunning, "fail"}:     TaskStatusFailed,
	{TaskStatusRunning, "pause"}:    TaskStatusPaused,
	{TaskStatusPaused, "resume"}:    TaskStatusRunning,
	{TaskStatusRunning, "stop"}:     TaskStatusStopped,
	{TaskStatusFailed, "restart"}:   TaskStatusRunning,
	{TaskStatusStopped, "restart"}:  TaskStatusRunning,
	{TaskStatusStopped, "resume"}:   TaskStatusRunning,
	{TaskStatusCompleted, "restart"}: TaskStatusRunning,
}

// NextStatus returns the resulting status for (current, action), and
// whether the transition is legal.
func NextStatus(current TaskStatus, action string) (TaskStatus, bool) {
	next, ok := transitions[transitionKey{current, action}]
	return next, ok
}
