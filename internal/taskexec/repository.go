// Package taskexec drives the task lifecycle state machine: starting,
// pausing, resuming, stopping, and restarting BACKTEST and TRADING
// tasks, each run recorded as a TaskExecution with a gap-free,
// monotonic execution number.
package taskexec

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

// Repository persists tasks and their executions. The only
// implementation shipped here is an in-memory one for tests; a
// Postgres-backed implementation satisfies the same interface in
// production.
type Repository interface {
	GetTask(ctx context.Context, taskType types.TaskType, taskID string) (types.Task, error)
	UpdateTaskStatus(ctx context.Context, taskType types.TaskType, taskID string, status types.TaskStatus) error

	// NextExecutionNumber allocates the next execution number for a
	// task, strictly increasing and gap-free.
	NextExecutionNumber(ctx context.Context, taskType types.TaskType, taskID string) (int64, error)

	CreateExecution(ctx context.Context, exec types.TaskExecution) error
	UpdateExecution(ctx context.Context, exec types.TaskExecution) error

	// ActiveExecution returns the current non-terminal execution for a
	// task, if one exists.
	ActiveExecution(ctx context.Context, taskType types.TaskType, taskID string) (*types.TaskExecution, bool, error)

	// AccountHasRunningTask reports whether any TRADING task against
	// brokerAccountID is currently RUNNING or PAUSED, enforcing the
	// one-running-task-per-account exclusivity rule.
	AccountHasRunningTask(ctx context.Context, brokerAccountID string, excludingTaskID string) (bool, error)
}

// MemoryRepository is an in-process Repository backed by maps,
// sufficient for tests and for a single-process deployment.
type MemoryRepository struct {
	mu sync.Mutex

	tasks      map[string]types.Task
	executions map[string]*types.TaskExecution
	execNums   map[string]int64
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks:      make(map[string]types.Task),
		executions: make(map[string]*types.TaskExecution),
		execNums:   make(map[string]int64),
	}
}

// PutTask registers or replaces a task, for test setup.
func (r *MemoryRepository) PutTask(task types.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.Base().ID] = task
}

func (r *MemoryRepository) GetTask(ctx context.Context, taskType types.TaskType, taskID string) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (r *MemoryRepository) UpdateTaskStatus(ctx context.Context, taskType types.TaskType, taskID string, status types.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	base := task.Base()
	base.Status = status
	base.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) NextExecutionNumber(ctx context.Context, taskType types.TaskType, taskID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execNums[taskID]++
	return r.execNums[taskID], nil
}

func (r *MemoryRepository) CreateExecution(ctx context.Context, exec types.TaskExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := exec
	r.executions[exec.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateExecution(ctx context.Context, exec types.TaskExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executions[exec.ID]; !ok {
		return ErrExecutionNotFound
	}
	cp := exec
	r.executions[exec.ID] = &cp
	return nil
}

func (r *MemoryRepository) ActiveExecution(ctx context.Context, taskType types.TaskType, taskID string) (*types.TaskExecution, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, exec := range r.executions {
		if exec.TaskID == taskID && !exec.IsTerminal() {
			cp := *exec
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (r *MemoryRepository) AccountHasRunningTask(ctx context.Context, brokerAccountID string, excludingTaskID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, task := range r.tasks {
		trading, ok := task.(*types.TradingTask)
		if !ok || trading.ID == excludingTaskID {
			continue
		}
		if trading.BrokerAccountID != brokerAccountID {
			continue
		}
		if trading.Status == types.TaskStatusRunning || trading.Status == types.TaskStatusPaused {
			return true, nil
		}
	}
	return false, nil
}
