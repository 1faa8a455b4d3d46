package storage

import (
	"context"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

// TaskRepository adapts Store to internal/taskexec.Repository, so the
// executor drives task lifecycle state against whichever Store backs
// the running process (PostgresStore in production, MemoryStore in
// tests) without taskexec needing to know about table layout.
type TaskRepository struct {
	store Store
}

func NewTaskRepository(store Store) *TaskRepository {
	return &TaskRepository{store: store}
}

func (r *TaskRepository) GetTask(ctx context.Context, _ types.TaskType, taskID string) (types.Task, error) {
	return r.store.GetTask(ctx, taskID)
}

func (r *TaskRepository) UpdateTaskStatus(ctx context.Context, _ types.TaskType, taskID string, status types.TaskStatus) error {
	return r.store.UpdateTaskStatus(ctx, taskID, func(base *types.TaskBase) error {
		base.Status = status
		return nil
	})
}

// NextExecutionNumber counts existing executions for the task. The
// executor holds the task's distributed lock for the duration of
// Start, so this count is never raced against a concurrent allocation
// for the same task.
func (r *TaskRepository) NextExecutionNumber(ctx context.Context, _ types.TaskType, taskID string) (int64, error) {
	execs, err := r.store.ListExecutions(ctx, taskID)
	if err != nil {
		return 0, err
	}
	return int64(len(execs)) + 1, nil
}

func (r *TaskRepository) CreateExecution(ctx context.Context, exec types.TaskExecution) error {
	return r.store.SaveTaskExecution(ctx, exec)
}

func (r *TaskRepository) UpdateExecution(ctx context.Context, exec types.TaskExecution) error {
	return r.store.SaveTaskExecution(ctx, exec)
}

func (r *TaskRepository) ActiveExecution(ctx context.Context, _ types.TaskType, taskID string) (*types.TaskExecution, bool, error) {
	exec, ok, err := r.store.GetLatestExecution(ctx, taskID)
	if err != nil || !ok || exec.IsTerminal() {
		return nil, false, err
	}
	return &exec, true, nil
}

func (r *TaskRepository) AccountHasRunningTask(ctx context.Context, brokerAccountID string, excludingTaskID string) (bool, error) {
	tasks, err := r.store.ListTradingTasksByAccount(ctx, brokerAccountID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.ID == excludingTaskID {
			continue
		}
		if t.Status == types.TaskStatusRunning || t.Status == types.TaskStatusPaused {
			return true, nil
		}
	}
	return false, nil
}
