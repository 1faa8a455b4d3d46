package storage

import (
	"context"
	"testing"

	"github.com/atlas-fx/floor-engine/pkg/types"
)

func TestTaskRepositoryNextExecutionNumberCountsExisting(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	repo := NewTaskRepository(s)

	s.SaveTaskExecution(ctx, types.TaskExecution{ID: "e1", TaskID: "task-1", ExecutionNumber: 1})
	s.SaveTaskExecution(ctx, types.TaskExecution{ID: "e2", TaskID: "task-1", ExecutionNumber: 2})

	n, err := repo.NextExecutionNumber(ctx, types.TaskTypeTrading, "task-1")
	if err != nil {
		t.Fatalf("NextExecutionNumber: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
}

func TestTaskRepositoryActiveExecutionIgnoresTerminal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	repo := NewTaskRepository(s)

	s.SaveTaskExecution(ctx, types.TaskExecution{ID: "e1", TaskID: "task-1", ExecutionNumber: 1, Status: types.TaskStatusCompleted})

	_, ok, err := repo.ActiveExecution(ctx, types.TaskTypeTrading, "task-1")
	if err != nil {
		t.Fatalf("ActiveExecution: %v", err)
	}
	if ok {
		t.Fatal("expected no active execution for a completed one")
	}
}

func TestTaskRepositoryActiveExecutionFindsRunning(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	repo := NewTaskRepository(s)

	s.SaveTaskExecution(ctx, types.TaskExecution{ID: "e1", TaskID: "task-1", ExecutionNumber: 1, Status: types.TaskStatusRunning})

	exec, ok, err := repo.ActiveExecution(ctx, types.TaskTypeTrading, "task-1")
	if err != nil {
		t.Fatalf("ActiveExecution: %v", err)
	}
	if !ok || exec.ID != "e1" {
		t.Fatalf("expected e1 active, got ok=%v exec=%+v", ok, exec)
	}
}

func TestTaskRepositoryAccountHasRunningTaskExcludesGivenTask(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	repo := NewTaskRepository(s)

	s.SaveTradingTask(ctx, &types.TradingTask{
		TaskBase:        types.TaskBase{ID: "task-1", Status: types.TaskStatusRunning},
		BrokerAccountID: "acct-1",
	})

	has, err := repo.AccountHasRunningTask(ctx, "acct-1", "task-1")
	if err != nil {
		t.Fatalf("AccountHasRunningTask: %v", err)
	}
	if has {
		t.Fatal("expected no running task once the querying task is excluded")
	}

	has, err = repo.AccountHasRunningTask(ctx, "acct-1", "some-other-task")
	if err != nil {
		t.Fatalf("AccountHasRunningTask: %v", err)
	}
	if !has {
		t.Fatal("expected a running task when not excluding task-1")
	}
}

func TestTaskRepositoryUpdateTaskStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	repo := NewTaskRepository(s)

	s.SaveTradingTask(ctx, &types.TradingTask{TaskBase: types.TaskBase{ID: "task-1", Status: types.TaskStatusCreated}})

	if err := repo.UpdateTaskStatus(ctx, types.TaskTypeTrading, "task-1", types.TaskStatusRunning); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}

	task, err := repo.GetTask(ctx, types.TaskTypeTrading, "task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Base().Status != types.TaskStatusRunning {
		t.Fatalf("expected RUNNING, got %s", task.Base().Status)
	}
}
