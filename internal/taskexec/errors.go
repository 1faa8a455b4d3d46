package taskexec

import stderrors "errors"

var (
	ErrTaskNotFound      = stderrors.New("taskexec: task not found")
	ErrExecutionNotFound = stderrors.New("taskexec: execution not found")
	ErrUnknownTaskType   = stderrors.New("taskexec: no runner registered for task type")
	ErrNotRunning        = stderrors.New("taskexec: task has no active execution")
)
