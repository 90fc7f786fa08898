package tasks

import "errors"

var (
	// ErrTaskNotFound reports an operation on an id with no persisted task.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidStatus reports an unknown status or a transition missing its required data.
	ErrInvalidStatus = errors.New("invalid task status")
	// ErrResultRequired reports an attempt to mark a task completed without a result.
	ErrResultRequired = errors.New("completing a task requires a result")
)
