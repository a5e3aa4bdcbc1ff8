package askdata

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrEmptyQuestion is returned by Ask for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")

	// ErrNoCheckpointStore is returned by run management calls on a Bot
	// built without a checkpoint store.
	ErrNoCheckpointStore = errors.New("checkpointing is not configured")

	// ErrRunNotFound indicates no checkpoints exist for a run ID.
	ErrRunNotFound = errors.New("run not found")
)

// RunError is a failed Ask or Resume. RunID identifies the checkpoints
// the run can be resumed from.
type RunError struct {
	RunID string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s: %v", e.RunID, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
