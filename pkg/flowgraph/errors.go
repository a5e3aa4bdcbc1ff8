package flowgraph

import (
	"errors"
	"fmt"
)

// Compile errors. Compile joins every problem it finds, so check them
// with errors.Is.
var (
	ErrNoEntryPoint  = errors.New("entry point not set")
	ErrEntryNotFound = errors.New("entry point node not found")
	ErrNodeNotFound  = errors.New("node not found")
	ErrNoPathToEnd   = errors.New("no path to END from entry")
)

// Run errors.
var (
	ErrMaxIterations        = errors.New("exceeded maximum iterations")
	ErrNilContext           = errors.New("context cannot be nil")
	ErrInvalidRouterResult  = errors.New("router returned empty string")
	ErrRouterTargetNotFound = errors.New("router returned unknown node")
)

// Checkpoint and resume errors.
var (
	ErrRunIDRequired             = errors.New("run ID required for checkpointing")
	ErrDeserializeState          = errors.New("failed to deserialize state")
	ErrNoCheckpoints             = errors.New("no checkpoints found for run")
	ErrInvalidResumeNode         = errors.New("invalid resume node")
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// NodeError is returned when a node function fails. Op is "execute" for
// the node's own error and "routing" when the node has nowhere to go.
type NodeError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// PanicError is returned when a node panics. The run stops; the state
// handed back is the one the node received.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError reports the node a canceled run stopped at. State
// holds the last state and can be asserted back to the graph's type.
type CancellationError struct {
	NodeID       string
	State        any
	Cause        error
	WasExecuting bool
}

func (e *CancellationError) Error() string {
	when := "before"
	if e.WasExecuting {
		when = "during"
	}
	return fmt.Sprintf("cancelled %s node %s: %v", when, e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// RouterError is returned when a router's answer cannot be followed.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error { return e.Err }

// MaxIterationsError matches ErrMaxIterations with errors.Is.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
	State      any
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

func (e *MaxIterationsError) Unwrap() error { return ErrMaxIterations }

// CheckpointError is only returned when checkpoint failures are fatal;
// otherwise they are logged. Op is "serialize", "marshal" or "save".
type CheckpointError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
