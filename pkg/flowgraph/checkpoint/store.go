// Package checkpoint persists the state of graph runs so that an
// interrupted ask can be resumed and past runs can be listed.
package checkpoint

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("checkpoint not found")
	ErrStoreClosed = errors.New("checkpoint store closed")
)

// Store keeps at most one checkpoint per (run, node). Saving the same
// node again replaces the data and gives it the run's next sequence
// number, so List always ends with the newest checkpoint.
//
// Stores are safe for concurrent use. Deleting something that does not
// exist is not an error.
type Store interface {
	Save(runID, nodeID string, data []byte) error
	// Load returns ErrNotFound for an unknown run or node.
	Load(runID, nodeID string) ([]byte, error)
	// List is ordered by sequence and empty for an unknown run.
	List(runID string) ([]Info, error)
	Delete(runID, nodeID string) error
	DeleteRun(runID string) error
	// ListRuns returns the most recently updated runs first. limit <= 0
	// means no limit.
	ListRuns(limit int) ([]RunSummary, error)
	Close() error
}

// Info describes a stored checkpoint without its data.
type Info struct {
	RunID     string
	NodeID    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// RunSummary describes a run by its newest checkpoint.
type RunSummary struct {
	RunID       string
	Checkpoints int
	LastNodeID  string
	UpdatedAt   time.Time
}
