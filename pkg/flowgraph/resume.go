package flowgraph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
)

// Resume picks a run up after its newest checkpoint. If that checkpoint
// already points at END the saved state is returned and nothing runs.
//
//	// execute_sql failed after sanitize_sql was saved; run it again
//	result, err := compiled.Resume(ctx, store, "run-123")
func (cg *CompiledGraph[S]) Resume(ctx Context, store checkpoint.Store, runID string, opts ...ResumeOption) (S, error) {
	var zero S
	if ctx == nil {
		return zero, ErrNilContext
	}

	infos, err := store.List(runID)
	if err != nil {
		return zero, fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return zero, fmt.Errorf("%w: %s", ErrNoCheckpoints, runID)
	}
	return cg.resume(ctx, store, runID, infos[len(infos)-1].NodeID, opts)
}

// ResumeFrom is Resume starting from the checkpoint taken after nodeID.
//
//	// write a new answer from the rows already fetched
//	result, err := compiled.ResumeFrom(ctx, store, "run-123", "execute_sql")
func (cg *CompiledGraph[S]) ResumeFrom(ctx Context, store checkpoint.Store, runID, nodeID string, opts ...ResumeOption) (S, error) {
	var zero S
	if ctx == nil {
		return zero, ErrNilContext
	}
	return cg.resume(ctx, store, runID, nodeID, opts)
}

func (cg *CompiledGraph[S]) resume(ctx Context, store checkpoint.Store, runID, nodeID string, opts []ResumeOption) (S, error) {
	var (
		zero S
		rc   resumeConfig
	)
	for _, opt := range opts {
		opt(&rc)
	}

	cp, err := readCheckpoint(store, runID, nodeID)
	if err != nil {
		return zero, err
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	if rc.stateOverride != nil {
		if s, ok := rc.stateOverride(state).(S); ok {
			state = s
		}
	}
	if rc.validateState != nil {
		if err := rc.validateState(state); err != nil {
			return state, fmt.Errorf("state validation failed: %w", err)
		}
	}

	from := cp.NextNode
	if rc.replayNode {
		from = cp.NodeID
	}
	if from != END && !cg.HasNode(from) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidResumeNode, from)
	}

	cfg := defaultRunConfig()
	for _, opt := range rc.runOpts {
		opt(&cfg)
	}
	cfg.checkpointStore, cfg.runID, cfg.sequence = store, runID, cp.Sequence

	return cg.start(ctx, state, from, &cfg)
}

func readCheckpoint(store checkpoint.Store, runID, nodeID string) (*checkpoint.Checkpoint, error) {
	data, err := store.Load(runID, nodeID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return nil, fmt.Errorf("%w: %s at node %s", ErrNoCheckpoints, runID, nodeID)
	case err != nil:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	if cp.Version != checkpoint.Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}
	return cp, nil
}
