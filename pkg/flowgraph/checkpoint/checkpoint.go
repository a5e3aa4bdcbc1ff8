package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is written into every checkpoint. Resume refuses checkpoints
// written with a different version.
const Version = 1

// Checkpoint is the state of a run right after one node finished, plus
// the node that would have run next.
type Checkpoint struct {
	Version    int             `json:"version"`
	RunID      string          `json:"run_id"`
	NodeID     string          `json:"node_id"`
	Sequence   int             `json:"sequence"`
	Timestamp  time.Time       `json:"timestamp"`
	State      json.RawMessage `json:"state"`
	NextNode   string          `json:"next_node"`
	Attempt    int             `json:"attempt"`
	PrevNodeID string          `json:"prev_node_id,omitempty"`
}

// New builds a checkpoint for an already encoded state. Attempt starts
// at 1.
func New(runID, nodeID string, sequence int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		RunID:     runID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
		Attempt:   1,
	}
}

func (c *Checkpoint) WithAttempt(n int) *Checkpoint {
	c.Attempt = n
	return c
}

func (c *Checkpoint) WithPrevNode(id string) *Checkpoint {
	c.PrevNodeID = id
	return c
}

// Marshal encodes the checkpoint as the JSON stored by a Store.
func (c *Checkpoint) Marshal() ([]byte, error) { return json.Marshal(c) }

// Unmarshal decodes what Marshal produced.
func Unmarshal(data []byte) (*Checkpoint, error) {
	cp := new(Checkpoint)
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, err
	}
	return cp, nil
}
