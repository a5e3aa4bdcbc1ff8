package checkpoint

import (
	"bytes"
	"cmp"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a Store that lives only as long as the process, for tests
// and embedders that do not need runs to survive a restart. The CLI has no
// checkpointing unless a checkpoint path is configured.
type MemoryStore struct {
	mu     sync.Mutex
	runs   map[string]*memoryRun
	closed bool
}

type memoryRun struct {
	seq   int
	nodes map[string]memoryEntry
}

type memoryEntry struct {
	data []byte
	seq  int
	at   time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: map[string]*memoryRun{}}
}

// lock returns with m.mu held unless the store is closed.
func (m *MemoryStore) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStoreClosed
	}
	return nil
}

func (m *MemoryStore) Save(runID, nodeID string, data []byte) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	run := m.runs[runID]
	if run == nil {
		run = &memoryRun{nodes: map[string]memoryEntry{}}
		m.runs[runID] = run
	}
	run.seq++
	run.nodes[nodeID] = memoryEntry{data: bytes.Clone(data), seq: run.seq, at: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) Load(runID, nodeID string) ([]byte, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	if run := m.runs[runID]; run != nil {
		if e, ok := run.nodes[nodeID]; ok {
			return bytes.Clone(e.data), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(runID string) ([]Info, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	run := m.runs[runID]
	if run == nil {
		return nil, nil
	}
	infos := make([]Info, 0, len(run.nodes))
	for id, e := range run.nodes {
		infos = append(infos, Info{RunID: runID, NodeID: id, Sequence: e.seq, Timestamp: e.at, Size: int64(len(e.data))})
	}
	slices.SortFunc(infos, func(a, b Info) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return infos, nil
}

func (m *MemoryStore) Delete(runID, nodeID string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	if run := m.runs[runID]; run != nil {
		delete(run.nodes, nodeID)
		if len(run.nodes) == 0 {
			delete(m.runs, runID)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteRun(runID string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()

	delete(m.runs, runID)
	return nil
}

func (m *MemoryStore) ListRuns(limit int) ([]RunSummary, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	out := make([]RunSummary, 0, len(m.runs))
	for runID, run := range m.runs {
		sum := RunSummary{RunID: runID, Checkpoints: len(run.nodes)}
		newest := 0
		for id, e := range run.nodes {
			if e.seq > newest {
				newest, sum.LastNodeID, sum.UpdatedAt = e.seq, id, e.at
			}
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b RunSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RunID, b.RunID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close drops everything. Later calls fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed, m.runs = true, nil
	return nil
}

// Len counts checkpoints across all runs.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, run := range m.runs {
		n += len(run.nodes)
	}
	return n
}
