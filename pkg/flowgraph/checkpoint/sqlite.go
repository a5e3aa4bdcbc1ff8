package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// stampLayout is fixed width so stored timestamps order as text.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id    TEXT    NOT NULL,
	node_id   TEXT    NOT NULL,
	sequence  INTEGER NOT NULL,
	timestamp TEXT    NOT NULL,
	data      BLOB    NOT NULL,
	PRIMARY KEY (run_id, node_id)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);`

// SQLiteStore keeps checkpoints in a SQLite file so `askdata resume` and
// `askdata runs` work across restarts. One process per file.
type SQLiteStore struct {
	db     *sqlx.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates the database at path. ":memory:" gives
// a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	if path == ":memory:" {
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

type infoRow struct {
	RunID    string `db:"run_id"`
	NodeID   string `db:"node_id"`
	Sequence int    `db:"sequence"`
	Stamp    string `db:"timestamp"`
	Size     int64  `db:"size"`
	Count    int    `db:"count"`
}

func (r infoRow) time() time.Time {
	t, _ := time.Parse(stampLayout, r.Stamp)
	return t
}

// read and write run fn under the store lock, failing once closed.
func (s *SQLiteStore) read(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return fn()
}

func (s *SQLiteStore) write(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return fn()
}

func (s *SQLiteStore) Save(runID, nodeID string, data []byte) error {
	return s.write(func() error {
		_, err := s.db.Exec(`
			INSERT INTO checkpoints (run_id, node_id, sequence, timestamp, data)
			SELECT ?, ?, COALESCE(MAX(sequence), 0) + 1, ?, ?
			FROM checkpoints WHERE run_id = ?
			ON CONFLICT(run_id, node_id) DO UPDATE SET
				sequence  = excluded.sequence,
				timestamp = excluded.timestamp,
				data      = excluded.data`,
			runID, nodeID, time.Now().UTC().Format(stampLayout), data, runID)
		if err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Load(runID, nodeID string) ([]byte, error) {
	var data []byte
	err := s.read(func() error {
		err := s.db.Get(&data, `SELECT data FROM checkpoints WHERE run_id = ? AND node_id = ?`, runID, nodeID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrNotFound
		case err != nil:
			return fmt.Errorf("load checkpoint: %w", err)
		}
		return nil
	})
	return data, err
}

func (s *SQLiteStore) List(runID string) ([]Info, error) {
	var rows []infoRow
	err := s.read(func() error {
		return s.db.Select(&rows, `
			SELECT run_id, node_id, sequence, timestamp, LENGTH(data) AS size, 0 AS count
			FROM checkpoints WHERE run_id = ? ORDER BY sequence`, runID)
	})
	if err != nil {
		return nil, wrapClosed(err, "list checkpoints")
	}

	infos := make([]Info, len(rows))
	for i, r := range rows {
		infos[i] = Info{RunID: r.RunID, NodeID: r.NodeID, Sequence: r.Sequence, Timestamp: r.time(), Size: r.Size}
	}
	return infos, nil
}

func (s *SQLiteStore) Delete(runID, nodeID string) error {
	return s.write(func() error {
		if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE run_id = ? AND node_id = ?`, runID, nodeID); err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteRun(runID string) error {
	return s.write(func() error {
		if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows []infoRow
	err := s.read(func() error {
		return s.db.Select(&rows, `
			SELECT c.run_id, c.node_id, c.sequence, c.timestamp, LENGTH(c.data) AS size, r.count
			FROM checkpoints c
			JOIN (SELECT run_id, MAX(sequence) AS last, COUNT(*) AS count
			      FROM checkpoints GROUP BY run_id) r
			  ON r.run_id = c.run_id AND r.last = c.sequence
			ORDER BY c.timestamp DESC, c.run_id
			LIMIT ?`, limit)
	})
	if err != nil {
		return nil, wrapClosed(err, "list runs")
	}

	runs := make([]RunSummary, len(rows))
	for i, r := range rows {
		runs[i] = RunSummary{RunID: r.RunID, Checkpoints: r.Count, LastNodeID: r.NodeID, UpdatedAt: r.time()}
	}
	return runs, nil
}

// Close is idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func wrapClosed(err error, op string) error {
	if errors.Is(err, ErrStoreClosed) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
