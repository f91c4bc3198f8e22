package queue

import (
	"database/sql"
	"errors"
	"sync"

	"github.com/kimhsiao/taskdeck/backend/internal/db"
	apperrors "github.com/kimhsiao/taskdeck/backend/internal/errors"
)

// StateKey is the fixed key the serialized operation list is stored under.
const StateKey = "write_queue"

// Store persists the serialized operation list. The queue always writes the
// full list, never a patch, so a reader observes either the previous or the
// next state and nothing in between.
type Store interface {
	// Load returns the serialized list, or nil when nothing is stored.
	Load() ([]byte, error)

	// Save overwrites the serialized list.
	Save(data []byte) error
}

// SQLiteStore keeps the serialized queue in a single row of a key/value
// table, giving the pending writes durability across process restarts.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore creates the backing table if needed and returns the store.
func NewSQLiteStore(database *db.DB) (*SQLiteStore, error) {
	const schema = `
CREATE TABLE IF NOT EXISTS queue_state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);`

	if _, err := database.Exec(schema); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to create queue_state table", err)
	}

	return &SQLiteStore{db: database}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load() ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM queue_state WHERE key = ?", StateKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrQueueStorage, "failed to load queue state", err)
	}
	return value, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(data []byte) error {
	_, err := s.db.Exec(`
INSERT INTO queue_state (key, value, updated_at) VALUES (?, ?, unixepoch())
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		StateKey, data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueueStorage, "failed to save queue state", err)
	}
	return nil
}

// MemoryStore is an in-memory Store used by tests and ephemeral setups.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil, nil
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// Save implements Store.
func (s *MemoryStore) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make([]byte, len(data))
	copy(s.data, data)
	return nil
}
