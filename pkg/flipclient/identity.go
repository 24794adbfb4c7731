package flipclient

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Store is the opaque key-value persistence the client keeps identity in.
// Implementations absorb their own failures: a broken store behaves like an
// empty one, never like an error.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
}

// Storage keys. One player record per game code, one shared profile, one
// session token.
const (
	profileKey = "flip7_profile"
	sessionKey = "flip7_session"
)

func playerKey(code string) string {
	return "flip7_player_" + code
}

// StoredPlayer identifies "which player am I" in one game.
type StoredPlayer struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

// StoredProfile pre-fills future joins.
type StoredProfile struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
	Color  *string `json:"color"`
}

// loadJSON reads and decodes one record; absent or malformed both come back
// as a miss.
func loadJSON[T any](store Store, key string) (T, bool) {
	var value T
	raw, ok := store.Get(key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false
	}
	return value, true
}

func saveJSON(store Store, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	store.Set(key, raw)
}

// MemoryStore is an in-process Store, used in tests and as the fallback when
// no durable location is available.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *MemoryStore) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// FileStore persists records as one JSON file. Read and write failures are
// swallowed: a client on a read-only disk still plays, it just forgets.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]json.RawMessage
}

// NewFileStore loads the file at path, tolerating a missing or corrupt file.
func NewFileStore(path string) *FileStore {
	s := &FileStore{path: path, values: make(map[string]json.RawMessage)}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return s
	}
	s.values = values
	return s
}

func (f *FileStore) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	return value, ok
}

func (f *FileStore) Set(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	f.flushLocked()
}

func (f *FileStore) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	f.flushLocked()
}

func (f *FileStore) flushLocked() {
	raw, err := json.Marshal(f.values)
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(f.path), 0o755)
	_ = os.WriteFile(f.path, raw, 0o600)
}
