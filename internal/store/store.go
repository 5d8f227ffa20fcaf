// Package store provides crash-safe holdings persistence using JSON files.
//
// Every open basis position is stored in a single snapshot file,
// holdings.json, mapping symbol to exchange.Holding. Writes use atomic
// file replacement (write to .tmp, then rename) to prevent corruption from
// partial writes or crashes mid-save. The engine calls Save after every
// strategy tick and once more on Stop, and Load on startup to restore state
// before the strategy's first evaluate tick.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yoyowasa/crypto-neutral-bot/internal/exchange"
)

// Store persists a holdings snapshot to a JSON file in a designated
// directory. All operations are mutex-protected to prevent concurrent file
// corruption.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open creates a store backed by holdings.json under dir, creating dir if
// it doesn't already exist.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{path: filepath.Join(dir, "holdings.json")}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// Save atomically persists the given holdings snapshot.
func (s *Store) Save(snapshot map[exchange.Symbol]exchange.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal holdings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write holdings: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load restores the holdings snapshot from disk. Returns an empty, non-nil
// map (not an error) if no snapshot has ever been saved.
func (s *Store) Load() (map[exchange.Symbol]exchange.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[exchange.Symbol]exchange.Holding{}, nil
		}
		return nil, fmt.Errorf("read holdings: %w", err)
	}

	var snapshot map[exchange.Symbol]exchange.Holding
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal holdings: %w", err)
	}
	if snapshot == nil {
		snapshot = map[exchange.Symbol]exchange.Holding{}
	}
	return snapshot, nil
}
