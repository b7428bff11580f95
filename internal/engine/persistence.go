package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kiwoomapp/internal/types"
)

const (
	stateVersion    = 1
	defaultStateDir = "./state"

	watchlistFile = "watchlist.json"
	modesFile     = "modes.json"
	stateFile     = "engine_state.json"
	holdingsDir   = "holdings"
)

// fileEnvelope wraps every document FileStore writes
type fileEnvelope struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// FileStore keeps each document as a JSON file in one directory
type FileStore struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if dir == "" {
		dir = defaultStateDir
	}
	return &FileStore{dir: dir, logger: logger}
}

// load reads name into out. A missing file leaves out untouched and reports false.
func (s *FileStore) load(name string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("[PERSISTENCE] No existing file, starting fresh", "path", path)
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if env.Version != stateVersion {
		s.logger.Warn("[PERSISTENCE] Version mismatch, starting fresh",
			"path", path,
			"file_version", env.Version,
			"expected_version", stateVersion,
		)
		return false, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("failed to parse %s data: %w", name, err)
	}
	return true, nil
}

// save writes v to name atomically
func (s *FileStore) save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	data, err := json.MarshalIndent(fileEnvelope{
		Version: stateVersion,
		SavedAt: time.Now(),
		Data:    payload,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename %s: %w", name, err)
	}

	s.logger.Debug("[PERSISTENCE] Saved", "path", path)
	return nil
}

func (s *FileStore) LoadWatchlist(ctx context.Context) ([]types.WatchItem, error) {
	var items []types.WatchItem
	if _, err := s.load(watchlistFile, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *FileStore) SaveWatchlist(ctx context.Context, items []types.WatchItem) error {
	return s.save(watchlistFile, items)
}

func (s *FileStore) LoadAccountModes(ctx context.Context) (map[string]types.AccountMode, error) {
	modes := make(map[string]types.AccountMode)
	if _, err := s.load(modesFile, &modes); err != nil {
		return nil, err
	}
	return modes, nil
}

func (s *FileStore) SaveAccountModes(ctx context.Context, modes map[string]types.AccountMode) error {
	return s.save(modesFile, modes)
}

// SaveHoldings keeps the latest changed snapshot per account
func (s *FileStore) SaveHoldings(ctx context.Context, account string, holdings []types.Holding) error {
	return s.save(filepath.Join(holdingsDir, account+".json"), holdings)
}

func (s *FileStore) LoadState(ctx context.Context) (*StateRecord, error) {
	var rec StateRecord
	ok, err := s.load(stateFile, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

func (s *FileStore) SaveState(ctx context.Context, rec StateRecord) error {
	return s.save(stateFile, rec)
}

// Dir returns the store directory
func (s *FileStore) Dir() string {
	return s.dir
}
