package kv

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mofoxlab/corebot/pkg/logger"
)

// FileStore is a Store backed by one JSON file per key under a workspace
// directory: os.WriteFile to a ".tmp" sibling then os.Rename, so a
// crash mid-write never leaves a corrupt key.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore creates (if needed) dir and returns a FileStore rooted
// there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kv: create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// keyFile maps a logical key to an on-disk path, replacing path
// separators and colons so namespaced keys like "ban:qq:123" stay within
// the store directory as a single flat file.
func (s *FileStore) keyFile(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "__").Replace(key)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) Get(key string, out interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.keyFile(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("kv: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("kv: unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *FileStore) Set(key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("kv: marshal %s: %w", key, err)
	}

	path := s.keyFile(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("kv: write temp for %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("kv: rename temp for %s: %w", key, err)
	}
	logger.DebugCF("kv", "set key", map[string]interface{}{"key": key})
	return nil
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.keyFile(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kv: delete %s: %w", key, err)
	}
	return nil
}

// Keys returns the sanitized on-disk key names (colons restored, since
// "__" only ever comes from a colon in practice). It is meant for
// enumeration, not for round-tripping keys that contain literal
// underscores ambiguously.
func (s *FileStore) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("kv: list keys: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw := strings.TrimSuffix(name, ".json")
		keys = append(keys, strings.ReplaceAll(raw, "__", ":"))
	}
	return keys, nil
}

var _ Store = (*FileStore)(nil)
