// Package flags provides the injected feature-flag capability used to gate
// profiling at runtime.
package flags

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store is the feature-flag capability consumed by the profiler and the
// dashboard toggle. Implementations must be safe for concurrent use.
type Store interface {
	// Enabled reports the current state of a flag. Unknown flags report
	// their registered default.
	Enabled(name string) bool

	// Set updates a flag. The new state is visible to subsequent Enabled
	// calls immediately.
	Set(name string, enabled bool) error
}

// MemoryStore is an in-memory Store. Flags default to the values passed at
// construction.
type MemoryStore struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewMemoryStore creates a memory store seeded with the given defaults.
func NewMemoryStore(defaults map[string]bool) *MemoryStore {
	flags := make(map[string]bool, len(defaults))
	for name, v := range defaults {
		flags[name] = v
	}
	return &MemoryStore{flags: flags}
}

// Enabled reports the flag state; unregistered flags are false.
func (s *MemoryStore) Enabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

// Set updates the flag state.
func (s *MemoryStore) Set(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = enabled
	return nil
}

// FileStore is a Store backed by a YAML file. State is cached in memory and
// every Set rewrites the file, so toggles survive restarts.
type FileStore struct {
	mu       sync.RWMutex
	flags    map[string]bool
	defaults map[string]bool
	path     string
}

// NewFileStore creates a file store at path, seeded with defaults for flags
// the file does not mention. A missing file is not an error.
func NewFileStore(path string, defaults map[string]bool) (*FileStore, error) {
	s := &FileStore{
		flags:    make(map[string]bool),
		defaults: make(map[string]bool, len(defaults)),
		path:     path,
	}
	for name, v := range defaults {
		s.defaults[name] = v
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s.flags); err != nil {
			return nil, fmt.Errorf("failed to parse flags file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply until the first Set.
	default:
		return nil, fmt.Errorf("failed to read flags file %s: %w", path, err)
	}

	return s, nil
}

// Enabled reports the flag state, falling back to the registered default.
func (s *FileStore) Enabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.flags[name]; ok {
		return v
	}
	return s.defaults[name]
}

// Set updates the flag state and persists the full flag set.
func (s *FileStore) Set(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.flags[name]
	s.flags[name] = enabled

	if err := s.save(); err != nil {
		if hadPrev {
			s.flags[name] = prev
		} else {
			delete(s.flags, name)
		}
		return err
	}
	return nil
}

// save persists the flag map. Callers must hold s.mu.
func (s *FileStore) save() error {
	data, err := yaml.Marshal(s.flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create flags directory: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write flags file: %w", err)
	}
	return nil
}
