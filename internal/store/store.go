// Package store persists controller attributes across restarts.
// The file is small YAML written atomically; an empty path keeps everything in memory.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// file is the on-disk layout.
type file struct {
	Controllers map[string]map[string]string `yaml:"controllers"`
}

// Store holds attributes per controller name.
type Store struct {
	path string

	mu    sync.Mutex
	attrs map[string]map[string]string
	dirty bool
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, attrs: make(map[string]map[string]string)}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	for name, attrs := range f.Controllers {
		if attrs != nil {
			s.attrs[name] = attrs
		}
	}
	return s, nil
}

// Path returns the backing file path ("" for in-memory).
func (s *Store) Path() string {
	return s.path
}

// Get returns a single attribute of a controller.
func (s *Store) Get(controller, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[controller][key]
	return v, ok
}

// Set replaces the attributes of a controller. It reports whether anything changed.
func (s *Store) Set(controller string, attrs map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if equal(s.attrs[controller], attrs) {
		return false
	}
	if len(attrs) == 0 {
		delete(s.attrs, controller)
	} else {
		cp := make(map[string]string, len(attrs))
		for k, v := range attrs {
			cp[k] = v
		}
		s.attrs[controller] = cp
	}
	s.dirty = true
	return true
}

// All returns a copy of every controller's attributes.
func (s *Store) All() map[string]map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]string, len(s.attrs))
	for name, attrs := range s.attrs {
		cp := make(map[string]string, len(attrs))
		for k, v := range attrs {
			cp[k] = v
		}
		out[name] = cp
	}
	return out
}

// Dirty reports whether changes are waiting to be saved.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Save writes pending changes: temp file in the same directory, then rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" || !s.dirty {
		return nil
	}

	data, err := yaml.Marshal(file{Controllers: s.attrs})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename state: %w", err)
	}
	s.dirty = false
	return nil
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
