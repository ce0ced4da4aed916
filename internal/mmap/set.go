package mmap

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// Set maps the files under a directory on first use and keeps them mapped
// until Close. It is safe for concurrent use.
type Set struct {
	dir     string
	pattern AccessPattern

	mu     sync.Mutex
	maps   map[string]*Mapping
	closed bool
}

// NewSet returns a Set rooted at dir. Every mapping it opens is advised with
// pattern.
func NewSet(dir string, pattern AccessPattern) *Set {
	return &Set{dir: dir, pattern: pattern, maps: make(map[string]*Mapping)}
}

// Get returns the mapping of the slash-separated relative name, opening it
// on first use.
func (s *Set) Get(name string) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if m, ok := s.maps[name]; ok {
		return m, nil
	}
	m, err := Open(filepath.Join(s.dir, filepath.FromSlash(name)))
	if err != nil {
		return nil, fmt.Errorf("mmap: %s: %w", name, err)
	}
	_ = m.Advise(s.pattern)
	s.maps[name] = m
	return m, nil
}

// Len returns the number of open mappings.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.maps)
}

// Close unmaps every file. Slices handed out earlier become invalid.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, m := range s.maps {
		errs = append(errs, m.Close())
	}
	s.maps = nil
	return errors.Join(errs...)
}
