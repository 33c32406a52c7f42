package cache

import (
	"encoding/gob"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const indexFile = "index.gob"

// Entry is one cached value together with the content hash it was computed from
type Entry[V any] struct {
	Key      string
	Hash     string
	Value    V
	CachedAt time.Time
}

// Store is a persistent key/value cache validated by content hash. A lookup
// only hits when the stored hash matches the caller's current hash.
type Store[V any] struct {
	fs       afero.Fs
	cacheDir string
	entries  map[string]*Entry[V]
	dirty    bool
	hits     int
	misses   int
	mu       sync.RWMutex
}

// Stats contains cache statistics
type Stats struct {
	TotalEntries int
	Hits         int
	Misses       int
}

// HitRate returns hits / lookups, or 0 when nothing was looked up
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Open creates a store rooted at cacheDir and loads any existing index. A
// corrupt index is discarded.
func Open[V any](fs afero.Fs, cacheDir string) (*Store[V], error) {
	if err := fs.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store[V]{
		fs:       fs,
		cacheDir: cacheDir,
		entries:  make(map[string]*Entry[V]),
	}
	if err := s.load(); err != nil {
		s.entries = make(map[string]*Entry[V])
	}
	return s, nil
}

// Get returns the cached value for key if it was stored with hash
func (s *Store[V]) Get(key, hash string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.Hash != hash {
		s.misses++
		var zero V
		return zero, false
	}
	s.hits++
	return entry.Value, true
}

// Put stores value under key. Nothing is written until Save.
func (s *Store[V]) Put(key, hash string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &Entry[V]{
		Key:      key,
		Hash:     hash,
		Value:    value,
		CachedAt: time.Now(),
	}
	s.dirty = true
}

// Invalidate removes a key from the cache
func (s *Store[V]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.dirty = true
	}
}

// Clear removes all entries and the on-disk index
func (s *Store[V]) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry[V])
	s.dirty = false
	if err := s.fs.RemoveAll(s.cacheDir); err != nil {
		return fmt.Errorf("failed to clear cache directory: %w", err)
	}
	if err := s.fs.MkdirAll(s.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to recreate cache directory: %w", err)
	}
	return nil
}

// Stats returns cache statistics
func (s *Store[V]) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{TotalEntries: len(s.entries), Hits: s.hits, Misses: s.misses}
}

func (s *Store[V]) load() error {
	file, err := s.fs.Open(filepath.Join(s.cacheDir, indexFile))
	if err != nil {
		exists, _ := afero.Exists(s.fs, filepath.Join(s.cacheDir, indexFile))
		if !exists {
			return nil
		}
		return fmt.Errorf("failed to open cache index: %w", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&s.entries); err != nil {
		return fmt.Errorf("failed to decode cache: %w", err)
	}
	return nil
}

// Save writes the index to disk if anything changed since the last save
func (s *Store[V]) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	indexPath := filepath.Join(s.cacheDir, indexFile)
	tmpPath := indexPath + ".tmp"
	file, err := s.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}

	if err := gob.NewEncoder(file).Encode(s.entries); err != nil {
		file.Close()
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to encode cache: %w", err)
	}
	file.Close()

	if err := s.fs.Rename(tmpPath, indexPath); err != nil {
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to save cache: %w", err)
	}
	s.dirty = false
	return nil
}
