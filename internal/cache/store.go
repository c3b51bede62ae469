// Package cache provides the shared two-tier response cache.
// This package is internal and should not be imported by external projects.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is one cached value with its expiry bookkeeping.
type Entry struct {
	Data       any       `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TTLSeconds int       `json:"ttl"`
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Config holds Store tuning knobs.
type Config struct {
	// Dir is the persisted tier: one JSON file per cache key.
	Dir string `yaml:"dir" json:"dir"`

	// DefaultTTL applies when Set is called with a zero TTL.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// MaxSize bounds the entry count; cleanup is triggered once the count
	// exceeds MaxSize*1.1 and evicts back down to MaxSize.
	MaxSize int `yaml:"max_size" json:"max_size"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Dir:        "cache",
		DefaultTTL: 24 * time.Hour,
		MaxSize:    1000,
	}
}

// Store is a content-addressed key-value cache with TTL expiration. The
// first tier is an in-memory map; the second is one JSON file per key under
// Config.Dir. Disk faults degrade to cache misses and never propagate.
//
// Store is safe for concurrent use and is shared across all agents.
type Store struct {
	mu     sync.Mutex
	cfg    Config
	memory map[string]*Entry
	logger *zap.Logger

	// now is swappable so tests can advance the clock without sleeping.
	now func() time.Time
}

// NewStore creates a Store and loads the unexpired part of the persisted
// tier into memory. Expired or corrupt files found during the load are
// deleted.
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}

	s := &Store{
		cfg:    cfg,
		memory: make(map[string]*Entry),
		logger: logger.With(zap.String("component", "cache")),
		now:    time.Now,
	}
	s.loadFromDisk()
	return s
}

func (s *Store) loadFromDisk() {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		s.logger.Error("cache dir unavailable, running memory-only", zap.Error(err))
		return
	}

	matches, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*.json"))
	if err != nil {
		s.logger.Error("cache scan failed", zap.Error(err))
		return
	}

	now := s.now()
	loaded := 0
	for _, path := range matches {
		entry, err := readEntryFile(path)
		if err != nil {
			s.logger.Warn("dropping corrupt cache file", zap.String("path", path), zap.Error(err))
			os.Remove(path)
			continue
		}
		if entry.expired(now) {
			os.Remove(path)
			continue
		}
		s.memory[strings.TrimSuffix(filepath.Base(path), ".json")] = entry
		loaded++
	}
	s.logger.Info("cache loaded", zap.Int("entries", loaded))
}

// Get returns the cached value for key, or ok=false when the key is absent
// or expired. An expired entry found on either tier is deleted from both as
// a side effect.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.memory[key]; ok {
		if !entry.expired(now) {
			return entry.Data, true
		}
		delete(s.memory, key)
		s.removeFile(key)
	}

	// Memory may have been cleared since the entry was persisted.
	entry, err := readEntryFile(s.filePath(key))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("dropping corrupt cache file", zap.String("key", key), zap.Error(err))
			s.removeFile(key)
		}
		return nil, false
	}
	if entry.expired(now) {
		s.removeFile(key)
		return nil, false
	}

	// Promote the disk hit for future lookups.
	s.memory[key] = entry
	return entry.Data, true
}

// Set writes value under key on both tiers. A zero ttl uses the configured
// default. Persistence failures are logged and swallowed: a cache write
// must never abort the caller's operation.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if value == nil {
		return
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := &Entry{
		Data:       value,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		TTLSeconds: int(ttl / time.Second),
	}
	s.memory[key] = entry

	if err := s.writeFile(key, entry); err != nil {
		s.logger.Warn("cache persist failed", zap.String("key", key), zap.Error(err))
	}

	if float64(len(s.memory)) > float64(s.cfg.MaxSize)*1.1 {
		s.cleanupLocked()
	}
}

// Cleanup evicts entries until the count is back to MaxSize, dropping the
// soonest-to-expire entries first.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupLocked()
}

func (s *Store) cleanupLocked() {
	excess := len(s.memory) - s.cfg.MaxSize
	if excess <= 0 {
		return
	}

	type keyed struct {
		key       string
		expiresAt time.Time
	}
	entries := make([]keyed, 0, len(s.memory))
	for k, e := range s.memory {
		entries = append(entries, keyed{k, e.ExpiresAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expiresAt.Before(entries[j].expiresAt)
	})

	for _, e := range entries[:excess] {
		delete(s.memory, e.key)
		s.removeFile(e.key)
	}
	s.logger.Debug("cache cleanup evicted entries", zap.Int("evicted", excess))
}

// Clear removes all entries, or only the already-expired ones when
// expiredOnly is set.
func (s *Store) Clear(expiredOnly bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.memory {
		if expiredOnly && !entry.expired(now) {
			continue
		}
		delete(s.memory, key)
		s.removeFile(key)
		removed++
	}
	s.logger.Info("cache cleared", zap.Int("removed", removed), zap.Bool("expired_only", expiredOnly))
	return removed
}

// Len reports the in-memory entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memory)
}

func (s *Store) filePath(key string) string {
	return filepath.Join(s.cfg.Dir, key+".json")
}

func (s *Store) writeFile(key string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return os.WriteFile(s.filePath(key), data, 0o644)
}

func (s *Store) removeFile(key string) {
	if err := os.Remove(s.filePath(key)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("cache file remove failed", zap.String("key", key), zap.Error(err))
	}
}

func readEntryFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse cache entry: %w", err)
	}
	if entry.ExpiresAt.IsZero() {
		return nil, fmt.Errorf("cache entry missing expiry")
	}
	return &entry, nil
}
