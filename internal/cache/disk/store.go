// Package disk keeps LLM answers on disk so identical requests survive restarts.
package disk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const indexFile = "index.json"

type Config struct {
	Dir        string
	MaxEntries int
	// MaxBytes caps the summed size of stored values; 0 means no cap.
	MaxBytes int64
	TTL      time.Duration
}

type record struct {
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	ExpiresAt  time.Time `json:"expires_at"`
	AccessedAt time.Time `json:"accessed_at"`
}

// Store is a size and age bounded key/value store backed by one file per
// value plus a JSON index. Least recently read entries are evicted first.
type Store struct {
	mu   sync.Mutex
	cfg  Config
	now  func() time.Time
	used int64
	recs map[string]record
}

func Open(cfg Config) (*Store, error) {
	cfg.Dir = strings.TrimSpace(cfg.Dir)
	if cfg.Dir == "" {
		return nil, fmt.Errorf("disk cache: dir is required")
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	s := &Store{cfg: cfg, now: time.Now, recs: map[string]record{}}
	if err := os.MkdirAll(s.valuesDir(), 0o755); err != nil {
		return nil, fmt.Errorf("disk cache: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("disk cache: load index: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return s, s.saveLocked()
}

func (s *Store) valuesDir() string { return filepath.Join(s.cfg.Dir, "values") }

// Get returns the value for key. Expired or missing files count as misses.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	if !ok {
		return nil, false, nil
	}
	now := s.now()
	if now.After(rec.ExpiresAt) {
		s.dropLocked(key, rec)
		return nil, false, s.saveLocked()
	}
	raw, err := os.ReadFile(filepath.Join(s.valuesDir(), rec.File))
	if errors.Is(err, os.ErrNotExist) {
		s.dropLocked(key, rec)
		return nil, false, s.saveLocked()
	}
	if err != nil {
		return nil, false, err
	}
	rec.AccessedAt = now
	s.recs[key] = rec
	return raw, true, s.saveLocked()
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fileName(key)
	if err := os.WriteFile(filepath.Join(s.valuesDir(), name), value, 0o644); err != nil {
		return err
	}
	if old, ok := s.recs[key]; ok {
		s.used -= old.Size
	}
	now := s.now()
	s.recs[key] = record{File: name, Size: int64(len(value)), ExpiresAt: now.Add(s.cfg.TTL), AccessedAt: now}
	s.used += int64(len(value))
	s.pruneLocked()
	return s.saveLocked()
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func (s *Store) pruneLocked() {
	now := s.now()
	for k, rec := range s.recs {
		if now.After(rec.ExpiresAt) {
			s.dropLocked(k, rec)
		}
	}
	over := func() bool {
		return len(s.recs) > s.cfg.MaxEntries || (s.cfg.MaxBytes > 0 && s.used > s.cfg.MaxBytes)
	}
	if !over() {
		return
	}
	keys := make([]string, 0, len(s.recs))
	for k := range s.recs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.recs[keys[i]].AccessedAt, s.recs[keys[j]].AccessedAt
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
	for _, k := range keys {
		if !over() {
			break
		}
		s.dropLocked(k, s.recs[k])
	}
}

func (s *Store) dropLocked(key string, rec record) {
	delete(s.recs, key)
	s.used = max(s.used-rec.Size, 0)
	_ = os.Remove(filepath.Join(s.valuesDir(), rec.File))
}

func (s *Store) load() error {
	raw, err := os.ReadFile(filepath.Join(s.cfg.Dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var recs map[string]record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return err
	}
	for k, rec := range recs {
		if _, err := os.Stat(filepath.Join(s.valuesDir(), rec.File)); err != nil {
			continue
		}
		s.recs[k] = rec
		s.used += rec.Size
	}
	return nil
}

// saveLocked rewrites the index through a temp file and rename.
func (s *Store) saveLocked() error {
	raw, err := json.Marshal(s.recs)
	if err != nil {
		return err
	}
	p := filepath.Join(s.cfg.Dir, indexFile)
	if err := os.WriteFile(p+".tmp", raw, 0o644); err != nil {
		return err
	}
	return os.Rename(p+".tmp", p)
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + ".json"
}
