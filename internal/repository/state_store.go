package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"PolyBot/pkg/cache"
)

// CacheStateStore persists checkpoints through the layered cache (memory in
// front of Redis). Keys never expire.
type CacheStateStore struct {
	svc    cache.Service
	prefix string
}

// NewCacheStateStore creates a state store over a cache service.
func NewCacheStateStore(svc cache.Service, prefix string) *CacheStateStore {
	if prefix == "" {
		prefix = "state"
	}
	return &CacheStateStore{svc: svc, prefix: prefix}
}

func (s *CacheStateStore) key(k string) string { return s.prefix + ":" + k }

func (s *CacheStateStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	// Checkpoints travel as strings: both cache layers pass raw string
	// values through unmodified.
	var v string
	err := s.svc.Get(ctx, s.key(key), &v)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("state load %s: %w", key, err)
	}
	return []byte(v), true, nil
}

func (s *CacheStateStore) Save(ctx context.Context, key string, b []byte) error {
	if err := s.svc.Set(ctx, s.key(key), string(b), 0); err != nil {
		return fmt.Errorf("state save %s: %w", key, err)
	}
	return nil
}

// FileStateStore is the zero-dependency fallback when Redis is disabled:
// one JSON blob per key under a state directory, written atomically.
type FileStateStore struct {
	dir string
}

// NewFileStateStore creates the directory if needed.
func NewFileStateStore(dir string) (*FileStateStore, error) {
	if dir == "" {
		dir = "state"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

func (s *FileStateStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStateStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("state load %s: %w", key, err)
	}
	return b, true, nil
}

func (s *FileStateStore) Save(_ context.Context, key string, b []byte) error {
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("state write %s: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("state rename %s: %w", key, err)
	}
	return nil
}
