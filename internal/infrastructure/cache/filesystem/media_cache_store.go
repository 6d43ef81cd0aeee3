package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// DefaultTTL for records written by the filesystem backend.
const DefaultTTL = 7 * 24 * time.Hour

const fileExt = ".json"

var unsafeFileChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// MediaCacheStore keeps one JSON file per cache key under a directory.
type MediaCacheStore struct {
	dir string
	ttl time.Duration
	now func() time.Time

	// serializes writers; readers rely on atomic rename
	mu sync.Mutex
}

// NewMediaCacheStore creates the directory if needed.
func NewMediaCacheStore(dir string, ttl time.Duration) (*MediaCacheStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache dir is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	return &MediaCacheStore{
		dir: dir,
		ttl: ttl,
		now: time.Now,
	}, nil
}

func (s *MediaCacheStore) Name() string { return "filesystem" }

func (s *MediaCacheStore) TTL() time.Duration { return s.ttl }

func (s *MediaCacheStore) Save(_ context.Context, key valueobject.CacheKey, payload *entity.MediaQueryResult) error {
	if payload == nil {
		return errors.New("payload is nil")
	}

	record := entity.CacheRecord{
		Key:     key.String(),
		Payload: *payload,
		SavedAt: s.now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal cache record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move cache file: %w", err)
	}

	return nil
}

func (s *MediaCacheStore) Load(ctx context.Context, key valueobject.CacheKey) (*entity.MediaQueryResult, error) {
	record, err := s.LoadStale(ctx, key)
	if err != nil || record == nil {
		return nil, err
	}
	if record.IsExpired(s.now(), s.ttl) {
		return nil, nil
	}
	return &record.Payload, nil
}

func (s *MediaCacheStore) LoadStale(_ context.Context, key valueobject.CacheKey) (*entity.CacheRecord, error) {
	record, err := readRecord(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *MediaCacheStore) Clear(_ context.Context, key valueobject.CacheKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove cache file: %w", err)
	}
	return true, nil
}

func (s *MediaCacheStore) Stats(_ context.Context) (port.CacheStats, error) {
	stats := port.CacheStats{Backend: s.Name()}
	var totalBytes int64

	err := s.walk(func(path string, info os.FileInfo, record *entity.CacheRecord) error {
		stats.Total++
		totalBytes += info.Size()
		if record == nil || record.IsExpired(s.now(), s.ttl) {
			stats.Expired++
		} else {
			stats.Valid++
		}
		return nil
	})
	if err != nil {
		return port.CacheStats{}, err
	}

	stats.SizeKB = float64(totalBytes) / 1024
	return stats, nil
}

func (s *MediaCacheStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	err := s.walk(func(path string, _ os.FileInfo, record *entity.CacheRecord) error {
		if record != nil && !record.IsExpired(s.now(), s.ttl) {
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
		removed++
		return nil
	})
	return removed, err
}

// walk visits every cache file; record is nil when the file cannot be decoded.
func (s *MediaCacheStore) walk(fn func(path string, info os.FileInfo, record *entity.CacheRecord) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		record, _ := readRecord(path)
		if err := fn(path, info, record); err != nil {
			return err
		}
	}
	return nil
}

func (s *MediaCacheStore) path(key valueobject.CacheKey) string {
	name := unsafeFileChars.ReplaceAllString(key.String(), "_")
	return filepath.Join(s.dir, name+fileExt)
}

func readRecord(path string) (*entity.CacheRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record entity.CacheRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt cache file %s: %w", filepath.Base(path), err)
	}
	return &record, nil
}
