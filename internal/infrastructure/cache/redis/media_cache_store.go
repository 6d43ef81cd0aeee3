package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

const keyPrefix = "media:cache:"

// Config holds redis connection settings for the media cache.
type Config struct {
	Addr         string
	Password     string
	DB           int
	TTL          time.Duration
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MediaCacheStore implements port.MediaCacheStore on top of Redis.
// Keys live for twice the TTL so stale reads stay possible after expiry.
type MediaCacheStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewMediaCacheStore connects and pings Redis.
func NewMediaCacheStore(cfg Config) (*MediaCacheStore, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &MediaCacheStore{
		client: client,
		ttl:    cfg.TTL,
		now:    time.Now,
	}, nil
}

func (s *MediaCacheStore) Name() string { return "redis" }

func (s *MediaCacheStore) TTL() time.Duration { return s.ttl }

func (s *MediaCacheStore) Save(ctx context.Context, key valueobject.CacheKey, payload *entity.MediaQueryResult) error {
	if payload == nil {
		return errors.New("payload is nil")
	}

	data, err := json.Marshal(entity.CacheRecord{
		Key:     key.String(),
		Payload: *payload,
		SavedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+key.String(), data, 2*s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
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

func (s *MediaCacheStore) LoadStale(ctx context.Context, key valueobject.CacheKey) (*entity.CacheRecord, error) {
	return s.get(ctx, keyPrefix+key.String())
}

func (s *MediaCacheStore) Clear(ctx context.Context, key valueobject.CacheKey) (bool, error) {
	deleted, err := s.client.Del(ctx, keyPrefix+key.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete from cache: %w", err)
	}
	return deleted > 0, nil
}

func (s *MediaCacheStore) Stats(ctx context.Context) (port.CacheStats, error) {
	stats := port.CacheStats{Backend: s.Name()}
	var totalBytes int64

	err := s.scan(ctx, func(key string, raw []byte, record *entity.CacheRecord) error {
		stats.Total++
		totalBytes += int64(len(raw))
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

func (s *MediaCacheStore) PurgeExpired(ctx context.Context) (int, error) {
	pipe := s.client.Pipeline()
	queued := 0

	err := s.scan(ctx, func(key string, _ []byte, record *entity.CacheRecord) error {
		if record == nil || record.IsExpired(s.now(), s.ttl) {
			pipe.Del(ctx, key)
			queued++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if queued == 0 {
		return 0, nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}
	return queued, nil
}

// Close closes the Redis connection
func (s *MediaCacheStore) Close() error {
	return s.client.Close()
}

func (s *MediaCacheStore) get(ctx context.Context, key string) (*entity.CacheRecord, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var record entity.CacheRecord
	if err := json.Unmarshal(val, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return &record, nil
}

func (s *MediaCacheStore) scan(ctx context.Context, fn func(key string, raw []byte, record *entity.CacheRecord) error) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()

	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", key, err)
		}

		var record entity.CacheRecord
		decoded := &record
		if err := json.Unmarshal(raw, &record); err != nil {
			decoded = nil
		}
		if err := fn(key, raw, decoded); err != nil {
			return err
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}
	return nil
}
