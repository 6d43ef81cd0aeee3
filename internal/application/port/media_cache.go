package port

import (
	"context"
	"time"

	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// CacheStats summarizes records held by one cache backend.
type CacheStats struct {
	Backend string  `json:"backend"`
	Total   int     `json:"total"`
	Valid   int     `json:"valid"`
	Expired int     `json:"expired"`
	SizeKB  float64 `json:"size_kb"`
}

// MediaCacheStore is a persistent cache of media query results with a fixed TTL.
type MediaCacheStore interface {
	// Save stores payload under key, replacing any previous record.
	Save(ctx context.Context, key valueobject.CacheKey, payload *entity.MediaQueryResult) error

	// Load returns nil, nil on a miss or when the record is older than the TTL.
	// Expired records are never deleted by Load.
	Load(ctx context.Context, key valueobject.CacheKey) (*entity.MediaQueryResult, error)

	// LoadStale returns the record regardless of age, or nil, nil when absent.
	LoadStale(ctx context.Context, key valueobject.CacheKey) (*entity.CacheRecord, error)

	// Clear removes the record and reports whether it existed.
	Clear(ctx context.Context, key valueobject.CacheKey) (bool, error)

	// Stats counts total, valid and expired records.
	Stats(ctx context.Context) (CacheStats, error)

	// PurgeExpired physically removes expired records and returns how many were removed.
	PurgeExpired(ctx context.Context) (int, error)

	// Name identifies the backend in logs and stats.
	Name() string

	// TTL is the backend's own expiry window.
	TTL() time.Duration
}

// RecentCache is the short-lived process-local cache.
type RecentCache interface {
	Get(key valueobject.CacheKey) (*entity.MediaQueryResult, bool)
	Set(key valueobject.CacheKey, value *entity.MediaQueryResult)
}
