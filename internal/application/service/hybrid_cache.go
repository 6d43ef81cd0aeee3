package service

import (
	"context"
	"errors"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
)

// HybridCache объединяет durable backend (DynamoDB/Redis) и файловый кеш.
// Durable backend предпочтительнее; при ошибке или промахе используется файловый.
// Ошибки backend-ов логируются и не пробрасываются вызывающему коду.
type HybridCache struct {
	durable port.MediaCacheStore
	local   port.MediaCacheStore
	metrics port.MediaMetrics
	logger  *logger.Logger
}

// NewHybridCache создает оркестратор. durable может быть nil.
func NewHybridCache(
	durable port.MediaCacheStore,
	local port.MediaCacheStore,
	metrics port.MediaMetrics,
	log *logger.Logger,
) *HybridCache {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	return &HybridCache{
		durable: durable,
		local:   local,
		metrics: metrics,
		logger:  log,
	}
}

func (c *HybridCache) SaveCache(ctx context.Context, key valueobject.CacheKey, payload *entity.MediaQueryResult) {
	if payload == nil {
		return
	}

	if c.durable != nil {
		err := c.durable.Save(ctx, key, payload)
		if err == nil {
			return
		}
		c.logger.Warn("Durable cache save failed, falling back to filesystem",
			"backend", c.durable.Name(),
			"key", key.String(),
			"error", err.Error(),
		)
	}

	if err := c.local.Save(ctx, key, payload); err != nil {
		c.logger.Warn("Filesystem cache save failed", "key", key.String(), "error", err.Error())
	}
}

func (c *HybridCache) LoadCache(ctx context.Context, key valueobject.CacheKey) *entity.MediaQueryResult {
	for _, store := range c.stores() {
		result, err := store.Load(ctx, key)
		if err != nil {
			c.logger.Warn("Cache load failed", "backend", store.Name(), "key", key.String(), "error", err.Error())
			continue
		}
		c.metrics.ObserveCache(store.Name(), result != nil)
		if result != nil {
			c.logger.Debug("Cache hit", "backend", store.Name(), "key", key.String())
			return result
		}
	}
	return nil
}

// LoadStaleCache игнорирует TTL; используется cooldown-веткой и при отказе квоты
func (c *HybridCache) LoadStaleCache(ctx context.Context, key valueobject.CacheKey) *entity.CacheRecord {
	for _, store := range c.stores() {
		record, err := store.LoadStale(ctx, key)
		if err != nil {
			c.logger.Warn("Stale cache load failed", "backend", store.Name(), "key", key.String(), "error", err.Error())
			continue
		}
		if record != nil {
			return record
		}
	}
	return nil
}

// ClearCache удаляет запись из всех backend-ов
func (c *HybridCache) ClearCache(ctx context.Context, key valueobject.CacheKey) bool {
	cleared := false
	for _, store := range c.stores() {
		ok, err := store.Clear(ctx, key)
		if err != nil {
			c.logger.Warn("Cache clear failed", "backend", store.Name(), "key", key.String(), "error", err.Error())
			continue
		}
		cleared = cleared || ok
	}
	return cleared
}

func (c *HybridCache) Stats(ctx context.Context) []port.CacheStats {
	stats := make([]port.CacheStats, 0, 2)
	for _, store := range c.stores() {
		s, err := store.Stats(ctx)
		if err != nil {
			c.logger.Warn("Cache stats failed", "backend", store.Name(), "error", err.Error())
			continue
		}
		s.Backend = store.Name()
		stats = append(stats, s)
	}
	return stats
}

// PurgeExpired физически удаляет просроченные записи во всех backend-ах
func (c *HybridCache) PurgeExpired(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, store := range c.stores() {
		removed, err := store.PurgeExpired(ctx)
		total += removed
		if err != nil {
			errs = append(errs, err)
			c.logger.Warn("Cache purge failed", "backend", store.Name(), "error", err.Error())
			continue
		}
		c.logger.Info("Cache purged", "backend", store.Name(), "removed", removed)
	}
	return total, errors.Join(errs...)
}

func (c *HybridCache) stores() []port.MediaCacheStore {
	if c.durable == nil {
		return []port.MediaCacheStore{c.local}
	}
	return []port.MediaCacheStore{c.durable, c.local}
}
