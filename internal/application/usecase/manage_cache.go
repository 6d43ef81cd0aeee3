package usecase

import (
	"context"
	"fmt"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
)

// CacheAdmin административные операции над кешем (service.HybridCache)
type CacheAdmin interface {
	ClearCache(ctx context.Context, key valueobject.CacheKey) bool
	Stats(ctx context.Context) []port.CacheStats
	PurgeExpired(ctx context.Context) (int, error)
}

type ManageCacheUseCase struct {
	cache  CacheAdmin
	logger *logger.Logger
}

func NewManageCacheUseCase(cache CacheAdmin, log *logger.Logger) *ManageCacheUseCase {
	return &ManageCacheUseCase{cache: cache, logger: log}
}

// Clear удаляет запись из обоих бэкендов. Ключ валидируется так же, как в FetchMedia.
func (uc *ManageCacheUseCase) Clear(ctx context.Context, cmd FetchMediaCommand) (bool, error) {
	key, err := parseFetchCommand(cmd)
	if err != nil {
		return false, err
	}

	cleared := uc.cache.ClearCache(ctx, key)
	uc.logger.Info("Cache entry cleared", "key", key.String(), "cleared", cleared)
	return cleared, nil
}

func (uc *ManageCacheUseCase) Stats(ctx context.Context) []port.CacheStats {
	return uc.cache.Stats(ctx)
}

// Purge физически удаляет просроченные записи. Вызывается по cron и через API.
func (uc *ManageCacheUseCase) Purge(ctx context.Context) (int, error) {
	removed, err := uc.cache.PurgeExpired(ctx)
	if err != nil {
		uc.logger.Error("Cache purge finished with errors", err, "removed", removed)
		return removed, fmt.Errorf("failed to purge cache: %w", err)
	}

	uc.logger.Info("Cache purge completed", "removed", removed)
	return removed, nil
}
