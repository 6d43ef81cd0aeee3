package usecase

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dreschagin/media-relay/internal/application/dto"
	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
)

// ErrNothingToArchive возвращается при вызове без входных данных
var ErrNothingToArchive = errors.New("nothing to archive")

var extensionsByContentType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
	"video/mp4":  "mp4",
}

type ArchiveBatchResult struct {
	Saved   []entity.ArchivedAsset `json:"saved"`
	Failed  []string               `json:"failed"`
	Skipped []string               `json:"skipped"`
}

type ArchiveMediaConfig struct {
	KeyPrefix string
	// Delay пауза между последовательными скачиваниями
	Delay time.Duration
}

// ArchiveMediaUseCase скачивает медиа, кладет в object storage и пишет метаданные.
// Идемпотентен по (itemID, mediaKey): уже сохраненные файлы пропускаются.
type ArchiveMediaUseCase struct {
	downloader port.AssetDownloader
	storage    port.ObjectStorage
	repository port.ArchivedAssetRepository
	publisher  port.EventPublisher
	notifier   port.NotificationService
	metrics    port.MediaMetrics
	config     ArchiveMediaConfig
	logger     *logger.Logger
	now        func() time.Time
}

func NewArchiveMediaUseCase(
	downloader port.AssetDownloader,
	storage port.ObjectStorage,
	repository port.ArchivedAssetRepository,
	publisher port.EventPublisher,
	notifier port.NotificationService,
	metrics port.MediaMetrics,
	config ArchiveMediaConfig,
	log *logger.Logger,
) *ArchiveMediaUseCase {
	if metrics == nil {
		metrics = port.NopMetrics{}
	}
	if strings.Trim(config.KeyPrefix, "/") == "" {
		config.KeyPrefix = "twitter-media"
	}
	return &ArchiveMediaUseCase{
		downloader: downloader,
		storage:    storage,
		repository: repository,
		publisher:  publisher,
		notifier:   notifier,
		metrics:    metrics,
		config:     config,
		logger:     log,
		now:        time.Now,
	}
}

// Execute обрабатывает посты последовательно. Ошибки отдельных файлов попадают
// в Failed; ошибку возвращают только пустой вход и отмена контекста.
func (uc *ArchiveMediaUseCase) Execute(ctx context.Context, items []entity.MediaItem) (*ArchiveBatchResult, error) {
	if items == nil {
		return nil, ErrNothingToArchive
	}

	result := &ArchiveBatchResult{
		Saved:   []entity.ArchivedAsset{},
		Failed:  []string{},
		Skipped: []string{},
	}
	seen := make(map[string]struct{})
	downloads := 0
	subject := ""
	log := uc.logger

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if subject == "" {
			subject = valueobject.NormalizeSubject(item.SubjectUsername)
			log = uc.logger.With("subject", subject)
		}

		if !item.HasMedia() {
			result.Skipped = append(result.Skipped, item.ID)
			continue
		}

		for _, asset := range item.Media {
			id := entity.ArchivedAssetID(item.ID, asset.MediaKey)
			if _, dup := seen[id]; dup {
				result.Skipped = append(result.Skipped, id)
				continue
			}
			seen[id] = struct{}{}

			exists, err := uc.repository.Exists(ctx, id)
			if err != nil {
				log.Warn("Archive existence check failed", "id", id, "error", err.Error())
				result.Failed = append(result.Failed, id)
				continue
			}
			if exists {
				result.Skipped = append(result.Skipped, id)
				continue
			}

			if downloads > 0 {
				if err := sleepContext(ctx, uc.config.Delay); err != nil {
					return result, err
				}
			}
			downloads++

			archived, err := uc.archiveAsset(ctx, item, asset, id)
			switch {
			case errors.Is(err, port.ErrAlreadyArchived):
				result.Skipped = append(result.Skipped, id)
			case err != nil:
				log.Warn("Failed to archive asset", "id", id, "url", asset.URL, "error", err.Error())
				result.Failed = append(result.Failed, id)
			default:
				result.Saved = append(result.Saved, *archived)
			}
		}
	}

	log.Info("Archive batch completed",
		"saved", len(result.Saved),
		"failed", len(result.Failed),
		"skipped", len(result.Skipped),
	)
	uc.metrics.ObserveArchive(port.OutcomeSuccess, len(result.Saved))
	uc.metrics.ObserveArchive(port.OutcomeFailure, len(result.Failed))
	uc.metrics.ObserveArchive(port.OutcomeSkipped, len(result.Skipped))
	uc.publish(ctx, dto.NewArchivedEvent(subject, len(result.Saved), len(result.Failed), len(result.Skipped)))

	return result, nil
}

func (uc *ArchiveMediaUseCase) archiveAsset(
	ctx context.Context,
	item entity.MediaItem,
	asset entity.MediaAsset,
	id string,
) (*entity.ArchivedAsset, error) {
	if asset.URL == "" {
		return nil, fmt.Errorf("asset has no url")
	}

	downloaded, err := uc.downloader.Download(ctx, asset.URL)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}

	subject := valueobject.NormalizeSubject(item.SubjectUsername)
	key := uc.buildStorageKey(subject, id, extensionFor(asset.URL, downloaded.ContentType))

	if err := uc.storage.Upload(ctx, key, downloaded.ContentType, downloaded.Body); err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	storageURL, err := uc.storage.DownloadURL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("download url: %w", err)
	}

	archived := entity.ArchivedAsset{
		ID:              id,
		SubjectUsername: subject,
		SourceItemID:    item.ID,
		MediaKey:        asset.MediaKey,
		MediaType:       asset.Type,
		SourceURL:       asset.URL,
		StorageURL:      storageURL,
		StoragePath:     key,
		Text:            item.Text,
		CreatedAt:       item.CreatedAt,
		SavedAt:         uc.now().UTC(),
		FileSizeBytes:   int64(len(downloaded.Body)),
		MimeType:        downloaded.ContentType,
	}

	if err := uc.repository.Put(ctx, archived); err != nil {
		if errors.Is(err, port.ErrAlreadyArchived) {
			return nil, err
		}
		return nil, fmt.Errorf("put metadata: %w", err)
	}

	return &archived, nil
}

func (uc *ArchiveMediaUseCase) buildStorageKey(subject, id, ext string) string {
	prefix := strings.Trim(uc.config.KeyPrefix, "/")
	return fmt.Sprintf("%s/%s/%s.%s", prefix, subject, id, ext)
}

func (uc *ArchiveMediaUseCase) publish(ctx context.Context, event *dto.MediaEventDTO) {
	if uc.notifier != nil {
		uc.notifier.BroadcastEvent(event)
	}
	if uc.publisher == nil {
		return
	}
	if err := uc.publisher.Publish(ctx, event); err != nil {
		uc.logger.Warn("Failed to publish archive event", "subject", event.Subject, "error", err.Error())
	}
}

func extensionFor(rawURL, contentType string) string {
	clean := rawURL
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(clean), "."))
	for _, known := range extensionsByContentType {
		if ext == known {
			return ext
		}
	}
	if ext == "jpeg" {
		return "jpg"
	}
	if byType, ok := extensionsByContentType[contentType]; ok {
		return byType
	}
	return "bin"
}

// sleepContext ждет d или отмены контекста
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
