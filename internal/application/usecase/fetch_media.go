package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dreschagin/media-relay/internal/application/dto"
	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/service"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
)

var (
	// ErrInvalidQuery ошибка валидации входа (не провайдера)
	ErrInvalidQuery = errors.New("invalid media query")

	// ErrAllProvidersFailed sentinel для errors.Is с *AllProvidersFailedError
	ErrAllProvidersFailed = errors.New("all providers failed")
)

const (
	DefaultCooldown       = 30 * time.Minute
	DefaultArchiveTimeout = 5 * time.Minute
	DefaultFetchTimeout   = 2 * time.Minute

	scraperTier       = "scraper"
	memoryLayer       = "memory"
	cacheWriteTimeout = 10 * time.Second
)

// TierFailure причина отказа одного уровня цепочки
type TierFailure struct {
	Tier   string `json:"tier"`
	Reason string `json:"reason"`
}

// AllProvidersFailedError возвращается, когда ни один уровень не дал подходящих постов
type AllProvidersFailedError struct {
	Subject  string
	Failures []TierFailure
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Tier+": "+f.Reason)
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// MediaCache оркестратор персистентного кеша (service.HybridCache)
type MediaCache interface {
	SaveCache(ctx context.Context, key valueobject.CacheKey, payload *entity.MediaQueryResult)
	LoadCache(ctx context.Context, key valueobject.CacheKey) *entity.MediaQueryResult
	LoadStaleCache(ctx context.Context, key valueobject.CacheKey) *entity.CacheRecord
}

// QuotaGate ограничитель запросов к платным API (service.QuotaGovernor)
type QuotaGate interface {
	CanProceed() service.QuotaDecision
	RecordRequest()
}

// MediaArchiver фоновая архивация фото (ArchiveMediaUseCase)
type MediaArchiver interface {
	Execute(ctx context.Context, items []entity.MediaItem) (*ArchiveBatchResult, error)
}

type FetchMediaCommand struct {
	Subject    string
	MediaType  string
	MaxResults int
}

type FetchMediaConfig struct {
	Cooldown       time.Duration
	ArchiveTimeout time.Duration
	// FetchTimeout ограничивает весь проход цепочки, отмена вызывающего на него не влияет
	FetchTimeout time.Duration
}

// FetchMediaDeps зависимости цепочки. Archiver, Publisher и Notifier опциональны.
type FetchMediaDeps struct {
	Cache       MediaCache
	Recent      port.RecentCache
	Quota       QuotaGate
	Providers   []port.MediaProvider
	Alternative port.AlternativeProvider
	Archiver    MediaArchiver
	Publisher   port.EventPublisher
	Notifier    port.NotificationService
	Metrics     port.MediaMetrics
}

// FetchMediaUseCase цепочка: cooldown -> кеш -> память -> квота -> official -> proxy -> scraper
type FetchMediaUseCase struct {
	deps   FetchMediaDeps
	filter *service.MediaFilter
	config FetchMediaConfig
	logger *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastQuery map[string]time.Time

	archives sync.WaitGroup
}

func NewFetchMediaUseCase(deps FetchMediaDeps, config FetchMediaConfig, log *logger.Logger) *FetchMediaUseCase {
	if deps.Metrics == nil {
		deps.Metrics = port.NopMetrics{}
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.ArchiveTimeout <= 0 {
		config.ArchiveTimeout = DefaultArchiveTimeout
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}
	return &FetchMediaUseCase{
		deps:      deps,
		filter:    service.NewMediaFilter(),
		config:    config,
		logger:    log,
		now:       time.Now,
		lastQuery: make(map[string]time.Time),
	}
}

func (uc *FetchMediaUseCase) Execute(ctx context.Context, cmd FetchMediaCommand) (*entity.MediaQueryResult, error) {
	key, err := parseFetchCommand(cmd)
	if err != nil {
		return nil, err
	}
	subject := key.Subject
	log := uc.logger.With("subject", subject, "key", key.String())

	// клиент может уйти, но начатый запрос к провайдеру доводится до кеша
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.config.FetchTimeout)
	defer cancel()

	// 1. Cooldown: повторный запрос subject отдаем из кеша без учета TTL
	if uc.markQueried(subject) {
		if record := uc.deps.Cache.LoadStaleCache(ctx, key); record != nil {
			log.Debug("Cooldown active, serving stale cache")
			return staleResult(record), nil
		}
	}

	// 2. Персистентный кеш
	if cached := uc.deps.Cache.LoadCache(ctx, key); cached != nil {
		return cached.WithSource("cache:" + cached.SourceLabel), nil
	}

	// 3. Кеш процесса, с записью обратно в персистентный
	if uc.deps.Recent != nil {
		if recent, ok := uc.deps.Recent.Get(key); ok {
			uc.deps.Metrics.ObserveCache(memoryLayer, true)
			log.Debug("Memory cache hit")
			uc.saveCache(key, recent)
			return recent.WithSource("memory:" + recent.SourceLabel), nil
		}
		uc.deps.Metrics.ObserveCache(memoryLayer, false)
	}

	// 4. Квота
	failures := make([]TierFailure, 0, len(uc.deps.Providers)+1)
	decision := uc.deps.Quota.CanProceed()
	if !decision.Allowed {
		uc.deps.Metrics.ObserveQuotaDenied(decision.Ceiling)
		log.Warn("Quota denied upstream fetch",
			"ceiling", decision.Ceiling,
			"reason", decision.Reason,
			"retry_after", decision.RetryAfter.Format(time.RFC3339),
		)
		if record := uc.deps.Cache.LoadStaleCache(ctx, key); record != nil {
			return staleResult(record), nil
		}
	}

	// 5-6. Платные API
	recorded := false
	for _, provider := range uc.deps.Providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tier := provider.Name()
		if provider.Metered() && !decision.Allowed {
			failures = append(failures, TierFailure{Tier: tier, Reason: "quota: " + decision.Reason})
			uc.deps.Metrics.ObserveTier(tier, port.OutcomeSkipped, 0)
			continue
		}

		started := uc.now()
		result, err := provider.Fetch(ctx, subject, key.MediaType, key.MaxResults)
		elapsed := uc.now().Sub(started)

		if provider.Metered() && !recorded && !errors.Is(err, port.ErrMissingCredential) {
			uc.deps.Quota.RecordRequest()
			recorded = true
		}

		if err != nil {
			failures = append(failures, TierFailure{Tier: tier, Reason: err.Error()})
			uc.deps.Metrics.ObserveTier(tier, port.OutcomeFailure, elapsed)
			log.Warn("Provider tier failed", "tier", tier, "error", err.Error())
			continue
		}

		items := uc.filter.Apply(result.Items, key.MediaType, key.MaxResults)
		if len(items) == 0 {
			failures = append(failures, TierFailure{Tier: tier, Reason: "no qualifying items"})
			uc.deps.Metrics.ObserveTier(tier, port.OutcomeEmpty, elapsed)
			log.Warn("Provider tier returned no qualifying items", "tier", tier)
			continue
		}

		uc.deps.Metrics.ObserveTier(tier, port.OutcomeSuccess, elapsed)
		return uc.complete(key, entity.NewMediaQueryResult(items, result.SourceLabel)), nil
	}

	// 7. Скрапинг зеркал
	if uc.deps.Alternative != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		started := uc.now()
		result := uc.deps.Alternative.FetchAlternative(ctx, subject, key.MediaType)
		elapsed := uc.now().Sub(started)

		raw := result.Items
		if key.MediaType == valueobject.MediaPhotos && !uc.filter.HasPhotos(raw) {
			raw = service.AttachEmbeddedPhotos(raw)
		}

		items := uc.filter.Apply(raw, key.MediaType, key.MaxResults)
		if len(items) > 0 {
			uc.deps.Metrics.ObserveTier(scraperTier, port.OutcomeSuccess, elapsed)
			return uc.complete(key, entity.NewMediaQueryResult(items, result.SourceLabel)), nil
		}

		failures = append(failures, TierFailure{Tier: scraperTier, Reason: "no qualifying items from " + result.SourceLabel})
		uc.deps.Metrics.ObserveTier(scraperTier, port.OutcomeEmpty, elapsed)
	}

	log.Warn("All providers failed", "failures", len(failures))
	return nil, &AllProvidersFailedError{Subject: subject, Failures: failures}
}

// Wait блокируется до завершения всех фоновых архиваций
func (uc *FetchMediaUseCase) Wait() {
	uc.archives.Wait()
}

func (uc *FetchMediaUseCase) complete(key valueobject.CacheKey, result *entity.MediaQueryResult) *entity.MediaQueryResult {
	// деградированный widget-результат не кешируется
	if !result.IsDegraded() {
		uc.saveCache(key, result)
		if uc.deps.Recent != nil {
			uc.deps.Recent.Set(key, result)
		}
	}

	uc.publishFetched(key, result)

	if key.MediaType == valueobject.MediaPhotos && result.HasAnyMedia() && uc.deps.Archiver != nil {
		uc.startArchival(key.Subject, result.Items)
	}

	return result
}

func (uc *FetchMediaUseCase) saveCache(key valueobject.CacheKey, result *entity.MediaQueryResult) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()
	uc.deps.Cache.SaveCache(ctx, key, result)
}

func (uc *FetchMediaUseCase) publishFetched(key valueobject.CacheKey, result *entity.MediaQueryResult) {
	event := dto.NewFetchedEvent(key.Subject, key.MediaType.String(), result.SourceLabel, result.TotalCount)
	if uc.deps.Notifier != nil {
		uc.deps.Notifier.BroadcastEvent(event)
	}
	if uc.deps.Publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()
	if err := uc.deps.Publisher.Publish(ctx, event); err != nil {
		uc.logger.Warn("Failed to publish fetch event", "subject", key.Subject, "error", err.Error())
	}
}

func (uc *FetchMediaUseCase) startArchival(subject string, items []entity.MediaItem) {
	snapshot := make([]entity.MediaItem, len(items))
	copy(snapshot, items)

	uc.archives.Add(1)
	go func() {
		defer uc.archives.Done()

		// архивация переживает отмену исходного запроса
		ctx, cancel := context.WithTimeout(context.Background(), uc.config.ArchiveTimeout)
		defer cancel()

		if _, err := uc.deps.Archiver.Execute(ctx, snapshot); err != nil {
			uc.logger.Warn("Background archival stopped", "subject", subject, "error", err.Error())
		}
	}()
}

// markQueried отмечает запрос subject и сообщает, был ли предыдущий
// запрос в пределах cooldown
func (uc *FetchMediaUseCase) markQueried(subject string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	now := uc.now()
	last, ok := uc.lastQuery[subject]
	cooling := ok && now.Sub(last) < uc.config.Cooldown
	uc.lastQuery[subject] = now

	// записи старше cooldown больше не влияют на решения
	for s, at := range uc.lastQuery {
		if now.Sub(at) >= uc.config.Cooldown {
			delete(uc.lastQuery, s)
		}
	}
	return cooling
}

func staleResult(record *entity.CacheRecord) *entity.MediaQueryResult {
	payload := record.Payload
	return payload.WithSource("stale-cache:" + payload.SourceLabel)
}

func parseFetchCommand(cmd FetchMediaCommand) (valueobject.CacheKey, error) {
	raw := strings.TrimSpace(cmd.Subject)
	if !valueobject.IsValidSubject(raw) {
		return valueobject.CacheKey{}, fmt.Errorf("%w: subject must match %s", ErrInvalidQuery, valueobject.SubjectPattern.String())
	}

	mediaType, err := valueobject.ParseMediaType(cmd.MediaType)
	if err != nil {
		return valueobject.CacheKey{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	key := valueobject.NewCacheKey(raw, mediaType, cmd.MaxResults)
	if err := key.Validate(); err != nil {
		return valueobject.CacheKey{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return key, nil
}
