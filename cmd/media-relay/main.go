package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	// Application
	applicationPort "github.com/dreschagin/media-relay/internal/application/port"
	appService "github.com/dreschagin/media-relay/internal/application/service"
	"github.com/dreschagin/media-relay/internal/application/usecase"

	// Domain
	"github.com/dreschagin/media-relay/internal/domain/service"

	// Infrastructure
	"github.com/dreschagin/media-relay/internal/infrastructure/cache/filesystem"
	"github.com/dreschagin/media-relay/internal/infrastructure/cache/memory"
	redisCache "github.com/dreschagin/media-relay/internal/infrastructure/cache/redis"
	"github.com/dreschagin/media-relay/internal/infrastructure/downloader"
	natsInfra "github.com/dreschagin/media-relay/internal/infrastructure/messaging/nats"
	wsInfra "github.com/dreschagin/media-relay/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/media-relay/internal/infrastructure/observability/cloudwatch"
	"github.com/dreschagin/media-relay/internal/infrastructure/observability/prometheus"
	dynamodbRepo "github.com/dreschagin/media-relay/internal/infrastructure/persistence/dynamodb"
	"github.com/dreschagin/media-relay/internal/infrastructure/persistence/postgres"
	"github.com/dreschagin/media-relay/internal/infrastructure/provider/official"
	"github.com/dreschagin/media-relay/internal/infrastructure/provider/proxy"
	"github.com/dreschagin/media-relay/internal/infrastructure/provider/scraper"
	s3storage "github.com/dreschagin/media-relay/internal/infrastructure/storage/s3"

	// Interfaces
	httpInterface "github.com/dreschagin/media-relay/internal/interfaces/http"
	"github.com/dreschagin/media-relay/internal/interfaces/http/handler"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"

	// Shared
	"github.com/dreschagin/media-relay/pkg/config"
	"github.com/dreschagin/media-relay/pkg/logger"

	_ "github.com/lib/pq"
)

const assetDownloadTimeout = 30 * time.Second

func main() {
	// 1. Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализируем logger
	log := logger.New(cfg.Logging.Level)
	log.Info("Starting Media Relay")

	var logsPublisher *cloudwatch.LogsPublisher
	if cfg.Logging.CloudWatchEnabled {
		publisherImpl, initErr := cloudwatch.NewLogsPublisher(context.Background(),
			cloudwatch.LogsPublisherConfig{
				LogGroupName:    cfg.Logging.LogGroup,
				LogStreamName:   cfg.Logging.LogStream,
				Region:          cfg.CloudWatch.Region,
				Endpoint:        cfg.CloudWatch.Endpoint,
				AccessKeyID:     cfg.CloudWatch.AccessKeyID,
				SecretAccessKey: cfg.CloudWatch.SecretAccessKey,
				Service:         "media-relay",
				RetentionDays:   int32(cfg.Logging.RetentionDays),
				AutoCreate:      true,
			})
		if initErr != nil {
			log.Error("Failed to initialize CloudWatch logs publisher", initErr)
			os.Exit(1)
		}
		logsPublisher = publisherImpl
		log.SetLogPublisher(logsPublisher)
		log.Info("CloudWatch logs publisher initialized", "group", cfg.Logging.LogGroup)
	} else {
		log.Warn("CloudWatch logs publishing is disabled")
	}

	// 3. Метрики: Prometheus всегда, CloudWatch по флагу
	registry := promclient.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics := prometheus.New(registry)

	mediaMetrics := applicationPort.MultiMetrics{promMetrics}
	var metricsPublisher *cloudwatch.MetricsPublisher
	if cfg.CloudWatch.MetricsEnabled {
		publisherImpl, initErr := cloudwatch.NewMetricsPublisher(context.Background(),
			cloudwatch.MetricsPublisherConfig{
				Namespace:         cfg.CloudWatch.Namespace,
				Region:            cfg.CloudWatch.Region,
				Endpoint:          cfg.CloudWatch.Endpoint,
				AccessKeyID:       cfg.CloudWatch.AccessKeyID,
				SecretAccessKey:   cfg.CloudWatch.SecretAccessKey,
				DefaultDimensions: map[string]string{"Service": "media-relay"},
				FlushInterval:     cfg.CloudWatch.FlushInterval,
			}, log)
		if initErr != nil {
			log.Error("Failed to initialize CloudWatch metrics publisher", initErr)
			os.Exit(1)
		}
		metricsPublisher = publisherImpl
		mediaMetrics = append(mediaMetrics, metricsPublisher)
		log.Info("CloudWatch metrics publisher initialized", "namespace", cfg.CloudWatch.Namespace)
	} else {
		log.Warn("CloudWatch metrics publishing is disabled")
	}

	// 4. Dependency Injection - Infrastructure Layer

	// Кеш: файловый слой всегда, durable по CACHE_DURABLE_BACKEND
	localCache, err := filesystem.NewMediaCacheStore(cfg.Cache.Dir, cfg.Cache.FileTTL)
	if err != nil {
		log.Error("Failed to initialize filesystem cache", err, "dir", cfg.Cache.Dir)
		os.Exit(1)
	}

	var durableCache applicationPort.MediaCacheStore
	switch cfg.Cache.DurableBackend {
	case "dynamodb":
		storeImpl, initErr := dynamodbRepo.NewMediaCacheStore(context.Background(), dynamoConfig(cfg, cfg.Dynamo.CacheTable), cfg.Cache.DurableTTL)
		if initErr != nil {
			log.Error("Failed to initialize DynamoDB cache", initErr)
			os.Exit(1)
		}
		durableCache = storeImpl
	case "redis":
		storeImpl, initErr := redisCache.NewMediaCacheStore(redisCache.Config{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			TTL:          cfg.Cache.DurableTTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if initErr != nil {
			log.Error("Failed to connect to Redis", initErr, "addr", cfg.Redis.Addr())
			os.Exit(1)
		}
		defer storeImpl.Close()
		durableCache = storeImpl
	default:
		log.Warn("Durable cache is disabled, using filesystem cache only")
	}
	if durableCache != nil {
		log.Info("Durable cache initialized", "backend", durableCache.Name(), "ttl", durableCache.TTL().String())
	}

	hybridCache := appService.NewHybridCache(durableCache, localCache, mediaMetrics, log)
	recentCache := memory.NewRecentCache(cfg.Cache.MemoryTTL)

	// Провайдеры по порядку приоритета
	officialProvider := official.NewProvider(official.Config{
		BaseURL:        cfg.Twitter.BaseURL,
		BearerToken:    cfg.Twitter.BearerToken,
		ConsumerKey:    cfg.Twitter.ConsumerKey,
		ConsumerSecret: cfg.Twitter.ConsumerSecret,
		Timeout:        cfg.Twitter.Timeout,
	})
	proxyProvider := proxy.NewProvider(proxy.Config{
		BaseURL: cfg.Proxy.BaseURL,
		APIKey:  cfg.Proxy.APIKey,
		APIHost: cfg.Proxy.APIHost,
		Timeout: cfg.Proxy.Timeout,
	})
	scraperProvider := scraper.NewProvider(scraper.Config{
		Mirrors:        cfg.Scraper.Mirrors,
		Timeout:        cfg.Scraper.Timeout,
		UserAgent:      cfg.Scraper.UserAgent,
		WidgetFallback: cfg.Scraper.WidgetFallback,
	}, scraper.NewMarkupParser(cfg.Scraper.Parser), log)

	// WebSocket Hub
	hub := wsInfra.NewHub(log)

	// NATS Event Publisher
	var eventPublisher applicationPort.EventPublisher
	if cfg.NATS.Enabled {
		publisherImpl, initErr := natsInfra.NewNATSPublisher(natsInfra.Config{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		}, log)
		if initErr != nil {
			log.Warn("Failed to connect to NATS, continuing without event publishing", "error", initErr.Error())
		} else {
			eventPublisher = publisherImpl
			log.Info("NATS event publisher initialized", "url", cfg.NATS.URL, "stream", cfg.NATS.Stream)
		}
	} else {
		log.Warn("NATS event publishing is disabled")
	}

	// 5. Dependency Injection - Domain Layer

	quotaGovernor := service.NewQuotaGovernor(service.QuotaLimits{
		Hourly:          cfg.Quota.HourlyLimit,
		Daily:           cfg.Quota.DailyLimit,
		Weekly:          cfg.Quota.WeeklyLimit,
		EconomyHours:    cfg.Quota.EconomyHours,
		EconomyWeekdays: cfg.Quota.EconomyWeekdays,
		Location:        cfg.Quota.Location,
	})

	// 6. Dependency Injection - Application Layer (Use Cases)

	var (
		archiveMediaUC *usecase.ArchiveMediaUseCase
		listArchiveUC  *usecase.ListArchivedAssetsUseCase
	)
	if cfg.Archive.Enabled {
		assetStorage, initErr := s3storage.NewAssetStorage(context.Background(), s3storage.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
			URLMode:         s3storage.URLMode(cfg.S3.URLMode),
			PresignedTTL:    cfg.S3.PresignedTTL,
		})
		if initErr != nil {
			log.Error("Failed to initialize asset storage", initErr)
			os.Exit(1)
		}

		var archiveRepo applicationPort.ArchivedAssetRepository
		switch cfg.Archive.MetadataBackend {
		case "postgres":
			db, openErr := sql.Open("postgres", cfg.Postgres.DSN())
			if openErr != nil {
				log.Error("Failed to connect to database", openErr)
				os.Exit(1)
			}
			defer db.Close()

			// Настраиваем connection pool
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
			db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)

			if pingErr := db.Ping(); pingErr != nil {
				log.Error("Failed to ping database", pingErr)
				os.Exit(1)
			}

			repoImpl := postgres.NewArchivedAssetRepository(db)
			if schemaErr := repoImpl.EnsureSchema(context.Background()); schemaErr != nil {
				log.Error("Failed to prepare archive schema", schemaErr)
				os.Exit(1)
			}
			archiveRepo = repoImpl
		default:
			repoImpl, repoErr := dynamodbRepo.NewArchivedAssetRepository(context.Background(), dynamoConfig(cfg, cfg.Dynamo.ArchiveTable))
			if repoErr != nil {
				log.Error("Failed to initialize archive metadata repository", repoErr)
				os.Exit(1)
			}
			archiveRepo = repoImpl
		}
		log.Info("Archive initialized", "metadata", cfg.Archive.MetadataBackend, "bucket", cfg.S3.Bucket)

		archiveMediaUC = usecase.NewArchiveMediaUseCase(
			downloader.NewHTTPDownloader(assetDownloadTimeout, cfg.Archive.MaxAssetBytes),
			assetStorage,
			archiveRepo,
			eventPublisher, // Can be nil if NATS disabled
			hub,
			mediaMetrics,
			usecase.ArchiveMediaConfig{
				KeyPrefix: cfg.Archive.KeyPrefix,
				Delay:     cfg.Archive.Delay,
			},
			log,
		)
		listArchiveUC = usecase.NewListArchivedAssetsUseCase(archiveRepo, usecase.ListArchivedAssetsConfig{}, log)
	} else {
		log.Warn("Archive is disabled, media will not be copied to object storage")
	}

	fetchDeps := usecase.FetchMediaDeps{
		Cache:       hybridCache,
		Recent:      recentCache,
		Quota:       quotaGovernor,
		Providers:   []applicationPort.MediaProvider{officialProvider, proxyProvider},
		Alternative: scraperProvider,
		Publisher:   eventPublisher,
		Notifier:    hub,
		Metrics:     mediaMetrics,
	}
	if archiveMediaUC != nil {
		fetchDeps.Archiver = archiveMediaUC
	}
	fetchMediaUC := usecase.NewFetchMediaUseCase(fetchDeps, usecase.FetchMediaConfig{
		Cooldown:       cfg.Cache.Cooldown,
		ArchiveTimeout: cfg.Archive.Timeout,
		FetchTimeout:   cfg.Cache.FetchTimeout,
	}, log)

	manageCacheUC := usecase.NewManageCacheUseCase(hybridCache, log)

	// 7. Dependency Injection - Interfaces Layer (HTTP Handlers)

	authConfig := middleware.AuthConfig{
		Enabled:     cfg.Security.AuthEnabled,
		BearerToken: cfg.Security.AuthToken,
	}
	rateLimiter := middleware.NewIPRateLimiter(cfg.Security.RateLimitPerSec, cfg.Security.RateLimitBurst)
	defer rateLimiter.Stop()

	router := httpInterface.NewRouter(
		handler.NewMediaAPIHandler(fetchMediaUC, log),
		handler.NewCacheAPIHandler(manageCacheUC, log),
		handler.NewQuotaAPIHandler(quotaGovernor),
		handler.NewArchiveAPIHandler(fetchMediaUC, archiveMediaUC, listArchiveUC, log),
		handler.NewWebSocketHandler(hub, cfg.Security.AllowedOrigins, authConfig, log),
		promMetrics,
		rateLimiter,
		cfg.Security,
		log,
	)

	// 8. Запускаем фоновые процессы

	// Запускаем WebSocket hub
	go hub.Run()
	log.Info("WebSocket hub started")

	// Очистка просроченного кеша по расписанию
	scheduler := cron.New(cron.WithLocation(cfg.Quota.Location))
	if _, err := scheduler.AddFunc(cfg.Cache.PurgeSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		removed, err := manageCacheUC.Purge(ctx)
		if err != nil {
			log.Warn("Scheduled cache purge finished with errors", "removed", removed, "error", err.Error())
		}
	}); err != nil {
		log.Error("Invalid CACHE_PURGE_SCHEDULE", err, "schedule", cfg.Cache.PurgeSchedule)
		os.Exit(1)
	}
	scheduler.Start()
	log.Info("Cache purge scheduled", "schedule", cfg.Cache.PurgeSchedule)

	// 9. Настраиваем HTTP сервер

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Канал для получения сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Запускаем сервер в отдельной goroutine
	go func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", err)
			os.Exit(1)
		}
	}()

	// 10. Ожидаем сигнал для graceful shutdown

	<-sigChan
	log.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", err)
	}

	// Ждем текущую очистку кеша
	<-scheduler.Stop().Done()

	// Фоновые архивации ограничены ARCHIVE_TIMEOUT
	log.Info("Waiting for background archival...")
	fetchMediaUC.Wait()

	hub.Stop()

	if eventPublisher != nil {
		if err := eventPublisher.Close(); err != nil {
			log.Error("Failed to close NATS publisher", err)
		}
	}

	// Flush CloudWatch buffers before exit
	if metricsPublisher != nil {
		log.Info("Flushing CloudWatch metrics buffer...")
		if err := metricsPublisher.Close(shutdownCtx); err != nil {
			log.Error("Failed to flush CloudWatch metrics", err)
		}
	}

	log.Info("Server stopped gracefully")

	if logsPublisher != nil {
		if err := logsPublisher.Close(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to flush CloudWatch logs: %v\n", err)
		}
	}
}

func dynamoConfig(cfg *config.Config, table string) dynamodbRepo.Config {
	return dynamodbRepo.Config{
		TableName:       table,
		Region:          cfg.Dynamo.Region,
		Endpoint:        cfg.Dynamo.Endpoint,
		AccessKeyID:     cfg.Dynamo.AccessKeyID,
		SecretAccessKey: cfg.Dynamo.SecretAccessKey,
		StrongReads:     cfg.Dynamo.StrongReads,
	}
}
