//go:build integration
// +build integration

package http

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"

	"github.com/dreschagin/media-relay/internal/application/port"
	appService "github.com/dreschagin/media-relay/internal/application/service"
	"github.com/dreschagin/media-relay/internal/application/usecase"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/service"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/internal/infrastructure/cache/filesystem"
	redisCache "github.com/dreschagin/media-relay/internal/infrastructure/cache/redis"
	"github.com/dreschagin/media-relay/internal/infrastructure/downloader"
	wsInfra "github.com/dreschagin/media-relay/internal/infrastructure/notification/websocket"
	dynamodbRepo "github.com/dreschagin/media-relay/internal/infrastructure/persistence/dynamodb"
	"github.com/dreschagin/media-relay/internal/infrastructure/persistence/postgres"
	s3storage "github.com/dreschagin/media-relay/internal/infrastructure/storage/s3"
	"github.com/dreschagin/media-relay/internal/interfaces/http/handler"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"
	"github.com/dreschagin/media-relay/pkg/config"
	"github.com/dreschagin/media-relay/pkg/logger"
)

const (
	integrationToken = "integration-token"
)

type integrationEnv struct {
	postgresDSN     string
	redisAddr       string
	s3Endpoint      string
	s3Region        string
	s3AccessKey     string
	s3SecretKey     string
	s3Bucket        string
	s3UsePathStyle  bool
	dynamoEndpoint  string
	dynamoRegion    string
	dynamoAccessKey string
	dynamoSecretKey string
	dynamoCache     string
	dynamoArchive   string
}

func loadIntegrationEnv() integrationEnv {
	return integrationEnv{
		postgresDSN:     getenv("INTEGRATION_POSTGRES_DSN", "host=localhost port=5432 user=postgres password=postgres dbname=media_relay sslmode=disable"),
		redisAddr:       getenv("INTEGRATION_REDIS_ADDR", "localhost:6379"),
		s3Endpoint:      getenv("INTEGRATION_S3_ENDPOINT", "http://localhost:9000"),
		s3Region:        getenv("INTEGRATION_S3_REGION", "us-east-1"),
		s3AccessKey:     getenv("INTEGRATION_S3_ACCESS_KEY", "minioadmin"),
		s3SecretKey:     getenv("INTEGRATION_S3_SECRET_KEY", "minioadmin"),
		s3Bucket:        getenv("INTEGRATION_S3_BUCKET", "media-relay-e2e"),
		s3UsePathStyle:  true,
		dynamoEndpoint:  getenv("INTEGRATION_DYNAMO_ENDPOINT", "http://localhost:8000"),
		dynamoRegion:    getenv("INTEGRATION_DYNAMO_REGION", "us-east-1"),
		dynamoAccessKey: getenv("INTEGRATION_DYNAMO_ACCESS_KEY", "dynamo"),
		dynamoSecretKey: getenv("INTEGRATION_DYNAMO_SECRET_KEY", "dynamo"),
		dynamoCache:     getenv("INTEGRATION_DYNAMO_CACHE_TABLE", "media_relay_cache_e2e"),
		dynamoArchive:   getenv("INTEGRATION_DYNAMO_ARCHIVE_TABLE", "media_relay_archive_e2e"),
	}
}

// TestE2EIntegrationPostgresArchive проходит fetch -> S3 -> Postgres на реальных бэкендах
func TestE2EIntegrationPostgresArchive(t *testing.T) {
	env := loadIntegrationEnv()
	ctx := context.Background()

	db := connectPostgres(t, env.postgresDSN)
	t.Cleanup(func() { _ = db.Close() })

	repo := postgres.NewArchivedAssetRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	subject := fmt.Sprintf("pg_%d", time.Now().UnixNano()%1_000_000)
	cleanupArchive(t, db, subject)

	ensureS3Bucket(t, ctx, env)
	durable := buildRedisCache(t, env)

	server := integrationServer(t, env, repo, durable)
	runArchiveFlow(t, server, subject)
}

// TestE2EIntegrationDynamoArchive то же самое с DynamoDB для кеша и метаданных
func TestE2EIntegrationDynamoArchive(t *testing.T) {
	env := loadIntegrationEnv()
	ctx := context.Background()

	ensureS3Bucket(t, ctx, env)
	ensureDynamoTable(t, ctx, env, env.dynamoCache, false)
	ensureDynamoTable(t, ctx, env, env.dynamoArchive, true)

	repo, err := dynamodbRepo.NewArchivedAssetRepository(ctx, dynamoConfig(env, env.dynamoArchive))
	if err != nil {
		t.Fatalf("init dynamodb archive: %v", err)
	}
	durable, err := dynamodbRepo.NewMediaCacheStore(ctx, dynamoConfig(env, env.dynamoCache), time.Hour)
	if err != nil {
		t.Fatalf("init dynamodb cache: %v", err)
	}

	subject := fmt.Sprintf("ddb_%d", time.Now().UnixNano()%1_000_000)
	server := integrationServer(t, env, repo, durable)
	runArchiveFlow(t, server, subject)
}

func runArchiveFlow(t *testing.T, server *httptest.Server, subject string) {
	t.Helper()
	client := server.Client()
	headers := map[string]string{
		"Authorization": "Bearer " + integrationToken,
		"Content-Type":  "application/json",
	}

	body := bytes.NewBufferString(`{"subject":"` + subject + `","max_results":10}`)
	runResp := doRequest(t, client, http.MethodPost, server.URL+"/api/v1/archive", body, headers)
	if runResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for archive run, got %d", runResp.StatusCode)
	}
	var run usecase.ArchiveBatchResult
	decodeJSON(t, runResp, &run)
	if len(run.Saved) != 2 || len(run.Failed) != 0 {
		t.Fatalf("unexpected archive run saved=%d failed=%v", len(run.Saved), run.Failed)
	}

	// повторный запуск идемпотентен
	body = bytes.NewBufferString(`{"subject":"` + subject + `","max_results":10}`)
	againResp := doRequest(t, client, http.MethodPost, server.URL+"/api/v1/archive", body, headers)
	var again usecase.ArchiveBatchResult
	decodeJSON(t, againResp, &again)
	if len(again.Saved) != 0 || len(again.Skipped) != 2 {
		t.Fatalf("second run saved=%d skipped=%v", len(again.Saved), again.Skipped)
	}

	firstPage := doRequest(t, client, http.MethodGet, server.URL+"/api/v1/archive?subject="+subject+"&limit=1", nil, headers)
	if firstPage.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for archive list, got %d", firstPage.StatusCode)
	}
	var page usecase.ListArchivedAssetsResult
	decodeJSON(t, firstPage, &page)
	if len(page.Items) != 1 || page.NextCursor == "" {
		t.Fatalf("expected one item and a cursor, got %d items cursor=%q", len(page.Items), page.NextCursor)
	}

	secondPage := doRequest(t, client, http.MethodGet, server.URL+"/api/v1/archive?subject="+subject+"&limit=1&cursor="+url.QueryEscape(page.NextCursor), nil, headers)
	var next usecase.ListArchivedAssetsResult
	decodeJSON(t, secondPage, &next)
	if len(next.Items) != 1 || next.Items[0].ID == page.Items[0].ID {
		t.Fatalf("unexpected second page %+v", next.Items)
	}

	statsResp := doRequest(t, client, http.MethodGet, server.URL+"/api/v1/cache/stats", nil, headers)
	var stats struct {
		Backends []port.CacheStats `json:"backends"`
	}
	decodeJSON(t, statsResp, &stats)
	if len(stats.Backends) != 2 {
		t.Fatalf("expected durable and filesystem stats, got %+v", stats.Backends)
	}
}

func integrationServer(t *testing.T, env integrationEnv, repo port.ArchivedAssetRepository, durable port.MediaCacheStore) *httptest.Server {
	t.Helper()
	log := logger.New("error")

	// источник медиа: отдает jpeg для загрузчика
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("\xff\xd8\xff\xe0 integration " + r.URL.Path))
	}))
	t.Cleanup(media.Close)

	official := &stubProvider{name: "official", metered: true, fetch: func(subject string) (*entity.MediaQueryResult, error) {
		items := []entity.MediaItem{
			{
				ID:              "2001",
				Text:            "first",
				SubjectUsername: subject,
				CreatedAt:       time.Now().UTC().Add(-time.Hour),
				Media:           []entity.MediaAsset{{MediaKey: "3_2001", Type: valueobject.AssetPhoto, URL: media.URL + "/3_2001.jpg"}},
			},
			{
				ID:              "2002",
				Text:            "second",
				SubjectUsername: subject,
				CreatedAt:       time.Now().UTC(),
				Media:           []entity.MediaAsset{{MediaKey: "3_2002", Type: valueobject.AssetPhoto, URL: media.URL + "/3_2002.jpg"}},
			},
		}
		return entity.NewMediaQueryResult(items, "official"), nil
	}}

	local, err := filesystem.NewMediaCacheStore(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("init filesystem cache: %v", err)
	}
	hybrid := appService.NewHybridCache(durable, local, nil, log)
	governor := service.NewQuotaGovernor(service.QuotaLimits{Hourly: 10, Daily: 100, Weekly: 500, Location: time.UTC})

	fetchUC := usecase.NewFetchMediaUseCase(usecase.FetchMediaDeps{
		Cache:       hybrid,
		Quota:       governor,
		Providers:   []port.MediaProvider{official},
		Alternative: stubAlternative{},
	}, usecase.FetchMediaConfig{}, log)

	archiveUC := usecase.NewArchiveMediaUseCase(
		downloader.NewHTTPDownloader(5*time.Second, 1<<20),
		buildS3Storage(t, env),
		repo,
		nil,
		nil,
		nil,
		usecase.ArchiveMediaConfig{KeyPrefix: "twitter-media"},
		log,
	)
	listUC := usecase.NewListArchivedAssetsUseCase(repo, usecase.ListArchivedAssetsConfig{}, log)

	authConfig := middleware.AuthConfig{Enabled: true, BearerToken: integrationToken}
	hub := wsInfra.NewHub(log)

	router := NewRouter(
		handler.NewMediaAPIHandler(fetchUC, log),
		handler.NewCacheAPIHandler(usecase.NewManageCacheUseCase(hybrid, log), log),
		handler.NewQuotaAPIHandler(governor),
		handler.NewArchiveAPIHandler(fetchUC, archiveUC, listUC, log),
		handler.NewWebSocketHandler(hub, []string{"http://localhost:8080"}, authConfig, log),
		nil,
		nil,
		config.SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			AuthEnabled:    true,
			AuthToken:      integrationToken,
		},
		log,
	)

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)
	return server
}

func connectPostgres(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	return db
}

func cleanupArchive(t *testing.T, db *sql.DB, subject string) {
	t.Helper()
	if _, err := db.Exec("DELETE FROM archived_media WHERE subject_username = $1", subject); err != nil {
		t.Fatalf("cleanup archive: %v", err)
	}
}

func buildRedisCache(t *testing.T, env integrationEnv) *redisCache.MediaCacheStore {
	t.Helper()
	store, err := redisCache.NewMediaCacheStore(redisCache.Config{
		Addr:        env.redisAddr,
		TTL:         time.Hour,
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("init redis cache: %v", err)
	}
	return store
}

func buildS3Storage(t *testing.T, env integrationEnv) *s3storage.AssetStorage {
	t.Helper()
	store, err := s3storage.NewAssetStorage(context.Background(), s3storage.Config{
		Bucket:          env.s3Bucket,
		Region:          env.s3Region,
		Endpoint:        env.s3Endpoint,
		AccessKeyID:     env.s3AccessKey,
		SecretAccessKey: env.s3SecretKey,
		UsePathStyle:    env.s3UsePathStyle,
		URLMode:         s3storage.URLModePresigned,
		PresignedTTL:    2 * time.Minute,
	})
	if err != nil {
		t.Fatalf("init s3 storage: %v", err)
	}
	return store
}

func dynamoConfig(env integrationEnv, table string) dynamodbRepo.Config {
	return dynamodbRepo.Config{
		TableName:       table,
		Region:          env.dynamoRegion,
		Endpoint:        env.dynamoEndpoint,
		AccessKeyID:     env.dynamoAccessKey,
		SecretAccessKey: env.dynamoSecretKey,
		StrongReads:     true,
	}
}

func ensureS3Bucket(t *testing.T, ctx context.Context, env integrationEnv) {
	t.Helper()
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(env.s3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			env.s3AccessKey,
			env.s3SecretKey,
			"",
		)),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}
	client := s3.NewFromConfig(awsCfg, func(options *s3.Options) {
		options.BaseEndpoint = &env.s3Endpoint
		options.UsePathStyle = env.s3UsePathStyle
	})

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &env.s3Bucket,
	})
	if err != nil && !isBucketExistsError(err) {
		t.Fatalf("create bucket: %v", err)
	}
}

func isBucketExistsError(err error) bool {
	var alreadyOwned *s3.BucketAlreadyOwnedByYou
	var alreadyExists *s3.BucketAlreadyExists
	if errors.As(err, &alreadyOwned) || errors.As(err, &alreadyExists) {
		return true
	}
	return strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") || strings.Contains(err.Error(), "BucketAlreadyExists")
}

// ensureDynamoTable создает таблицу с ключом PK; для архива добавляется GSI1
func ensureDynamoTable(t *testing.T, ctx context.Context, env integrationEnv, table string, withSubjectIndex bool) {
	t.Helper()
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(env.dynamoRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			env.dynamoAccessKey,
			env.dynamoSecretKey,
			"",
		)),
	)
	if err != nil {
		t.Fatalf("load dynamo config: %v", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(options *dynamodb.Options) {
		options.BaseEndpoint = &env.dynamoEndpoint
	})

	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &table}); err == nil {
		return
	}

	input := &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: stringPtr("PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: stringPtr("PK"), KeyType: ddbtypes.KeyTypeHash},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	}
	if withSubjectIndex {
		input.AttributeDefinitions = append(input.AttributeDefinitions,
			ddbtypes.AttributeDefinition{AttributeName: stringPtr("GSI1PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			ddbtypes.AttributeDefinition{AttributeName: stringPtr("GSI1SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		)
		input.GlobalSecondaryIndexes = []ddbtypes.GlobalSecondaryIndex{
			{
				IndexName: stringPtr("GSI1"),
				KeySchema: []ddbtypes.KeySchemaElement{
					{AttributeName: stringPtr("GSI1PK"), KeyType: ddbtypes.KeyTypeHash},
					{AttributeName: stringPtr("GSI1SK"), KeyType: ddbtypes.KeyTypeRange},
				},
				Projection: &ddbtypes.Projection{ProjectionType: ddbtypes.ProjectionTypeAll},
			},
		}
	}

	if _, err := client.CreateTable(ctx, input); err != nil {
		t.Fatalf("create dynamodb table %s: %v", table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: &table}, 30*time.Second); err != nil {
		t.Fatalf("wait for table: %v", err)
	}
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func stringPtr(value string) *string {
	return &value
}
