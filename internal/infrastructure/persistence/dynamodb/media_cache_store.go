package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// DefaultCacheTTL for the durable cache backend.
const DefaultCacheTTL = 24 * time.Hour

// cacheItem is the stored shape of one cache record.
// expires_at is the table TTL attribute (epoch seconds) and is set to twice the
// logical TTL so stale reads keep working for a while after expiry.
type cacheItem struct {
	PK        string `dynamodbav:"PK"`
	CacheKey  string `dynamodbav:"cache_key"`
	Payload   string `dynamodbav:"payload"`
	SavedAtMS int64  `dynamodbav:"saved_at"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
	SizeBytes int    `dynamodbav:"size_bytes"`
}

// MediaCacheStore implements port.MediaCacheStore on a DynamoDB table keyed by PK.
type MediaCacheStore struct {
	client      itemAPI
	tableName   string
	strongReads bool
	ttl         time.Duration
	now         func() time.Time
}

func NewMediaCacheStore(ctx context.Context, cfg Config, ttl time.Duration) (*MediaCacheStore, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newMediaCacheStore(client, cfg, ttl), nil
}

func newMediaCacheStore(client itemAPI, cfg Config, ttl time.Duration) *MediaCacheStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MediaCacheStore{
		client:      client,
		tableName:   cfg.TableName,
		strongReads: cfg.StrongReads,
		ttl:         ttl,
		now:         time.Now,
	}
}

func (s *MediaCacheStore) Name() string { return "dynamodb" }

func (s *MediaCacheStore) TTL() time.Duration { return s.ttl }

func (s *MediaCacheStore) Save(ctx context.Context, key valueobject.CacheKey, payload *entity.MediaQueryResult) error {
	if payload == nil {
		return errors.New("payload is nil")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	savedAt := s.now().UTC()
	item, err := attributevalue.MarshalMap(cacheItem{
		PK:        cachePrefix + key.String(),
		CacheKey:  key.String(),
		Payload:   string(data),
		SavedAtMS: savedAt.UnixMilli(),
		ExpiresAt: savedAt.Add(2 * s.ttl).Unix(),
		SizeBytes: len(data),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache item: %w", err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb put failed: %w", err)
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
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            primaryKey(cachePrefix + key.String()),
		ConsistentRead: aws.Bool(s.strongReads),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get failed: %w", err)
	}
	if len(output.Item) == 0 {
		return nil, nil
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache item: %w", err)
	}

	record := &entity.CacheRecord{
		Key:     item.CacheKey,
		SavedAt: time.UnixMilli(item.SavedAtMS).UTC(),
	}
	if err := json.Unmarshal([]byte(item.Payload), &record.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return record, nil
}

func (s *MediaCacheStore) Clear(ctx context.Context, key valueobject.CacheKey) (bool, error) {
	output, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    &s.tableName,
		Key:          primaryKey(cachePrefix + key.String()),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb delete failed: %w", err)
	}
	return len(output.Attributes) > 0, nil
}

func (s *MediaCacheStore) Stats(ctx context.Context) (port.CacheStats, error) {
	stats := port.CacheStats{Backend: s.Name()}
	var totalBytes int64

	err := s.scan(ctx, func(pk string, savedAt time.Time, size int64) error {
		stats.Total++
		totalBytes += size
		if s.now().Sub(savedAt) > s.ttl {
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
	expired := make([]string, 0)
	err := s.scan(ctx, func(pk string, savedAt time.Time, _ int64) error {
		if s.now().Sub(savedAt) > s.ttl {
			expired = append(expired, pk)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, pk := range expired {
		if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &s.tableName,
			Key:       primaryKey(pk),
		}); err != nil {
			return removed, fmt.Errorf("dynamodb delete failed: %w", err)
		}
		removed++
	}

	return removed, nil
}

// cacheMeta проекция для Stats и PurgeExpired без payload
type cacheMeta struct {
	PK        string `dynamodbav:"PK"`
	SavedAtMS int64  `dynamodbav:"saved_at"`
	SizeBytes int64  `dynamodbav:"size_bytes"`
}

func (s *MediaCacheStore) scan(ctx context.Context, fn func(pk string, savedAt time.Time, size int64) error) error {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.tableName),
		FilterExpression:         aws.String("begins_with(#pk, :prefix)"),
		ProjectionExpression:     aws.String("#pk, #saved, #size"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK, "#saved": "saved_at", "#size": "size_bytes"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":prefix": &types.AttributeValueMemberS{Value: cachePrefix},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("dynamodb scan failed: %w", err)
		}

		var metas []cacheMeta
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &metas); err != nil {
			return fmt.Errorf("failed to unmarshal cache items: %w", err)
		}
		for _, m := range metas {
			if err := fn(m.PK, time.UnixMilli(m.SavedAtMS).UTC(), m.SizeBytes); err != nil {
				return err
			}
		}
	}

	return nil
}
