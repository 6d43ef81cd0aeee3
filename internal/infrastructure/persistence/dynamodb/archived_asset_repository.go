package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

const (
	defaultListLimit = 24
	maxListLimit     = 100

	subjectIndex = "GSI1"
)

// assetItem хранимая форма ArchivedAsset. Время в миллисекундах epoch.
type assetItem struct {
	PK     string `dynamodbav:"PK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`

	ID           string `dynamodbav:"id"`
	Subject      string `dynamodbav:"subject_username"`
	SourceItemID string `dynamodbav:"source_item_id,omitempty"`
	MediaKey     string `dynamodbav:"media_key,omitempty"`
	MediaType    string `dynamodbav:"media_type,omitempty"`
	SourceURL    string `dynamodbav:"source_url,omitempty"`
	StorageURL   string `dynamodbav:"storage_url,omitempty"`
	StoragePath  string `dynamodbav:"storage_path"`
	Text         string `dynamodbav:"text,omitempty"`
	MimeType     string `dynamodbav:"mime_type,omitempty"`
	SizeBytes    int64  `dynamodbav:"file_size_bytes,omitempty"`
	CreatedAtMS  int64  `dynamodbav:"created_at"`
	SavedAtMS    int64  `dynamodbav:"saved_at"`
}

// ArchivedAssetRepository реализует port.ArchiveRepository.
// Один item на составной id; листинг по аккаунту идет через GSI1, новые первыми.
type ArchivedAssetRepository struct {
	client      itemAPI
	tableName   string
	strongReads bool
}

func NewArchivedAssetRepository(ctx context.Context, cfg Config) (*ArchivedAssetRepository, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newArchivedAssetRepository(client, cfg), nil
}

func newArchivedAssetRepository(client itemAPI, cfg Config) *ArchivedAssetRepository {
	return &ArchivedAssetRepository{
		client:      client,
		tableName:   strings.TrimSpace(cfg.TableName),
		strongReads: cfg.StrongReads,
	}
}

func (r *ArchivedAssetRepository) Exists(ctx context.Context, id string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      primaryKey(assetPK(id)),
		ProjectionExpression:     aws.String("#pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
		ConsistentRead:           aws.Bool(r.strongReads),
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb get %s: %w", id, err)
	}
	return len(out.Item) > 0, nil
}

// Put условная запись: существующий id дает port.ErrAlreadyArchived
func (r *ArchivedAssetRepository) Put(ctx context.Context, asset entity.ArchivedAsset) error {
	item, err := newAssetItem(asset, time.Now())
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal asset %s: %w", item.ID, err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
	})

	var conditionFailed *types.ConditionalCheckFailedException
	switch {
	case err == nil:
		return nil
	case errors.As(err, &conditionFailed):
		return port.ErrAlreadyArchived
	default:
		return fmt.Errorf("dynamodb put %s: %w", item.ID, err)
	}
}

func (r *ArchivedAssetRepository) ListBySubject(ctx context.Context, query port.ArchiveListQuery) (port.ArchiveListPage, error) {
	subject := valueobject.NormalizeSubject(query.Subject)
	if subject == "" {
		return port.ArchiveListPage{}, errors.New("subject is required")
	}

	input := &dynamodb.QueryInput{
		TableName:                aws.String(r.tableName),
		IndexName:                aws.String(subjectIndex),
		KeyConditionExpression:   aws.String("#gsi1pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#gsi1pk": attrGSI1PK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: subjectPK(subject)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(clampLimit(query.Limit))),
	}

	if cursor := strings.TrimSpace(query.Cursor); cursor != "" {
		startKey, err := decodeCursor(subject, cursor)
		if err != nil {
			return port.ArchiveListPage{}, err
		}
		input.ExclusiveStartKey = startKey
	}

	out, err := r.client.Query(ctx, input)
	if err != nil {
		return port.ArchiveListPage{}, fmt.Errorf("dynamodb query %s: %w", subject, err)
	}

	var items []assetItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return port.ArchiveListPage{}, fmt.Errorf("failed to unmarshal assets: %w", err)
	}

	page := port.ArchiveListPage{Items: make([]entity.ArchivedAsset, 0, len(items))}
	for _, item := range items {
		page.Items = append(page.Items, item.toEntity())
	}
	if len(out.LastEvaluatedKey) > 0 {
		if page.NextCursor, err = encodeCursor(subject, out.LastEvaluatedKey); err != nil {
			return port.ArchiveListPage{}, err
		}
	}

	return page, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

func newAssetItem(asset entity.ArchivedAsset, now time.Time) (assetItem, error) {
	id := strings.TrimSpace(asset.ID)
	subject := valueobject.NormalizeSubject(asset.SubjectUsername)
	switch {
	case id == "":
		return assetItem{}, errors.New("asset id is required")
	case subject == "":
		return assetItem{}, errors.New("asset subject is required")
	case strings.TrimSpace(asset.StoragePath) == "":
		return assetItem{}, errors.New("asset storage path is required")
	}

	savedAt := asset.SavedAt
	if savedAt.IsZero() {
		savedAt = now
	}
	createdAt := asset.CreatedAt
	if createdAt.IsZero() {
		createdAt = savedAt
	}

	return assetItem{
		PK:           assetPK(id),
		GSI1PK:       subjectPK(subject),
		GSI1SK:       subjectSK(savedAt.UnixMilli(), id),
		ID:           id,
		Subject:      subject,
		SourceItemID: asset.SourceItemID,
		MediaKey:     asset.MediaKey,
		MediaType:    asset.MediaType.String(),
		SourceURL:    asset.SourceURL,
		StorageURL:   asset.StorageURL,
		StoragePath:  asset.StoragePath,
		Text:         asset.Text,
		MimeType:     asset.MimeType,
		SizeBytes:    asset.FileSizeBytes,
		CreatedAtMS:  createdAt.UnixMilli(),
		SavedAtMS:    savedAt.UnixMilli(),
	}, nil
}

func (item assetItem) toEntity() entity.ArchivedAsset {
	return entity.ArchivedAsset{
		ID:              item.ID,
		SubjectUsername: item.Subject,
		SourceItemID:    item.SourceItemID,
		MediaKey:        item.MediaKey,
		MediaType:       valueobject.AssetType(item.MediaType),
		SourceURL:       item.SourceURL,
		StorageURL:      item.StorageURL,
		StoragePath:     item.StoragePath,
		Text:            item.Text,
		MimeType:        item.MimeType,
		FileSizeBytes:   item.SizeBytes,
		CreatedAt:       time.UnixMilli(item.CreatedAtMS).UTC(),
		SavedAt:         time.UnixMilli(item.SavedAtMS).UTC(),
	}
}
