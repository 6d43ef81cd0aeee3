package postgres

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/lib/pq"
)

const (
	defaultListLimit = 24
	maxListLimit     = 100
)

// uniqueViolation код ошибки PostgreSQL для нарушения уникальности
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS archived_media (
	id               TEXT PRIMARY KEY,
	subject_username TEXT NOT NULL,
	source_item_id   TEXT NOT NULL,
	media_key        TEXT NOT NULL,
	media_type       TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	storage_url      TEXT NOT NULL,
	storage_path     TEXT NOT NULL,
	text             TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ,
	saved_at         TIMESTAMPTZ NOT NULL,
	file_size_bytes  BIGINT NOT NULL DEFAULT 0,
	mime_type        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_archived_media_subject_saved
	ON archived_media (subject_username, saved_at DESC, id DESC);
`

const selectColumns = `id, subject_username, source_item_id, media_key, media_type, source_url,
	storage_url, storage_path, text, created_at, saved_at, file_size_bytes, mime_type`

// ArchivedAssetRepository реализует port.ArchivedAssetRepository для PostgreSQL
type ArchivedAssetRepository struct {
	db *sql.DB
}

// NewArchivedAssetRepository создает repository поверх открытого пула
func NewArchivedAssetRepository(db *sql.DB) *ArchivedAssetRepository {
	return &ArchivedAssetRepository{db: db}
}

// EnsureSchema создает таблицу и индекс, если их еще нет
func (r *ArchivedAssetRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure archived_media schema: %w", err)
	}
	return nil
}

func (r *ArchivedAssetRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM archived_media WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check archived asset: %w", err)
	}
	return exists, nil
}

// Put вставляет запись; повторный ID возвращает port.ErrAlreadyArchived
func (r *ArchivedAssetRepository) Put(ctx context.Context, asset entity.ArchivedAsset) error {
	if strings.TrimSpace(asset.ID) == "" {
		return fmt.Errorf("archived asset id is required")
	}

	query := `
		INSERT INTO archived_media (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		asset.ID,
		asset.SubjectUsername,
		asset.SourceItemID,
		asset.MediaKey,
		string(asset.MediaType),
		asset.SourceURL,
		asset.StorageURL,
		asset.StoragePath,
		asset.Text,
		nullTime(asset.CreatedAt),
		asset.SavedAt.UTC(),
		asset.FileSizeBytes,
		asset.MimeType,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return port.ErrAlreadyArchived
		}
		return fmt.Errorf("failed to insert archived asset: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return port.ErrAlreadyArchived
	}

	return nil
}

// ListBySubject возвращает записи аккаунта от новых к старым (keyset pagination)
func (r *ArchivedAssetRepository) ListBySubject(ctx context.Context, query port.ArchiveListQuery) (port.ArchiveListPage, error) {
	subject := valueobject.NormalizeSubject(query.Subject)
	if subject == "" {
		return port.ArchiveListPage{}, fmt.Errorf("subject is required")
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if query.Cursor == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+selectColumns+`
			FROM archived_media
			WHERE subject_username = $1
			ORDER BY saved_at DESC, id DESC
			LIMIT $2
		`, subject, limit+1)
	} else {
		savedAt, lastID, decodeErr := decodeCursor(query.Cursor)
		if decodeErr != nil {
			return port.ArchiveListPage{}, decodeErr
		}
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+selectColumns+`
			FROM archived_media
			WHERE subject_username = $1 AND (saved_at, id) < ($2, $3)
			ORDER BY saved_at DESC, id DESC
			LIMIT $4
		`, subject, savedAt, lastID, limit+1)
	}
	if err != nil {
		return port.ArchiveListPage{}, fmt.Errorf("failed to query archived assets: %w", err)
	}
	defer rows.Close()

	items, err := scanAssets(rows)
	if err != nil {
		return port.ArchiveListPage{}, err
	}

	page := port.ArchiveListPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.SavedAt, last.ID)
	}

	return page, nil
}

func scanAssets(rows *sql.Rows) ([]entity.ArchivedAsset, error) {
	items := make([]entity.ArchivedAsset, 0)

	for rows.Next() {
		var (
			asset     entity.ArchivedAsset
			mediaType string
			createdAt sql.NullTime
		)
		err := rows.Scan(
			&asset.ID,
			&asset.SubjectUsername,
			&asset.SourceItemID,
			&asset.MediaKey,
			&mediaType,
			&asset.SourceURL,
			&asset.StorageURL,
			&asset.StoragePath,
			&asset.Text,
			&createdAt,
			&asset.SavedAt,
			&asset.FileSizeBytes,
			&asset.MimeType,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archived asset row: %w", err)
		}
		asset.MediaType = valueobject.AssetType(mediaType)
		if createdAt.Valid {
			asset.CreatedAt = createdAt.Time
		}
		items = append(items, asset)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func encodeCursor(savedAt time.Time, id string) string {
	raw := strconv.FormatInt(savedAt.UTC().UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", port.ErrInvalidCursor, err)
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return time.Time{}, "", port.ErrInvalidCursor
	}
	value, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", port.ErrInvalidCursor, err)
	}
	return time.Unix(0, value).UTC(), id, nil
}
