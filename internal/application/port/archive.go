package port

import (
	"context"
	"errors"

	"github.com/dreschagin/media-relay/internal/domain/entity"
)

// ErrAlreadyArchived сообщает, что запись с таким ID уже существует.
var ErrAlreadyArchived = errors.New("asset already archived")

// ErrInvalidCursor курсор страницы поврежден или относится к другому запросу.
var ErrInvalidCursor = errors.New("invalid cursor")

// DownloadedAsset содержимое скачанного медиафайла.
type DownloadedAsset struct {
	Body        []byte
	ContentType string
}

// AssetDownloader скачивает медиафайл по прямой ссылке.
type AssetDownloader interface {
	Download(ctx context.Context, url string) (*DownloadedAsset, error)
}

// ObjectStorage определяет интерфейс долговременного хранилища файлов.
type ObjectStorage interface {
	// Upload загружает объект по ключу.
	Upload(ctx context.Context, key, contentType string, body []byte) error

	// DownloadURL возвращает URL для чтения объекта.
	DownloadURL(ctx context.Context, key string) (string, error)
}

// ArchiveListQuery параметры выборки архива по аккаунту.
type ArchiveListQuery struct {
	Subject string
	Limit   int
	Cursor  string
}

// ArchiveListPage страница архива и курсор следующей страницы.
type ArchiveListPage struct {
	Items      []entity.ArchivedAsset
	NextCursor string
}

// ArchivedAssetRepository хранит метаданные архивированных файлов.
// ID записи уникален; повторная запись возвращает ErrAlreadyArchived.
type ArchivedAssetRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	Put(ctx context.Context, asset entity.ArchivedAsset) error
	ListBySubject(ctx context.Context, query ArchiveListQuery) (ArchiveListPage, error)
}
