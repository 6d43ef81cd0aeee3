package service

import (
	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// MediaFilter применяет единые правила отбора ко всем провайдерам (Domain Service)
type MediaFilter struct{}

// NewMediaFilter создает новый MediaFilter
func NewMediaFilter() *MediaFilter {
	return &MediaFilter{}
}

// Apply отбрасывает ретвиты, оставляет вложения нужного типа и обрезает до maxResults.
// Пост без подходящих вложений удаляется, кроме mediaType=all и widget-заглушки.
// Входной срез не изменяется.
func (f *MediaFilter) Apply(items []entity.MediaItem, mediaType valueobject.MediaType, maxResults int) []entity.MediaItem {
	result := make([]entity.MediaItem, 0, len(items))

	for _, item := range items {
		if item.IsRepost() {
			continue
		}

		if item.IsWidgetPlaceholder() {
			item.Media = []entity.MediaAsset{}
			result = append(result, item)
			continue
		}

		matching := make([]entity.MediaAsset, 0, len(item.Media))
		for _, asset := range item.Media {
			if mediaType.Accepts(asset.Type) {
				matching = append(matching, asset)
			}
		}

		if len(matching) == 0 && mediaType != valueobject.MediaAll {
			continue
		}

		item.Media = matching
		result = append(result, item)

		if maxResults > 0 && len(result) >= maxResults {
			break
		}
	}

	return result
}

// HasPhotos true если хотя бы у одного поста есть фото
func (f *MediaFilter) HasPhotos(items []entity.MediaItem) bool {
	for _, item := range items {
		for _, asset := range item.Media {
			if asset.Type == valueobject.AssetPhoto {
				return true
			}
		}
	}
	return false
}

// ResolveURL возвращает первый непустой кандидат или "" как признак отсутствия
func ResolveURL(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
