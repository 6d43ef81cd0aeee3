package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dreschagin/media-relay/internal/domain/entity"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

var embeddedImagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://pbs\.twimg\.com/media/[A-Za-z0-9_-]+(?:\.(?:jpg|jpeg|png|webp)|\?format=[a-z]+(?:&name=[a-z0-9]+)?)`),
	regexp.MustCompile(`https?://i\.imgur\.com/[A-Za-z0-9]+\.(?:jpg|jpeg|png|gif|webp)`),
	regexp.MustCompile(`https?://[^\s"'<>]+\.(?:jpg|jpeg|png|webp|gif)(?:\?[^\s"'<>]*)?`),
}

// ExtractEmbeddedImages ищет в тексте прямые ссылки на изображения
func ExtractEmbeddedImages(text string) []entity.MediaAsset {
	seen := make(map[string]struct{})
	assets := make([]entity.MediaAsset, 0)

	for _, pattern := range embeddedImagePatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			match = strings.TrimRight(match, ".,;:!?)")
			if coveredBy(seen, match) {
				continue
			}
			if strings.Contains(match, "/profile_images/") {
				continue
			}
			seen[match] = struct{}{}
			assets = append(assets, entity.MediaAsset{
				MediaKey: fmt.Sprintf("embedded_%d", len(assets)),
				Type:     valueobject.AssetPhoto,
				URL:      match,
			})
		}
	}

	return assets
}

// AttachEmbeddedPhotos добавляет найденные в тексте изображения постам без фото.
// Возвращает новый срез; исходные посты не изменяются.
func AttachEmbeddedPhotos(items []entity.MediaItem) []entity.MediaItem {
	result := make([]entity.MediaItem, 0, len(items))
	for _, item := range items {
		if item.IsWidgetPlaceholder() || hasPhoto(item) {
			result = append(result, item)
			continue
		}
		embedded := ExtractEmbeddedImages(item.Text)
		if len(embedded) > 0 {
			media := make([]entity.MediaAsset, 0, len(item.Media)+len(embedded))
			media = append(media, item.Media...)
			item.Media = append(media, embedded...)
		}
		result = append(result, item)
	}
	return result
}

func coveredBy(seen map[string]struct{}, candidate string) bool {
	for url := range seen {
		if strings.HasPrefix(candidate, url) {
			return true
		}
	}
	return false
}

func hasPhoto(item entity.MediaItem) bool {
	for _, asset := range item.Media {
		if asset.Type == valueobject.AssetPhoto {
			return true
		}
	}
	return false
}
