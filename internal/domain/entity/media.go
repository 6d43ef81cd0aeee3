package entity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dreschagin/media-relay/internal/domain/valueobject"
)

// MediaAsset одно медиа-вложение поста (фото, видео, gif)
type MediaAsset struct {
	MediaKey        string                `json:"media_key"`
	Type            valueobject.AssetType `json:"type"`
	URL             string                `json:"url"`
	PreviewImageURL string                `json:"preview_image_url,omitempty"`
	// Variants передаются как есть, без интерпретации
	Variants json.RawMessage `json:"variants,omitempty"`
}

// MediaItem нормализованный пост с вложениями
type MediaItem struct {
	ID              string       `json:"id"`
	Text            string       `json:"text"`
	Media           []MediaAsset `json:"media"`
	CreatedAt       time.Time    `json:"created_at"`
	SubjectUsername string       `json:"subject_username"`
	ProfileImageURL string       `json:"profile_image_url,omitempty"`
	IsRetweet       bool         `json:"is_retweet"`
	WidgetHTML      string       `json:"widget_html,omitempty"`
}

// IsRepost true если провайдер пометил пост как ретвит или текст начинается с "RT @"
func (m *MediaItem) IsRepost() bool {
	return m.IsRetweet || strings.HasPrefix(m.Text, "RT @")
}

// IsWidgetPlaceholder true для деградированного embed-результата
func (m *MediaItem) IsWidgetPlaceholder() bool {
	return m.WidgetHTML != ""
}

// HasMedia true если у поста есть хотя бы одно вложение
func (m *MediaItem) HasMedia() bool {
	return len(m.Media) > 0
}

// MediaQueryResult результат запроса медиа для одного аккаунта
type MediaQueryResult struct {
	Items       []MediaItem `json:"items"`
	TotalCount  int         `json:"total_count"`
	SourceLabel string      `json:"source_label"`
}

// NewMediaQueryResult собирает результат и выставляет TotalCount
func NewMediaQueryResult(items []MediaItem, sourceLabel string) *MediaQueryResult {
	if items == nil {
		items = []MediaItem{}
	}
	return &MediaQueryResult{
		Items:       items,
		TotalCount:  len(items),
		SourceLabel: sourceLabel,
	}
}

// IsDegraded true если результат состоит только из widget-заглушки
func (r *MediaQueryResult) IsDegraded() bool {
	if r == nil || len(r.Items) == 0 {
		return false
	}
	for i := range r.Items {
		if !r.Items[i].IsWidgetPlaceholder() {
			return false
		}
	}
	return true
}

// HasAnyMedia true если хотя бы один пост содержит вложения
func (r *MediaQueryResult) HasAnyMedia() bool {
	if r == nil {
		return false
	}
	for i := range r.Items {
		if r.Items[i].HasMedia() {
			return true
		}
	}
	return false
}

// WithSource возвращает копию результата с другой меткой источника
func (r *MediaQueryResult) WithSource(label string) *MediaQueryResult {
	clone := *r
	clone.SourceLabel = label
	return &clone
}
