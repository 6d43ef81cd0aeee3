package dto

import (
	"time"

	"github.com/google/uuid"
)

// Типы событий медиа-подсистемы
const (
	EventMediaFetched  = "media_fetched"
	EventMediaArchived = "media_archived"
)

// MediaEventDTO событие для NATS и WebSocket клиентов
type MediaEventDTO struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Subject     string    `json:"subject"`
	MediaType   string    `json:"media_type,omitempty"`
	SourceLabel string    `json:"source_label,omitempty"`
	ItemCount   int       `json:"item_count"`
	Saved       int       `json:"saved,omitempty"`
	Failed      int       `json:"failed,omitempty"`
	Skipped     int       `json:"skipped,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewFetchedEvent создает событие об успешном получении медиа
func NewFetchedEvent(subject, mediaType, sourceLabel string, itemCount int) *MediaEventDTO {
	return &MediaEventDTO{
		ID:          uuid.NewString(),
		Type:        EventMediaFetched,
		Subject:     subject,
		MediaType:   mediaType,
		SourceLabel: sourceLabel,
		ItemCount:   itemCount,
		OccurredAt:  time.Now().UTC(),
	}
}

// NewArchivedEvent создает событие о завершении архивации пачки
func NewArchivedEvent(subject string, saved, failed, skipped int) *MediaEventDTO {
	return &MediaEventDTO{
		ID:         uuid.NewString(),
		Type:       EventMediaArchived,
		Subject:    subject,
		ItemCount:  saved + failed + skipped,
		Saved:      saved,
		Failed:     failed,
		Skipped:    skipped,
		OccurredAt: time.Now().UTC(),
	}
}
