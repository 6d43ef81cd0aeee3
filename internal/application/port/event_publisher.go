package port

import (
	"context"

	"github.com/dreschagin/media-relay/internal/application/dto"
)

// Subject'ы брокера, префикс окружения добавляет реализация
const (
	SubjectMediaFetched  = "media.fetched"
	SubjectMediaArchived = "media.archived"
)

// EventSubject subject брокера для типа события; неизвестный тип дает ""
func EventSubject(eventType string) string {
	switch eventType {
	case dto.EventMediaFetched:
		return SubjectMediaFetched
	case dto.EventMediaArchived:
		return SubjectMediaArchived
	default:
		return ""
	}
}

// EventPublisher доставляет события медиа во внешний брокер (NATS JetStream).
// event.ID используется брокером для дедупликации повторных отправок.
type EventPublisher interface {
	Publish(ctx context.Context, event *dto.MediaEventDTO) error
	Close() error
}
