package port

import "github.com/dreschagin/media-relay/internal/application/dto"

// NotificationService рассылает события подключенным клиентам (WebSocket Hub)
type NotificationService interface {
	// BroadcastEvent отправляет событие всем подключенным клиентам
	BroadcastEvent(event *dto.MediaEventDTO)

	// ClientCount возвращает количество подключенных клиентов
	ClientCount() int
}
