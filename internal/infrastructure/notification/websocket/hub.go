package websocket

import (
	"sync"
	"sync/atomic"

	"github.com/dreschagin/media-relay/internal/application/dto"
	"github.com/dreschagin/media-relay/pkg/logger"
)

const eventQueue = 256

// Message конверт всего, что уходит клиенту: события и ответы на команды
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub раздает события медиа подписчикам (port.NotificationService).
// Множество клиентов принадлежит goroutine Run, остальные методы
// общаются с ней через каналы.
type Hub struct {
	events     chan *dto.MediaEventDTO
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	connected atomic.Int64
	logger    *logger.Logger
}

func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		events:     make(chan *dto.MediaEventDTO, eventQueue),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run обслуживает подписки до Stop
func (h *Hub) Run() {
	clients := make(map[*Client]struct{})

	drop := func(c *Client) {
		if _, ok := clients[c]; !ok {
			return
		}
		delete(clients, c)
		close(c.send)
		h.connected.Store(int64(len(clients)))
	}

	h.logger.Info("WebSocket hub running")
	for {
		select {
		case c := <-h.register:
			clients[c] = struct{}{}
			h.connected.Store(int64(len(clients)))
			h.logger.Debug("Subscriber added", "subject", c.Subject(), "subscribers", len(clients))

		case c := <-h.unregister:
			drop(c)
			h.logger.Debug("Subscriber removed", "subscribers", len(clients))

		case event := <-h.events:
			delivered := 0
			for c := range clients {
				if !c.accepts(event) {
					continue
				}
				select {
				case c.send <- Message{Type: event.Type, Data: event}:
					delivered++
				default:
					// медленный клиент не задерживает остальных
					drop(c)
					h.logger.Warn("Slow subscriber disconnected", "subject", c.Subject())
				}
			}
			h.logger.Debug("Event delivered", "type", event.Type, "subject", event.Subject, "subscribers", delivered)

		case <-h.done:
			for c := range clients {
				drop(c)
			}
			h.logger.Info("WebSocket hub stopped")
			return
		}
	}
}

// Stop завершает Run и закрывает все подписки; повторный вызов безопасен
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastEvent не блокирует: при переполненной очереди событие теряется
func (h *Hub) BroadcastEvent(event *dto.MediaEventDTO) {
	if event == nil {
		return
	}
	select {
	case h.events <- event:
	default:
		h.logger.Warn("Event queue full, event dropped", "type", event.Type, "subject", event.Subject)
	}
}

func (h *Hub) ClientCount() int {
	return int(h.connected.Load())
}
