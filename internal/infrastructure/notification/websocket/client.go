package websocket

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/dreschagin/media-relay/internal/application/dto"
	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	"github.com/dreschagin/media-relay/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Входящие сообщения только управляющие, им хватает нескольких сотен байт
	maxControlMessage = 512

	sendBuffer  = 256
	replyBuffer = 8
)

// Действия, которые клиент может прислать серверу
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Типы служебных ответов клиенту
const (
	ReplySubscribed = "subscribed"
	ReplyError      = "error"
)

// ControlMessage входящая команда клиента:
//
//	{"action":"subscribe","subject":"alice"}
//	{"action":"unsubscribe"}
type ControlMessage struct {
	Action  string `json:"action"`
	Subject string `json:"subject,omitempty"`
}

// Client одно WebSocket соединение с фильтром по аккаунту.
// Пустой фильтр означает подписку на события всех аккаунтов.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *logger.Logger

	// send закрывает только hub
	send chan Message
	// replies принадлежит клиенту и никогда не закрывается
	replies chan Message

	filter atomic.Value // string
}

// NewClient создает клиента; subject задает начальный фильтр
func NewClient(hub *Hub, conn *websocket.Conn, subject string, logger *logger.Logger) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		logger:  logger,
		send:    make(chan Message, sendBuffer),
		replies: make(chan Message, replyBuffer),
	}
	c.setFilter(subject)
	return c
}

// Subject текущий фильтр клиента
func (c *Client) Subject() string {
	return c.filter.Load().(string)
}

func (c *Client) setFilter(subject string) {
	c.filter.Store(valueobject.NormalizeSubject(subject))
}

func (c *Client) accepts(event *dto.MediaEventDTO) bool {
	subject := c.Subject()
	return subject == "" || subject == event.Subject
}

// handleControl применяет команду и возвращает ответ для клиента
func (c *Client) handleControl(raw []byte) Message {
	var cmd ControlMessage
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return errorReply("malformed control message")
	}

	switch cmd.Action {
	case ActionSubscribe:
		if !valueobject.IsValidSubject(cmd.Subject) {
			return errorReply("invalid subject")
		}
		c.setFilter(cmd.Subject)
	case ActionUnsubscribe:
		c.setFilter("")
	default:
		return errorReply("unknown action " + cmd.Action)
	}

	return Message{Type: ReplySubscribed, Data: map[string]string{"subject": c.Subject()}}
}

func errorReply(msg string) Message {
	return Message{Type: ReplyError, Data: map[string]string{"error": msg}}
}

// ReadPump читает управляющие команды, пока соединение живо.
// Завершение ReadPump снимает клиента с hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConn()
	}()

	c.conn.SetReadLimit(maxControlMessage)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("WebSocket read deadline failed", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket closed unexpectedly", "error", err.Error())
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		reply := c.handleControl(payload)
		select {
		case c.replies <- reply:
		default:
			c.logger.Debug("WebSocket reply dropped", "type", reply.Type)
		}
	}
}

// WritePump единственный писатель в соединение: события hub,
// ответы на команды и ping.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// hub отключил клиента
				c.write(websocket.CloseMessage, nil)
				return
			}
			if !c.writeJSON(msg) {
				return
			}

		case reply := <-c.replies:
			if !c.writeJSON(reply) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) writeJSON(msg Message) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Warn("WebSocket write failed", "type", msg.Type, "error", err.Error())
		return false
	}
	return true
}

func (c *Client) write(kind int, payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	return c.conn.WriteMessage(kind, payload) == nil
}

func (c *Client) closeConn() {
	// Оба pump закрывают соединение, повторный Close возвращает ошибку
	_ = c.conn.Close()
}
