package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dreschagin/media-relay/internal/domain/valueobject"
	wsInfra "github.com/dreschagin/media-relay/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"
	"github.com/dreschagin/media-relay/pkg/logger"
	"github.com/gorilla/websocket"
)

// WebSocketHandler отдает поток событий media_fetched/media_archived.
// GET /ws?subject=alice подписывает соединение на один аккаунт.
type WebSocketHandler struct {
	hub      *wsInfra.Hub
	auth     middleware.AuthConfig
	origins  originPolicy
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewWebSocketHandler(
	hub *wsInfra.Hub,
	allowedOrigins []string,
	authConfig middleware.AuthConfig,
	logger *logger.Logger,
) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:     hub,
		auth:    authConfig,
		origins: newOriginPolicy(allowedOrigins),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  512,
		WriteBufferSize: 4096,
		CheckOrigin:     h.origins.allows,
	}
	return h
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	// Handler может быть смонтирован без auth middleware
	if err := middleware.ValidateRequestAuth(r, h.auth); err != nil {
		h.logger.Warn("WebSocket auth rejected", "remote_addr", r.RemoteAddr)
		middleware.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	subject := r.URL.Query().Get("subject")
	if subject != "" && !valueobject.IsValidSubject(subject) {
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid subject filter"})
		return
	}

	// Upgrade сам отвечает клиенту при ошибке
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err.Error())
		return
	}

	client := wsInfra.NewClient(h.hub, conn, subject, h.logger)
	h.hub.Register(client)
	h.logger.Debug("WebSocket subscriber joined", "subject", client.Subject(), "remote_addr", r.RemoteAddr)

	go client.WritePump()
	go client.ReadPump()
}

// originPolicy список разрешенных origin в виде scheme://host.
// "*" разрешает любой origin, пустой список запрещает все.
type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch {
		case o == "":
		case o == "*":
			p.any = true
		default:
			if normalized, ok := normalizeOrigin(o); ok {
				p.allowed[normalized] = struct{}{}
			}
		}
	}
	return p
}

func (p originPolicy) allows(r *http.Request) bool {
	origin, ok := normalizeOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	if p.any {
		return true
	}
	_, ok = p.allowed[origin]
	return ok
}

func normalizeOrigin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}
