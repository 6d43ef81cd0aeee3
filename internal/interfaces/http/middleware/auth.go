package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dreschagin/media-relay/pkg/logger"
)

var ErrUnauthorized = errors.New("unauthorized")

// AuthConfig статический Bearer токен для /api и /ws
type AuthConfig struct {
	Enabled     bool
	BearerToken string
}

func Auth(cfg AuthConfig, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := ValidateRequestAuth(r, cfg); err != nil {
				log.Warn("Request rejected by auth",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFrom(r.Context()),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="media-relay"`)
				WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": ErrUnauthorized.Error()})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateRequestAuth сравнивает токен запроса с настроенным за константное время.
// Включенная auth без токена отклоняет все запросы.
func ValidateRequestAuth(r *http.Request, cfg AuthConfig) error {
	if !cfg.Enabled {
		return nil
	}

	want := strings.TrimSpace(cfg.BearerToken)
	got := ExtractToken(r)
	if want == "" || got == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// ExtractToken берет токен из "Authorization: Bearer ...".
// Параметр ?token= принимается только при WebSocket upgrade:
// браузер не может выставить заголовок для new WebSocket().
func ExtractToken(r *http.Request) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}

	if isWebSocketUpgrade(r) {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// WriteJSON пишет payload с заданным статусом
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
