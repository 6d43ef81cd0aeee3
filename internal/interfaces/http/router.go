package http

import (
	"net/http"

	"github.com/dreschagin/media-relay/internal/infrastructure/observability/prometheus"
	"github.com/dreschagin/media-relay/internal/interfaces/http/handler"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"
	"github.com/dreschagin/media-relay/pkg/config"
	"github.com/dreschagin/media-relay/pkg/logger"
)

// Router настраивает маршруты приложения
type Router struct {
	mux               *http.ServeMux
	mediaAPIHandler   *handler.MediaAPIHandler
	cacheAPIHandler   *handler.CacheAPIHandler
	quotaAPIHandler   *handler.QuotaAPIHandler
	archiveAPIHandler *handler.ArchiveAPIHandler
	websocketHandler  *handler.WebSocketHandler
	metrics           *prometheus.Metrics
	rateLimiter       *middleware.IPRateLimiter
	security          config.SecurityConfig
	logger            *logger.Logger
}

// NewRouter создает новый router. metrics и rateLimiter могут быть nil.
func NewRouter(
	mediaAPIHandler *handler.MediaAPIHandler,
	cacheAPIHandler *handler.CacheAPIHandler,
	quotaAPIHandler *handler.QuotaAPIHandler,
	archiveAPIHandler *handler.ArchiveAPIHandler,
	websocketHandler *handler.WebSocketHandler,
	metrics *prometheus.Metrics,
	rateLimiter *middleware.IPRateLimiter,
	security config.SecurityConfig,
	logger *logger.Logger,
) *Router {
	return &Router{
		mux:               http.NewServeMux(),
		mediaAPIHandler:   mediaAPIHandler,
		cacheAPIHandler:   cacheAPIHandler,
		quotaAPIHandler:   quotaAPIHandler,
		archiveAPIHandler: archiveAPIHandler,
		websocketHandler:  websocketHandler,
		metrics:           metrics,
		rateLimiter:       rateLimiter,
		security:          security,
		logger:            logger,
	}
}

// Setup настраивает все маршруты
func (rt *Router) Setup() http.Handler {
	// Health endpoints are intentionally unauthenticated for probes.
	rt.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	rt.mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if rt.metrics != nil {
		rt.mux.Handle("/metrics", rt.metrics.Handler())
	}

	authMiddleware := middleware.Auth(middleware.AuthConfig{
		Enabled:     rt.security.AuthEnabled,
		BearerToken: rt.security.AuthToken,
	}, rt.logger)

	// api оборачивает JSON эндпоинты: auth, лимит по IP, gzip
	api := func(fn http.HandlerFunc) http.Handler {
		var h http.Handler = middleware.Compression(fn)
		if rt.rateLimiter != nil {
			h = middleware.RateLimit(rt.rateLimiter)(h)
		}
		return authMiddleware(h)
	}

	// WebSocket
	rt.mux.Handle("/ws", authMiddleware(http.HandlerFunc(rt.websocketHandler.HandleConnection)))

	// API endpoints
	rt.mux.Handle("/api/v1/media", api(rt.mediaAPIHandler.GetMedia))
	rt.mux.Handle("/api/v1/quota", api(rt.quotaAPIHandler.GetUsage))
	rt.mux.Handle("/api/v1/cache", api(rt.cacheAPIHandler.Clear))
	rt.mux.Handle("/api/v1/cache/stats", api(rt.cacheAPIHandler.Stats))
	rt.mux.Handle("/api/v1/cache/purge", api(rt.cacheAPIHandler.Purge))
	rt.mux.Handle("/api/v1/archive", api(rt.archiveAPIHandler.HandleArchive))

	// Применяем middleware
	var handler http.Handler = rt.mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = middleware.Logger(rt.logger)(handler)
	handler = middleware.Recovery(rt.logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
