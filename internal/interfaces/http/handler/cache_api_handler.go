package handler

import (
	"net/http"

	"github.com/dreschagin/media-relay/internal/application/port"
	"github.com/dreschagin/media-relay/internal/application/usecase"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"
	"github.com/dreschagin/media-relay/pkg/logger"
)

type CacheAPIHandler struct {
	manageCacheUC *usecase.ManageCacheUseCase
	logger        *logger.Logger
}

func NewCacheAPIHandler(manageCacheUC *usecase.ManageCacheUseCase, logger *logger.Logger) *CacheAPIHandler {
	return &CacheAPIHandler{
		manageCacheUC: manageCacheUC,
		logger:        logger,
	}
}

type cacheStatsResponse struct {
	Backends []port.CacheStats `json:"backends"`
}

// Stats GET /api/v1/cache/stats
func (h *CacheAPIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, cacheStatsResponse{Backends: h.manageCacheUC.Stats(r.Context())})
}

// Clear DELETE /api/v1/cache?subject=&type=&max_results=
func (h *CacheAPIHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}

	cmd, err := mediaCommandFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cleared, err := h.manageCacheUC.Clear(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

// Purge POST /api/v1/cache/purge
func (h *CacheAPIHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	removed, err := h.manageCacheUC.Purge(r.Context())
	if err != nil {
		// Частичный результат все равно возвращаем
		middleware.WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"removed": removed,
			"error":   err.Error(),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
