package handler

import (
	"net/http"

	"github.com/dreschagin/media-relay/internal/application/usecase"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"
	"github.com/dreschagin/media-relay/pkg/logger"
)

// MediaAPIHandler отдает медиа аккаунта через цепочку провайдеров
type MediaAPIHandler struct {
	fetchMediaUC *usecase.FetchMediaUseCase
	logger       *logger.Logger
}

func NewMediaAPIHandler(fetchMediaUC *usecase.FetchMediaUseCase, logger *logger.Logger) *MediaAPIHandler {
	return &MediaAPIHandler{
		fetchMediaUC: fetchMediaUC,
		logger:       logger,
	}
}

// GetMedia GET /api/v1/media?subject=&type=&max_results=
func (h *MediaAPIHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	cmd, err := mediaCommandFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.fetchMediaUC.Execute(r.Context(), cmd)
	if err != nil {
		h.logger.Warn("Fetch media failed",
			"subject", cmd.Subject,
			"type", cmd.MediaType,
			"request_id", middleware.RequestIDFrom(r.Context()),
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}
