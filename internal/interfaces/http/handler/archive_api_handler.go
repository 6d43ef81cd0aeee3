package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dreschagin/media-relay/internal/application/usecase"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"
	"github.com/dreschagin/media-relay/pkg/logger"
)

const maxArchiveRequestBytes = 4 * 1024

// ArchiveAPIHandler просмотр архива и синхронный запуск архивации
type ArchiveAPIHandler struct {
	fetchMediaUC   *usecase.FetchMediaUseCase
	archiveMediaUC *usecase.ArchiveMediaUseCase
	listArchiveUC  *usecase.ListArchivedAssetsUseCase
	logger         *logger.Logger
}

// NewArchiveAPIHandler; archiveMediaUC и listArchiveUC равны nil, если архив выключен
func NewArchiveAPIHandler(
	fetchMediaUC *usecase.FetchMediaUseCase,
	archiveMediaUC *usecase.ArchiveMediaUseCase,
	listArchiveUC *usecase.ListArchivedAssetsUseCase,
	logger *logger.Logger,
) *ArchiveAPIHandler {
	return &ArchiveAPIHandler{
		fetchMediaUC:   fetchMediaUC,
		archiveMediaUC: archiveMediaUC,
		listArchiveUC:  listArchiveUC,
		logger:         logger,
	}
}

type archiveRequest struct {
	Subject    string `json:"subject"`
	MaxResults int    `json:"max_results"`
}

type archiveResponse struct {
	Subject     string `json:"subject"`
	SourceLabel string `json:"source_label"`
	*usecase.ArchiveBatchResult
}

// HandleArchive GET /api/v1/archive (список) и POST /api/v1/archive (запуск)
func (h *ArchiveAPIHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiveMediaUC == nil || h.listArchiveUC == nil {
		middleware.WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "archive is disabled"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.run(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *ArchiveAPIHandler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cmd := usecase.ListArchivedAssetsCommand{
		Subject: query.Get("subject"),
		Cursor:  query.Get("cursor"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, errInvalidParam("limit"))
			return
		}
		cmd.Limit = limit
	}

	result, err := h.listArchiveUC.Execute(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}

func (h *ArchiveAPIHandler) run(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxArchiveRequestBytes)
	defer r.Body.Close()

	var req archiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.MaxResults == 0 {
		req.MaxResults = defaultMaxResults
	}

	fetched, err := h.fetchMediaUC.Execute(r.Context(), usecase.FetchMediaCommand{
		Subject:    req.Subject,
		MediaType:  "photos",
		MaxResults: req.MaxResults,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	batch, err := h.archiveMediaUC.Execute(r.Context(), fetched.Items)
	if err != nil {
		h.logger.Error("Synchronous archive failed", err,
			"subject", req.Subject,
			"request_id", middleware.RequestIDFrom(r.Context()),
		)
		writeError(w, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, archiveResponse{
		Subject:            req.Subject,
		SourceLabel:        fetched.SourceLabel,
		ArchiveBatchResult: batch,
	})
}
