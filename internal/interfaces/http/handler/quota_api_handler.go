package handler

import (
	"net/http"

	"github.com/dreschagin/media-relay/internal/domain/service"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"
)

// QuotaReporter источник снимка квоты (service.QuotaGovernor)
type QuotaReporter interface {
	UsageSnapshot() service.QuotaUsage
}

type QuotaAPIHandler struct {
	quota QuotaReporter
}

func NewQuotaAPIHandler(quota QuotaReporter) *QuotaAPIHandler {
	return &QuotaAPIHandler{quota: quota}
}

// GetUsage GET /api/v1/quota
func (h *QuotaAPIHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, h.quota.UsageSnapshot())
}
