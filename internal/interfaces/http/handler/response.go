package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dreschagin/media-relay/internal/application/usecase"
	"github.com/dreschagin/media-relay/internal/interfaces/http/middleware"
)

// Значения по умолчанию для query параметров
const (
	defaultMediaType  = "photos"
	defaultMaxResults = 20
)

type errorResponse struct {
	Error    string                `json:"error"`
	Failures []usecase.TierFailure `json:"failures,omitempty"`
}

// writeError переводит ошибки use case в HTTP статус
func writeError(w http.ResponseWriter, err error) {
	var allFailed *usecase.AllProvidersFailedError
	switch {
	case errors.As(err, &allFailed):
		middleware.WriteJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Failures: allFailed.Failures})
	case errors.Is(err, usecase.ErrInvalidQuery):
		middleware.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		middleware.WriteJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "request timed out"})
	default:
		middleware.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	middleware.WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

// mediaCommandFromQuery читает subject, type и max_results
func mediaCommandFromQuery(r *http.Request) (usecase.FetchMediaCommand, error) {
	query := r.URL.Query()

	cmd := usecase.FetchMediaCommand{
		Subject:    query.Get("subject"),
		MediaType:  query.Get("type"),
		MaxResults: defaultMaxResults,
	}
	if cmd.MediaType == "" {
		cmd.MediaType = defaultMediaType
	}
	if raw := query.Get("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cmd, errInvalidParam("max_results")
		}
		cmd.MaxResults = n
	}

	return cmd, nil
}

func errInvalidParam(name string) error {
	return &paramError{name: name}
}

type paramError struct {
	name string
}

func (e *paramError) Error() string {
	return usecase.ErrInvalidQuery.Error() + ": " + e.name + " must be an integer"
}

func (e *paramError) Unwrap() error {
	return usecase.ErrInvalidQuery
}
