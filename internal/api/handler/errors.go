package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/folio/internal/api/response"
	"github.com/kiranshivaraju/folio/internal/backend"
	"github.com/kiranshivaraju/folio/internal/holdings"
	"github.com/kiranshivaraju/folio/internal/reports"
	"github.com/kiranshivaraju/folio/internal/store"
)

// writeError maps service and backend errors onto the API error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, reports.ErrInvalidRequest):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, holdings.ErrUnknownDimension):
		response.Error(w, http.StatusBadRequest, "UNKNOWN_DIMENSION", err.Error(), nil)
	case errors.Is(err, backend.ErrJobNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Report job not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "CONFLICT", "Report job already recorded", nil)
	case errors.Is(err, backend.ErrBackendTimeout):
		response.Error(w, http.StatusGatewayTimeout, "BACKEND_TIMEOUT",
			"The reporting backend took too long to respond", nil)
	case errors.Is(err, backend.ErrBackendUnreachable):
		response.Error(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE",
			"The reporting backend is not available", nil)
	case errors.Is(err, backend.ErrBackendResponse):
		response.Error(w, http.StatusBadGateway, "BACKEND_ERROR",
			"The reporting backend returned an unexpected response", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
