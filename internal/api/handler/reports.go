package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/folio/internal/api/response"
	"github.com/kiranshivaraju/folio/internal/reports"
	"github.com/kiranshivaraju/folio/internal/store"
	"github.com/kiranshivaraju/folio/pkg/models"
)

// ReportService defines what the report handlers depend on.
type ReportService interface {
	Generate(ctx context.Context, req models.ReportRequest) (*models.ReportRecord, error)
	Status(ctx context.Context, jobID string) (reports.JobView, error)
	Refetch(ctx context.Context, jobID string) (reports.JobView, error)
	List(ctx context.Context, filter store.ReportFilter) (*reports.ReportPage, error)
}

type generateResponse struct {
	ReportID  string `json:"report_id"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// NewGenerateReportHandler returns an http.HandlerFunc for POST /api/v1/reports.
func NewGenerateReportHandler(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Portfolio string `json:"portfolio"`
			Entity    string `json:"entity"`
			Kind      string `json:"kind"`
			Currency  string `json:"currency"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		record, err := svc.Generate(r.Context(), models.ReportRequest{
			Portfolio: req.Portfolio,
			Entity:    req.Entity,
			Kind:      req.Kind,
			Currency:  strings.ToUpper(strings.TrimSpace(req.Currency)),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Accepted(w, generateResponse{
			ReportID:  record.ID.String(),
			JobID:     record.JobID,
			Status:    string(record.Status),
			CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}

// NewListReportsHandler returns an http.HandlerFunc for GET /api/v1/reports.
func NewListReportsHandler(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.ReportFilter{Portfolio: strings.TrimSpace(q.Get("portfolio"))}

		if raw := q.Get("status"); raw != "" {
			status, err := models.ParseJobStatus(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"status must be one of pending, in_progress, completed, failed", nil)
				return
			}
			filter.Status = status
		}

		var ok bool
		if filter.Page, ok = intParam(w, q.Get("page"), "page"); !ok {
			return
		}
		if filter.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
			return
		}

		page, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Collection(w, page.Reports, response.NewPaginationMeta(page.Page, page.Limit, page.Total))
	}
}

// NewGetReportJobHandler returns an http.HandlerFunc for GET /api/v1/reports/jobs/{jobID}.
func NewGetReportJobHandler(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		view, err := svc.Status(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.NoStore(w)
		response.JSON(w, view)
	}
}

// NewRefetchReportJobHandler returns an http.HandlerFunc for
// POST /api/v1/reports/jobs/{jobID}/refetch.
func NewRefetchReportJobHandler(svc ReportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		view, err := svc.Refetch(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.NoStore(w)
		response.JSON(w, view)
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job id is required", nil)
		return "", false
	}
	return jobID, true
}

// intParam parses an optional positive integer query parameter. Zero means unset.
func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			name+" must be a positive integer", nil)
		return 0, false
	}
	return n, true
}
