package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/folio/internal/backend"
	"github.com/kiranshivaraju/folio/internal/poller"
	"github.com/kiranshivaraju/folio/internal/reports"
	"github.com/kiranshivaraju/folio/internal/store"
	"github.com/kiranshivaraju/folio/pkg/models"
)

// --- mock ReportService ---

type mockReports struct {
	generate func(req models.ReportRequest) (*models.ReportRecord, error)
	status   func(jobID string) (reports.JobView, error)
	refetch  func(jobID string) (reports.JobView, error)
	list     func(filter store.ReportFilter) (*reports.ReportPage, error)
}

func (m *mockReports) Generate(_ context.Context, req models.ReportRequest) (*models.ReportRecord, error) {
	return m.generate(req)
}

func (m *mockReports) Status(_ context.Context, jobID string) (reports.JobView, error) {
	return m.status(jobID)
}

func (m *mockReports) Refetch(_ context.Context, jobID string) (reports.JobView, error) {
	return m.refetch(jobID)
}

func (m *mockReports) List(_ context.Context, filter store.ReportFilter) (*reports.ReportPage, error) {
	return m.list(filter)
}

var testCreatedAt = time.Date(2024, 1, 1, 11, 59, 55, 0, time.UTC)

func acceptingReports(t *testing.T, got *models.ReportRequest) *mockReports {
	t.Helper()
	return &mockReports{generate: func(req models.ReportRequest) (*models.ReportRecord, error) {
		*got = req
		return &models.ReportRecord{
			ID:        uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"),
			JobID:     "job-42",
			Portfolio: req.Portfolio,
			Kind:      req.Kind,
			Status:    models.JobStatusPending,
			CreatedAt: testCreatedAt,
		}, nil
	}}
}

// --- helpers ---

func jsonReq(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest(method, target, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func withJobID(r *http.Request, jobID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobID", jobID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func parseData(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) map[string]any {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

// --- POST /api/v1/reports ---

func TestGenerateReport_Accepted(t *testing.T) {
	var got models.ReportRequest
	h := NewGenerateReportHandler(acceptingReports(t, &got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/reports", map[string]any{
		"portfolio": "family-office",
		"kind":      "quarterly",
		"entity":    "Trust A",
		"currency":  " usd ",
	}))

	data := parseData(t, rec, http.StatusAccepted)
	if data["job_id"] != "job-42" {
		t.Errorf("job_id = %v", data["job_id"])
	}
	if data["report_id"] != "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa" {
		t.Errorf("report_id = %v", data["report_id"])
	}
	if data["status"] != "pending" {
		t.Errorf("status = %v", data["status"])
	}
	if data["created_at"] != "2024-01-01T11:59:55Z" {
		t.Errorf("created_at = %v", data["created_at"])
	}
	if got.Currency != "USD" || got.Entity != "Trust A" {
		t.Errorf("request not forwarded as expected: %+v", got)
	}
}

func TestGenerateReport_InvalidJSON(t *testing.T) {
	var got models.ReportRequest
	h := NewGenerateReportHandler(acceptingReports(t, &got))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/reports", strings.NewReader("{not json"))
	h.ServeHTTP(rec, r)

	code, errCode := parseErr(t, rec)
	if code != http.StatusBadRequest || errCode != "INVALID_REQUEST" {
		t.Errorf("got %d %s", code, errCode)
	}
}

func TestGenerateReport_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"validation", fmt.Errorf("%w: portfolio is required", reports.ErrInvalidRequest), http.StatusBadRequest, "INVALID_REQUEST"},
		{"unreachable", fmt.Errorf("create report job: %w", backend.ErrBackendUnreachable), http.StatusBadGateway, "BACKEND_UNAVAILABLE"},
		{"bad response", backend.ErrBackendResponse, http.StatusBadGateway, "BACKEND_ERROR"},
		{"timeout", backend.ErrBackendTimeout, http.StatusGatewayTimeout, "BACKEND_TIMEOUT"},
		{"duplicate", fmt.Errorf("record report: %w", store.ErrDuplicateKey), http.StatusConflict, "CONFLICT"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewGenerateReportHandler(&mockReports{generate: func(models.ReportRequest) (*models.ReportRecord, error) {
				return nil, tt.err
			}})

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/reports", map[string]any{"portfolio": "p", "kind": "k"}))

			code, errCode := parseErr(t, rec)
			if code != tt.wantCode || errCode != tt.wantErr {
				t.Errorf("got %d %s, want %d %s", code, errCode, tt.wantCode, tt.wantErr)
			}
		})
	}
}

// --- GET /api/v1/reports ---

func TestListReports_CollectionWithMeta(t *testing.T) {
	var gotFilter store.ReportFilter
	h := NewListReportsHandler(&mockReports{list: func(f store.ReportFilter) (*reports.ReportPage, error) {
		gotFilter = f
		return &reports.ReportPage{
			Reports: []*models.ReportRecord{{JobID: "job-1", Status: models.JobStatusCompleted}},
			Total:   5,
			Page:    2,
			Limit:   2,
		}, nil
	}})

	q := url.Values{"portfolio": {"family-office"}, "status": {"completed"}, "page": {"2"}, "limit": {"2"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports?"+q.Encode(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Page    int  `json:"page"`
			Limit   int  `json:"limit"`
			Total   int  `json:"total"`
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 1 || env.Data[0]["job_id"] != "job-1" {
		t.Errorf("data = %v", env.Data)
	}
	if env.Meta.Page != 2 || env.Meta.Limit != 2 || env.Meta.Total != 5 || !env.Meta.HasNext {
		t.Errorf("meta = %+v", env.Meta)
	}
	want := store.ReportFilter{Portfolio: "family-office", Status: models.JobStatusCompleted, Page: 2, Limit: 2}
	if gotFilter != want {
		t.Errorf("filter = %+v, want %+v", gotFilter, want)
	}
}

func TestListReports_LastPageHasNoNext(t *testing.T) {
	h := NewListReportsHandler(&mockReports{list: func(store.ReportFilter) (*reports.ReportPage, error) {
		return &reports.ReportPage{Reports: []*models.ReportRecord{}, Total: 4, Page: 2, Limit: 2}, nil
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil))

	var env struct {
		Meta struct {
			HasNext bool `json:"has_next"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Meta.HasNext {
		t.Error("expected has_next=false on the last page")
	}
}

func TestListReports_InvalidParams(t *testing.T) {
	h := NewListReportsHandler(&mockReports{list: func(store.ReportFilter) (*reports.ReportPage, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}})

	for _, query := range []string{"status=archived", "page=0", "page=abc", "limit=-5"} {
		t.Run(query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports?"+query, nil))

			code, errCode := parseErr(t, rec)
			if code != http.StatusBadRequest || errCode != "INVALID_REQUEST" {
				t.Errorf("got %d %s", code, errCode)
			}
		})
	}
}

// --- GET /api/v1/reports/jobs/{jobID} ---

func TestGetReportJob_Snapshot(t *testing.T) {
	h := NewGetReportJobHandler(&mockReports{status: func(jobID string) (reports.JobView, error) {
		return reports.JobView{
			Snapshot: poller.Snapshot{
				JobID:     jobID,
				State:     poller.StateActive,
				Data:      &models.Job{ID: jobID, Status: models.JobStatusInProgress},
				IsPolling: true,
			},
			ElapsedMS:      12000,
			ElapsedDisplay: "12s",
			Age:            "12s",
		}, nil
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/reports/jobs/job-42", nil), "job-42"))

	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	data := parseData(t, rec, http.StatusOK)
	if data["job_id"] != "job-42" {
		t.Errorf("job_id = %v", data["job_id"])
	}
	if data["state"] != "active" {
		t.Errorf("state = %v", data["state"])
	}
	if data["is_polling"] != true {
		t.Errorf("is_polling = %v", data["is_polling"])
	}
	if data["elapsed_display"] != "12s" {
		t.Errorf("elapsed_display = %v", data["elapsed_display"])
	}
	job, ok := data["data"].(map[string]any)
	if !ok || job["status"] != "in_progress" {
		t.Errorf("data = %v", data["data"])
	}
}

func TestGetReportJob_NotFound(t *testing.T) {
	h := NewGetReportJobHandler(&mockReports{status: func(string) (reports.JobView, error) {
		return reports.JobView{}, backend.ErrJobNotFound
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/reports/jobs/missing", nil), "missing"))

	code, errCode := parseErr(t, rec)
	if code != http.StatusNotFound || errCode != "JOB_NOT_FOUND" {
		t.Errorf("got %d %s", code, errCode)
	}
}

func TestGetReportJob_MissingID(t *testing.T) {
	h := NewGetReportJobHandler(&mockReports{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodGet, "/api/v1/reports/jobs/", nil), " "))

	code, errCode := parseErr(t, rec)
	if code != http.StatusBadRequest || errCode != "INVALID_REQUEST" {
		t.Errorf("got %d %s", code, errCode)
	}
}

// --- POST /api/v1/reports/jobs/{jobID}/refetch ---

func TestRefetchReportJob_AfterTimeout(t *testing.T) {
	var called string
	h := NewRefetchReportJobHandler(&mockReports{refetch: func(jobID string) (reports.JobView, error) {
		called = jobID
		return reports.JobView{Snapshot: poller.Snapshot{
			JobID:      jobID,
			State:      poller.StateTimedOut,
			IsTimedOut: true,
			Data:       &models.Job{ID: jobID, Status: models.JobStatusCompleted},
		}}, nil
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodPost, "/api/v1/reports/jobs/job-7/refetch", nil), "job-7"))

	data := parseData(t, rec, http.StatusOK)
	if called != "job-7" {
		t.Errorf("refetch called with %q", called)
	}
	if data["is_timed_out"] != true || data["is_polling"] != false {
		t.Errorf("unexpected flags: %v", data)
	}
}

func TestRefetchReportJob_BackendDown(t *testing.T) {
	h := NewRefetchReportJobHandler(&mockReports{refetch: func(string) (reports.JobView, error) {
		return reports.JobView{}, backend.ErrBackendUnreachable
	}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withJobID(httptest.NewRequest(http.MethodPost, "/api/v1/reports/jobs/job-7/refetch", nil), "job-7"))

	code, errCode := parseErr(t, rec)
	if code != http.StatusBadGateway || errCode != "BACKEND_UNAVAILABLE" {
		t.Errorf("got %d %s", code, errCode)
	}
}
