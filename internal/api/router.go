package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/folio/internal/api/middleware"
	"github.com/kiranshivaraju/folio/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler     http.HandlerFunc
	GenerateReport    http.HandlerFunc
	ListReports       http.HandlerFunc
	GetReportJob      http.HandlerFunc
	RefetchReportJob  http.HandlerFunc
	HoldingsBreakdown http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Health check is never rate limited
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Post("/api/v1/reports", orNotImplemented(deps.GenerateReport))
		r.Get("/api/v1/reports", orNotImplemented(deps.ListReports))
		r.Get("/api/v1/reports/jobs/{jobID}", orNotImplemented(deps.GetReportJob))
		r.Post("/api/v1/reports/jobs/{jobID}/refetch", orNotImplemented(deps.RefetchReportJob))

		r.Get("/api/v1/holdings/breakdown", orNotImplemented(deps.HoldingsBreakdown))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
