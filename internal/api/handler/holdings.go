package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/folio/internal/api/response"
	"github.com/kiranshivaraju/folio/internal/holdings"
	"github.com/kiranshivaraju/folio/pkg/models"
)

// HoldingsLister supplies the flat holdings a breakdown is built from.
type HoldingsLister interface {
	ListHoldings(ctx context.Context, entity string) ([]models.Holding, error)
}

// NewHoldingsBreakdownHandler returns an http.HandlerFunc for
// GET /api/v1/holdings/breakdown.
func NewHoldingsBreakdownHandler(src HoldingsLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		by, err := holdings.ParseDimension(q.Get("by"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		hs, err := src.ListHoldings(r.Context(), strings.TrimSpace(q.Get("entity")))
		if err != nil {
			writeError(w, r, err)
			return
		}

		breakdown, err := holdings.Aggregate(hs, by)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, breakdown)
	}
}
