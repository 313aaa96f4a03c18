package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/folio/internal/backend"
	"github.com/kiranshivaraju/folio/pkg/models"
	"github.com/shopspring/decimal"
)

type mockHoldings struct {
	entity string
	hs     []models.Holding
	err    error
}

func (m *mockHoldings) ListHoldings(_ context.Context, entity string) ([]models.Holding, error) {
	m.entity = entity
	return m.hs, m.err
}

func sampleHoldings() []models.Holding {
	return []models.Holding{
		{Entity: "Trust A", AssetClass: models.AssetClassEquity, Currency: "usd", Name: "ACME", MarketValue: decimal.NewFromInt(750)},
		{Entity: "Trust A", AssetClass: models.AssetClassCash, Currency: "EUR", Name: "Deposit", MarketValue: decimal.NewFromInt(250)},
	}
}

func TestHoldingsBreakdown_DefaultsToAssetClass(t *testing.T) {
	src := &mockHoldings{hs: sampleHoldings()}
	h := NewHoldingsBreakdownHandler(src)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/holdings/breakdown?entity=Trust+A", nil))

	data := parseData(t, rec, http.StatusOK)
	if data["by"] != "asset_class" {
		t.Errorf("by = %v", data["by"])
	}
	if data["total"] != "1000" {
		t.Errorf("total = %v", data["total"])
	}
	slices, ok := data["slices"].([]any)
	if !ok || len(slices) != 2 {
		t.Fatalf("slices = %v", data["slices"])
	}
	first := slices[0].(map[string]any)
	if first["key"] != string(models.AssetClassEquity) || first["share"] != "75" {
		t.Errorf("first slice = %v", first)
	}
	if src.entity != "Trust A" {
		t.Errorf("entity = %q", src.entity)
	}
}

func TestHoldingsBreakdown_ByCurrency(t *testing.T) {
	h := NewHoldingsBreakdownHandler(&mockHoldings{hs: sampleHoldings()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/holdings/breakdown?by=currency", nil))

	data := parseData(t, rec, http.StatusOK)
	slices := data["slices"].([]any)
	if slices[0].(map[string]any)["key"] != "USD" {
		t.Errorf("currency keys should be upper-cased: %v", slices)
	}
}

func TestHoldingsBreakdown_UnknownDimension(t *testing.T) {
	h := NewHoldingsBreakdownHandler(&mockHoldings{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/holdings/breakdown?by=sector", nil))

	code, errCode := parseErr(t, rec)
	if code != http.StatusBadRequest || errCode != "UNKNOWN_DIMENSION" {
		t.Errorf("got %d %s", code, errCode)
	}
}

func TestHoldingsBreakdown_BackendTimeout(t *testing.T) {
	h := NewHoldingsBreakdownHandler(&mockHoldings{err: backend.ErrBackendTimeout})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/holdings/breakdown", nil))

	code, errCode := parseErr(t, rec)
	if code != http.StatusGatewayTimeout || errCode != "BACKEND_TIMEOUT" {
		t.Errorf("got %d %s", code, errCode)
	}
}
