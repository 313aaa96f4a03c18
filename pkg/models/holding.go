package models

import "github.com/shopspring/decimal"

// AssetClass groups holdings for allocation charts.
type AssetClass string

const (
	AssetClassEquity         AssetClass = "equity"
	AssetClassBond           AssetClass = "bond"
	AssetClassStructuredNote AssetClass = "structured_note"
	AssetClassAlternative    AssetClass = "alternative"
	AssetClassCommodity      AssetClass = "commodity"
	AssetClassCash           AssetClass = "cash"
)

// Holding is one flat position record as served by the portfolio backend.
// MarketValue is expressed in the reporting currency.
type Holding struct {
	Entity      string          `json:"entity"`
	AssetClass  AssetClass      `json:"asset_class"`
	Currency    string          `json:"currency"`
	Name        string          `json:"name"`
	MarketValue decimal.Decimal `json:"market_value"`
}
