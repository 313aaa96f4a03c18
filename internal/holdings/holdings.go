// Package holdings aggregates flat holding records into the breakdowns the
// dashboard allocation charts draw.
package holdings

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/folio/pkg/models"
	"github.com/shopspring/decimal"
)

var ErrUnknownDimension = errors.New("unknown breakdown dimension")

// Dimension is the attribute holdings are grouped by.
type Dimension string

const (
	ByAssetClass Dimension = "asset_class"
	ByCurrency   Dimension = "currency"
	ByEntity     Dimension = "entity"
)

// ParseDimension accepts the dimension names case-insensitively. An empty
// string selects ByAssetClass.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return ByAssetClass, nil
	case ByAssetClass, ByCurrency, ByEntity:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDimension, s)
	}
}

// sharePlaces is the precision of a slice's percentage share.
const sharePlaces = 2

var (
	hundred   = decimal.NewFromInt(100)
	shareUnit = decimal.New(1, -sharePlaces)
)

// Slice is one group of a breakdown. Share is a percentage of the total.
type Slice struct {
	Key   string          `json:"key"`
	Value decimal.Decimal `json:"value"`
	Share decimal.Decimal `json:"share"`
	Count int             `json:"count"`
}

type Breakdown struct {
	By     Dimension       `json:"by"`
	Total  decimal.Decimal `json:"total"`
	Slices []Slice         `json:"slices"`
}

// Aggregate groups holdings by the given dimension. Slices are ordered by value,
// largest first, ties broken by key. When every value is non-negative and the
// total is positive the shares add up to exactly 100.
func Aggregate(hs []models.Holding, by Dimension) (Breakdown, error) {
	switch by {
	case ByAssetClass, ByCurrency, ByEntity:
	default:
		return Breakdown{}, fmt.Errorf("%w: %q", ErrUnknownDimension, by)
	}

	index := make(map[string]int)
	slices := []Slice{}
	total := decimal.Zero
	for _, h := range hs {
		key := keyOf(h, by)
		i, ok := index[key]
		if !ok {
			i = len(slices)
			index[key] = i
			slices = append(slices, Slice{Key: key, Value: decimal.Zero})
		}
		slices[i].Value = slices[i].Value.Add(h.MarketValue)
		slices[i].Count++
		total = total.Add(h.MarketValue)
	}

	sort.SliceStable(slices, func(a, b int) bool {
		if c := slices[a].Value.Cmp(slices[b].Value); c != 0 {
			return c > 0
		}
		return slices[a].Key < slices[b].Key
	})

	assignShares(slices, total)
	return Breakdown{By: by, Total: total, Slices: slices}, nil
}

func keyOf(h models.Holding, by Dimension) string {
	var key string
	switch by {
	case ByCurrency:
		key = strings.ToUpper(h.Currency)
	case ByEntity:
		key = h.Entity
	default:
		key = string(h.AssetClass)
	}
	if key == "" {
		return "unclassified"
	}
	return key
}

// assignShares uses the largest remainder method so rounded shares still sum
// to 100.
func assignShares(slices []Slice, total decimal.Decimal) {
	if !total.IsPositive() {
		for i := range slices {
			slices[i].Share = decimal.Zero
		}
		return
	}

	balanced := true
	for _, s := range slices {
		if s.Value.IsNegative() {
			balanced = false
			break
		}
	}

	raw := make([]decimal.Decimal, len(slices))
	sum := decimal.Zero
	for i, s := range slices {
		raw[i] = s.Value.Mul(hundred).Div(total)
		if balanced {
			slices[i].Share = raw[i].Truncate(sharePlaces)
		} else {
			slices[i].Share = raw[i].Round(sharePlaces)
		}
		sum = sum.Add(slices[i].Share)
	}
	if !balanced {
		return
	}

	order := make([]int, len(slices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra := raw[order[a]].Sub(slices[order[a]].Share)
		rb := raw[order[b]].Sub(slices[order[b]].Share)
		return ra.GreaterThan(rb)
	})

	missing := hundred.Sub(sum).Div(shareUnit).IntPart()
	for k := 0; k < int(missing) && k < len(order); k++ {
		i := order[k]
		slices[i].Share = slices[i].Share.Add(shareUnit)
	}
}
