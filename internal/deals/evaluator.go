package deals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealwatcher/internal/catalog"
	"dealwatcher/internal/config"
)

// ErrNoBaseline indicates a configuration has no usable price history.
// Callers treat it as "no deal", not as a failure.
var ErrNoBaseline = errors.New("deals: configuration has no price history")

// sameBatchWindow bounds the timestamp proximity under which consecutive
// history entries are considered products of one ingestion batch rather than
// independent price points.
const sameBatchWindow = time.Second

// Candidate is a qualified deal for one listing, produced by the evaluator
// and consumed by the notification reconciler within the same cycle.
type Candidate struct {
	ConfigurationID int64
	Category        string
	Brand           string
	Model           string
	RAM             int
	ROM             int
	Seller          string
	Color           string
	URL             string
	ImageURL        string
	Price           int64
	AvgPrice        int64
	HistMinPrice    int64
	HistMinSeller   string
	HistMinAt       time.Time
	Gap             int64
}

// Evaluator decides whether a changed price is a significant deal against a
// rolling historical baseline.
type Evaluator struct {
	prices     catalog.PriceReader
	minDropPct decimal.Decimal
	minDropAbs decimal.Decimal
	logger     zerolog.Logger
}

// NewEvaluator constructs a deal evaluator from the configured thresholds.
func NewEvaluator(prices catalog.PriceReader, cfg config.DealsConfig, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		prices:     prices,
		minDropPct: decimal.NewFromFloat(cfg.MinDropPct),
		minDropAbs: decimal.NewFromInt(cfg.MinDropAbs),
		logger:     logger.With().Str("component", "deals").Logger(),
	}
}

// Evaluate checks one changed listing's configuration. It returns one
// candidate per listing tied at the qualifying minimum price, or an empty
// slice when the price is not a deal.
func (e *Evaluator) Evaluate(ctx context.Context, ch catalog.ChangedListing, snap catalog.StockSnapshot) ([]Candidate, error) {
	actual, err := e.prices.ActualPrices(ctx, ch.ConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("actual prices: %w", err)
	}
	if len(actual) == 0 {
		return nil, nil
	}

	history, err := e.prices.PriceHistory(ctx, ch.ConfigurationID)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}

	singleSeller := SingleSeller(actual)

	histMin, ok := HistoricalMinimum(history, singleSeller)
	if !ok {
		return nil, ErrNoBaseline
	}

	avg := baseline(ch.Observed.Price, histMin.Price, actual, singleSeller)

	inStock := InStock(actual, snap)
	if len(inStock) == 0 {
		e.logger.Debug().
			Int64("configuration_id", ch.ConfigurationID).
			Msg("no in-stock listings for configuration")
		return nil, nil
	}

	tied := TiedMinimum(inStock)
	minPrice := decimal.NewFromInt(tied[0].Price)

	pct := PctBelow(minPrice, avg)
	gap := avg.Sub(minPrice)
	if pct.LessThan(e.minDropPct) || gap.LessThan(e.minDropAbs) {
		e.logger.Debug().
			Int64("configuration_id", ch.ConfigurationID).
			Str("pct_below", pct.StringFixed(2)).
			Str("gap", gap.StringFixed(0)).
			Msg("price change below significance thresholds")
		return nil, nil
	}

	candidates := make([]Candidate, 0, len(tied))
	for _, ap := range tied {
		candidates = append(candidates, Candidate{
			ConfigurationID: ch.ConfigurationID,
			Category:        ch.Observed.Category,
			Brand:           ch.Observed.Brand,
			Model:           ch.Observed.Model,
			RAM:             ch.Observed.RAM,
			ROM:             ch.Observed.ROM,
			Seller:          ap.Seller,
			Color:           ap.Color,
			URL:             ap.URL,
			ImageURL:        ch.Observed.ImageURL,
			Price:           ap.Price,
			AvgPrice:        avg.IntPart(),
			HistMinPrice:    histMin.Price,
			HistMinSeller:   histMin.Seller,
			HistMinAt:       histMin.ObservedAt,
			Gap:             gap.IntPart(),
		})
	}

	e.logger.Info().
		Int64("configuration_id", ch.ConfigurationID).
		Int64("price", tied[0].Price).
		Str("avg", avg.StringFixed(0)).
		Str("pct_below", pct.StringFixed(2)).
		Int("variants", len(candidates)).
		Msg("deal qualified")

	return candidates, nil
}

// SingleSeller reports whether every entry of the actual set shares one seller.
func SingleSeller(actual []catalog.ActualPrice) bool {
	for i := 1; i < len(actual); i++ {
		if actual[i].Seller != actual[0].Seller {
			return false
		}
	}
	return true
}

// HistoricalMinimum finds the lowest historical price of a configuration.
// For a single-seller configuration the contiguous newest-first prefix whose
// timestamps fall within one second of the newest entry is skipped first:
// those rows came from the same ingestion batch and are not independent
// price points. Returns false when no usable history remains.
func HistoricalMinimum(history []catalog.PricePoint, singleSeller bool) (catalog.PricePoint, bool) {
	if len(history) == 0 {
		return catalog.PricePoint{}, false
	}

	start := 0
	if singleSeller {
		newest := history[0].ObservedAt
		for start < len(history) && newest.Sub(history[start].ObservedAt) < sameBatchWindow {
			start++
		}
	}
	if start >= len(history) {
		return catalog.PricePoint{}, false
	}

	min := history[start]
	for _, pt := range history[start+1:] {
		if pt.Price < min.Price {
			min = pt
		}
	}
	return min, true
}

// InStock keeps the actual-set entries whose URL was observed this cycle.
func InStock(actual []catalog.ActualPrice, snap catalog.StockSnapshot) []catalog.ActualPrice {
	result := make([]catalog.ActualPrice, 0, len(actual))
	for _, ap := range actual {
		if snap.Contains(ap.URL) {
			result = append(result, ap)
		}
	}
	return result
}

// TiedMinimum keeps every entry tied at the minimum price. The tie may span
// multiple sellers and colors.
func TiedMinimum(actual []catalog.ActualPrice) []catalog.ActualPrice {
	if len(actual) == 0 {
		return nil
	}

	min := actual[0].Price
	for _, ap := range actual[1:] {
		if ap.Price < min {
			min = ap.Price
		}
	}

	result := make([]catalog.ActualPrice, 0, len(actual))
	for _, ap := range actual {
		if ap.Price == min {
			result = append(result, ap)
		}
	}
	return result
}

// PctBelow computes how many percent price sits below the baseline average.
func PctBelow(price, avg decimal.Decimal) decimal.Decimal {
	if avg.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(100).Sub(price.Div(avg).Mul(decimal.NewFromInt(100)))
}

// Tier maps a price's percent-below-baseline onto the highest significance
// tier whose lower bound is met, from 0 (none) through 5.
func Tier(price, avg int64, tierPcts []float64) int {
	if avg <= 0 {
		return 0
	}

	pct := PctBelow(decimal.NewFromInt(price), decimal.NewFromInt(avg))
	tier := 0
	for i, bound := range tierPcts {
		if pct.GreaterThanOrEqual(decimal.NewFromFloat(bound)) {
			tier = i + 1
		}
	}
	return tier
}

// baseline computes the reference price for the significance test: the mean
// of (new price, historical minimum) when a single seller carries the
// configuration, otherwise the mean of the whole actual set.
func baseline(newPrice, histMin int64, actual []catalog.ActualPrice, singleSeller bool) decimal.Decimal {
	if singleSeller {
		return decimal.NewFromInt(newPrice).
			Add(decimal.NewFromInt(histMin)).
			Div(decimal.NewFromInt(2))
	}

	sum := decimal.Zero
	for _, ap := range actual {
		sum = sum.Add(decimal.NewFromInt(ap.Price))
	}
	return sum.Div(decimal.NewFromInt(int64(len(actual))))
}
