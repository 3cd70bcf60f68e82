package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"dealwatcher/internal/catalog"
	"dealwatcher/internal/deals"
	"dealwatcher/internal/render"
)

const simulatedURL = "https://example.invalid/listing"

// SimulateDeal runs a synthetic price scenario through the evaluator and
// prints the caption that would be published. No database or channel is
// touched.
func (a *App) SimulateDeal(ctx context.Context, opts SimulateOptions) error {
	if opts.Price <= 0 {
		return errors.New("--price must be greater than zero")
	}
	if len(opts.History) == 0 {
		return errors.New("--history must list at least one past price")
	}

	prices := newStaticPrices(opts, time.Now().UTC())
	evaluator := deals.NewEvaluator(prices, a.Config.Deals, a.Logger)

	ch := catalog.ChangedListing{
		Observed: catalog.ObservedListing{
			Category: opts.Category,
			Seller:   opts.Seller,
			Brand:    opts.Brand,
			Model:    opts.Model,
			Color:    opts.Color,
			RAM:      opts.RAM,
			ROM:      opts.ROM,
			Price:    opts.Price,
			URL:      simulatedURL,
		},
		ConfigurationID: 1,
	}
	snap := catalog.StockSnapshot{simulatedURL: struct{}{}}

	candidates, err := evaluator.Evaluate(ctx, ch, snap)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Fprintln(os.Stdout, "price change does not qualify as a deal")
		return nil
	}

	c := candidates[0]
	caption := a.newRenderer().Caption(render.Input{
		Category:      c.Category,
		Brand:         c.Brand,
		Model:         c.Model,
		RAM:           c.RAM,
		ROM:           c.ROM,
		Price:         c.Price,
		AvgPrice:      c.AvgPrice,
		HistMinPrice:  c.HistMinPrice,
		HistMinSeller: c.HistMinSeller,
		HistMinAt:     c.HistMinAt,
		Variants:      []render.Variant{{Seller: c.Seller, Color: c.Color, URL: c.URL}},
		Tier:          deals.Tier(c.Price, c.AvgPrice, a.Config.Deals.TierPcts),
		Active:        true,
	})

	fmt.Fprintln(os.Stdout, caption)
	return nil
}

type staticPrices struct {
	actual  []catalog.ActualPrice
	history []catalog.PricePoint
}

// newStaticPrices materialises the synthetic ledger: one in-stock listing at
// the new price, and the given past prices spaced an hour apart, newest first.
// The new price heads the history series itself, the way a freshly appended
// observation would after ingestion.
func newStaticPrices(opts SimulateOptions, now time.Time) *staticPrices {
	s := &staticPrices{
		actual: []catalog.ActualPrice{{
			ListingID:  1,
			Seller:     opts.Seller,
			Color:      opts.Color,
			URL:        simulatedURL,
			Price:      opts.Price,
			ObservedAt: now,
		}},
		history: []catalog.PricePoint{{
			Price:      opts.Price,
			Seller:     opts.Seller,
			ObservedAt: now,
		}},
	}

	for i, price := range opts.History {
		s.history = append(s.history, catalog.PricePoint{
			Price:      price,
			Seller:     opts.Seller,
			ObservedAt: now.Add(-time.Duration(i+1) * time.Hour),
		})
	}
	return s
}

func (s *staticPrices) ActualPrices(ctx context.Context, configurationID int64) ([]catalog.ActualPrice, error) {
	return s.actual, nil
}

func (s *staticPrices) PriceHistory(ctx context.Context, configurationID int64) ([]catalog.PricePoint, error) {
	return s.history, nil
}

var _ catalog.PriceReader = (*staticPrices)(nil)
