package deals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dealwatcher/internal/catalog"
	"dealwatcher/internal/config"
)

type fakePrices struct {
	actual  []catalog.ActualPrice
	history []catalog.PricePoint
}

func (f *fakePrices) ActualPrices(ctx context.Context, configurationID int64) ([]catalog.ActualPrice, error) {
	return f.actual, nil
}

func (f *fakePrices) PriceHistory(ctx context.Context, configurationID int64) ([]catalog.PricePoint, error) {
	return f.history, nil
}

func defaultDealsConfig() config.DealsConfig {
	return config.DealsConfig{
		MinDropPct: 3.0,
		MinDropAbs: 1500,
		TierPcts:   []float64{3, 6, 10, 15, 20},
	}
}

func changedListing(price int64, url string) catalog.ChangedListing {
	return catalog.ChangedListing{
		Observed: catalog.ObservedListing{
			Category: "smartphone",
			Brand:    "acme",
			Model:    "alpha",
			RAM:      8,
			ROM:      256,
			Price:    price,
			URL:      url,
			ImageURL: "https://img.example/alpha.jpg",
		},
		ConfigurationID: 1,
	}
}

func snapshotOf(urls ...string) catalog.StockSnapshot {
	snap := make(catalog.StockSnapshot, len(urls))
	for _, u := range urls {
		snap[u] = struct{}{}
	}
	return snap
}

// Single seller, modest drop: history 10000, 9500, 9500 (one batch), 9200 and
// a new price of 9000 give a baseline of (9000+9200)/2 = 9100, which is only
// about 1.1% above the new price. Not a deal.
func TestEvaluateSingleSellerBelowThreshold(t *testing.T) {
	now := time.Now()
	prices := &fakePrices{
		actual: []catalog.ActualPrice{
			{ListingID: 1, Seller: "shop", Color: "black", URL: "u1", Price: 9000, ObservedAt: now},
		},
		history: []catalog.PricePoint{
			{Price: 9000, Seller: "shop", ObservedAt: now},
			{Price: 9200, Seller: "shop", ObservedAt: now.Add(-1 * time.Hour)},
			{Price: 9500, Seller: "shop", ObservedAt: now.Add(-2*time.Hour + 500*time.Millisecond)},
			{Price: 9500, Seller: "shop", ObservedAt: now.Add(-2 * time.Hour)},
			{Price: 10000, Seller: "shop", ObservedAt: now.Add(-3 * time.Hour)},
		},
	}

	ev := NewEvaluator(prices, defaultDealsConfig(), zerolog.Nop())
	got, err := ev.Evaluate(context.Background(), changedListing(9000, "u1"), snapshotOf("u1"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestEvaluateSingleSellerQualifies(t *testing.T) {
	now := time.Now()
	prices := &fakePrices{
		actual: []catalog.ActualPrice{
			{ListingID: 1, Seller: "shop", Color: "black", URL: "u1", Price: 80000, ObservedAt: now},
		},
		history: []catalog.PricePoint{
			{Price: 80000, Seller: "shop", ObservedAt: now},
			{Price: 90000, Seller: "shop", ObservedAt: now.Add(-1 * time.Hour)},
			{Price: 95000, Seller: "shop", ObservedAt: now.Add(-2 * time.Hour)},
		},
	}

	ev := NewEvaluator(prices, defaultDealsConfig(), zerolog.Nop())
	got, err := ev.Evaluate(context.Background(), changedListing(80000, "u1"), snapshotOf("u1"))
	require.NoError(t, err)
	require.Len(t, got, 1)

	c := got[0]
	require.Equal(t, int64(80000), c.Price)
	// Baseline is the mean of new price and historical minimum.
	require.Equal(t, int64(85000), c.AvgPrice)
	require.Equal(t, int64(90000), c.HistMinPrice)
	require.Equal(t, "shop", c.HistMinSeller)
	require.Equal(t, int64(5000), c.Gap)
}

// Two sellers at 8000 and 8500: the absolute gap to the 8250 average is only
// 250, which fails the absolute-drop floor even though sellers disagree.
func TestEvaluateMultiSellerSmallGap(t *testing.T) {
	now := time.Now()
	prices := &fakePrices{
		actual: []catalog.ActualPrice{
			{ListingID: 1, Seller: "shop-a", Color: "black", URL: "u1", Price: 8000, ObservedAt: now},
			{ListingID: 2, Seller: "shop-b", Color: "black", URL: "u2", Price: 8500, ObservedAt: now},
		},
		history: []catalog.PricePoint{
			{Price: 8000, Seller: "shop-a", ObservedAt: now},
			{Price: 8500, Seller: "shop-b", ObservedAt: now.Add(-1 * time.Hour)},
			{Price: 9000, Seller: "shop-a", ObservedAt: now.Add(-2 * time.Hour)},
		},
	}

	ev := NewEvaluator(prices, defaultDealsConfig(), zerolog.Nop())
	got, err := ev.Evaluate(context.Background(), changedListing(8000, "u1"), snapshotOf("u1", "u2"))
	require.NoError(t, err)
	require.Empty(t, got)
}

// Exact boundary values qualify: 48500 against a 50000 average is exactly a
// 3% drop and exactly a 1500 gap.
func TestEvaluateBoundaryQualifies(t *testing.T) {
	now := time.Now()
	prices := &fakePrices{
		actual: []catalog.ActualPrice{
			{ListingID: 1, Seller: "shop-a", Color: "black", URL: "u1", Price: 48500, ObservedAt: now},
			{ListingID: 2, Seller: "shop-b", Color: "black", URL: "u2", Price: 51500, ObservedAt: now},
		},
		history: []catalog.PricePoint{
			{Price: 48500, Seller: "shop-a", ObservedAt: now},
			{Price: 51500, Seller: "shop-b", ObservedAt: now.Add(-1 * time.Hour)},
		},
	}

	ev := NewEvaluator(prices, defaultDealsConfig(), zerolog.Nop())
	got, err := ev.Evaluate(context.Background(), changedListing(48500, "u1"), snapshotOf("u1", "u2"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(48500), got[0].Price)
	require.Equal(t, int64(1500), got[0].Gap)
}

func TestEvaluateTiedMinimumSpansSellers(t *testing.T) {
	now := time.Now()
	prices := &fakePrices{
		actual: []catalog.ActualPrice{
			{ListingID: 1, Seller: "shop-a", Color: "black", URL: "u1", Price: 40000, ObservedAt: now},
			{ListingID: 2, Seller: "shop-b", Color: "white", URL: "u2", Price: 40000, ObservedAt: now},
			{ListingID: 3, Seller: "shop-c", Color: "black", URL: "u3", Price: 52000, ObservedAt: now},
		},
		history: []catalog.PricePoint{
			{Price: 40000, Seller: "shop-a", ObservedAt: now},
			{Price: 52000, Seller: "shop-c", ObservedAt: now.Add(-1 * time.Hour)},
		},
	}

	ev := NewEvaluator(prices, defaultDealsConfig(), zerolog.Nop())
	got, err := ev.Evaluate(context.Background(), changedListing(40000, "u1"), snapshotOf("u1", "u2", "u3"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "shop-a", got[0].Seller)
	require.Equal(t, "shop-b", got[1].Seller)
	require.Equal(t, got[0].AvgPrice, got[1].AvgPrice)
}

func TestEvaluateOutOfStockListingsAreIgnored(t *testing.T) {
	now := time.Now()
	prices := &fakePrices{
		actual: []catalog.ActualPrice{
			{ListingID: 1, Seller: "shop", Color: "black", URL: "u1", Price: 40000, ObservedAt: now},
		},
		history: []catalog.PricePoint{
			{Price: 40000, Seller: "shop", ObservedAt: now},
			{Price: 50000, Seller: "shop", ObservedAt: now.Add(-1 * time.Hour)},
		},
	}

	ev := NewEvaluator(prices, defaultDealsConfig(), zerolog.Nop())
	got, err := ev.Evaluate(context.Background(), changedListing(40000, "u1"), snapshotOf("other-url"))
	require.NoError(t, err)
	require.Empty(t, got)
}

// A first-ever single-seller batch leaves no usable history once the
// same-batch prefix is skipped.
func TestEvaluateNoBaseline(t *testing.T) {
	now := time.Now()
	prices := &fakePrices{
		actual: []catalog.ActualPrice{
			{ListingID: 1, Seller: "shop", Color: "black", URL: "u1", Price: 40000, ObservedAt: now},
		},
		history: []catalog.PricePoint{
			{Price: 40000, Seller: "shop", ObservedAt: now},
			{Price: 40000, Seller: "shop", ObservedAt: now.Add(-200 * time.Millisecond)},
		},
	}

	ev := NewEvaluator(prices, defaultDealsConfig(), zerolog.Nop())
	_, err := ev.Evaluate(context.Background(), changedListing(40000, "u1"), snapshotOf("u1"))
	require.True(t, errors.Is(err, ErrNoBaseline))
}

func TestHistoricalMinimumMultiSellerKeepsPrefix(t *testing.T) {
	now := time.Now()
	history := []catalog.PricePoint{
		{Price: 8000, Seller: "shop-a", ObservedAt: now},
		{Price: 8500, Seller: "shop-b", ObservedAt: now},
	}

	min, ok := HistoricalMinimum(history, false)
	if !ok {
		t.Fatal("expected a historical minimum")
	}
	if min.Price != 8000 {
		t.Fatalf("expected minimum 8000, got %d", min.Price)
	}
}

func TestTierBounds(t *testing.T) {
	bounds := []float64{3, 6, 10, 15, 20}
	cases := []struct {
		name  string
		price int64
		avg   int64
		want  int
	}{
		{"below first bound", 9800, 10000, 0},
		{"exactly first bound", 9700, 10000, 1},
		{"between bounds", 9200, 10000, 2},
		{"exactly top bound", 8000, 10000, 5},
		{"beyond top bound", 7000, 10000, 5},
		{"zero average", 7000, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Tier(tc.price, tc.avg, bounds); got != tc.want {
				t.Fatalf("Tier(%d, %d) = %d, want %d", tc.price, tc.avg, got, tc.want)
			}
		})
	}
}

func TestPctBelow(t *testing.T) {
	pct := PctBelow(decimal.NewFromInt(48500), decimal.NewFromInt(50000))
	if !pct.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected exactly 3%%, got %s", pct)
	}

	if !PctBelow(decimal.NewFromInt(100), decimal.Zero).IsZero() {
		t.Fatal("zero average must yield zero percent")
	}
}
