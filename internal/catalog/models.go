package catalog

import (
	"strings"
	"time"
)

// Product is a catalog entity identified by (category, brand, model).
// Products are created on first ingestion and never deleted.
type Product struct {
	ID       int64
	Category string
	Brand    string
	Model    string
	Rating   float64
}

// Configuration is a RAM/storage variant of a product.
type Configuration struct {
	ID        int64
	ProductID int64
	RAM       int
	ROM       int
	ImageURL  string
}

// Listing is one seller's offer of a configuration at a URL.
type Listing struct {
	ID              int64
	ConfigurationID int64
	Seller          string
	URL             string
	Color           string
	ProductCode     string
	Rating          float64
	RatingCount     int
	Bonus           int64
}

// PriceObservation is one append-only entry of the price ledger.
// Prices are integers in the smallest currency unit.
type PriceObservation struct {
	ID         int64
	ListingID  int64
	Price      int64
	ObservedAt time.Time
}

// ObservedListing is a single validated row from the scraping stage.
type ObservedListing struct {
	Category    string
	Seller      string
	Brand       string
	Model       string
	Color       string
	RAM         int
	ROM         int
	Price       int64
	ImageURL    string
	URL         string
	ProductCode string
	Rating      float64
	RatingCount int
	Bonus       int64
}

// ChangedListing carries an observed listing whose price changed this cycle,
// together with its resolved catalog identity.
type ChangedListing struct {
	Observed        ObservedListing
	ProductID       int64
	ConfigurationID int64
	ListingID       int64
}

// ActualPrice is the latest observation of one listing of a configuration.
type ActualPrice struct {
	ListingID  int64
	Seller     string
	Color      string
	URL        string
	Price      int64
	ObservedAt time.Time
}

// PricePoint is one entry of a configuration's historical price series.
type PricePoint struct {
	Price      int64
	Seller     string
	ObservedAt time.Time
}

// ProductKey resolves a product.
type ProductKey struct {
	Brand string
	Model string
}

// ConfigurationKey resolves a configuration. RAM zero on either side of the
// comparison acts as a wildcard: some sellers omit RAM for single-RAM lines.
type ConfigurationKey struct {
	ProductID int64
	RAM       int
	ROM       int
}

// ListingKey resolves a listing.
type ListingKey struct {
	ConfigurationID int64
	Seller          string
	URL             string
}

// StockSnapshot is the set of listing URLs observed in the current cycle.
// A listing absent from the snapshot is presumed delisted or out of stock.
type StockSnapshot map[string]struct{}

// NewStockSnapshot collects the URLs of a raw observation batch.
func NewStockSnapshot(items []ObservedListing) StockSnapshot {
	snap := make(StockSnapshot, len(items))
	for _, it := range items {
		if u := strings.TrimSpace(it.URL); u != "" {
			snap[u] = struct{}{}
		}
	}
	return snap
}

// Contains reports whether a listing URL was observed this cycle.
func (s StockSnapshot) Contains(url string) bool {
	_, ok := s[url]
	return ok
}
