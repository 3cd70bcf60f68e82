package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dealwatcher/internal/catalog"
)

// ErrInvalidListing marks an observed listing with missing required fields.
var ErrInvalidListing = errors.New("ingest: invalid observed listing")

// Result classifies what one reconciled observation changed in the catalog.
type Result int

const (
	// ResultUnchanged means the listing's latest ledger price equals the
	// observed price. Nothing is written, not even a timestamp refresh.
	ResultUnchanged Result = iota
	// ResultPriceChanged means a new observation was appended to the ledger.
	ResultPriceChanged
	// ResultNewListing means the seller/URL pair was first seen for its configuration.
	ResultNewListing
	// ResultNewConfiguration means the RAM/ROM pair was first seen for its product.
	ResultNewConfiguration
	// ResultNewProduct means the brand/model pair was first seen.
	ResultNewProduct
)

func (r Result) String() string {
	switch r {
	case ResultUnchanged:
		return "unchanged"
	case ResultPriceChanged:
		return "price_changed"
	case ResultNewListing:
		return "new_listing"
	case ResultNewConfiguration:
		return "new_configuration"
	case ResultNewProduct:
		return "new_product"
	default:
		return "unknown"
	}
}

// Outcome reports one reconciled observation together with the catalog
// identity it resolved to.
type Outcome struct {
	Result          Result
	ProductID       int64
	ConfigurationID int64
	ListingID       int64
}

// Reconciler resolves observed listings to catalog identity and appends
// price observations.
type Reconciler struct {
	store  catalog.EntityStore
	logger zerolog.Logger
}

// NewReconciler constructs an ingestion reconciler.
func NewReconciler(store catalog.EntityStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// Validate checks the required fields of an observed listing. The scraping
// stage pre-validates, but a malformed row must never cause a partial write.
func Validate(o catalog.ObservedListing) error {
	switch {
	case o.Category == "":
		return fmt.Errorf("%w: empty category", ErrInvalidListing)
	case o.Seller == "":
		return fmt.Errorf("%w: empty seller", ErrInvalidListing)
	case o.Brand == "":
		return fmt.Errorf("%w: empty brand", ErrInvalidListing)
	case o.Model == "":
		return fmt.Errorf("%w: empty model", ErrInvalidListing)
	case o.Color == "":
		return fmt.Errorf("%w: empty color", ErrInvalidListing)
	case o.ImageURL == "":
		return fmt.Errorf("%w: empty image url", ErrInvalidListing)
	case o.ProductCode == "":
		return fmt.Errorf("%w: empty product code", ErrInvalidListing)
	case o.ROM == 0:
		return fmt.Errorf("%w: zero storage size", ErrInvalidListing)
	case o.Price == 0:
		return fmt.Errorf("%w: zero price", ErrInvalidListing)
	}
	return nil
}

// Reconcile resolves one observed listing in product → configuration →
// listing → observation order, inserting whatever is missing.
func (r *Reconciler) Reconcile(ctx context.Context, o catalog.ObservedListing, at time.Time) (Outcome, error) {
	if err := Validate(o); err != nil {
		return Outcome{}, err
	}

	product, err := r.store.FindProduct(ctx, catalog.ProductKey{Brand: o.Brand, Model: o.Model})
	if errors.Is(err, catalog.ErrNotFound) {
		return r.insertProduct(ctx, o, at)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve product: %w", err)
	}

	cfg, err := r.store.FindConfiguration(ctx, catalog.ConfigurationKey{
		ProductID: product.ID,
		RAM:       o.RAM,
		ROM:       o.ROM,
	})
	if errors.Is(err, catalog.ErrNotFound) {
		return r.insertConfiguration(ctx, product.ID, o, at)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve configuration: %w", err)
	}

	listing, err := r.store.FindListing(ctx, catalog.ListingKey{
		ConfigurationID: cfg.ID,
		Seller:          o.Seller,
		URL:             o.URL,
	})
	if errors.Is(err, catalog.ErrNotFound) {
		listingID, insErr := r.insertListing(ctx, cfg.ID, o, at)
		if insErr != nil {
			return Outcome{}, insErr
		}
		return Outcome{
			Result:          ResultNewListing,
			ProductID:       product.ID,
			ConfigurationID: cfg.ID,
			ListingID:       listingID,
		}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve listing: %w", err)
	}

	latest, err := r.store.LatestObservation(ctx, listing.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("latest observation: %w", err)
	}

	outcome := Outcome{
		ProductID:       product.ID,
		ConfigurationID: cfg.ID,
		ListingID:       listing.ID,
	}

	if latest.Price == o.Price {
		// The original system intended to refresh the observation timestamp
		// here but never did; the unchanged path stays a no-op.
		outcome.Result = ResultUnchanged
		return outcome, nil
	}

	if err := r.store.AppendObservation(ctx, listing.ID, o.Price, at); err != nil {
		return Outcome{}, err
	}
	outcome.Result = ResultPriceChanged
	return outcome, nil
}

// ReconcileBatch reconciles a cycle's observations. A failed item is logged
// and skipped; the batch never aborts. The returned changed-listing set is
// deduplicated by (configuration, price).
func (r *Reconciler) ReconcileBatch(ctx context.Context, batch []catalog.ObservedListing, at time.Time) []catalog.ChangedListing {
	type changeKey struct {
		configurationID int64
		price           int64
	}

	changed := make([]catalog.ChangedListing, 0)
	seen := make(map[changeKey]struct{})

	for _, o := range batch {
		outcome, err := r.Reconcile(ctx, o, at)
		if errors.Is(err, ErrInvalidListing) {
			r.logger.Warn().Err(err).
				Str("brand", o.Brand).
				Str("model", o.Model).
				Str("seller", o.Seller).
				Str("code", o.ProductCode).
				Msg("skipping malformed observed listing")
			continue
		}
		if err != nil {
			r.logger.Error().Err(err).
				Str("brand", o.Brand).
				Str("model", o.Model).
				Str("seller", o.Seller).
				Str("url", o.URL).
				Msg("failed to reconcile observed listing")
			continue
		}

		r.logger.Debug().
			Stringer("result", outcome.Result).
			Str("brand", o.Brand).
			Str("model", o.Model).
			Str("seller", o.Seller).
			Int64("price", o.Price).
			Msg("observation reconciled")

		if outcome.Result != ResultPriceChanged {
			continue
		}

		key := changeKey{configurationID: outcome.ConfigurationID, price: o.Price}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		changed = append(changed, catalog.ChangedListing{
			Observed:        o,
			ProductID:       outcome.ProductID,
			ConfigurationID: outcome.ConfigurationID,
			ListingID:       outcome.ListingID,
		})
	}

	return changed
}

func (r *Reconciler) insertProduct(ctx context.Context, o catalog.ObservedListing, at time.Time) (Outcome, error) {
	productID, err := r.store.InsertProduct(ctx, catalog.Product{
		Category: o.Category,
		Brand:    o.Brand,
		Model:    o.Model,
	})
	if err != nil {
		return Outcome{}, err
	}

	out, err := r.insertConfiguration(ctx, productID, o, at)
	if err != nil {
		return Outcome{}, err
	}
	out.Result = ResultNewProduct
	return out, nil
}

func (r *Reconciler) insertConfiguration(ctx context.Context, productID int64, o catalog.ObservedListing, at time.Time) (Outcome, error) {
	configurationID, err := r.store.InsertConfiguration(ctx, catalog.Configuration{
		ProductID: productID,
		RAM:       o.RAM,
		ROM:       o.ROM,
		ImageURL:  o.ImageURL,
	})
	if err != nil {
		return Outcome{}, err
	}

	listingID, err := r.insertListing(ctx, configurationID, o, at)
	if err != nil {
		return Outcome{}, err
	}

	return Outcome{
		Result:          ResultNewConfiguration,
		ProductID:       productID,
		ConfigurationID: configurationID,
		ListingID:       listingID,
	}, nil
}

func (r *Reconciler) insertListing(ctx context.Context, configurationID int64, o catalog.ObservedListing, at time.Time) (int64, error) {
	listingID, err := r.store.InsertListing(ctx, catalog.Listing{
		ConfigurationID: configurationID,
		Seller:          o.Seller,
		URL:             o.URL,
		Color:           o.Color,
		ProductCode:     o.ProductCode,
		Rating:          o.Rating,
		RatingCount:     o.RatingCount,
		Bonus:           o.Bonus,
	})
	if err != nil {
		return 0, err
	}

	if err := r.store.AppendObservation(ctx, listingID, o.Price, at); err != nil {
		return 0, err
	}
	return listingID, nil
}
