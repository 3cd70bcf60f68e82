package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("catalog: pool not configured")
	// ErrNotFound indicates a lookup matched no row.
	ErrNotFound = errors.New("catalog: not found")
)

const (
	findProductSQL = `SELECT id, category, brand, model, rating
    FROM products
    WHERE brand = $1
      AND model = $2;`

	insertProductSQL = `INSERT INTO products (category, brand, model, rating)
    VALUES ($1, $2, $3, $4)
    RETURNING id;`

	findConfigurationSQL = `SELECT id, product_id, ram_gb, rom_gb, image_url
    FROM configurations
    WHERE product_id = $1
      AND (ram_gb = $2 OR ram_gb = 0 OR $2 = 0)
      AND rom_gb = $3;`

	insertConfigurationSQL = `INSERT INTO configurations (product_id, ram_gb, rom_gb, image_url)
    VALUES ($1, $2, $3, $4)
    RETURNING id;`

	findListingSQL = `SELECT id, configuration_id, seller, url, color, product_code, rating, rating_count, bonus
    FROM listings
    WHERE configuration_id = $1
      AND seller = $2
      AND url = $3;`

	insertListingSQL = `INSERT INTO listings (
        configuration_id, seller, url, color, product_code, rating, rating_count, bonus
    ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    RETURNING id;`

	latestObservationSQL = `SELECT id, listing_id, price, observed_at
    FROM price_observations
    WHERE listing_id = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT 1;`

	appendObservationSQL = `INSERT INTO price_observations (listing_id, price, observed_at)
    VALUES ($1, $2, $3);`

	actualPricesSQL = `SELECT DISTINCT ON (l.id)
        l.id, l.seller, l.color, l.url, p.price, p.observed_at
    FROM listings l
    JOIN price_observations p ON p.listing_id = l.id
    WHERE l.configuration_id = $1
    ORDER BY l.id, p.observed_at DESC, p.id DESC;`

	priceHistorySQL = `SELECT p.price, l.seller, p.observed_at
    FROM price_observations p
    JOIN listings l ON l.id = p.listing_id
    WHERE l.configuration_id = $1
    ORDER BY p.observed_at DESC, p.id DESC;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// EntityStore defines the lookups and inserts used by the ingestion reconciler.
type EntityStore interface {
	FindProduct(ctx context.Context, key ProductKey) (Product, error)
	InsertProduct(ctx context.Context, p Product) (int64, error)
	FindConfiguration(ctx context.Context, key ConfigurationKey) (Configuration, error)
	InsertConfiguration(ctx context.Context, c Configuration) (int64, error)
	FindListing(ctx context.Context, key ListingKey) (Listing, error)
	InsertListing(ctx context.Context, l Listing) (int64, error)
	LatestObservation(ctx context.Context, listingID int64) (PriceObservation, error)
	AppendObservation(ctx context.Context, listingID, price int64, at time.Time) error
}

// PriceReader defines the per-configuration price queries used by the deal
// evaluator and the notification reconciler.
type PriceReader interface {
	ActualPrices(ctx context.Context, configurationID int64) ([]ActualPrice, error)
	PriceHistory(ctx context.Context, configurationID int64) ([]PricePoint, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the product catalog and its price ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for collaborators sharing the connection.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// FindProduct resolves a product by (brand, model).
func (s *Store) FindProduct(ctx context.Context, key ProductKey) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}

	var p Product
	scanErr := pool.QueryRow(ctx, findProductSQL, key.Brand, key.Model).
		Scan(&p.ID, &p.Category, &p.Brand, &p.Model, &p.Rating)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	if scanErr != nil {
		return Product{}, fmt.Errorf("find product: %w", scanErr)
	}
	return p, nil
}

// InsertProduct persists a new product and returns its id.
func (s *Store) InsertProduct(ctx context.Context, p Product) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertProductSQL, p.Category, p.Brand, p.Model, p.Rating).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert product: %w", scanErr)
	}
	return id, nil
}

// FindConfiguration resolves a configuration by (product, RAM, ROM) with the
// zero-RAM wildcard applied on both sides.
func (s *Store) FindConfiguration(ctx context.Context, key ConfigurationKey) (Configuration, error) {
	pool, err := s.getPool()
	if err != nil {
		return Configuration{}, err
	}

	var c Configuration
	scanErr := pool.QueryRow(ctx, findConfigurationSQL, key.ProductID, key.RAM, key.ROM).
		Scan(&c.ID, &c.ProductID, &c.RAM, &c.ROM, &c.ImageURL)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Configuration{}, ErrNotFound
	}
	if scanErr != nil {
		return Configuration{}, fmt.Errorf("find configuration: %w", scanErr)
	}
	return c, nil
}

// InsertConfiguration persists a new configuration and returns its id.
func (s *Store) InsertConfiguration(ctx context.Context, c Configuration) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertConfigurationSQL, c.ProductID, c.RAM, c.ROM, c.ImageURL).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert configuration: %w", scanErr)
	}
	return id, nil
}

// FindListing resolves a listing by (configuration, seller, URL).
func (s *Store) FindListing(ctx context.Context, key ListingKey) (Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return Listing{}, err
	}

	var l Listing
	scanErr := pool.QueryRow(ctx, findListingSQL, key.ConfigurationID, key.Seller, key.URL).
		Scan(&l.ID, &l.ConfigurationID, &l.Seller, &l.URL, &l.Color, &l.ProductCode, &l.Rating, &l.RatingCount, &l.Bonus)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return Listing{}, ErrNotFound
	}
	if scanErr != nil {
		return Listing{}, fmt.Errorf("find listing: %w", scanErr)
	}
	return l, nil
}

// InsertListing persists a new listing and returns its id.
func (s *Store) InsertListing(ctx context.Context, l Listing) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertListingSQL,
		l.ConfigurationID, l.Seller, l.URL, l.Color, l.ProductCode, l.Rating, l.RatingCount, l.Bonus,
	).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert listing: %w", scanErr)
	}
	return id, nil
}

// LatestObservation returns the most recent ledger entry of a listing.
func (s *Store) LatestObservation(ctx context.Context, listingID int64) (PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceObservation{}, err
	}

	var o PriceObservation
	scanErr := pool.QueryRow(ctx, latestObservationSQL, listingID).
		Scan(&o.ID, &o.ListingID, &o.Price, &o.ObservedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return PriceObservation{}, ErrNotFound
	}
	if scanErr != nil {
		return PriceObservation{}, fmt.Errorf("latest observation: %w", scanErr)
	}
	return o, nil
}

// AppendObservation appends one entry to the price ledger. Entries are never
// updated or removed afterwards.
func (s *Store) AppendObservation(ctx context.Context, listingID, price int64, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, appendObservationSQL, listingID, price, at); execErr != nil {
		return fmt.Errorf("append observation: %w", execErr)
	}
	return nil
}

// ActualPrices returns the latest observation per listing of a configuration.
func (s *Store) ActualPrices(ctx context.Context, configurationID int64) ([]ActualPrice, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, actualPricesSQL, configurationID)
	if queryErr != nil {
		return nil, fmt.Errorf("actual prices: %w", queryErr)
	}
	defer rows.Close()

	prices := make([]ActualPrice, 0)
	for rows.Next() {
		var ap ActualPrice
		if err := rows.Scan(&ap.ListingID, &ap.Seller, &ap.Color, &ap.URL, &ap.Price, &ap.ObservedAt); err != nil {
			return nil, err
		}
		prices = append(prices, ap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return prices, nil
}

// PriceHistory returns a configuration's full observation list, newest first.
func (s *Store) PriceHistory(ctx context.Context, configurationID int64) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, priceHistorySQL, configurationID)
	if queryErr != nil {
		return nil, fmt.Errorf("price history: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		var pt PricePoint
		if err := rows.Scan(&pt.Price, &pt.Seller, &pt.ObservedAt); err != nil {
			return nil, err
		}
		points = append(points, pt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}
