package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dealwatcher/internal/catalog"
	"dealwatcher/internal/config"
	"dealwatcher/internal/deals"
	"dealwatcher/internal/ingest"
	"dealwatcher/internal/posts"
	"dealwatcher/internal/render"
)

// memCatalog is an in-memory stand-in for the repository, backing both the
// ingestion reconciler and the price readers.
type memCatalog struct {
	products       []catalog.Product
	configurations []catalog.Configuration
	listings       []catalog.Listing
	observations   []catalog.PriceObservation
	nextID         int64
}

func newMemCatalog() *memCatalog {
	return &memCatalog{nextID: 1}
}

func (m *memCatalog) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *memCatalog) FindProduct(ctx context.Context, key catalog.ProductKey) (catalog.Product, error) {
	for _, p := range m.products {
		if p.Brand == key.Brand && p.Model == key.Model {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func (m *memCatalog) InsertProduct(ctx context.Context, p catalog.Product) (int64, error) {
	p.ID = m.id()
	m.products = append(m.products, p)
	return p.ID, nil
}

func (m *memCatalog) FindConfiguration(ctx context.Context, key catalog.ConfigurationKey) (catalog.Configuration, error) {
	for _, c := range m.configurations {
		if c.ProductID != key.ProductID || c.ROM != key.ROM {
			continue
		}
		if c.RAM == key.RAM || c.RAM == 0 || key.RAM == 0 {
			return c, nil
		}
	}
	return catalog.Configuration{}, catalog.ErrNotFound
}

func (m *memCatalog) InsertConfiguration(ctx context.Context, c catalog.Configuration) (int64, error) {
	c.ID = m.id()
	m.configurations = append(m.configurations, c)
	return c.ID, nil
}

func (m *memCatalog) FindListing(ctx context.Context, key catalog.ListingKey) (catalog.Listing, error) {
	for _, l := range m.listings {
		if l.ConfigurationID == key.ConfigurationID && l.Seller == key.Seller && l.URL == key.URL {
			return l, nil
		}
	}
	return catalog.Listing{}, catalog.ErrNotFound
}

func (m *memCatalog) InsertListing(ctx context.Context, l catalog.Listing) (int64, error) {
	l.ID = m.id()
	m.listings = append(m.listings, l)
	return l.ID, nil
}

func (m *memCatalog) LatestObservation(ctx context.Context, listingID int64) (catalog.PriceObservation, error) {
	var latest catalog.PriceObservation
	found := false
	for _, o := range m.observations {
		if o.ListingID != listingID {
			continue
		}
		if !found || o.ObservedAt.After(latest.ObservedAt) || (o.ObservedAt.Equal(latest.ObservedAt) && o.ID > latest.ID) {
			latest = o
			found = true
		}
	}
	if !found {
		return catalog.PriceObservation{}, catalog.ErrNotFound
	}
	return latest, nil
}

func (m *memCatalog) AppendObservation(ctx context.Context, listingID, price int64, at time.Time) error {
	m.observations = append(m.observations, catalog.PriceObservation{
		ID:         m.id(),
		ListingID:  listingID,
		Price:      price,
		ObservedAt: at,
	})
	return nil
}

func (m *memCatalog) listingsOf(configurationID int64) []catalog.Listing {
	var out []catalog.Listing
	for _, l := range m.listings {
		if l.ConfigurationID == configurationID {
			out = append(out, l)
		}
	}
	return out
}

func (m *memCatalog) ActualPrices(ctx context.Context, configurationID int64) ([]catalog.ActualPrice, error) {
	var out []catalog.ActualPrice
	for _, l := range m.listingsOf(configurationID) {
		latest, err := m.LatestObservation(ctx, l.ID)
		if err != nil {
			continue
		}
		out = append(out, catalog.ActualPrice{
			ListingID:  l.ID,
			Seller:     l.Seller,
			Color:      l.Color,
			URL:        l.URL,
			Price:      latest.Price,
			ObservedAt: latest.ObservedAt,
		})
	}
	return out, nil
}

func (m *memCatalog) PriceHistory(ctx context.Context, configurationID int64) ([]catalog.PricePoint, error) {
	sellers := make(map[int64]string)
	for _, l := range m.listingsOf(configurationID) {
		sellers[l.ID] = l.Seller
	}

	var out []catalog.PricePoint
	// Observation ids grow monotonically, so reverse id order is newest-first.
	for i := len(m.observations) - 1; i >= 0; i-- {
		o := m.observations[i]
		seller, ok := sellers[o.ListingID]
		if !ok {
			continue
		}
		out = append(out, catalog.PricePoint{Price: o.Price, Seller: seller, ObservedAt: o.ObservedAt})
	}
	return out, nil
}

var _ catalog.EntityStore = (*memCatalog)(nil)
var _ catalog.PriceReader = (*memCatalog)(nil)

type sliceSource struct {
	batch []catalog.ObservedListing
}

func (s *sliceSource) Fetch(ctx context.Context) ([]catalog.ObservedListing, error) {
	return s.batch, nil
}

type memPostStore struct {
	posts    []posts.Post
	counters posts.Counters
}

func (m *memPostStore) LoadPosts(ctx context.Context) ([]posts.Post, error) {
	out := make([]posts.Post, len(m.posts))
	copy(out, m.posts)
	return out, nil
}

func (m *memPostStore) SavePosts(ctx context.Context, list []posts.Post) error {
	m.posts = make([]posts.Post, len(list))
	copy(m.posts, list)
	return nil
}

func (m *memPostStore) LoadCounters(ctx context.Context) (posts.Counters, error) {
	return m.counters, nil
}

func (m *memPostStore) SaveCounters(ctx context.Context, c posts.Counters) error {
	m.counters = c
	return nil
}

type recordChannel struct {
	published []string
	fullEdits []int64
	nextID    int64
}

func (r *recordChannel) Publish(ctx context.Context, img render.Image, caption string, silent bool) (int64, error) {
	r.nextID++
	r.published = append(r.published, caption)
	return r.nextID, nil
}

func (r *recordChannel) EditFull(ctx context.Context, messageID int64, img render.Image, caption string) error {
	r.fullEdits = append(r.fullEdits, messageID)
	return nil
}

func (r *recordChannel) EditCaption(ctx context.Context, messageID int64, caption string) error {
	return nil
}

type staticLocker struct {
	acquired bool
}

func (s *staticLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if !s.acquired {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func pipelineConfig() *config.Config {
	return &config.Config{
		Deals: config.DealsConfig{
			MinDropPct: 3.0,
			MinDropAbs: 1500,
			TierPcts:   []float64{3, 6, 10, 15, 20},
		},
		Bot: config.BotConfig{
			Enabled:       true,
			MaxPosts:      50,
			ActualHashtag: "#deal",
		},
	}
}

func listingAt(price int64) catalog.ObservedListing {
	return catalog.ObservedListing{
		Category:    "smartphone",
		Seller:      "shop",
		Brand:       "acme",
		Model:       "alpha",
		Color:       "black",
		RAM:         8,
		ROM:         256,
		Price:       price,
		ImageURL:    "https://img.example/a.jpg",
		URL:         "https://shop.example/1",
		ProductCode: "SKU-1",
	}
}

func newPipeline(cat *memCatalog, src *sliceSource, postStore *memPostStore, ch *recordChannel, cfg *config.Config) *Service {
	logger := zerolog.Nop()
	notifier := posts.NewNotifier(cat, postStore, ch, render.New(render.Config{ActualHashtag: cfg.Bot.ActualHashtag}), cfg, logger)
	ingestor := ingest.NewReconciler(cat, logger)
	evaluator := deals.NewEvaluator(cat, cfg.Deals, logger)
	return New(src, ingestor, evaluator, notifier, &staticLocker{acquired: true}, 1, logger)
}

// Full pipeline: the first cycle seeds the catalog, a price drop in the
// second cycle publishes a deal, and a price recovery in the third
// deactivates the post.
func TestRunCyclePublishesAndDeactivates(t *testing.T) {
	cat := newMemCatalog()
	src := &sliceSource{batch: []catalog.ObservedListing{listingAt(50000)}}
	postStore := &memPostStore{}
	ch := &recordChannel{}
	svc := newPipeline(cat, src, postStore, ch, pipelineConfig())
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := svc.RunCycle(ctx, t0); err != nil {
		t.Fatalf("seed cycle: %v", err)
	}
	if len(ch.published) != 0 {
		t.Fatal("a first observation is not a deal")
	}

	src.batch = []catalog.ObservedListing{listingAt(45000)}
	if err := svc.RunCycle(ctx, t0.Add(30*time.Minute)); err != nil {
		t.Fatalf("drop cycle: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("expected one published deal, got %d", len(ch.published))
	}
	if len(postStore.posts) != 1 || !postStore.posts[0].Active {
		t.Fatalf("expected one active tracked post, got %+v", postStore.posts)
	}
	if postStore.counters.AllPosts != 1 || postStore.counters.ActivePosts != 1 {
		t.Fatalf("unexpected counters: %+v", postStore.counters)
	}

	src.batch = []catalog.ObservedListing{listingAt(50000)}
	if err := svc.RunCycle(ctx, t0.Add(time.Hour)); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatal("a price recovery must not publish")
	}
	if len(ch.fullEdits) != 1 {
		t.Fatalf("expected one deactivation edit, got %d", len(ch.fullEdits))
	}
	if postStore.posts[0].Active {
		t.Fatal("the tracked post should have deactivated")
	}
	if postStore.counters.ActivePosts != 0 {
		t.Fatalf("active counter should drop: %+v", postStore.counters)
	}
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	cat := newMemCatalog()
	src := &sliceSource{batch: []catalog.ObservedListing{listingAt(50000)}}
	svc := New(src, ingest.NewReconciler(cat, zerolog.Nop()), deals.NewEvaluator(cat, pipelineConfig().Deals, zerolog.Nop()), nil, &staticLocker{acquired: false}, 1, zerolog.Nop())

	if err := svc.RunCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("a held lock is not an error: %v", err)
	}
	if len(cat.observations) != 0 {
		t.Fatal("a skipped cycle must not ingest")
	}
}

func TestRunCycleEmptyBatch(t *testing.T) {
	cat := newMemCatalog()
	svc := New(&sliceSource{}, ingest.NewReconciler(cat, zerolog.Nop()), deals.NewEvaluator(cat, pipelineConfig().Deals, zerolog.Nop()), nil, nil, 0, zerolog.Nop())

	if err := svc.RunCycle(context.Background(), time.Now()); err != nil {
		t.Fatalf("an empty batch is not an error: %v", err)
	}
}
