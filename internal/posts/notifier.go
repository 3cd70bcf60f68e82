package posts

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"dealwatcher/internal/catalog"
	"dealwatcher/internal/config"
	"dealwatcher/internal/deals"
	"dealwatcher/internal/render"
)

const fullEditAttempts = 3

// Channel is the external notification channel. No ordering is assumed
// between distinct message ids.
type Channel interface {
	Publish(ctx context.Context, img render.Image, caption string, silent bool) (int64, error)
	EditFull(ctx context.Context, messageID int64, img render.Image, caption string) error
	EditCaption(ctx context.Context, messageID int64, caption string) error
}

// Notifier keeps the bounded collection of published posts converged with
// the catalog's price truth. It publishes qualified deals and re-evaluates
// previously-published posts each cycle.
type Notifier struct {
	prices   catalog.PriceReader
	store    Persistence
	channel  Channel
	renderer *render.Renderer
	cfg      *config.Config
	logger   zerolog.Logger
	now      func() time.Time

	list     []Post
	counters Counters
}

// NewNotifier constructs the notification reconciler.
func NewNotifier(prices catalog.PriceReader, store Persistence, channel Channel, renderer *render.Renderer, cfg *config.Config, logger zerolog.Logger) *Notifier {
	return &Notifier{
		prices:   prices,
		store:    store,
		channel:  channel,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger.With().Str("component", "posts").Logger(),
		now:      time.Now,
	}
}

// Load reads the persisted post list and counters for this cycle.
func (n *Notifier) Load(ctx context.Context) error {
	list, err := n.store.LoadPosts(ctx)
	if err != nil {
		return err
	}
	counters, err := n.store.LoadCounters(ctx)
	if err != nil {
		return err
	}

	n.list = list
	n.counters = counters
	return nil
}

// Posts returns a copy of the tracked post list.
func (n *Notifier) Posts() []Post {
	out := make([]Post, len(n.list))
	copy(out, n.list)
	return out
}

// Counters returns the running post totals.
func (n *Notifier) Counters() Counters {
	return n.counters
}

// PublishDeals filters, groups, and publishes this cycle's deal candidates,
// then persists the updated post list. A failed publish is logged and
// dropped; the next cycle re-evaluates from current truth.
func (n *Notifier) PublishDeals(ctx context.Context, candidates []deals.Candidate) error {
	groups := n.groupCandidates(n.filterCandidates(candidates))

	for i, g := range groups {
		if n.hasActivePost(g.lead.ConfigurationID, g.lead.Price) {
			n.logger.Info().
				Int64("configuration_id", g.lead.ConfigurationID).
				Int64("price", g.lead.Price).
				Msg("active post already covers this price, skipping")
			continue
		}

		caption := n.renderer.Caption(render.Input{
			Category:      g.lead.Category,
			Brand:         g.lead.Brand,
			Model:         g.lead.Model,
			RAM:           g.lead.RAM,
			ROM:           g.lead.ROM,
			Price:         g.lead.Price,
			AvgPrice:      g.lead.AvgPrice,
			HistMinPrice:  g.lead.HistMinPrice,
			HistMinSeller: g.lead.HistMinSeller,
			HistMinAt:     g.lead.HistMinAt,
			Variants:      g.variants,
			Tier:          deals.Tier(g.lead.Price, g.lead.AvgPrice, n.cfg.Deals.TierPcts),
			Active:        true,
		})

		// Only the last two posts of a batch ring a notification.
		silent := i < len(groups)-2

		messageID, err := n.channel.Publish(ctx, n.renderer.ForImage(g.lead.ImageURL, true), caption, silent)
		if err != nil {
			n.logger.Error().Err(err).
				Str("brand", g.lead.Brand).
				Str("model", g.lead.Model).
				Int64("price", g.lead.Price).
				Msg("publish failed, dropping candidate")
			continue
		}

		n.counters.AllPosts++
		n.counters.ActivePosts++
		n.appendPost(Post{
			MessageID:       messageID,
			ConfigurationID: g.lead.ConfigurationID,
			Category:        g.lead.Category,
			Brand:           g.lead.Brand,
			Model:           g.lead.Model,
			RAM:             g.lead.RAM,
			ROM:             g.lead.ROM,
			Price:           g.lead.Price,
			AvgPrice:        g.lead.AvgPrice,
			ImageURL:        g.lead.ImageURL,
			Variants:        g.variants,
			HistMinPrice:    g.lead.HistMinPrice,
			HistMinSeller:   g.lead.HistMinSeller,
			HistMinAt:       g.lead.HistMinAt,
			PostedAt:        n.now(),
			TextHash:        render.Hash(caption),
			Active:          true,
		})
	}

	return n.persist(ctx)
}

// ReconcilePosts re-evaluates every tracked post against the current
// in-stock actual-price set and converges the external channel to match,
// then persists the updated list. Posts never reactivate: once inactive a
// post stays inactive even when its price becomes the best deal again.
func (n *Notifier) ReconcilePosts(ctx context.Context, snap catalog.StockSnapshot) error {
	for i := range n.list {
		p := &n.list[i]

		actual, err := n.prices.ActualPrices(ctx, p.ConfigurationID)
		if err != nil {
			n.logger.Error().Err(err).
				Int64("message_id", p.MessageID).
				Msg("failed to read actual prices, leaving post untouched")
			continue
		}

		tied := deals.TiedMinimum(deals.InStock(actual, snap))
		newActive := p.Active && len(tied) > 0 && tied[0].Price == p.Price

		variants := p.Variants
		if newActive {
			variants = make([]render.Variant, 0, len(tied))
			for _, ap := range tied {
				variants = append(variants, render.Variant{Seller: ap.Seller, Color: ap.Color, URL: ap.URL})
			}
		}

		caption := n.renderer.Caption(render.Input{
			Category:      p.Category,
			Brand:         p.Brand,
			Model:         p.Model,
			RAM:           p.RAM,
			ROM:           p.ROM,
			Price:         p.Price,
			AvgPrice:      p.AvgPrice,
			HistMinPrice:  p.HistMinPrice,
			HistMinSeller: p.HistMinSeller,
			HistMinAt:     p.HistMinAt,
			Variants:      variants,
			Tier:          deals.Tier(p.Price, p.AvgPrice, n.cfg.Deals.TierPcts),
			Active:        newActive,
		})
		hash := render.Hash(caption)

		switch {
		case !p.Active && !newActive:
			// Inactive stays inactive, nothing to edit externally.

		case p.Active && !newActive:
			if n.deactivate(ctx, p, caption) {
				p.Active = false
				p.Variants = variants
				n.counters.ActivePosts--
			}

		case p.Active && newActive:
			p.Variants = variants
			if hash != p.TextHash {
				if err := n.channel.EditCaption(ctx, p.MessageID, caption); err != nil {
					n.logger.Error().Err(err).
						Int64("message_id", p.MessageID).
						Msg("caption edit failed")
				}
			}
		}

		p.TextHash = hash
	}

	return n.persist(ctx)
}

// deactivate requests a full external edit marking the post stale, with a
// bounded number of attempts. On exhausted retries the post keeps its prior
// state so internal and external views do not silently diverge.
func (n *Notifier) deactivate(ctx context.Context, p *Post, caption string) bool {
	img := n.renderer.ForImage(p.ImageURL, false)
	for attempt := 1; attempt <= fullEditAttempts; attempt++ {
		if err := n.channel.EditFull(ctx, p.MessageID, img, caption); err != nil {
			n.logger.Warn().Err(err).
				Int64("message_id", p.MessageID).
				Int("attempt", attempt).
				Msg("full edit failed")
			continue
		}
		return true
	}

	n.logger.Error().
		Int64("message_id", p.MessageID).
		Int("attempts", fullEditAttempts).
		Msg("could not deactivate post, keeping prior state")
	return false
}

type candidateGroup struct {
	lead     deals.Candidate
	variants []render.Variant
}

// filterCandidates drops exact duplicates and ignored brands.
func (n *Notifier) filterCandidates(candidates []deals.Candidate) []deals.Candidate {
	result := make([]deals.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if n.cfg.IgnoredBrand(c.Brand) {
			n.logger.Debug().Str("brand", c.Brand).Msg("brand in ignore list, dropping candidate")
			continue
		}

		dup := false
		for _, kept := range result {
			if kept == c {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		result = append(result, c)
	}
	return result
}

// groupCandidates merges tied-minimum sellers and colors of one
// (configuration, price) into a single notification, preserving first
// appearance order.
func (n *Notifier) groupCandidates(candidates []deals.Candidate) []candidateGroup {
	type groupKey struct {
		configurationID int64
		price           int64
	}

	order := make([]groupKey, 0, len(candidates))
	byKey := make(map[groupKey]*candidateGroup, len(candidates))

	for _, c := range candidates {
		key := groupKey{configurationID: c.ConfigurationID, price: c.Price}
		g, ok := byKey[key]
		if !ok {
			g = &candidateGroup{lead: c}
			byKey[key] = g
			order = append(order, key)
		}
		g.variants = append(g.variants, render.Variant{Seller: c.Seller, Color: c.Color, URL: c.URL})
	}

	groups := make([]candidateGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byKey[key])
	}
	return groups
}

func (n *Notifier) hasActivePost(configurationID, price int64) bool {
	for _, p := range n.list {
		if p.Active && p.ConfigurationID == configurationID && p.Price == price {
			return true
		}
	}
	return false
}

// appendPost adds a post to the bounded list, evicting the oldest inactive
// entry when the list is full. With no inactive entry the list may
// temporarily exceed capacity.
func (n *Notifier) appendPost(p Post) {
	if len(n.list) >= n.cfg.Bot.MaxPosts {
		evicted := false
		for i, old := range n.list {
			if !old.Active {
				n.logger.Info().
					Int64("message_id", old.MessageID).
					Msg("post list full, evicting oldest inactive post")
				n.list = append(n.list[:i], n.list[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			n.logger.Warn().
				Int("size", len(n.list)).
				Msg("post list full with no inactive entry, exceeding capacity")
		}
	}

	n.list = append(n.list, p)
}

func (n *Notifier) persist(ctx context.Context) error {
	if err := n.store.SavePosts(ctx, n.list); err != nil {
		return err
	}
	return n.store.SaveCounters(ctx, n.counters)
}
