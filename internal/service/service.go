package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"dealwatcher/internal/catalog"
	"dealwatcher/internal/deals"
	"dealwatcher/internal/ingest"
	"dealwatcher/internal/posts"
	"dealwatcher/internal/source"
)

// Service orchestrates one pipeline cycle: ingest the observation batch,
// evaluate changed prices, then reconcile and publish notifications.
type Service struct {
	src       source.Source
	ingestor  *ingest.Reconciler
	evaluator *deals.Evaluator
	notifier  *posts.Notifier
	locker    catalog.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// New constructs the pipeline service. A nil notifier runs the pipeline dry:
// deals are evaluated and logged but nothing reaches the external channel.
func New(src source.Source, ingestor *ingest.Reconciler, evaluator *deals.Evaluator, notifier *posts.Notifier, locker catalog.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *Service {
	return &Service{
		src:       src,
		ingestor:  ingestor,
		evaluator: evaluator,
		notifier:  notifier,
		locker:    locker,
		lockKey:   lockKey,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// RunCycle executes a single batch cycle at the given wall time.
func (s *Service) RunCycle(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("cycle", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, at)
}

func (s *Service) executeCycle(ctx context.Context, at time.Time) error {
	batch, err := s.src.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch observations: %w", err)
	}
	if len(batch) == 0 {
		s.logger.Warn().Time("cycle", at).Msg("empty observation batch, nothing to do")
		return nil
	}

	snapshot := catalog.NewStockSnapshot(batch)
	changed := s.ingestor.ReconcileBatch(ctx, batch, at)

	s.logger.Info().
		Time("cycle", at).
		Int("observed", len(batch)).
		Int("price_changes", len(changed)).
		Msg("batch ingested")

	candidates := s.evaluateChanges(ctx, changed, snapshot)

	if s.notifier == nil {
		for _, c := range candidates {
			s.logger.Info().
				Str("brand", c.Brand).
				Str("model", c.Model).
				Str("seller", c.Seller).
				Int64("price", c.Price).
				Int64("gap", c.Gap).
				Msg("deal candidate (dry run)")
		}
		return nil
	}

	if err := s.notifier.Load(ctx); err != nil {
		return fmt.Errorf("load posts: %w", err)
	}

	if err := s.notifier.ReconcilePosts(ctx, snapshot); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist reconciled posts")
	}
	if err := s.notifier.PublishDeals(ctx, candidates); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist published posts")
	}

	counters := s.notifier.Counters()
	s.logger.Info().
		Time("cycle", at).
		Int("candidates", len(candidates)).
		Int64("posts_total", counters.AllPosts).
		Int64("posts_active", counters.ActivePosts).
		Msg("cycle complete")

	return nil
}

// evaluateChanges runs the deal evaluator for every distinct changed
// configuration. A failed evaluation skips that item only.
func (s *Service) evaluateChanges(ctx context.Context, changed []catalog.ChangedListing, snapshot catalog.StockSnapshot) []deals.Candidate {
	candidates := make([]deals.Candidate, 0)
	for _, ch := range changed {
		found, err := s.evaluator.Evaluate(ctx, ch, snapshot)
		if errors.Is(err, deals.ErrNoBaseline) {
			s.logger.Debug().
				Int64("configuration_id", ch.ConfigurationID).
				Msg("no price history for configuration")
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).
				Int64("configuration_id", ch.ConfigurationID).
				Msg("deal evaluation failed")
			continue
		}
		candidates = append(candidates, found...)
	}
	return candidates
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
