package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dealwatcher/internal/catalog"
	"dealwatcher/internal/channel"
	"dealwatcher/internal/config"
	"dealwatcher/internal/deals"
	"dealwatcher/internal/ingest"
	"dealwatcher/internal/posts"
	"dealwatcher/internal/render"
	"dealwatcher/internal/scheduler"
	"dealwatcher/internal/service"
	"dealwatcher/internal/source"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*catalog.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	if err := catalog.Migrate(ctx, a.Config.Database, a.Logger); err != nil {
		return nil, nil, err
	}

	pool, err := catalog.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := catalog.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newRenderer() *render.Renderer {
	return render.New(render.Config{
		ActualHashtag:    a.Config.Bot.ActualHashtag,
		ModelNameAliases: a.Config.Bot.ModelNameAliases,
	})
}

// newNotifier wires the channel notifier, or returns nil when publishing is
// disabled so the pipeline runs dry.
func (a *App) newNotifier(store *catalog.Store) *posts.Notifier {
	if !a.Config.Bot.Enabled || store == nil {
		return nil
	}

	tg := channel.NewTelegram(a.Config.Bot.Telegram, a.Logger)
	postStore := posts.NewPGStore(store.Pool())
	return posts.NewNotifier(store, postStore, tg, a.newRenderer(), a.Config, a.Logger)
}

func (a *App) newService(src source.Source, store *catalog.Store, notifier *posts.Notifier) *service.Service {
	ingestor := ingest.NewReconciler(store, a.Logger)
	evaluator := deals.NewEvaluator(store, a.Config.Deals, a.Logger)
	return service.New(src, ingestor, evaluator, notifier, store, a.Config.Scheduler.AdvisoryLockKey, a.Logger)
}

// Run executes the long-running watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is not configured")
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	src := source.NewFileSource(a.Config.Source.FeedPath, a.Logger)
	notifier := a.newNotifier(store)
	if notifier == nil {
		a.Logger.Warn().Msg("bot disabled; deals will be logged, not published")
	}

	svc := a.newService(src, store, notifier)

	a.Logger.Info().Msg("starting watcher service")
	err = sched.Run(ctx, svc.RunCycle)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watcher service stopped")
	return nil
}

// RunOnce executes a single pipeline cycle immediately and exits.
func (a *App) RunOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is not configured")
	}
	defer closeStore()

	src := source.NewFileSource(a.Config.Source.FeedPath, a.Logger)
	svc := a.newService(src, store, a.newNotifier(store))

	return svc.RunCycle(ctx, time.Now().UTC())
}

// ExportOptions hold parameters for exporting a configuration's history.
type ExportOptions struct {
	ConfigurationID int64
	PNGPath         string
	CSVPath         string
	MaxPoints       int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ReplayOptions configure the feed replay job.
type ReplayOptions struct {
	Dir string
}

// SimulateOptions feed a synthetic pricing scenario through the evaluator.
type SimulateOptions struct {
	Category string
	Brand    string
	Model    string
	RAM      int
	ROM      int
	Seller   string
	Color    string
	Price    int64
	History  []int64
}
