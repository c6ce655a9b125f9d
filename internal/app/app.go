package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bolivarwatch/internal/cache"
	"bolivarwatch/internal/config"
	"bolivarwatch/internal/fetcher"
	"bolivarwatch/internal/history"
	"bolivarwatch/internal/httpapi"
	"bolivarwatch/internal/notify"
	"bolivarwatch/internal/rates"
	"bolivarwatch/internal/scheduler"
	"bolivarwatch/internal/service"
	"bolivarwatch/internal/subscribers"
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

// newFetchers builds the primary quote fetchers plus the official-rate
// scraper fallback.
func (a *App) newFetchers() ([]fetcher.QuoteFetcher, fetcher.QuoteFetcher) {
	src := a.Config.Sources

	primaries := make([]fetcher.QuoteFetcher, 0, 3)
	for _, s := range rates.Required() {
		primaries = append(primaries, fetcher.NewDolarAPI(fetcher.DolarAPIOptions{
			BaseURL:   src.DolarAPIBaseURL,
			Source:    s,
			Timeout:   src.RequestTimeout,
			UserAgent: src.UserAgent,
		}, a.Logger))
	}

	fallback := fetcher.NewBCVScraper(fetcher.BCVScraperOptions{
		URL:       src.BCVURL,
		Timeout:   src.BCVTimeout,
		UserAgent: src.UserAgent,
	}, a.Logger)

	return primaries, fallback
}

func (a *App) newSender() notify.Sender {
	tg := a.Config.Notifications.Telegram
	if !a.Config.Notifications.Enabled || tg.BotToken == "" {
		return nil
	}
	return notify.NewTelegramSender(tg.BotToken, tg.APIBase, 10*time.Second, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*history.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := history.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := history.NewStore(pool, a.Config.Location())
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openDirectory() (subscribers.Directory, error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil
	}
	return subscribers.NewRedisDirectory(a.Config.Redis, a.Logger)
}

func (a *App) newAggregator(store *history.Store) (*service.Aggregator, *cache.SnapshotCache) {
	primaries, fallback := a.newFetchers()
	snapCache := cache.New(a.Config.Cache.TTL)

	var recorder service.Recorder
	if store != nil {
		recorder = store
	}

	return service.NewAggregator(primaries, fallback, snapCache, recorder, a.Logger), snapCache
}

func (a *App) newEngine(agg *service.Aggregator, store *history.Store, directory subscribers.Directory, sender notify.Sender) *notify.Engine {
	if store == nil || directory == nil || sender == nil {
		return nil
	}

	n := a.Config.Notifications
	return notify.NewEngine(agg, store, directory, sender, notify.Options{
		ThresholdPct:  decimal.NewFromFloat(n.ThresholdPct),
		DigestHour:    n.DigestHour,
		DigestMinutes: n.DigestMinutes,
		Location:      a.Config.Location(),
	}, a.Logger)
}

// Run starts the HTTP API and, when configured, the periodic evaluation loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; history disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	directory, err := a.openDirectory()
	if err != nil {
		return err
	}
	if directory == nil {
		a.Logger.Warn().Msg("redis.addr not configured; subscriptions disabled")
	}

	sender := a.newSender()
	agg, snapCache := a.newAggregator(store)
	engine := a.newEngine(agg, store, directory, sender)
	if engine == nil {
		a.Logger.Warn().Msg("notification engine disabled; missing store, redis or telegram config")
	}

	primaries, fallback := a.newFetchers()
	probes := append(primaries, fallback)

	var httpStore httpapi.HistoryStore
	if store != nil {
		httpStore = store
	}
	var evaluator httpapi.Evaluator
	if engine != nil {
		evaluator = engine
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:            a.Config.HTTP.Host,
		Port:            a.Config.HTTP.Port,
		ReadTimeout:     a.Config.HTTP.ReadTimeout,
		WriteTimeout:    a.Config.HTTP.WriteTimeout,
		ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
		SiteURL:         a.Config.App.SiteURL,
	}, agg, httpStore, evaluator, directory, sender, snapCache, probes, a.Logger)

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Start()
	}()

	if engine != nil && a.Config.Scheduler.Enabled {
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			RunOnStart:   true,
		}, a.Logger)

		go func() {
			err := sched.Run(ctx, func(ctx context.Context, at time.Time) error {
				_, err := engine.Evaluate(ctx)
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	a.Logger.Info().Msg("service started")

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			a.Logger.Error().Err(err).Msg("service terminated with error")
		}
	}

	shutdownErr := server.Shutdown(context.Background())
	agg.WaitForRecords()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical records.
type ExportOptions struct {
	Days    int
	PNGPath string
	CSVPath string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Days int
}
