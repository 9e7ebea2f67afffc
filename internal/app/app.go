package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"funding-spread-alerts/internal/aggregator"
	"funding-spread-alerts/internal/alerting"
	"funding-spread-alerts/internal/cache"
	"funding-spread-alerts/internal/config"
	"funding-spread-alerts/internal/fetcher"
	"funding-spread-alerts/internal/lock"
	"funding-spread-alerts/internal/metrics"
	"funding-spread-alerts/internal/scheduler"
	"funding-spread-alerts/internal/server"
	"funding-spread-alerts/internal/service"
	"funding-spread-alerts/internal/storage"
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

func (a *App) newAdapters() []fetcher.VenueAdapter {
	venues := a.Config.Venues
	opts := func(v config.VenueConfig) fetcher.Options {
		return fetcher.Options{BaseURL: v.BaseURL, Timeout: venues.Timeout, UserAgent: venues.UserAgent}
	}

	var adapters []fetcher.VenueAdapter
	if venues.Dydx.Enabled {
		adapters = append(adapters, fetcher.NewDydx(opts(venues.Dydx), a.Logger))
	}
	if venues.Hyperliquid.Enabled {
		adapters = append(adapters, fetcher.NewHyperliquid(opts(venues.Hyperliquid), a.Logger))
	}
	if venues.Paradex.Enabled {
		adapters = append(adapters, fetcher.NewParadex(opts(venues.Paradex), a.Logger))
	}
	if venues.Extended.Enabled {
		adapters = append(adapters, fetcher.NewExtended(opts(venues.Extended), a.Logger))
	}
	return adapters
}

func (a *App) newAggregator() *aggregator.Aggregator {
	return aggregator.New(a.newAdapters(), aggregator.Options{VenueTimeout: a.Config.Venues.Timeout}, a.Logger)
}

func (a *App) newChannel() alerting.Channel {
	tg := a.Config.Alerting.Telegram
	if tg.BotToken == "" {
		a.Logger.Warn().Msg("alerting.telegram.bot_token not configured; alerts are only logged")
		return alerting.NewLogChannel(a.Logger)
	}
	return alerting.NewTelegramChannel(alerting.TelegramOptions{
		BotToken:          tg.BotToken,
		BaseURL:           tg.APIBase,
		Timeout:           a.Config.Alerting.DeliveryTimeout,
		MessagesPerSecond: tg.MessagesPerSecond,
		Burst:             tg.Burst,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Logger)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// alertingInert explains why run will not dispatch alerts. It is empty when the alert
// loop starts. The memory store cannot be reached by the alerts commands, so nothing
// could ever be due in it.
func (a *App) alertingInert() string {
	switch {
	case !a.Config.Alerting.Enabled:
		return "alerting disabled"
	case a.Config.Alerting.Store == config.StoreMemory:
		return "alerting.store=memory cannot receive settings from the alerts commands"
	}
	return ""
}

// newLocker builds the tick lock.
func (a *App) newLocker(ctx context.Context, pg *storage.Store) (lock.Locker, func(), error) {
	sched := a.Config.Scheduler
	switch sched.LockBackend {
	case config.LockPostgres:
		return lock.NewPostgres(pg), func() {}, nil
	case config.LockRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return lock.NewRedis(rdb, a.Config.Redis.KeyPrefix, sched.LockTTL), func() { _ = rdb.Close() }, nil
	default:
		return lock.Noop{}, func() {}, nil
	}
}

// Run executes the long-running refresh, alert and HTTP loops until a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	recorder := metrics.New()
	fundingCache := cache.New(a.newAggregator(), recorder, a.Logger)

	var (
		svc       *service.AlertService
		alertLoop *scheduler.Scheduler
	)
	if reason := a.alertingInert(); reason != "" {
		a.Logger.Warn().Str("reason", reason).Msg("alert loop not started; only refreshing the cache")
	} else {
		pg, closeStore, err := a.settingsStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		locker, closeLocker, err := a.newLocker(ctx, pg)
		if err != nil {
			return err
		}
		defer closeLocker()

		svc = service.New(pg, fundingCache, a.newChannel(), locker, recorder, service.Options{
			Workers:         a.Config.Alerting.Workers,
			DeliveryTimeout: a.Config.Alerting.DeliveryTimeout,
			LockKey:         a.Config.Scheduler.LockKey,
		}, a.Logger)
		alertLoop = scheduler.New(scheduler.Options{
			Name:         "alerts",
			Interval:     a.Config.Scheduler.AlertInterval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fundingCache.Run(ctx, a.Config.Scheduler.RefreshInterval, a.Config.Scheduler.AlignToBucket)
	})
	if svc != nil {
		g.Go(func() error { return alertLoop.Run(ctx, svc.Tick) })
	}
	if a.Config.HTTP.Enabled {
		srv := server.New(fundingCache, recorder, server.Options{
			Addr:            a.Config.HTTP.Addr,
			ReadTimeout:     a.Config.HTTP.ReadTimeout,
			WriteTimeout:    a.Config.HTTP.WriteTimeout,
			ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
			StaleAfter:      3 * a.Config.Scheduler.RefreshInterval,
		}, a.Logger)
		g.Go(func() error { return srv.Run(ctx) })
	}

	a.Logger.Info().
		Strs("venues", a.Config.EnabledVenues()).
		Dur("refresh_interval", a.Config.Scheduler.RefreshInterval).
		Dur("alert_interval", a.Config.Scheduler.AlertInterval).
		Msg("starting funding monitor")

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("funding monitor stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Venues []string
}

// ExportOptions configure the export command.
type ExportOptions struct {
	CSVPath string
	PNGPath string
	MaxRows int
	Venues  []string
}

// AlertInput holds the raw CLI values for a new alert setting.
type AlertInput struct {
	OwnerID    int64
	Name       string
	Interval   string
	MinSpread  string
	MaxSpread  string
	Venues     []string
	FilterMode string
	MaxResults int
}

// StatsOptions configure the alerts stats command.
type StatsOptions struct {
	Since time.Duration
}
