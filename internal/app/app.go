package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"navwatch/internal/config"
	"navwatch/internal/metrics"
	"navwatch/internal/scheduler"
	"navwatch/internal/server"
	"navwatch/internal/service"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config  *config.Config
	Watcher *config.Watcher
	Logger  zerolog.Logger
	Out     io.Writer
}

// NewApp constructs a new application handle.
func NewApp(w *config.Watcher, logger zerolog.Logger) *App {
	return &App{
		Config:  w.Config(),
		Watcher: w,
		Logger:  logger.With().Str("component", "app").Logger(),
		Out:     os.Stdout,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer deps.Close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		Cron:         a.Config.Scheduler.Cron,
		Location:     deps.location,
	}, a.Logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	cycle := a.newCycle(deps, m)
	svc := service.New(service.Options{LockKey: a.Config.Scheduler.AdvisoryLockKey}, sched, cycle, a.Watcher.Thresholds, deps.locker(), a.Logger)

	a.Watcher.OnChange(func(cfg *config.Config) {
		if cfg.Scheduler != a.Config.Scheduler || !slices.Equal(cfg.Source.Watchlist, a.Config.Source.Watchlist) {
			a.Logger.Warn().Msg("only thresholds are reloaded live; restart to apply other changes")
		}
	})
	a.Watcher.Start(a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().
			Float64("premium_threshold", a.Config.Thresholds.Premium).
			Float64("discount_threshold", a.Config.Thresholds.Discount).
			Msg("starting monitoring service")
		return svc.Run(gctx)
	})
	if a.Config.Server.Enabled {
		srv := server.New(server.Options{
			Addr:    a.Config.Server.Addr,
			Reports: svc,
			Ledger:  deps.ledger,
			Journal: deps.reader,
			Metrics: m,
		}, a.Logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}
