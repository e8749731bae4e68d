package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"navwatch/internal/alerting"
	"navwatch/internal/fetcher"
	"navwatch/internal/journal"
	"navwatch/internal/ledger"
	"navwatch/internal/metrics"
	"navwatch/internal/service"
	"navwatch/internal/storage"
)

// deps holds the process-wide resources opened for one command.
type deps struct {
	location *time.Location
	store    *storage.Store
	redis    *redis.Client
	ledger   *ledger.Ledger
	journal  journal.Recorder
	reader   journal.Reader
	closers  []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func (d *deps) locker() storage.AdvisoryLocker {
	if d.store == nil {
		return nil
	}
	return d.store
}

// open connects the stores and restores the ledger.
func (a *App) open(ctx context.Context) (*deps, error) {
	loc, err := a.Config.App.Location()
	if err != nil {
		return nil, err
	}
	d := &deps{location: loc}

	if err := a.openBackends(ctx, d); err != nil {
		d.Close()
		return nil, err
	}

	ledgerStore, err := a.newLedgerStore(d)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.ledger = ledger.New(ledger.Options{Location: loc}, ledgerStore, a.Logger)
	d.ledger.Load(ctx)

	a.openJournal(ctx, d)
	return d, nil
}

func (a *App) openBackends(ctx context.Context, d *deps) error {
	if a.Config.Database.DSN != "" {
		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		d.store = store
		d.closers = append(d.closers, store.Close)
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; advisory lock and alert audit disabled")
	}

	if a.Config.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("ping redis: %w", err)
		}
		d.redis = client
		d.closers = append(d.closers, func() { _ = client.Close() })
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func (a *App) newLedgerStore(d *deps) (ledger.Store, error) {
	switch a.Config.Ledger.Backend {
	case "memory":
		return nil, nil
	case "file":
		return ledger.NewFileStore(a.Config.Ledger.Path), nil
	case "redis":
		if d.redis == nil {
			return nil, fmt.Errorf("redis ledger requires redis.addr")
		}
		return ledger.NewRedisStore(d.redis, a.Config.Ledger.RedisPrefix, a.Config.Ledger.RedisTTL), nil
	case "postgres":
		if d.store == nil {
			return nil, fmt.Errorf("postgres ledger requires database.dsn")
		}
		return d.store, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", a.Config.Ledger.Backend)
	}
}

func (a *App) openJournal(ctx context.Context, d *deps) {
	cfg := a.Config.Journal
	file := journal.NewFile(journal.FileOptions{
		Path:       cfg.Path,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, a.Logger)
	d.closers = append(d.closers, func() { _ = file.Close() })

	recorders := journal.Fanout{file, journal.NewLogRecorder(a.Logger)}
	d.reader = file
	if cfg.Postgres && d.store != nil {
		pg := journal.NewPostgres(d.store, a.Logger)
		maxAge := time.Duration(cfg.MaxAgeDays) * 24 * time.Hour
		if err := pg.Prune(ctx, maxAge, time.Now()); err != nil {
			a.Logger.Warn().Err(err).Msg("prune alert audit table failed")
		}
		recorders = append(recorders, pg)
		d.reader = pg
	}
	d.journal = recorders
}

func (a *App) newSource() fetcher.Source {
	src := a.Config.Source

	lister := fetcher.NewMarketList(fetcher.MarketListOptions{
		BaseURL:  src.ListURL,
		Node:     src.ListNode,
		PageSize: src.PageSize,
	}, a.newClient("listing"), a.Logger)
	nav := fetcher.NewNAV(fetcher.NAVOptions{BaseURL: src.NAVURL}, a.newClient("nav"), a.Logger)

	var state fetcher.StateFetcher
	if src.State {
		state = fetcher.NewStateScraper(fetcher.StateOptions{BaseURL: src.StateURL}, a.newClient("fund_page"), a.Logger)
	}

	var vaults *fetcher.Vault
	if len(src.Ethereum.Vaults) > 0 {
		specs := make(map[string]fetcher.VaultSpec, len(src.Ethereum.Vaults))
		for id, v := range src.Ethereum.Vaults {
			specs[id] = fetcher.VaultSpec{Address: v.Address, ShareDecimals: v.ShareDecimals, AssetDecimals: v.AssetDecimals}
		}
		vaults = fetcher.NewVault(fetcher.VaultOptions{
			RPCURL:  src.Ethereum.RPCURL,
			Timeout: src.Ethereum.RequestTimeout,
			Vaults:  specs,
		}, a.Logger)
	}

	return fetcher.NewComposite(fetcher.SourceOptions{
		Watchlist:    src.Watchlist,
		StateTimeout: src.StateTimeout,
	}, lister, nav, vaults, state, a.Logger)
}

// newClient builds the HTTP client of one upstream; upstreams never share a breaker.
func (a *App) newClient(name string) *fetcher.Client {
	cfg := a.Config.Source.HTTP
	return fetcher.NewClient(fetcher.ClientOptions{
		Name:            name,
		Timeout:         cfg.Timeout,
		RequestsPerSec:  cfg.RequestsPerSec,
		Burst:           cfg.Burst,
		MaxRetryElapsed: cfg.MaxRetryElapsed,
		UserAgent:       cfg.UserAgent,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}, a.Logger)
}

// newNotifier fans out to every configured channel. Without one, alerts go to
// the log and are retried every cycle until a channel is configured.
func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		a.Logger.Warn().Msg("alerting disabled; alerts are written to the log only")
		return alerting.NewLogNotifier(a.Logger)
	}

	multi := alerting.NewMulti(a.Logger)
	if cfg.DingTalk.Webhook != "" {
		multi.Add("dingtalk", alerting.NewDingTalkNotifier(cfg.DingTalk.Webhook, cfg.DingTalk.Secret, cfg.Timeout, a.Logger))
	}
	if cfg.Telegram.Enabled {
		multi.Add("telegram", alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Timeout, a.Logger))
	}
	if multi.Len() == 0 {
		a.Logger.Warn().Msg("no alert channel configured; alerts are written to the log only")
		return alerting.NewLogNotifier(a.Logger)
	}
	return multi
}

func (a *App) newCycle(d *deps, m *metrics.Metrics) *service.Cycle {
	return a.newCycleWith(a.newSource(), a.newNotifier(), d.ledger, d.journal, m)
}

func (a *App) newCycleWith(src fetcher.Source, notifier alerting.Notifier, led *ledger.Ledger, rec journal.Recorder, m *metrics.Metrics) *service.Cycle {
	return service.NewCycle(service.CycleOptions{
		Workers:       a.Config.Monitor.Workers,
		FetchTimeout:  a.Config.Monitor.FetchTimeout,
		NotifyTimeout: a.Config.Monitor.NotifyTimeout,
	}, src, led, notifier, rec, m, a.Logger)
}
