package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mrsadri/xRate/internal/alerting"
	"github.com/mrsadri/xRate/internal/chain"
	"github.com/mrsadri/xRate/internal/config"
	"github.com/mrsadri/xRate/internal/engine"
	"github.com/mrsadri/xRate/internal/market"
	"github.com/mrsadri/xRate/internal/ratelimit"
	"github.com/mrsadri/xRate/internal/scheduler"
	"github.com/mrsadri/xRate/internal/service"
	"github.com/mrsadri/xRate/internal/source"
	"github.com/mrsadri/xRate/internal/state"
	"github.com/mrsadri/xRate/internal/storage"
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

// newSources instantiates every configured source keyed by ID.
func (a *App) newSources() map[string]source.Source {
	cfg := a.Config
	timeout := cfg.HTTP.RequestTimeout
	agent := cfg.HTTP.UserAgent

	return map[string]source.Source{
		"bonbast": source.NewBonbast(source.BonbastOptions{
			BaseURL:   cfg.Sources.Bonbast.BaseURL,
			TTL:       cfg.Sources.Bonbast.TTL,
			Timeout:   timeout,
			UserAgent: agent,
		}, a.Logger),
		"alanchand": source.NewAlanchand(source.AlanchandOptions{
			BaseURL:   cfg.Sources.Alanchand.BaseURL,
			TTL:       cfg.Sources.Alanchand.TTL,
			Timeout:   timeout,
			UserAgent: agent,
		}, a.Logger),
		"brsapi": source.NewBRSAPI(source.BRSAPIOptions{
			BaseURL:   cfg.Sources.BRSAPI.BaseURL,
			APIKey:    cfg.Sources.BRSAPI.APIKey,
			TTL:       cfg.Sources.BRSAPI.TTL,
			Timeout:   timeout,
			UserAgent: agent,
		}, a.Logger),
		"navasan": source.NewNavasan(source.NavasanOptions{
			BaseURL:   cfg.Sources.Navasan.BaseURL,
			APIKey:    cfg.Sources.Navasan.APIKey,
			TTL:       cfg.Sources.Navasan.TTL,
			Timeout:   timeout,
			UserAgent: agent,
		}, a.Logger),
		"fastforex": source.NewFastForex(source.FastForexOptions{
			BaseURL:   cfg.Sources.FastForex.BaseURL,
			APIKey:    cfg.Sources.FastForex.APIKey,
			TTL:       cfg.Sources.FastForex.TTL,
			Timeout:   timeout,
			UserAgent: agent,
		}, a.Logger),
		"wallex": source.NewWallex(source.WallexOptions{
			BaseURL:   cfg.Sources.Wallex.BaseURL,
			TTL:       cfg.Sources.Wallex.TTL,
			Timeout:   timeout,
			UserAgent: agent,
		}, a.Logger),
		"chainlink": source.NewChainlink(source.ChainlinkOptions{
			RPCURL:      cfg.Sources.Chainlink.RPCURL,
			FeedAddress: cfg.Sources.Chainlink.FeedAddress,
			TTL:         cfg.Sources.Chainlink.TTL,
		}, a.Logger),
	}
}

// newChains builds the fallback chains from the configured ordering,
// all backed by one shared cache so a source polled by two categories
// is fetched once.
func (a *App) newChains() ([]*chain.Chain, *source.Cache, error) {
	sources := a.newSources()
	cache := source.NewCache(source.CacheOptions{
		FetchTimeout:   a.Config.HTTP.RequestTimeout,
		FailureBackoff: a.Config.Sources.FailureBackoff,
	}, a.Logger)

	specs := []struct {
		category market.Category
		required []market.Instrument
		order    []string
		partial  bool
	}{
		{
			category: market.CategoryIranian,
			required: []market.Instrument{market.InstrumentUSDToman, market.InstrumentEURToman, market.InstrumentGoldToman},
			order:    a.Config.Chains.Iranian,
		},
		{
			category: market.CategoryFX,
			required: []market.Instrument{market.InstrumentEURUSD},
			order:    a.Config.Chains.FX,
		},
		{
			category: market.CategoryTether,
			required: []market.Instrument{market.InstrumentTetherToman},
			order:    a.Config.Chains.Tether,
			partial:  true,
		},
	}

	chains := make([]*chain.Chain, 0, len(specs))
	for _, spec := range specs {
		members := make([]source.Source, 0, len(spec.order))
		for _, id := range spec.order {
			src, ok := sources[id]
			if !ok {
				return nil, nil, fmt.Errorf("chains.%s references unknown source %q", spec.category, id)
			}
			members = append(members, src)
		}
		chains = append(chains, chain.New(chain.Options{
			Category:     spec.category,
			Required:     spec.required,
			Sources:      members,
			AllowPartial: spec.partial,
		}, cache, a.Logger))
	}

	return chains, cache, nil
}

func (a *App) newEngine() *engine.Engine {
	cfg := make(engine.Config, len(a.Config.Thresholds))
	for inst, th := range a.Config.Thresholds {
		cfg[market.Instrument(inst)] = engine.NewThresholds(th.UpperPct, th.LowerPct, th.HysteresisPct)
	}
	return engine.New(cfg, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newLimiter() *ratelimit.Limiter {
	rules := make(map[string]ratelimit.Rule, len(a.Config.RateLimit))
	for ns, rule := range a.Config.RateLimit {
		rules[ns] = ratelimit.Rule{Limit: rule.Limit, Window: rule.Window}
	}
	return ratelimit.New(rules)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newService assembles the full orchestration stack.
func (a *App) newService(store *storage.Store) (*service.Service, error) {
	chains, _, err := a.newChains()
	if err != nil {
		return nil, err
	}

	opts := service.Options{
		Chains:     chains,
		Assembler:  chain.NewAssembler(chains, a.Logger),
		Engine:     a.newEngine(),
		StateStore: state.NewStore(a.Config.State.Path, a.Logger),
		Notifier:   a.newNotifier(),
		Limiter:    a.newLimiter(),
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
	}
	if store != nil {
		opts.SampleStore = store
		opts.EventStore = store
		opts.Locker = store
	}

	return service.New(opts, a.Logger), nil
}

// Run executes the long-running aggregation service: one polling loop
// per category plus the decision loop, all under a shared errgroup.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; audit persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, err := a.newService(store)
	if err != nil {
		return err
	}
	if err := svc.LoadState(); err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	for _, category := range []market.Category{market.CategoryIranian, market.CategoryFX, market.CategoryTether} {
		category := category
		interval := a.categoryInterval(category)
		sched := scheduler.New(scheduler.Options{
			Name:            string(category),
			Interval:        interval,
			AlignToInterval: a.Config.Scheduler.AlignToInterval,
			StartupDelay:    a.Config.Scheduler.StartupDelay,
		}, a.Logger)
		group.Go(func() error {
			return sched.Run(ctx, func(ctx context.Context, tick time.Time) error {
				return svc.PollCategory(ctx, category, tick)
			})
		})
	}

	decideSched := scheduler.New(scheduler.Options{
		Name:            "decide",
		Interval:        a.Config.ResolveDecisionInterval(),
		AlignToInterval: a.Config.Scheduler.AlignToInterval,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	group.Go(func() error {
		return decideSched.Run(ctx, svc.Decide)
	})

	a.Logger.Info().
		Dur("decision_interval", a.Config.ResolveDecisionInterval()).
		Msg("starting aggregation service")

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("aggregation service stopped")
	return nil
}

// categoryInterval is the poll cadence for one category: the shortest
// TTL among its chain members. The cache's eligibility check keeps
// longer-TTL members from being refetched early.
func (a *App) categoryInterval(category market.Category) time.Duration {
	ttls := map[string]time.Duration{
		"bonbast":   a.Config.Sources.Bonbast.TTL,
		"alanchand": a.Config.Sources.Alanchand.TTL,
		"brsapi":    a.Config.Sources.BRSAPI.TTL,
		"navasan":   a.Config.Sources.Navasan.TTL,
		"fastforex": a.Config.Sources.FastForex.TTL,
		"wallex":    a.Config.Sources.Wallex.TTL,
		"chainlink": a.Config.Sources.Chainlink.TTL,
	}

	var order []string
	switch category {
	case market.CategoryIranian:
		order = a.Config.Chains.Iranian
	case market.CategoryFX:
		order = a.Config.Chains.FX
	case market.CategoryTether:
		order = a.Config.Chains.Tether
	}

	var min time.Duration
	for _, id := range order {
		ttl := ttls[id]
		if ttl <= 0 {
			continue
		}
		if min == 0 || ttl < min {
			min = ttl
		}
	}
	if min == 0 {
		min = 15 * time.Minute
	}
	return min
}

// Refresh runs one on-demand decision cycle through the rate limiter.
func (a *App) Refresh(ctx context.Context, namespace, key string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc, err := a.newService(store)
	if err != nil {
		return err
	}
	if err := svc.LoadState(); err != nil {
		return err
	}

	return svc.TriggerRefresh(ctx, namespace, key)
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Events bool
}

// PruneOptions configure the audit retention job.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}
