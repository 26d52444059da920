// Package app assembles the auction house from configuration. The daemon
// and the operator CLI share it so both drive the same state machine.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auctionhouse/internal/auth"
	"auctionhouse/internal/cache"
	"auctionhouse/internal/chain"
	"auctionhouse/internal/changefeed"
	"auctionhouse/internal/client/sui"
	"auctionhouse/internal/config"
	cronrunner "auctionhouse/internal/cron"
	"auctionhouse/internal/db"
	"auctionhouse/internal/handler"
	"auctionhouse/internal/paas"
	gormrepository "auctionhouse/internal/repository/gorm"
	"auctionhouse/internal/retry"
	"auctionhouse/internal/service"
	"auctionhouse/internal/txn"
)

type App struct {
	Config config.Config
	Logger *zap.Logger

	DB        *db.DB
	Store     *gormrepository.Store
	Redis     *redis.Client
	Relay     *changefeed.RedisRelay
	Cache     cache.Store
	Chain     *sui.Client
	Signer    *chain.Keypair
	PaaS      *paas.Client
	Settings  *service.SystemSettingsService
	Machine   *service.Machine
	Projector *service.Projector
	Watcher   *service.ExpiryWatcher
	Auth      *auth.Service
	JWT       auth.JWT

	limiter *handler.RateLimiter
}

// New connects to the database, the node and the optional redis and paas
// sinks, and wires the workflow on top of them.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: log}

	conn, err := db.Setup(ctx, cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a.DB = conn
	a.Store = gormrepository.New(conn.Gorm)

	a.Cache = cache.NewMemoryStore()
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Cache = cache.NewRedisStore(a.Redis, "auctionhouse:")
		a.Relay = changefeed.NewRedisRelay(a.Redis, a.Store.Hub(), log)
		if cfg.Redis.Channel != "" {
			a.Relay.Channel = cfg.Redis.Channel
		}
		a.Store.WithPublisher(a.Relay)
	}

	a.Chain = sui.NewClient(&http.Client{}, cfg.Chain.RPCURL, sui.Options{
		Timeout: cfg.Chain.Timeout,
		RPS:     cfg.Chain.RPS,
		Burst:   cfg.Chain.Burst,
	})

	ids, err := parseChainConfig(cfg.Chain)
	if err != nil {
		a.Close()
		return nil, err
	}
	if strings.TrimSpace(cfg.Chain.AdminKey) != "" {
		a.Signer, err = chain.ParseKeystoreEntry(cfg.Chain.AdminKey)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("chain.admin_key: %w", err)
		}
		if ids.admin.IsZero() {
			ids.admin = a.Signer.Address()
		} else if ids.admin != a.Signer.Address() {
			a.Close()
			return nil, errors.New("chain.admin_key does not belong to chain.admin_address")
		}
	} else {
		log.Warn("no admin key configured; operator actions will fail")
	}

	a.PaaS = newPaaSClient(ctx, cfg.PaaS, log)

	readRetry := retry.Policy{MaxAttempts: cfg.Retry.ReadAttempts, Backoff: retry.Linear(cfg.Retry.ReadBackoff)}
	orch := &txn.Orchestrator{
		Gateway: a.Chain,
		Signer:  a.Signer,
		Config: txn.Config{
			AdminAddress: ids.admin,
			PackageID:    ids.pkg,
			KioskID:      ids.kiosk,
			KioskCapID:   ids.kioskCap,
			ClockID:      ids.clock,
			AdminBudget: txn.BudgetPolicy{
				Floor:      cfg.Auction.AdminGasFloor,
				Multiplier: decimal.NewFromFloat(cfg.Auction.AdminGasMultiplier),
				Fallback:   cfg.Auction.AdminGasFallback,
			},
			UserBudget: txn.BudgetPolicy{
				Floor:      cfg.Auction.UserGasFloor,
				Multiplier: decimal.NewFromFloat(cfg.Auction.UserGasMultiplier),
				Fallback:   cfg.Auction.UserGasFallback,
			},
		},
		Retry:     retry.Policy{MaxAttempts: cfg.Retry.ChainAttempts, Backoff: retry.Fixed(cfg.Retry.ChainBackoff)},
		ReadRetry: readRetry,
		Audit:     a.Store,
		Logger:    log,
	}

	var sink service.DivergenceSink
	if a.PaaS != nil {
		sink = &paas.DivergenceSink{Client: a.PaaS, Logger: log}
	}
	reconciler := &service.Reconciler{
		Repo:   a.Store,
		Retry:  retry.Policy{MaxAttempts: cfg.Retry.StoreAttempts, Backoff: retry.Fixed(cfg.Retry.StoreBackoff)},
		Logger: log,
		Sink:   sink,
	}

	a.Settings = &service.SystemSettingsService{Repo: a.Store}
	if err := a.Settings.EnsureDefaultSwitches(ctx); err != nil {
		log.Warn("init default system switches failed", zap.Error(err))
	}

	a.Machine = &service.Machine{
		Repo:       a.Store,
		Chain:      a.Chain,
		Tx:         orch,
		Reconciler: reconciler,
		Settings:   a.Settings,
		Logger:     log,
		ReadRetry:  readRetry,
		Config: service.Config{
			AdminAddress:     ids.admin,
			PackageID:        ids.pkg,
			KioskID:          ids.kiosk,
			KioskCapID:       ids.kioskCap,
			FeeAddress:       ids.fee,
			MinIncrement:     cfg.Auction.MinIncrement,
			Cooldown:         cfg.Auction.Cooldown,
			FeeBps:           cfg.Auction.FeeBps,
			MaxDurationHours: cfg.Auction.MaxDurationHours,
		},
	}
	a.Projector = &service.Projector{
		Machine:      a.Machine,
		Cache:        a.Cache,
		CacheTTL:     cfg.Projector.CacheTTL,
		HistoryLimit: cfg.Auction.BidHistoryLimit,
		QueuePreview: cfg.Auction.QueuePreview,
		Logger:       log,
	}
	a.Watcher = &service.ExpiryWatcher{
		Machine:    a.Machine,
		Logger:     log,
		Grace:      cfg.Auction.ExpiryGrace,
		RetryDelay: cfg.Auction.ExpiryRetry,
		Resync:     cfg.Auction.WatcherResync,
	}

	a.JWT = auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), TokenTTL: cfg.Auth.TokenTTL, Issuer: cfg.Auth.Issuer}
	a.Auth = &auth.Service{Cache: a.Cache, JWT: a.JWT, AdminAddress: ids.admin, NonceTTL: cfg.Auth.ChallengeTTL}
	return a, nil
}

type chainIDs struct {
	admin    chain.Address
	fee      chain.Address
	pkg      chain.ID
	kiosk    chain.ID
	kioskCap chain.ID
	clock    chain.ID
}

func parseChainConfig(cfg config.ChainConfig) (chainIDs, error) {
	var out chainIDs
	fields := []struct {
		key   string
		raw   string
		dst   *chain.ID
		short bool
	}{
		{"chain.admin_address", cfg.AdminAddress, &out.admin, false},
		{"chain.fee_address", cfg.FeeAddress, &out.fee, false},
		{"chain.package_id", cfg.PackageID, &out.pkg, false},
		{"chain.kiosk_id", cfg.KioskID, &out.kiosk, false},
		{"chain.kiosk_cap_id", cfg.KioskCapID, &out.kioskCap, false},
		{"chain.clock_id", cfg.ClockID, &out.clock, true},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		parse := chain.ParseID
		if f.short {
			parse = chain.ParseShortID
		}
		id, err := parse(raw)
		if err != nil {
			return chainIDs{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = id
	}
	return out, nil
}

func newPaaSClient(ctx context.Context, cfg config.PaaSConfig, log *zap.Logger) *paas.Client {
	base := strings.TrimSpace(cfg.BaseURL)
	token := strings.TrimSpace(cfg.Token)
	if base == "" || token == "" {
		return nil
	}
	p := &paas.Client{BaseURL: base, APIKey: token, Agent: cfg.Project, HTTP: &http.Client{Timeout: cfg.Timeout}}
	lctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := p.Login(lctx); err != nil {
		log.Warn("paas login failed (audit and alerts disabled)", zap.Error(err))
		return nil
	}
	log.Info("paas login ok")
	return p
}

// Router builds the HTTP surface.
func (a *App) Router() http.Handler {
	if a.Config.RateLimit.Enabled && a.limiter == nil {
		a.limiter = handler.NewRateLimiter(a.Config.RateLimit.RPS, a.Config.RateLimit.Burst)
	}
	return handler.NewRouter(handler.Deps{
		DB:           a.DB.Gorm,
		Chain:        a.Chain,
		Repo:         a.Store,
		Machine:      a.Machine,
		Projector:    a.Projector,
		Settings:     a.Settings,
		Auth:         a.Auth,
		JWT:          a.JWT,
		PaaS:         a.PaaS,
		Limiter:      a.limiter,
		Logger:       a.Logger,
		LiveInterval: a.Config.Projector.PushInterval,
		Swagger:      a.Config.Server.Swagger,
		Debug:        strings.EqualFold(a.Config.App.Env, "dev"),
	})
}

// Serve runs the HTTP server, the expiry watcher, the change-feed relay and
// the cron jobs until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if a.Config.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	srv := &http.Server{Addr: a.Config.Server.HTTPAddr, Handler: a.Router()}

	runner := cronrunner.New(a.Logger, ctx)
	if a.Config.Cron.Enabled {
		if err := a.addJobs(runner); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return ignoreCanceled(a.Watcher.Run(gctx)) })
	if a.Relay != nil {
		g.Go(func() error { return ignoreCanceled(a.Relay.Run(gctx)) })
	}
	if a.limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					a.limiter.Prune(30 * time.Minute)
				}
			}
		})
	}
	runner.Start()
	defer runner.Stop()
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) addJobs(runner *cronrunner.Runner) error {
	jobs := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"auto_activate", a.Config.Cron.AutoActivate, func(ctx context.Context) error {
			out, err := a.Machine.AutoActivate(ctx)
			if err == nil && out != nil && out.Record != nil {
				a.Logger.Info("cron auto activation", zap.String("auction_id", out.Record.ID.String()), zap.String("digest", out.Digest))
			}
			return err
		}},
		{"reconcile_sweep", a.Config.Cron.ReconcileSweep, func(ctx context.Context) error {
			report, err := a.Machine.ScheduledSweep(ctx)
			if err == nil && report != nil {
				a.Logger.Info("cron reconcile sweep",
					zap.Int("checked", report.Checked),
					zap.Int("repaired", report.Repaired),
					zap.Int("divergent", report.Divergent),
					zap.Int("errors", len(report.Errors)),
				)
			}
			return err
		}},
		{"stale_bids", a.Config.Cron.StaleBids, func(ctx context.Context) error {
			_, err := a.Machine.PurgeStaleBids(ctx)
			return err
		}},
	}
	for _, j := range jobs {
		if _, err := runner.Add(j.name, j.spec, j.fn); err != nil {
			return fmt.Errorf("cron %s: %w", j.name, err)
		}
	}
	return nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = db.Close(a.DB)
	}
}
