package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/Proton-105/himera-lend/internal/aave"
	"github.com/Proton-105/himera-lend/internal/api"
	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/database"
	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/flows"
	"github.com/Proton-105/himera-lend/internal/health"
	"github.com/Proton-105/himera-lend/internal/i18n"
	"github.com/Proton-105/himera-lend/internal/idempotency"
	"github.com/Proton-105/himera-lend/internal/inflight"
	"github.com/Proton-105/himera-lend/internal/jobs"
	"github.com/Proton-105/himera-lend/internal/jobs/handlers"
	"github.com/Proton-105/himera-lend/internal/lifecycle"
	"github.com/Proton-105/himera-lend/internal/marketdata"
	"github.com/Proton-105/himera-lend/internal/notify"
	"github.com/Proton-105/himera-lend/internal/prediction"
	"github.com/Proton-105/himera-lend/internal/ratelimit"
	"github.com/Proton-105/himera-lend/internal/repository"
	"github.com/Proton-105/himera-lend/internal/txflow"
	"github.com/Proton-105/himera-lend/migrations"
	"github.com/Proton-105/himera-lend/pkg/config"
	"github.com/Proton-105/himera-lend/pkg/graceful"
	"github.com/Proton-105/himera-lend/pkg/logger"
	"github.com/Proton-105/himera-lend/pkg/metrics"
	redisclient "github.com/Proton-105/himera-lend/pkg/redis"
)

const (
	cleanupInterval = 10 * time.Minute
	positionsMaxAge = 30 * time.Second
	hookTimeout     = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "himera-lend: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, v, err := config.Load()
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(config.ParseLevel(cfg.Logger.Level))
	log := logger.New(*cfg, level)
	config.WatchLogLevel(v, level, log)

	flushSentry, err := logger.InitSentry(*cfg)
	if err != nil {
		return err
	}
	defer flushSentry()

	log.Info("starting himera lending service", slog.String("addr", cfg.HTTP.Addr))

	shutdown := lifecycle.NewShutdown(log)
	checker := health.NewChecker(log)
	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	networks := chain.NewRegistry()
	clients, err := chain.DialClients(ctx, networks, cfg.Chain, log)
	if err != nil {
		return fmt.Errorf("dial chains: %w", err)
	}
	shutdown.Register("chain clients", func(context.Context) error {
		clients.Close()
		return nil
	})
	checker.AddCheck("rpc", health.NewRPCChecker(clients))

	signers, err := newSignerProvider(ctx, cfg.Wallet, shutdown)
	if err != nil {
		return err
	}

	var rdb *redisclient.Client
	if cfg.Redis.Enabled {
		rdb, err = redisclient.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
		checker.AddCheck("redis", health.NewRedisChecker(rdb.Client))
	}

	var history repository.HistoryRepository
	if cfg.Database.Enabled {
		db, err := openDatabase(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		shutdown.Register("database", func(context.Context) error { return db.Close() })
		checker.AddCheck("database", health.NewDBChecker(db))
		history = repository.NewHistoryRepository(db, log)
	}

	market := marketdata.NewClient(cfg.MarketData.Endpoint, cfg.MarketData.Timeout, log)
	var rateCache *marketdata.RateCache
	if rdb != nil {
		rateCache = marketdata.NewRateCache(rdb.Client, cfg.MarketData.RateTTL)
	}
	rates := marketdata.NewRates(market, rateCache, networks, cfg.MarketData.Tokens, log)
	tracker := marketdata.NewTracker(market, networks, positionsMaxAge, log)

	opts := []aave.Option{
		aave.WithResolver(chain.NewTokenResolver(cfg.Chain.TokenOverrides)),
		aave.WithRefresher(tracker),
	}
	if rdb != nil {
		opts = append(opts, aave.WithGuard(inflight.NewRedisGuard(rdb.Client, cfg.Flows.GuardTTL(), log)))
	}
	if history != nil {
		opts = append(opts, aave.WithHistory(history))
	}
	if cfg.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(notify.TelegramOptions{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID})
		if err != nil {
			return err
		}
		opts = append(opts, aave.WithNotifier(notify.NewTelegram(bot, cfg.Telegram.ChatID, log)))
		checker.AddCheck("telegram", health.NewTelegramChecker(bot))
	}

	lookup := func(network domain.Network) (aave.Chain, error) {
		client, err := clients.Client(network)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	service := aave.NewService(lookup, txflow.NewExecutor(log), log, opts...)

	sessions := flows.NewRegistry(cfg.Flows.SessionTTL, log)
	controller := flows.NewController(sessions, service, signers, networks, errHandler, flows.Options{
		ActionTimeout: cfg.Flows.ActionTimeout,
		ResetDelay:    cfg.Flows.ResetDelay,
	}, log)

	locales, err := i18n.Load("en")
	if err != nil {
		return err
	}

	deps := api.Deps{
		Flows:     controller,
		Networks:  networks,
		Positions: tracker,
		Balances:  service,
		Rates:     rates,
		Predictor: prediction.NewPredictor(rates, tracker, log),
		History:   history,
		Errors:    errHandler,
		Locales:   locales,
		HTTP:      cfg.HTTP,
		Log:       log,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RateLimit.Enabled {
		rules, err := ratelimit.NewRules(cfg.RateLimit)
		if err != nil {
			return err
		}
		memory := ratelimit.NewMemoryLimiter(log)
		deps.Rules = rules
		deps.Limiter = memory

		if rdb != nil {
			deps.Limiter = ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Client, log), memory, log)
		}
		cleaner := newRateLimitCleaner(rdb, memory, log)
		g.Go(func() error {
			cleaner.Run(gctx)
			return nil
		})
	}

	if rdb != nil {
		deps.Idempotency = idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), time.Minute, log)
		cleaner := idempotency.NewCleaner(rdb.Client, cfg.HTTP.IdempotencyTTL, cleanupInterval, log)
		g.Go(func() error {
			cleaner.Run(gctx)
			return nil
		})

		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		queue := jobs.NewManager(redisOpt, log)
		shutdown.Register("jobs client", func(context.Context) error { return queue.Close() })
		deps.Jobs = queue

		worker := jobs.NewWorker(redisOpt, jobs.DefaultQueues, 0, log)
		worker.RegisterHandler(jobs.TaskTypeRatesRefresh, handlers.NewRatesRefreshHandler(rates, log))
		schedule := jobs.Schedule{RatesRefreshCron: cfg.MarketData.RefreshCron}
		if history != nil {
			worker.RegisterHandler(jobs.TaskTypeHistoryPrune, handlers.NewHistoryPruneHandler(history, log))
			schedule.HistoryPruneCron = cfg.Database.PruneCron
			schedule.HistoryRetention = cfg.Database.HistoryRetention
		}

		scheduler := jobs.NewScheduler(redisOpt, log)
		if err := scheduler.RegisterTasks(schedule); err != nil {
			return err
		}

		g.Go(func() error { return worker.Run(gctx) })
		g.Go(func() error { return scheduler.Run(gctx) })
	} else if err := rates.RefreshAll(ctx); err != nil {
		log.Warn("initial rates refresh failed", slog.String("error", err.Error()))
	}

	probes := lifecycle.NewProbes(checker, log)
	deps.Probes = probes
	apiServer := api.NewServer(deps)

	httpServer := graceful.NewServer(log, &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           apiServer.Router(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}, cfg.HTTP.ShutdownTimeout)
	httpServer.OnShutdown(apiServer.CloseStreams)

	g.Go(func() error { return httpServer.ListenAndServe(gctx) })
	g.Go(func() error {
		sessions.Run(gctx, cfg.Flows.ReapInterval)
		return nil
	})
	g.Go(func() error {
		metrics.NewSessionCollector(sessions, 0).Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		probes.MarkNotReady()
		return nil
	})

	probes.MarkReady()
	log.Info("himera lending service ready")

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("service stopped with error", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+hookTimeout)
	defer cancel()
	if err := shutdown.Execute(shutdownCtx); err != nil {
		log.Error("shutdown hooks failed", slog.String("error", err.Error()))
	}

	log.Info("himera lending service stopped")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func newSignerProvider(ctx context.Context, cfg config.WalletConfig, shutdown *lifecycle.Shutdown) (chain.SignerProvider, error) {
	switch {
	case cfg.PrivateKey != "":
		signer, err := chain.NewKeySigner(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("load wallet key: %w", err)
		}
		return chain.NewStaticSignerProvider(signer), nil
	case cfg.RemoteURL != "":
		if !common.IsHexAddress(cfg.Address) {
			return nil, fmt.Errorf("wallet address %q is invalid", cfg.Address)
		}
		signer, err := chain.DialRemoteSigner(ctx, cfg.RemoteURL, common.HexToAddress(cfg.Address))
		if err != nil {
			return nil, err
		}
		shutdown.Register("wallet rpc", func(context.Context) error {
			signer.Close()
			return nil
		})
		return chain.NewStaticSignerProvider(signer), nil
	default:
		return chain.NewStaticSignerProvider(nil), nil
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	migrator := database.NewMigrator(db, log)
	if cfg.MigrationsDir != "" {
		err = migrator.ApplyDir(ctx, cfg.MigrationsDir)
	} else {
		err = migrator.ApplyFS(ctx, migrations.FS, ".")
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

func newRateLimitCleaner(rdb *redisclient.Client, memory *ratelimit.MemoryLimiter, log *slog.Logger) *ratelimit.Cleaner {
	if rdb == nil {
		return ratelimit.NewCleaner(nil, memory, time.Hour, cleanupInterval, log)
	}
	return ratelimit.NewCleaner(rdb.Client, memory, time.Hour, cleanupInterval, log)
}
