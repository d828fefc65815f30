package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulseworks/pulse/pkg/config"
	"github.com/pulseworks/pulse/pkg/dao"
	"github.com/pulseworks/pulse/pkg/engine"
	"github.com/pulseworks/pulse/pkg/ledger"
	"github.com/pulseworks/pulse/pkg/notify"
	"github.com/pulseworks/pulse/pkg/observability"
	"github.com/pulseworks/pulse/pkg/store"
	"github.com/pulseworks/pulse/pkg/trigger"
)

// runServer is the daemon: it arms every active trigger from the store and
// runs the payment batch and proposal sweep loops until a signal arrives.
func runServer() int {
	cfg := config.Load()
	initLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "pulsed")

	if path := os.Getenv("SCHEDULING_PROFILE"); path != "" {
		profile, err := config.LoadSchedulingProfile(path)
		if err != nil {
			logger.Error("scheduling profile load failed", "path", path, "error", err)
			return 1
		}
		cfg.Scheduling = profile
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store
	st, closeStore, err := openStore(ctx)
	if err != nil {
		logger.Error("store init failed", "error", err)
		return 1
	}
	defer closeStore()

	// Ledger
	lc, err := openLedger(ctx)
	if err != nil {
		logger.Error("ledger init failed", "error", err)
		return 1
	}

	// Observability
	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Environment = cfg.Environment
	obsCfg.Enabled = cfg.OTelEnabled
	obsCfg.Insecure = cfg.Environment != "production"
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		logger.Warn("observability disabled", "error", err)
	}
	if obs != nil {
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutCancel()
			_ = obs.Shutdown(shutCtx)
		}()
	}

	// Notifications
	channels := []notify.Notifier{notify.NewLogNotifier(nil)}
	if cfg.RedisAddr != "" {
		rn := notify.NewRedisNotifier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer rn.Close()
		channels = append(channels, rn)
	}
	notifier := notify.NewMulti(nil, cfg.NotifyPerMin, channels...)

	// Condition evaluation backed by the ledger node
	evaluator, err := trigger.NewConditionEvaluator(chainOracles(ctx, lc), trigger.SystemClock{})
	if err != nil {
		logger.Error("condition evaluator init failed", "error", err)
		return 1
	}

	// Trigger registry and execution coordinator
	registry := trigger.NewRegistry(evaluator, trigger.SystemClock{}, nil)
	defer registry.Close()

	trail := store.NewTrail()
	coord := engine.NewCoordinator(st, lc, notifier, registry,
		engine.WithObservability(obs),
		engine.WithBackoff(cfg.Scheduling.BackoffCap, cfg.Scheduling.BackoffJitter),
		engine.WithTrail(trail),
	)
	registry.OnDue(coord.OnDue)
	registry.OnExpire(coord.ExpireEntity)

	armed, err := registry.Rebuild(ctx, st)
	if err != nil {
		logger.Error("trigger rebuild failed", "error", err)
		return 1
	}
	logger.Info("triggers armed", "count", armed)

	payments := engine.NewPaymentScheduler(coord)
	resolver := dao.NewResolver(st, notifier, dao.WithObservability(obs), dao.WithTrail(trail))

	// Background loops
	go runPaymentLoop(ctx, payments, cfg.Scheduling.PaymentBatchInterval, logger)
	go runSweepLoop(ctx, resolver, cfg.Scheduling.SweepInterval, logger)

	logger.Info("pulsed started",
		"store", cfg.StoreDriver, "ledger", cfg.EthereumRPC, "environment", cfg.Environment)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down",
		"signal", s.String(), "trail_entries", trail.Len(), "trail_head", trail.Head())
	cancel()
	return 0
}

func runPaymentLoop(ctx context.Context, p *engine.PaymentScheduler, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			result, err := p.ProcessDuePayments(ctx, now.UTC())
			if err != nil {
				logger.Error("payment batch failed", "error", err)
				continue
			}
			if result.Processed > 0 {
				logger.Info("payment batch complete",
					"processed", result.Processed, "succeeded", result.Succeeded,
					"failed", result.Failed, "skipped", result.Skipped)
			}
		}
	}
}

func runSweepLoop(ctx context.Context, r *dao.Resolver, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			result := r.Sweep(ctx, now.UTC())
			if result.Resolved > 0 || result.Errors > 0 {
				logger.Info("proposal sweep complete",
					"checked", result.Checked, "resolved", result.Resolved, "errors", result.Errors)
			}
		}
	}
}

// openStore opens the configured store and returns it with its closer.
func openStore(ctx context.Context) (store.Store, func(), error) {
	cfg := config.Load()
	switch cfg.StoreDriver {
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, nil, fmt.Errorf("POSTGRES_URL required for postgres store")
		}
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg, err := store.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := pg.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg, func() { _ = db.Close() }, nil
	case "sqlite":
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openLedger dials the Ethereum node configured in the environment.
func openLedger(ctx context.Context) (ledger.Client, error) {
	cfg := config.Load()
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("ETH_SIGNING_KEY required")
	}
	return ledger.DialEthereum(ctx, cfg.EthereumRPC, cfg.SigningKey)
}

// chainOracles exposes on-chain reads to condition expressions. Price data
// needs an external feed; until one is wired, priceOf reports unavailable.
func chainOracles(ctx context.Context, lc ledger.Client) trigger.Oracles {
	oracles := trigger.Oracles{
		Price: func(symbol string) (float64, error) {
			return 0, fmt.Errorf("price oracle not configured")
		},
	}
	if eth, ok := lc.(*ledger.EthereumClient); ok {
		oracles.Balance = func(address string) (float64, error) {
			readCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			return eth.BalanceOf(readCtx, address)
		}
	} else {
		oracles.Balance = func(address string) (float64, error) {
			return 0, fmt.Errorf("balance oracle not configured")
		}
	}
	return oracles
}

func initLogging(level string) {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
