package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vendornet/stockcore/internal/ledger"
	"github.com/vendornet/stockcore/internal/orders"
	"github.com/vendornet/stockcore/internal/reassign"
	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/internal/scheduler"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/internal/sweeper"
	"github.com/vendornet/stockcore/internal/vendors"
	"github.com/vendornet/stockcore/pkg/config"
	"github.com/vendornet/stockcore/pkg/db"
	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/metrics"
	"github.com/vendornet/stockcore/pkg/migrate"
	"github.com/vendornet/stockcore/pkg/outbox"
	"github.com/vendornet/stockcore/pkg/redis"
)

const lockKeyFormat = "stockcore:worker:lock:%s:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gormDB := dbClient.DB()
	promRegistry := prometheus.NewRegistry()

	stock, err := ledger.NewService(ledger.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	sel, err := selector.NewService(selector.Config{
		VendorRepo: vendors.NewRepository(gormDB),
		Stock:      stock,
		Cache:      redisClient,
		CacheTTL:   cfg.Selector.CacheTTL,
		IsCacheNil: redis.IsNil,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create selector service", err)
		os.Exit(1)
	}

	events := outbox.NewService(outbox.NewRepository(gormDB), logg)
	txRunner := reservation.NewTxRunner(gormDB)
	reservationRepo := reservation.NewRepository(gormDB)
	reservationMetrics := metrics.NewReservationMetrics(promRegistry)

	engine, err := reservation.NewEngine(reservation.EngineConfig{
		Tx:            txRunner,
		Repo:          reservationRepo,
		Stock:         stock,
		Selector:      sel,
		Events:        events,
		Metrics:       reservationMetrics,
		TTL:           cfg.Reservation.TTL,
		MaxCandidates: cfg.Reservation.MaxCandidates,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation engine", err)
		os.Exit(1)
	}

	monitor, err := reassign.NewMonitor(reassign.MonitorParams{
		Logger:          logg,
		Tx:              txRunner,
		Orders:          orders.NewRepository(gormDB),
		Records:         reassign.NewRepository(gormDB),
		Engine:          engine,
		Selector:        sel,
		Events:          events,
		ExtensionWindow: cfg.SLA.ExtensionWindow,
		BreachCooldown:  cfg.SLA.BreachCooldown,
		MaxAlternates:   cfg.SLA.MaxAlternates,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sla monitor", err)
		os.Exit(1)
	}

	sweep, err := sweeper.NewSweeper(sweeper.SweeperParams{
		Logger:    logg,
		Repo:      reservationRepo,
		Engine:    engine,
		Metrics:   reservationMetrics,
		Retention: cfg.Sweeper.Retention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation sweeper", err)
		os.Exit(1)
	}

	slaLock, err := redis.NewRedisLock(redisClient, lockKey(cfg.App.Env, monitor.Name()), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create sla monitor lock", err)
		os.Exit(1)
	}
	sweepLock, err := redis.NewRedisLock(redisClient, lockKey(cfg.App.Env, sweep.Name()), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper lock", err)
		os.Exit(1)
	}

	taskMetrics := metrics.NewTaskMetrics(promRegistry)

	slaScheduler, err := scheduler.NewService(scheduler.ServiceParams{
		Logger:   logg,
		Registry: scheduler.NewRegistry(monitor),
		Lock:     slaLock,
		Metrics:  taskMetrics,
		Interval: cfg.SLA.SweepInterval,
		Jitter:   cfg.SLA.SweepJitter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sla scheduler", err)
		os.Exit(1)
	}

	sweepScheduler, err := scheduler.NewService(scheduler.ServiceParams{
		Logger:   logg,
		Registry: scheduler.NewRegistry(sweep),
		Lock:     sweepLock,
		Metrics:  taskMetrics,
		Interval: cfg.Sweeper.Interval,
		Jitter:   cfg.Sweeper.Jitter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting worker")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweepScheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "sweeper scheduler stopped unexpectedly", err)
		}
	}()

	if err := slaScheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()

	logg.Info(ctx, "worker shutting down gracefully")
}

func lockKey(env, task string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env, task)
}
