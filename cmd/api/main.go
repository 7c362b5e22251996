package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vendornet/stockcore/api/routes"
	"github.com/vendornet/stockcore/internal/ledger"
	"github.com/vendornet/stockcore/internal/orders"
	"github.com/vendornet/stockcore/internal/reassign"
	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/internal/selector"
	"github.com/vendornet/stockcore/internal/vendors"
	"github.com/vendornet/stockcore/pkg/config"
	"github.com/vendornet/stockcore/pkg/db"
	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/metrics"
	"github.com/vendornet/stockcore/pkg/migrate"
	"github.com/vendornet/stockcore/pkg/outbox"
	"github.com/vendornet/stockcore/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	vendorRepo := vendors.NewRepository(gormDB)
	stock, err := ledger.NewService(ledger.NewRepository(gormDB))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	sel, err := selector.NewService(selector.Config{
		VendorRepo: vendorRepo,
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

	var locks reservation.LockFactory
	if cfg.FeatureFlags.ReservationLock {
		locks = func(key string) (redis.Lock, error) {
			return redis.NewRedisLock(redisClient, key, cfg.Reservation.LockTTL)
		}
	}

	engine, err := reservation.NewEngine(reservation.EngineConfig{
		Tx:            txRunner,
		Repo:          reservation.NewRepository(gormDB),
		Stock:         stock,
		Selector:      sel,
		Events:        events,
		Metrics:       metrics.NewReservationMetrics(promRegistry),
		Locks:         locks,
		LockTTL:       cfg.Reservation.LockTTL,
		TTL:           cfg.Reservation.TTL,
		MaxCandidates: cfg.Reservation.MaxCandidates,
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation engine", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orders.ServiceConfig{
		Tx:            txRunner,
		Repo:          orders.NewRepository(gormDB),
		Engine:        engine,
		Selector:      sel,
		Records:       reassign.NewRepository(gormDB),
		Events:        events,
		Logger:        logg,
		SLAWindow:     cfg.SLA.Window,
		MaxCandidates: cfg.Reservation.MaxCandidates,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisClient,
			Registry: promRegistry,
			Tx:       txRunner,
			Engine:   engine,
			Orders:   ordersSvc,
			Selector: sel,
			Stock:    stock,
			Vendors:  vendorRepo,
			Events:   events,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
