package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/antihub/quotabroker/api"
	"github.com/antihub/quotabroker/core/aggregate"
	"github.com/antihub/quotabroker/core/config"
	"github.com/antihub/quotabroker/core/ledger"
	"github.com/antihub/quotabroker/core/logger"
	"github.com/antihub/quotabroker/core/server"
	"github.com/antihub/quotabroker/integration/database/pg"
	"github.com/antihub/quotabroker/integration/database/redis"
	pgstore "github.com/antihub/quotabroker/storage/pg"
	"github.com/antihub/quotabroker/storage/redisdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg Config
	config.MustLoad(&cfg)

	var log = logger.New(logger.WithDevelopment(cfg.AppName))
	if cfg.Environment == "production" {
		log = logger.New(logger.WithProduction(cfg.AppName))
	}

	// Postgres holds the source of truth; connect retries internally.
	db, err := pg.Connect(ctx, cfg.DB)
	if err != nil {
		log.Error("failed to connect to database", logger.Component("database"), logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	if err := pg.Migrate(ctx, db, cfg.DB, log.With("component", "migration")); err != nil {
		log.Error("failed to migrate database", logger.Component("database.migration"), logger.Error(err))
		os.Exit(1)
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", logger.Component("redis"), logger.Error(err))
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	store := pgstore.New(db)
	counter := redisdb.New(rdb)

	engine, err := ledger.NewEngine(store, counter,
		ledger.WithLogger(log.With("component", "ledger")),
	)
	if err != nil {
		log.Error("failed to build ledger engine", logger.Component("ledger"), logger.Error(err))
		os.Exit(1)
	}

	sweeper, err := ledger.NewSweeper(engine,
		ledger.WithSweepInterval(cfg.SweepInterval),
		ledger.WithMaxPendingAge(cfg.MaxPendingAge),
		ledger.WithSweeperLogger(log.With("component", "sweeper")),
	)
	if err != nil {
		log.Error("failed to build sweeper", logger.Component("sweeper"), logger.Error(err))
		os.Exit(1)
	}

	reconciler, err := ledger.NewReconciler(engine,
		ledger.WithReconcileInterval(cfg.ReconcileInterval),
		ledger.WithReconcilerLogger(log.With("component", "reconciler")),
	)
	if err != nil {
		log.Error("failed to build reconciler", logger.Component("reconciler"), logger.Error(err))
		os.Exit(1)
	}

	agg, err := aggregate.New(store, aggregate.WithLogger(log.With("component", "aggregate")))
	if err != nil {
		log.Error("failed to build aggregator", logger.Component("aggregate"), logger.Error(err))
		os.Exit(1)
	}

	router, err := api.New(engine, agg, store,
		api.WithLogger(log.With("component", "api")),
		api.WithAdminKey(cfg.AdminAPIKey),
		api.WithReadinessChecks(pg.Healthcheck(db), redis.Healthcheck(rdb)),
	)
	if err != nil {
		log.Error("failed to build router", logger.Component("api"), logger.Error(err))
		os.Exit(1)
	}

	srv, err := server.NewFromConfig(cfg.Server, server.WithLogger(log.With("component", "server")))
	if err != nil {
		log.Error("failed to create server", logger.Component("server"), logger.Error(err))
		os.Exit(1)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(sweeper.Run(ctx))
	eg.Go(reconciler.Run(ctx))
	eg.Go(srv.Run(ctx, router))

	if err := eg.Wait(); err != nil {
		log.Error("service exited with error", logger.Error(err))
		os.Exit(1)
	}

	log.Info("service stopped")
}
