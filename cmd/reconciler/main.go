// Package main is the entrypoint for the MilkRun reconciler service.
//
// The reconciler runs as a single long-lived process: a tick loop drives
// the reconciliation engine for today's and tomorrow's business dates, and
// a small ops HTTP server exposes /healthz and /status. All business logic
// lives in the internal packages; this file is wiring.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"milkrun/internal/config"
	"milkrun/internal/db"
	"milkrun/internal/external"
	"milkrun/internal/ops"
	"milkrun/internal/reconcile"
	"milkrun/internal/scheduler"
	"milkrun/internal/types"
)

func main() {
	if err := run(); err != nil {
		slog.Error("reconciler exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("reconciler starting",
		"service", cfg.Service,
		"environment", cfg.Environment,
		"timezone", cfg.Reconcile.Timezone,
		"interval", cfg.Reconcile.Interval.String(),
	)

	loc, err := cfg.Reconcile.Location()
	if err != nil {
		return err
	}
	routeProducers, err := cfg.Logistics.RouteProducers()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to ping database", err)
	}

	logisticsClient := external.NewLogisticsClient(
		&http.Client{Timeout: cfg.Logistics.Timeout},
		external.LogisticsClientConfig{
			APIKey:         cfg.Logistics.APIKey.Unmask(),
			BaseURL:        cfg.Logistics.BaseURL,
			CarrierNumber:  cfg.Logistics.CarrierNumber,
			RouteProducers: routeProducers,
			Logger:         logger,
		},
	)
	telemetryClient := external.NewTelemetryClient(
		&http.Client{Timeout: cfg.Telemetry.Timeout},
		external.TelemetryClientConfig{
			APIToken: cfg.Telemetry.APIToken.Unmask(),
			BaseURL:  cfg.Telemetry.BaseURL,
			Logger:   logger,
		},
	)
	routingClient := external.NewRoutingClient(
		&http.Client{Timeout: cfg.Routing.Timeout},
		external.RoutingClientConfig{
			APIKey:  cfg.Routing.APIKey.Unmask(),
			BaseURL: cfg.Routing.BaseURL,
			Logger:  logger,
		},
	)

	routeRepo := db.NewReconciledRouteRepository(pool, pool, cfg.Logistics.CarrierNumber)
	locationRepo := db.NewLocationRepository(pool)
	lockRepo := db.NewRunLockRepository(pool)
	historyRepo := db.NewRunHistoryRepository(pool)

	locations, err := locationRepo.List(ctx)
	if err != nil {
		return err
	}
	logger.Info("loaded producer locations", "count", len(locations))

	engine := reconcile.NewEngine(reconcile.EngineConfig{
		Logistics: logisticsClient,
		Telemetry: telemetryClient,
		Routing:   routingClient,
		Writer:    routeRepo,
		Locations: locations,
		Timezone:  loc,
		Depot: types.Coordinates{
			Lat: cfg.Reconcile.DepotLat,
			Lon: cfg.Reconcile.DepotLon,
		},
		Status: reconcile.StatusConfig{
			StaleMinEnRoute:     cfg.Reconcile.StaleMinEnRoute,
			StaleImminentWindow: cfg.Reconcile.StaleImminentWindow,
			DefaultTravelTime:   cfg.Reconcile.DefaultTravelTime,
		},
		FallbackDuration: cfg.Reconcile.FallbackETADuration,
		TrackingLinkBase: cfg.Telemetry.TrackingLinkBase,
		PickupKeywords:   cfg.Reconcile.PickupKeywords,
		Logger:           logger,
	})

	runner := scheduler.NewRunner(scheduler.RunnerConfig{
		Engine:   engine,
		Locks:    lockRepo,
		History:  historyRepo,
		Timezone: loc,
		Interval: cfg.Reconcile.Interval,
		LockTTL:  cfg.Reconcile.LockTTL,
		Logger:   logger,
	})

	opsServer := ops.NewServer(ops.ServerConfig{
		DB:     pool,
		Runs:   runner,
		Logger: logger,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           opsServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("ops server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("reconciler stopped")
	return nil
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to parse database URL", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create database pool", err)
	}
	return pool, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
