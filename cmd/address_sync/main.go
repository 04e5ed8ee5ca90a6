package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThiagoRGoveia/address-sync/internal/archive"
	"github.com/ThiagoRGoveia/address-sync/internal/config"
	"github.com/ThiagoRGoveia/address-sync/internal/database"
	"github.com/ThiagoRGoveia/address-sync/internal/fetcher"
	"github.com/ThiagoRGoveia/address-sync/internal/ingestion"
	"github.com/ThiagoRGoveia/address-sync/internal/metrics"
	"github.com/ThiagoRGoveia/address-sync/internal/parser"
	"github.com/ThiagoRGoveia/address-sync/internal/platform/logger"
	"github.com/ThiagoRGoveia/address-sync/internal/reconcile"
	"github.com/ThiagoRGoveia/address-sync/internal/scheduler"
	"github.com/ThiagoRGoveia/address-sync/internal/server"
	"github.com/ThiagoRGoveia/address-sync/pkg/tempstore"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 30 * time.Second

type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	dbManager database.DBManager
	service   *ingestion.IngestionService
	scheduler *scheduler.Scheduler
	cleanups  []func()
}

func openStore(ctx context.Context, cfg *config.Config) (database.DBManager, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		dbpool, err := database.ConnectDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		return database.NewPostgresDBManager(dbpool), nil
	case config.StoreDriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("unable to open sqlite database: %w", err)
		}
		return database.NewSQLiteDBManager(db), nil
	default:
		return database.NewMemoryDBManager(), nil
	}
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	slog.SetDefault(appLogger)

	a := &app{cfg: cfg, logger: appLogger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	a.dbManager, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cleanups = append(a.cleanups, a.dbManager.Close)

	if err := a.dbManager.CreateTables(ctx); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	gcsOpener := &fetcher.StorageOpener{}
	a.cleanups = append(a.cleanups, func() { _ = gcsOpener.Close() })
	archiveFetcher := fetcher.NewRouter(
		fetcher.NewHTTPFetcher(cfg.FetchTimeout, cfg.FetchRetries),
		fetcher.NewGCSFetcher(gcsOpener),
		fetcher.FileFetcher{},
	)

	a.service = ingestion.NewIngestionService(
		config.EnvReader{},
		archiveFetcher,
		archive.NewExtractor(tempstore.New(cfg.TempDir), parser.Manifest(), appLogger),
		reconcile.NewReconciler(a.dbManager, appLogger),
		ingestion.Setup{},
		ingestion.NewAsyncWorker(ingestion.AsyncWorkerConfig{NumDecodeWorkers: cfg.DecodeWorkers}, m, appLogger),
		ingestion.NewFileProcessor(a.dbManager, cfg.SourceEncoding, appLogger),
		m,
		appLogger,
		ingestion.ServiceConfig{SkipUnchangedArchive: cfg.SkipUnchangedArchive},
	)

	var lease scheduler.Lease
	if cfg.RedisURL != "" {
		client, err := scheduler.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("unable to connect to redis: %w", err)
		}
		a.cleanups = append(a.cleanups, func() { _ = client.Close() })
		lease = scheduler.NewRedisLease(client, scheduler.LeaseKey, cfg.LockTTL)
	}

	a.scheduler, err = scheduler.NewScheduler(a.service, scheduler.Config{CronSpec: cfg.SyncCron}, lease, m, appLogger)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	return a, nil
}

// runOnce executes a single sync and reports failure through the exit status.
func (a *app) runOnce(ctx context.Context) error {
	result, err := a.scheduler.Trigger(ctx, scheduler.SourceStart)
	if err != nil {
		return err
	}
	for shape, rejected := range result.Report.RejectedCounts() {
		if rejected > 0 {
			a.logger.Warn("Shape finished with rejected records", "shape", shape, "rejected", rejected)
		}
	}
	return nil
}

func (a *app) serve(ctx context.Context) error {
	runHandler := server.NewRunService(a.scheduler, a.dbManager, a.logger)
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           server.SetupRoutes(runHandler, a.registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Admin server starting", "addr", a.cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	a.scheduler.Start()
	if a.cfg.RunOnStart {
		if err := a.scheduler.TriggerAsync(scheduler.SourceStart); err != nil {
			a.logger.Warn("Initial sync run not started", "error", err)
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	case runErr = <-serverErr:
		a.logger.Error("Admin server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Admin server shutdown failed", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Error("In-flight sync run was cancelled", "error", err)
	}
	return runErr
}

func (a *app) cleanup() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

func main() {
	once := flag.Bool("once", false, "execute a single sync run and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		log.Fatal(err)
	}

	if *once {
		err = a.runOnce(ctx)
	} else {
		err = a.serve(ctx)
	}
	a.cleanup()

	if err != nil {
		a.logger.Error("Address sync finished with error", "error", err)
		os.Exit(1)
	}
}
