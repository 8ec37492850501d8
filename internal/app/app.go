// Package app wires configuration into a running planner: stores, cache,
// snapshot archive, scheduler and decision service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andresuchdata/procureplan/internal/api"
	"github.com/andresuchdata/procureplan/internal/cache"
	"github.com/andresuchdata/procureplan/internal/config"
	cronrunner "github.com/andresuchdata/procureplan/internal/cron"
	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/forecast"
	"github.com/andresuchdata/procureplan/internal/optimizer"
	"github.com/andresuchdata/procureplan/internal/pipeline"
	"github.com/andresuchdata/procureplan/internal/repository"
	"github.com/andresuchdata/procureplan/internal/repository/memory"
	"github.com/andresuchdata/procureplan/internal/repository/postgres"
	"github.com/andresuchdata/procureplan/internal/service"
	"github.com/andresuchdata/procureplan/internal/storage"
	"github.com/andresuchdata/procureplan/pkg/logger"
	"github.com/andresuchdata/procureplan/pkg/metrics"
	"github.com/gin-gonic/gin"
)

type Options struct {
	// InMemory serves Reference from process memory instead of Postgres.
	InMemory  bool
	Reference *domain.Snapshot
}

type App struct {
	Config    *config.Config
	DB        *postgres.DB
	Runs      repository.RunRepository
	Reference repository.ReferenceDataRepository
	Archive   *storage.SnapshotArchive
	Scheduler *pipeline.Scheduler
	Service   *service.DecisionService
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	metrics.Init()
	a := &App{Config: cfg}

	if opts.InMemory {
		ref := domain.Snapshot{}
		if opts.Reference != nil {
			ref = *opts.Reference
		}
		a.Runs = memory.NewRunStore()
		a.Reference = memory.NewReferenceData(ref)
	} else {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Runs = postgres.NewRunRepository(db)
		a.Reference = postgres.NewReferenceRepository(db)
	}

	runCache, err := cache.NewRunCache(ctx, cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("run cache unavailable, continuing without it")
		runCache = cache.NewNoopRunCache()
	}

	a.Archive = storage.NewSnapshotArchive(nil, cfg.Storage.Prefix)
	if cfg.Storage.Enabled {
		client, err := storage.NewMinioClient(ctx, cfg.Storage)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("snapshot archive unavailable, continuing without it")
		} else {
			a.Archive = storage.NewSnapshotArchive(client, cfg.Storage.Prefix)
		}
	}

	pcfg := PipelineConfig(cfg)
	a.Scheduler = pipeline.NewScheduler(pipeline.NewOrchestrator(a.Runs, pcfg, nil), pcfg.MaxConcurrentRuns)
	a.Service = service.NewDecisionService(a.Runs, a.Reference, a.Scheduler, service.Options{
		Cache:    runCache,
		Archive:  a.Archive,
		OfferTTL: cfg.Planner.OfferTTL,
	})
	return a, nil
}

// PipelineConfig maps configuration onto the orchestrator settings.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	pcfg := pipeline.DefaultConfig()
	p := cfg.Planner

	if p.WorkerCount > 0 {
		pcfg.WorkerCount = p.WorkerCount
	}
	if p.MaxConcurrentRuns > 0 {
		pcfg.MaxConcurrentRuns = int64(p.MaxConcurrentRuns)
	}
	if p.PeriodsPerYear > 0 {
		pcfg.PeriodsPerYear = p.PeriodsPerYear
	}
	if p.DefaultLeadTime > 0 {
		pcfg.DefaultLeadTime = p.DefaultLeadTime
	}
	if p.TopRecommendations > 0 {
		pcfg.TopRecommendations = p.TopRecommendations
	}
	if cfg.Solver.Timeout > 0 {
		pcfg.SolveTimeout = cfg.Solver.Timeout
	}

	pcfg.Forecast = forecast.Config{
		MinHistory:      cfg.Forecast.MinHistory,
		HoldoutFraction: cfg.Forecast.HoldoutFraction,
		MinHoldout:      cfg.Forecast.MinHoldout,
		SeasonLength:    cfg.Forecast.SeasonLength,
		UpperQuantile:   cfg.Forecast.UpperQuantile,
	}

	opt := optimizer.DefaultConfig()
	opt.ShippingFraction = p.ShippingFraction
	opt.MaxShortageFraction = p.MaxShortageFraction
	if p.OffersPerProduct > 0 {
		opt.OffersPerProduct = p.OffersPerProduct
	}
	if cfg.Solver.MaxNodes > 0 {
		opt.MaxNodes = cfg.Solver.MaxNodes
	}
	opt.TimeLimit = pcfg.SolveTimeout
	pcfg.Optimizer = opt
	return pcfg
}

// DefaultRequest is the all-products run used by the scheduler and the CLI.
func (a *App) DefaultRequest() service.RunRequest {
	p := a.Config.Planner
	return service.RunRequest{
		AllProducts:            true,
		RiskMode:               p.DefaultRiskMode,
		MaxSuppliersPerProduct: p.DefaultMaxSuppliers,
		HorizonPeriods:         p.DefaultHorizon,
	}
}

// Serve runs the HTTP API, and the planning schedule when configured, until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if a.Config.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.NewRouter(&api.Services{DecisionService: a.Service}, a.Config.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + a.Config.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(a.Config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.Config.Server.WriteTimeout) * time.Second,
	}

	if spec := a.Config.Schedule.Cron; spec != "" {
		runner := cronrunner.New(logger.Log, ctx)
		job := cronrunner.PlanningJob(a.Service, a.DefaultRequest(), logger.Log)
		if _, err := runner.Add(spec, job); err != nil {
			return fmt.Errorf("invalid SCHEDULE_CRON %q: %w", spec, err)
		}
		runner.Start()
		defer runner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("port", a.Config.Server.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Close cancels in-flight runs, waits for them to record their outcome and
// releases the database pool.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		if err := a.Scheduler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
