package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/procureplan/internal/app"
	"github.com/andresuchdata/procureplan/internal/cache"
	"github.com/andresuchdata/procureplan/internal/config"
	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/repository/postgres"
	"github.com/andresuchdata/procureplan/internal/service"
	"github.com/andresuchdata/procureplan/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	cfg := config.Load()
	logger.Configure(cfg.LogLevel, false)

	cliApp := &cli.App{
		Name:  "planner",
		Usage: "Forecast demand, size inventory policies and allocate purchase orders",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API and the configured planning schedule",
				Action: func(c *cli.Context) error {
					return serve(c.Context, cfg)
				},
			},
			{
				Name:  "run",
				Usage: "Execute one decision run and print its outcome",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "products", Usage: "Product ids to plan"},
					&cli.BoolFlag{Name: "all", Usage: "Plan every product with demand history"},
					&cli.StringFlag{Name: "risk-mode", Value: cfg.Planner.DefaultRiskMode, Usage: "p50 or p90"},
					&cli.IntFlag{Name: "horizon", Value: cfg.Planner.DefaultHorizon, Usage: "Forecast horizon in periods"},
					&cli.IntFlag{Name: "max-suppliers", Value: cfg.Planner.DefaultMaxSuppliers, Usage: "Suppliers allowed per product"},
					&cli.BoolFlag{Name: "demo", Usage: "Plan against built-in demo data held in memory"},
				},
				Action: func(c *cli.Context) error {
					return runOnce(c, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "Create the planner tables",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "flush-cache", Usage: "Drop cached runs and allocations after migrating"},
				},
				Action: func(c *cli.Context) error {
					db, err := postgres.NewDB(c.Context, cfg.Database)
					if err != nil {
						return err
					}
					defer db.Close()
					if err := db.Migrate(c.Context); err != nil {
						return err
					}
					logger.Log.Info().Msg("Schema is up to date")
					if c.Bool("flush-cache") {
						return flushCache(c.Context, cfg)
					}
					return nil
				},
			},
			seedCommand(cfg),
			{
				Name:  "snapshots",
				Usage: "List snapshot ids held in the object store archive",
				Action: func(c *cli.Context) error {
					return listSnapshots(c, cfg)
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("planner failed")
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	serveErr := a.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Log.Error().Err(err).Msg("shutdown incomplete")
	}
	return serveErr
}

func runOnce(c *cli.Context, cfg *config.Config) error {
	opts := app.Options{}
	if c.Bool("demo") {
		demo := app.DemoSnapshot()
		opts = app.Options{InMemory: true, Reference: &demo}
	}

	a, err := app.New(c.Context, cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	req := service.RunRequest{
		ProductIDs:             c.StringSlice("products"),
		AllProducts:            c.Bool("all") || (c.Bool("demo") && len(c.StringSlice("products")) == 0),
		RiskMode:               c.String("risk-mode"),
		MaxSuppliersPerProduct: c.Int("max-suppliers"),
		HorizonPeriods:         c.Int("horizon"),
		Trigger:                "cli",
	}

	runID, err := a.Service.StartRun(c.Context, req)
	if err != nil {
		return err
	}
	a.Scheduler.Wait()

	run, err := a.Service.GetRun(c.Context, runID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return err
	}
	if run.Status != domain.RunDone {
		return cli.Exit(fmt.Sprintf("run %s %s: %s", run.ID, run.FailureReason, run.FailureMessage), 1)
	}
	return nil
}

func flushCache(ctx context.Context, cfg *config.Config) error {
	runCache, err := cache.NewRunCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	if err := runCache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("flush run cache: %w", err)
	}
	logger.Log.Info().Bool("enabled", cfg.Cache.Enabled).Msg("Run cache flushed")
	return nil
}

func listSnapshots(c *cli.Context, cfg *config.Config) error {
	if !cfg.Storage.Enabled {
		return cli.Exit("snapshot archive is disabled (set STORAGE_ENABLED=true)", 1)
	}
	a, err := app.New(c.Context, cfg, app.Options{InMemory: true})
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if !a.Archive.Enabled() {
		return cli.Exit("snapshot archive is unreachable", 1)
	}
	ids, err := a.Archive.List(c.Context)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
