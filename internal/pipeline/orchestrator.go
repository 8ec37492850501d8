package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/forecast"
	"github.com/andresuchdata/procureplan/internal/inventory"
	"github.com/andresuchdata/procureplan/internal/optimizer"
	"github.com/andresuchdata/procureplan/internal/repository"
	applog "github.com/andresuchdata/procureplan/pkg/logger"
	"github.com/andresuchdata/procureplan/pkg/metrics"
	"github.com/rs/zerolog"
)

// Orchestrator executes one decision run: forecast, policy and allocation
// stages, with every status change written through the run repository.
type Orchestrator struct {
	runs      repository.RunRepository
	cfg       Config
	ensemble  *forecast.Ensemble
	policies  *inventory.Engine
	optimizer *optimizer.Optimizer
	now       func() time.Time
}

// NewOrchestrator creates a new Orchestrator. A nil solver uses branch-and-bound.
func NewOrchestrator(runs repository.RunRepository, cfg Config, solver optimizer.Solver) *Orchestrator {
	optCfg := cfg.Optimizer
	if cfg.SolveTimeout > 0 {
		optCfg.TimeLimit = cfg.SolveTimeout
	}
	if cfg.TopRecommendations <= 0 {
		cfg.TopRecommendations = DefaultConfig().TopRecommendations
	}

	return &Orchestrator{
		runs:      runs,
		cfg:       cfg,
		ensemble:  forecast.NewEnsemble(cfg.Forecast),
		policies:  inventory.NewEngine(cfg.PeriodsPerYear, cfg.DefaultLeadTime),
		optimizer: optimizer.New(optCfg, solver),
		now:       time.Now,
	}
}

// Execute moves a pending run to running and then to done or failed.
// The returned error describes a failed run; the run record holds the outcome.
func (o *Orchestrator) Execute(ctx context.Context, runID string, snap *domain.Snapshot) error {
	// Store writes must outlive a cancelled run so the failure is recorded.
	store := context.WithoutCancel(ctx)

	run, err := o.runs.GetRun(store, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	run.Status = domain.RunRunning
	if err := o.runs.UpdateRun(store, run, domain.RunPending); err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}

	logger := applog.ForRun(runID).With().Str("snapshot_id", run.SnapshotID).Logger()
	logger.Info().Msg("decision run started")

	summary, err := o.execute(ctx, store, run, snap, logger)
	if err != nil {
		return o.fail(store, run, err, logger)
	}
	return o.finish(store, run, summary, logger)
}

func (o *Orchestrator) execute(ctx, store context.Context, run *domain.DecisionRun, snap *domain.Snapshot, logger zerolog.Logger) (*domain.RunSummary, error) {
	// 1. Forecast every series
	if err := cancelled(ctx, StageForecast); err != nil {
		return nil, err
	}
	started := time.Now()
	forecasts, err := o.forecastStage(ctx, run, snap)
	if err != nil {
		return nil, stageFailure(ctx, StageForecast, err)
	}
	metrics.StageDuration.WithLabelValues(StageForecast).Observe(time.Since(started).Seconds())
	if run.ForecastSetID, err = o.runs.SaveForecasts(store, run.ID, forecasts); err != nil {
		return nil, stageFailure(ctx, StageForecast, fmt.Errorf("save forecasts: %w", err))
	}
	logger.Info().Str("stage", StageForecast).Int("series", len(forecasts)).Msg("stage completed")

	// 2. Inventory policy per series
	if err := cancelled(ctx, StagePolicy); err != nil {
		return nil, err
	}
	started = time.Now()
	policies, err := o.policyStage(ctx, run, snap, forecasts)
	if err != nil {
		return nil, stageFailure(ctx, StagePolicy, err)
	}
	metrics.StageDuration.WithLabelValues(StagePolicy).Observe(time.Since(started).Seconds())
	if run.PolicySetID, err = o.runs.SavePolicies(store, run.ID, run.ForecastSetID, policies); err != nil {
		return nil, stageFailure(ctx, StagePolicy, fmt.Errorf("save policies: %w", err))
	}
	logger.Info().Str("stage", StagePolicy).Int("policies", len(policies)).Msg("stage completed")

	// 3. Single allocation solve
	if err := cancelled(ctx, StageAllocation); err != nil {
		return nil, err
	}
	started = time.Now()
	alloc, err := o.optimizer.Optimize(ctx, optimizer.Problem{
		RiskMode:               run.Config.RiskMode,
		MaxSuppliersPerProduct: run.Config.MaxSuppliersPerProduct,
		Forecasts:              forecasts,
		Policies:               policies,
		Costs:                  snap.Costs,
		Positions:              snap.Positions,
		Offers:                 snap.Offers,
		Suppliers:              snap.Suppliers,
		Shipping:               snap.Shipping,
	})
	metrics.StageDuration.WithLabelValues(StageAllocation).Observe(time.Since(started).Seconds())
	if err != nil {
		var se *domain.StageError
		if errors.As(err, &se) {
			metrics.SolverOutcomes.WithLabelValues(se.Reason).Inc()
		}
		return nil, stageFailure(ctx, StageAllocation, err)
	}
	metrics.SolverOutcomes.WithLabelValues(string(alloc.Status)).Inc()
	o.allocationWarnings(run, alloc)
	if run.AllocationSetID, err = o.runs.SaveAllocation(store, run.ID, run.PolicySetID, alloc); err != nil {
		return nil, stageFailure(ctx, StageAllocation, fmt.Errorf("save allocation: %w", err))
	}
	logger.Info().
		Str("stage", StageAllocation).
		Str("solver_status", string(alloc.Status)).
		Int("decisions", len(alloc.Decisions)).
		Dur("solve_time", alloc.SolveTime).
		Msg("stage completed")

	// 4. Summary
	return buildSummary(alloc, len(forecasts), len(policies), o.cfg.TopRecommendations), nil
}

func (o *Orchestrator) forecastStage(ctx context.Context, run *domain.DecisionRun, snap *domain.Snapshot) ([]domain.ForecastResult, error) {
	horizon := run.Config.HorizonPeriods
	results, err := fanOut(ctx, o.cfg.WorkerCount, snap.Series, func(_ context.Context, s domain.DemandSeries) (domain.ForecastResult, error) {
		return o.ensemble.Forecast(s, horizon)
	})
	if err != nil {
		return nil, err
	}

	var lowConfidence, noDemand int
	for _, r := range results {
		metrics.ForecastModels.WithLabelValues(r.Model, string(r.Quality)).Inc()
		switch r.Quality {
		case domain.ForecastLowConfidence:
			lowConfidence++
		case domain.ForecastNoDemand:
			noDemand++
		}
	}
	if lowConfidence > 0 {
		run.Warnings = append(run.Warnings, fmt.Sprintf("%d series forecast with low confidence (naive fallback)", lowConfidence))
	}
	if noDemand > 0 {
		run.Warnings = append(run.Warnings, fmt.Sprintf("%d series have no demand history", noDemand))
	}
	return results, nil
}

type policyOutcome struct {
	policy  domain.InventoryPolicy
	warning string
}

func (o *Orchestrator) policyStage(ctx context.Context, run *domain.DecisionRun, snap *domain.Snapshot, forecasts []domain.ForecastResult) ([]domain.InventoryPolicy, error) {
	leadTimes := inventory.LeadTimes(snap.Offers)
	costs := make(map[domain.SeriesKey]domain.CostParameter, len(snap.Costs))
	for _, c := range snap.Costs {
		costs[c.Key()] = c
	}

	outcomes, err := fanOut(ctx, o.cfg.WorkerCount, forecasts, func(_ context.Context, fc domain.ForecastResult) (policyOutcome, error) {
		cost, ok := costs[fc.Key()]
		if !ok {
			return policyOutcome{warning: fmt.Sprintf("%s: no cost parameters, policy skipped", fc.Key())}, nil
		}
		policy, err := o.policies.Derive(fc, cost, leadTimes[fc.ProductID])
		if err != nil {
			return policyOutcome{warning: fmt.Sprintf("%s: policy skipped: %v", fc.Key(), err)}, nil
		}
		return policyOutcome{policy: policy}, nil
	})
	if err != nil {
		return nil, err
	}

	policies := make([]domain.InventoryPolicy, 0, len(outcomes))
	for _, out := range outcomes {
		if out.warning != "" {
			run.Warnings = append(run.Warnings, out.warning)
			continue
		}
		policies = append(policies, out.policy)
	}
	return policies, nil
}

func (o *Orchestrator) allocationWarnings(run *domain.DecisionRun, alloc *domain.Allocation) {
	for _, product := range alloc.Unallocatable {
		run.Warnings = append(run.Warnings, fmt.Sprintf("product %s has no eligible offers and was not allocated", product))
	}
	if alloc.Relaxed {
		run.Warnings = append(run.Warnings, "max suppliers per product relaxed to reach a feasible allocation")
	}
	if alloc.Status == domain.SolverFeasibleSuboptimal {
		run.Warnings = append(run.Warnings, "solver time limit reached, allocation may be suboptimal")
	}
	for _, s := range alloc.Shortages {
		run.Warnings = append(run.Warnings, fmt.Sprintf("planned shortage of %.2f units for %s at %s", s.Quantity, s.ProductID, s.LocationID))
	}
}

func (o *Orchestrator) finish(store context.Context, run *domain.DecisionRun, summary *domain.RunSummary, logger zerolog.Logger) error {
	completed := o.now()
	run.Status = domain.RunDone
	run.CompletedAt = &completed
	run.Summary = summary
	if err := o.runs.UpdateRun(store, run, domain.RunRunning); err != nil {
		return fmt.Errorf("complete run %s: %w", run.ID, err)
	}
	metrics.RunsFinished.WithLabelValues(string(domain.RunDone), "").Inc()
	logger.Info().
		Str("total_cost", summary.TotalCost.StringFixed(2)).
		Str("solver_status", string(summary.SolverStatus)).
		Int("warnings", len(run.Warnings)).
		Msg("decision run completed")
	return nil
}

func (o *Orchestrator) fail(store context.Context, run *domain.DecisionRun, cause error, logger zerolog.Logger) error {
	reason := domain.ReasonStageError
	var se *domain.StageError
	if errors.As(cause, &se) {
		reason = se.Reason
	}

	completed := o.now()
	run.Status = domain.RunFailed
	run.CompletedAt = &completed
	run.FailureReason = reason
	run.FailureMessage = cause.Error()
	if err := o.runs.UpdateRun(store, run, domain.RunRunning); err != nil {
		return fmt.Errorf("record failure of run %s: %w", run.ID, err)
	}
	metrics.RunsFinished.WithLabelValues(string(domain.RunFailed), reason).Inc()
	logger.Warn().Err(cause).Str("reason", reason).Msg("decision run failed")
	return cause
}

func cancelled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return &domain.StageError{Stage: stage, Reason: domain.ReasonCancelled, Err: err}
	}
	return nil
}

// stageFailure classifies a stage error; cancellation wins over the stage's own reason.
func stageFailure(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return &domain.StageError{Stage: stage, Reason: domain.ReasonCancelled, Err: err}
	}
	var se *domain.StageError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StageError{Stage: stage, Reason: domain.ReasonStageError, Err: err}
}
