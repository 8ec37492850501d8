package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/andresuchdata/procureplan/internal/cache"
	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/repository"
	"github.com/andresuchdata/procureplan/internal/storage"
	"github.com/andresuchdata/procureplan/pkg/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultListLimit = 20

// RunRequest is the input of StartRun.
type RunRequest struct {
	ProductIDs             []string `json:"product_ids" validate:"omitempty,dive,required"`
	AllProducts            bool     `json:"all_products"`
	RiskMode               string   `json:"risk_mode" validate:"omitempty,oneof=p50 p90 P50 P90"`
	MaxSuppliersPerProduct int      `json:"max_suppliers_per_product" validate:"required,gte=1"`
	HorizonPeriods         int      `json:"horizon_periods" validate:"required,gt=0"`
	// Trigger labels where the run came from (api, schedule, cli).
	Trigger string `json:"-"`
}

// RunScheduler executes runs in the background.
type RunScheduler interface {
	Submit(runID string, snap *domain.Snapshot)
	Cancel(runID string) bool
}

type Options struct {
	Cache    cache.RunCache
	Archive  *storage.SnapshotArchive
	OfferTTL time.Duration
}

type DecisionService struct {
	runs      repository.RunRepository
	reference repository.ReferenceDataRepository
	scheduler RunScheduler
	cache     cache.RunCache
	archive   *storage.SnapshotArchive
	offerTTL  time.Duration
	validate  *validator.Validate
	now       func() time.Time
}

func NewDecisionService(runs repository.RunRepository, reference repository.ReferenceDataRepository, scheduler RunScheduler, opts Options) *DecisionService {
	if opts.Cache == nil {
		opts.Cache = cache.NewNoopRunCache()
	}
	return &DecisionService{
		runs:      runs,
		reference: reference,
		scheduler: scheduler,
		cache:     opts.Cache,
		archive:   opts.Archive,
		offerTTL:  opts.OfferTTL,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// StartRun validates the request, freezes a snapshot of the reference data,
// records a pending run and schedules it. Input errors create no run.
func (s *DecisionService) StartRun(ctx context.Context, req RunRequest) (string, error) {
	// 1. Validate request
	cfg, err := s.runConfig(req)
	if err != nil {
		return "", err
	}

	// 2. Freeze the reference data
	snap, err := s.freezeSnapshot(ctx, cfg)
	if err != nil {
		return "", err
	}

	// 3. Record the pending run
	run := &domain.DecisionRun{
		ID:         uuid.NewString(),
		Status:     domain.RunPending,
		CreatedAt:  s.now(),
		Config:     cfg,
		SnapshotID: snap.ID,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	// 4. Hand off to the scheduler
	s.scheduler.Submit(run.ID, snap)

	trigger := req.Trigger
	if trigger == "" {
		trigger = "api"
	}
	metrics.RunsStarted.WithLabelValues(string(cfg.RiskMode), trigger).Inc()
	log.Info().
		Str("run_id", run.ID).
		Str("snapshot_id", snap.ID).
		Str("risk_mode", string(cfg.RiskMode)).
		Int("horizon", cfg.HorizonPeriods).
		Int("series", len(snap.Series)).
		Str("trigger", trigger).
		Msg("decision run scheduled")
	return run.ID, nil
}

func (s *DecisionService) runConfig(req RunRequest) (domain.RunConfig, error) {
	if err := s.validate.Struct(&req); err != nil {
		return domain.RunConfig{}, domain.InvalidInputf("%v", err)
	}
	if !req.AllProducts && len(req.ProductIDs) == 0 {
		return domain.RunConfig{}, domain.InvalidInputf("scope is empty: list product ids or select all products")
	}
	mode, ok := domain.ParseRiskMode(req.RiskMode)
	if !ok {
		return domain.RunConfig{}, domain.InvalidInputf("unknown risk mode %q", req.RiskMode)
	}

	cfg := domain.RunConfig{
		AllProducts:            req.AllProducts,
		RiskMode:               mode,
		MaxSuppliersPerProduct: req.MaxSuppliersPerProduct,
		HorizonPeriods:         req.HorizonPeriods,
	}
	if !req.AllProducts {
		seen := make(map[string]bool, len(req.ProductIDs))
		for _, id := range req.ProductIDs {
			id = strings.TrimSpace(id)
			if !seen[id] {
				seen[id] = true
				cfg.ProductIDs = append(cfg.ProductIDs, id)
			}
		}
	}
	return cfg, nil
}

func (s *DecisionService) freezeSnapshot(ctx context.Context, cfg domain.RunConfig) (*domain.Snapshot, error) {
	snap, err := s.reference.LoadSnapshot(ctx, repository.Scope{ProductIDs: cfg.ProductIDs, All: cfg.AllProducts})
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}

	known := make(map[string]bool)
	for _, id := range snap.ProductIDs() {
		known[id] = true
	}
	if len(known) == 0 {
		return nil, domain.InvalidInputf("no demand history for the requested scope")
	}
	for _, id := range cfg.ProductIDs {
		if !known[id] {
			return nil, domain.InvalidInputf("unknown product %s", id)
		}
	}
	costed := make(map[domain.SeriesKey]bool, len(snap.Costs))
	for _, c := range snap.Costs {
		if err := validateCost(c); err != nil {
			return nil, err
		}
		costed[c.Key()] = true
	}
	for _, series := range snap.Series {
		if !costed[series.Key()] {
			return nil, domain.InvalidInputf("no cost parameters for %s", series.Key())
		}
	}

	now := s.now()
	if dropped := snap.DropStaleOffers(now, s.offerTTL); dropped > 0 {
		log.Warn().Int("dropped", dropped).Dur("ttl", s.offerTTL).Msg("stale supplier offers excluded from snapshot")
	}
	snap.Canonicalize()
	if snap.ID, err = snap.ContentHash(); err != nil {
		return nil, err
	}
	snap.CapturedAt = now

	if err := s.runs.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	if err := s.archive.Put(ctx, snap); err != nil {
		log.Warn().Err(err).Str("snapshot_id", snap.ID).Msg("snapshot archive upload failed")
	}
	return snap, nil
}

func validateCost(c domain.CostParameter) error {
	values := []float64{c.HoldingCost, c.SetupCost, c.StockoutPenalty, c.ServiceLevel}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.InvalidInputf("cost parameters for %s are not finite", c.Key())
		}
	}
	if c.HoldingCost < 0 || c.SetupCost < 0 || c.StockoutPenalty < 0 {
		return domain.InvalidInputf("cost parameters for %s must be non-negative", c.Key())
	}
	if c.ServiceLevel <= 0 || c.ServiceLevel >= 1 {
		return domain.InvalidInputf("service level for %s must be in (0, 1), got %v", c.Key(), c.ServiceLevel)
	}
	return nil
}

// GetRun returns a run; finished runs are served from the cache when possible.
func (s *DecisionService) GetRun(ctx context.Context, id string) (*domain.DecisionRun, error) {
	if run, ok, err := s.cache.GetRun(ctx, id); err != nil {
		log.Warn().Err(err).Str("run_id", id).Msg("decision service: cache get run failed")
	} else if ok {
		return run, nil
	}

	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		if err := s.cache.SetRun(ctx, run); err != nil {
			log.Warn().Err(err).Str("run_id", id).Msg("decision service: cache set run failed")
		}
	}
	return run, nil
}

func (s *DecisionService) ListRuns(ctx context.Context, limit int) ([]*domain.DecisionRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.runs.ListRuns(ctx, limit)
}

// GetForecast returns the forecast set of a finished run.
func (s *DecisionService) GetForecast(ctx context.Context, runID string) ([]domain.ForecastResult, error) {
	run, err := s.finishedRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.ForecastSetID == "" {
		return nil, domain.ErrResultUnavailable
	}
	return s.runs.GetForecasts(ctx, run.ForecastSetID)
}

// GetPolicy returns the inventory policy set of a finished run.
func (s *DecisionService) GetPolicy(ctx context.Context, runID string) ([]domain.InventoryPolicy, error) {
	run, err := s.finishedRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.PolicySetID == "" {
		return nil, domain.ErrResultUnavailable
	}
	return s.runs.GetPolicies(ctx, run.PolicySetID)
}

// GetAllocation returns the published allocation. Failed runs have none.
func (s *DecisionService) GetAllocation(ctx context.Context, runID string) (*domain.Allocation, error) {
	run, err := s.finishedRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.AllocationSetID == "" {
		return nil, domain.ErrResultUnavailable
	}

	if alloc, ok, err := s.cache.GetAllocation(ctx, run.AllocationSetID); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("decision service: cache get allocation failed")
	} else if ok {
		return alloc, nil
	}

	alloc, err := s.runs.GetAllocation(ctx, run.AllocationSetID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetAllocation(ctx, run.AllocationSetID, alloc); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("decision service: cache set allocation failed")
	}
	return alloc, nil
}

// GetSnapshot returns the frozen snapshot a run was planned against.
func (s *DecisionService) GetSnapshot(ctx context.Context, runID string) (*domain.Snapshot, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	snap, err := s.runs.GetSnapshot(ctx, run.SnapshotID)
	if errors.Is(err, domain.ErrSnapshotNotFound) && s.archive.Enabled() {
		return s.archive.Get(ctx, run.SnapshotID)
	}
	return snap, err
}

// CancelRun stops a pending or running run. The run ends failed with reason cancelled.
func (s *DecisionService) CancelRun(ctx context.Context, runID string) error {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return domain.ErrRunTerminal
	}
	if s.scheduler.Cancel(runID) {
		log.Info().Str("run_id", runID).Msg("decision run cancellation requested")
		return nil
	}

	// Nothing is executing it (e.g. queued before a restart): close it out here.
	return s.failOrphan(ctx, run)
}

func (s *DecisionService) failOrphan(ctx context.Context, run *domain.DecisionRun) error {
	if run.Status == domain.RunPending {
		run.Status = domain.RunRunning
		if err := s.runs.UpdateRun(ctx, run, domain.RunPending); err != nil {
			return s.cancelConflict(ctx, run.ID, err)
		}
	}

	completed := s.now()
	run.Status = domain.RunFailed
	run.CompletedAt = &completed
	run.FailureReason = domain.ReasonCancelled
	run.FailureMessage = "run cancelled before execution"
	if err := s.runs.UpdateRun(ctx, run, domain.RunRunning); err != nil {
		return s.cancelConflict(ctx, run.ID, err)
	}
	metrics.RunsFinished.WithLabelValues(string(domain.RunFailed), domain.ReasonCancelled).Inc()
	log.Info().Str("run_id", run.ID).Msg("orphaned decision run cancelled")
	return nil
}

// cancelConflict maps a lost compare-and-set to ErrRunTerminal when the run finished meanwhile.
func (s *DecisionService) cancelConflict(ctx context.Context, runID string, cause error) error {
	if !errors.Is(cause, domain.ErrInvalidTransition) {
		return cause
	}
	current, err := s.runs.GetRun(ctx, runID)
	if err == nil && current.Status.Terminal() {
		return domain.ErrRunTerminal
	}
	return cause
}

func (s *DecisionService) finishedRun(ctx context.Context, runID string) (*domain.DecisionRun, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.Terminal() {
		return nil, domain.ErrNotTerminal
	}
	return run, nil
}
