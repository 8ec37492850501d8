package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/andresuchdata/procureplan/internal/optimizer"
	"github.com/andresuchdata/procureplan/internal/repository/memory"
	"github.com/shopspring/decimal"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Optimizer.ShippingFraction = 0
	return cfg
}

func flatSeries(product, location string, qty float64, n int) domain.DemandSeries {
	s := domain.DemandSeries{ProductID: product, LocationID: location}
	for i := 0; i < n; i++ {
		s.Points = append(s.Points, domain.DemandPoint{Period: i, Quantity: qty})
	}
	return s
}

func scenarioSnapshot(offers ...domain.SupplierOffer) *domain.Snapshot {
	return &domain.Snapshot{
		ID:     "snap-1",
		Series: []domain.DemandSeries{flatSeries("P1", "L1", 100, 20)},
		Offers: offers,
		Costs: []domain.CostParameter{{
			ProductID:       "P1",
			LocationID:      "L1",
			HoldingCost:     1,
			SetupCost:       10,
			StockoutPenalty: 100,
			ServiceLevel:    0.95,
		}},
	}
}

var (
	offerA = domain.SupplierOffer{OfferID: "offer-a", SupplierID: "A", ProductID: "P1", UnitPrice: 10, Capacity: 500, LeadTimePeriods: 2}
	offerB = domain.SupplierOffer{OfferID: "offer-b", SupplierID: "B", ProductID: "P1", UnitPrice: 9, Capacity: 1000, LeadTimePeriods: 3}
)

func newPendingRun(t *testing.T, store *memory.RunStore, id string, maxSuppliers int) {
	t.Helper()
	err := store.CreateRun(context.Background(), &domain.DecisionRun{
		ID:        id,
		Status:    domain.RunPending,
		CreatedAt: time.Now(),
		Config: domain.RunConfig{
			AllProducts:            true,
			RiskMode:               domain.RiskP50,
			MaxSuppliersPerProduct: maxSuppliers,
			HorizonPeriods:         12,
		},
		SnapshotID: "snap-1",
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
}

func TestExecute_TwoSupplierRunCompletes(t *testing.T) {
	store := memory.NewRunStore()
	newPendingRun(t, store, "run-1", 2)
	o := NewOrchestrator(store, testConfig(), nil)

	if err := o.Execute(context.Background(), "run-1", scenarioSnapshot(offerA, offerB)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	run, err := store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != domain.RunDone {
		t.Fatalf("status = %s, want done (reason %s: %s)", run.Status, run.FailureReason, run.FailureMessage)
	}
	if run.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if run.ForecastSetID == "" || run.PolicySetID == "" || run.AllocationSetID == "" {
		t.Fatalf("expected all result sets, got %+v", run)
	}
	if !run.Summary.TotalCost.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("total cost = %s, want 11000", run.Summary.TotalCost)
	}
	if run.Summary.SolverStatus != domain.SolverOptimal {
		t.Errorf("solver status = %s, want optimal", run.Summary.SolverStatus)
	}
	if len(run.Summary.TopRecommendations) != 2 || run.Summary.TopRecommendations[0].SupplierID != "B" {
		t.Errorf("unexpected recommendations %+v", run.Summary.TopRecommendations)
	}
	if !run.Summary.CostShare["procurement"].Equal(decimal.NewFromInt(100)) {
		t.Errorf("procurement share = %s, want 100", run.Summary.CostShare["procurement"])
	}

	policies, err := store.GetPolicies(context.Background(), run.PolicySetID)
	if err != nil {
		t.Fatalf("GetPolicies: %v", err)
	}
	// Lead time comes from the cheapest offer (B).
	if len(policies) != 1 || policies[0].LeadTimePeriods != 3 {
		t.Errorf("unexpected policies %+v", policies)
	}
}

func TestExecute_InsufficientCapacityFailsRun(t *testing.T) {
	store := memory.NewRunStore()
	newPendingRun(t, store, "run-1", 1)
	o := NewOrchestrator(store, testConfig(), nil)

	err := o.Execute(context.Background(), "run-1", scenarioSnapshot(offerA))
	if err == nil {
		t.Fatal("expected Execute to report the failure")
	}

	run, _ := store.GetRun(context.Background(), "run-1")
	if run.Status != domain.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.FailureReason != domain.ReasonInsufficientCapacity {
		t.Errorf("reason = %s, want %s", run.FailureReason, domain.ReasonInsufficientCapacity)
	}
	if !strings.Contains(run.FailureMessage, "insufficient supplier capacity") {
		t.Errorf("message %q should mention insufficient supplier capacity", run.FailureMessage)
	}
	if run.AllocationSetID != "" {
		t.Error("failed run must not publish an allocation")
	}
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	store := memory.NewRunStore()
	newPendingRun(t, store, "run-1", 2)
	o := NewOrchestrator(store, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = o.Execute(ctx, "run-1", scenarioSnapshot(offerA, offerB))

	run, _ := store.GetRun(context.Background(), "run-1")
	if run.Status != domain.RunFailed || run.FailureReason != domain.ReasonCancelled {
		t.Fatalf("expected failed/cancelled, got %s/%s", run.Status, run.FailureReason)
	}
}

func TestExecute_SameSnapshotSameResult(t *testing.T) {
	store := memory.NewRunStore()
	o := NewOrchestrator(store, testConfig(), nil)

	var totals []decimal.Decimal
	var statuses []domain.SolverStatus
	for _, id := range []string{"run-1", "run-2"} {
		newPendingRun(t, store, id, 2)
		if err := o.Execute(context.Background(), id, scenarioSnapshot(offerA, offerB)); err != nil {
			t.Fatalf("Execute %s: %v", id, err)
		}
		run, _ := store.GetRun(context.Background(), id)
		totals = append(totals, run.Summary.TotalCost)
		statuses = append(statuses, run.Summary.SolverStatus)
	}
	if !totals[0].Equal(totals[1]) || statuses[0] != statuses[1] {
		t.Fatalf("runs differ: totals %v statuses %v", totals, statuses)
	}
}

func TestExecute_NoReentry(t *testing.T) {
	store := memory.NewRunStore()
	newPendingRun(t, store, "run-1", 2)
	o := NewOrchestrator(store, testConfig(), nil)

	if err := o.Execute(context.Background(), "run-1", scenarioSnapshot(offerA, offerB)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	err := o.Execute(context.Background(), "run-1", scenarioSnapshot(offerA, offerB))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on re-execution, got %v", err)
	}
}

func TestExecute_ProductWithoutOffersIsWarning(t *testing.T) {
	store := memory.NewRunStore()
	newPendingRun(t, store, "run-1", 2)
	o := NewOrchestrator(store, testConfig(), nil)

	snap := scenarioSnapshot(offerA, offerB)
	snap.Series = append(snap.Series, flatSeries("P2", "L1", 5, 3))
	snap.Costs = append(snap.Costs, domain.CostParameter{ProductID: "P2", LocationID: "L1", HoldingCost: 1, SetupCost: 1, ServiceLevel: 0.9})

	if err := o.Execute(context.Background(), "run-1", snap); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	run, _ := store.GetRun(context.Background(), "run-1")
	if run.Status != domain.RunDone {
		t.Fatalf("status = %s, want done", run.Status)
	}

	var sawOffers, sawLowConfidence bool
	for _, w := range run.Warnings {
		sawOffers = sawOffers || strings.Contains(w, "P2 has no eligible offers")
		sawLowConfidence = sawLowConfidence || strings.Contains(w, "low confidence")
	}
	if !sawOffers || !sawLowConfidence {
		t.Errorf("expected unallocatable and low-confidence warnings, got %v", run.Warnings)
	}
}

func TestExecute_NoEligibleOffersFailsRun(t *testing.T) {
	store := memory.NewRunStore()
	newPendingRun(t, store, "run-1", 2)
	o := NewOrchestrator(store, testConfig(), nil)

	if err := o.Execute(context.Background(), "run-1", scenarioSnapshot()); err == nil {
		t.Fatal("expected Execute to report the failure")
	}

	run, _ := store.GetRun(context.Background(), "run-1")
	if run.Status != domain.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.FailureReason != domain.ReasonNoEligibleOffers {
		t.Errorf("reason = %s, want %s", run.FailureReason, domain.ReasonNoEligibleOffers)
	}
	if run.AllocationSetID != "" || run.Summary != nil {
		t.Error("failed run must not publish an allocation or summary")
	}
}

// timeLimitedSolver solves exactly but reports the time limit as reached.
type timeLimitedSolver struct {
	inner optimizer.Solver
}

func (s timeLimitedSolver) Solve(ctx context.Context, m *optimizer.Model, lim optimizer.Limits) (*optimizer.Solution, error) {
	sol, err := s.inner.Solve(ctx, m, lim)
	if err == nil && sol.Status == domain.SolverOptimal {
		sol.Status = domain.SolverFeasibleSuboptimal
	}
	return sol, err
}

func TestExecute_SuboptimalAllocationIsPublished(t *testing.T) {
	store := memory.NewRunStore()
	newPendingRun(t, store, "run-1", 2)
	o := NewOrchestrator(store, testConfig(), timeLimitedSolver{inner: optimizer.NewBranchAndBound()})

	if err := o.Execute(context.Background(), "run-1", scenarioSnapshot(offerA, offerB)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	run, _ := store.GetRun(context.Background(), "run-1")
	if run.Status != domain.RunDone {
		t.Fatalf("status = %s, want done", run.Status)
	}
	if run.Summary.SolverStatus != domain.SolverFeasibleSuboptimal {
		t.Errorf("summary solver status = %s, want feasible_suboptimal", run.Summary.SolverStatus)
	}
	alloc, err := store.GetAllocation(context.Background(), run.AllocationSetID)
	if err != nil || len(alloc.Decisions) == 0 {
		t.Fatalf("expected a published allocation, got %v (%v)", alloc, err)
	}

	var warned bool
	for _, w := range run.Warnings {
		warned = warned || strings.Contains(w, "time limit reached")
	}
	if !warned {
		t.Errorf("expected a time limit warning, got %v", run.Warnings)
	}
}
