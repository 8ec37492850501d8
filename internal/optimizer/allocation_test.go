package optimizer

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/shopspring/decimal"
)

func testOptimizer() *Optimizer {
	cfg := DefaultConfig()
	cfg.ShippingFraction = 0
	return New(cfg, nil)
}

func demand(product, location string, qty float64) domain.ForecastResult {
	return domain.ForecastResult{
		ProductID:  product,
		LocationID: location,
		Model:      "seasonal",
		Quality:    domain.ForecastOK,
		Points:     []domain.ForecastPoint{{Period: 1, P50: qty, P90: qty * 1.2}},
	}
}

func cost(product, location string) domain.CostParameter {
	return domain.CostParameter{
		ProductID:       product,
		LocationID:      location,
		HoldingCost:     1,
		SetupCost:       10,
		StockoutPenalty: 100,
		ServiceLevel:    0.95,
	}
}

func twoSupplierProblem() Problem {
	return Problem{
		RiskMode:               domain.RiskP50,
		MaxSuppliersPerProduct: 2,
		Forecasts:              []domain.ForecastResult{demand("P1", "L1", 1200)},
		Costs:                  []domain.CostParameter{cost("P1", "L1")},
		Offers: []domain.SupplierOffer{
			{OfferID: "offer-a", SupplierID: "A", ProductID: "P1", UnitPrice: 10, Capacity: 500},
			{OfferID: "offer-b", SupplierID: "B", ProductID: "P1", UnitPrice: 9, Capacity: 1000},
		},
	}
}

func TestOptimize_TwoSuppliersSplitByCapacity(t *testing.T) {
	alloc, err := testOptimizer().Optimize(context.Background(), twoSupplierProblem())
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if alloc.Status != domain.SolverOptimal {
		t.Fatalf("status = %s, want optimal", alloc.Status)
	}

	got := map[string]float64{}
	for _, d := range alloc.Decisions {
		got[d.SupplierID] = d.Quantity
	}
	if got["B"] != 1000 || got["A"] != 200 {
		t.Fatalf("expected B=1000 A=200, got %v", got)
	}
	if !alloc.Breakdown.Procurement.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("procurement = %s, want 11000", alloc.Breakdown.Procurement)
	}
	if !alloc.Breakdown.Total().Equal(decimal.NewFromInt(11000)) {
		t.Errorf("total = %s, want 11000", alloc.Breakdown.Total())
	}
	if math.Abs(alloc.Objective-11000) > 1e-6 {
		t.Errorf("objective = %.4f, want 11000", alloc.Objective)
	}
	if !contains(alloc.BindingConstraints, "capacity_offer-b") {
		t.Errorf("expected capacity_offer-b among binding constraints, got %v", alloc.BindingConstraints)
	}
	if alloc.Relaxed {
		t.Error("expected no relaxation")
	}
}

func TestOptimize_InsufficientCapacityFails(t *testing.T) {
	p := Problem{
		RiskMode:               domain.RiskP50,
		MaxSuppliersPerProduct: 1,
		Forecasts:              []domain.ForecastResult{demand("P1", "L1", 1200)},
		Costs:                  []domain.CostParameter{cost("P1", "L1")},
		Offers: []domain.SupplierOffer{
			{OfferID: "offer-a", SupplierID: "A", ProductID: "P1", UnitPrice: 10, Capacity: 500},
		},
	}

	alloc, err := testOptimizer().Optimize(context.Background(), p)
	if alloc != nil {
		t.Fatalf("expected no allocation, got %+v", alloc)
	}
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Reason != domain.ReasonInsufficientCapacity {
		t.Errorf("reason = %s, want %s", stageErr.Reason, domain.ReasonInsufficientCapacity)
	}
}

func TestOptimize_MaxSuppliersRelaxedWhenInfeasible(t *testing.T) {
	p := twoSupplierProblem()
	p.MaxSuppliersPerProduct = 1

	alloc, err := testOptimizer().Optimize(context.Background(), p)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !alloc.Relaxed {
		t.Error("expected the max-suppliers constraint to be relaxed")
	}
	if len(alloc.Decisions) != 2 {
		t.Errorf("expected both suppliers after relaxation, got %+v", alloc.Decisions)
	}
}

func TestOptimize_RespectsMOQ(t *testing.T) {
	tests := []struct {
		name     string
		need     float64
		holding  float64
		wantA    float64
		wantB    float64
	}{
		// Holding 200 extra units costs more than the price gap: buy from B.
		{"small need avoids MOQ", 100, 1, 0, 100},
		// Cheap holding makes the MOQ lot from A worthwhile.
		{"MOQ lot is cheaper", 250, 0.1, 300, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cost("P1", "L1")
			c.HoldingCost = tt.holding
			p := Problem{
				RiskMode:               domain.RiskP50,
				MaxSuppliersPerProduct: 2,
				Forecasts:              []domain.ForecastResult{demand("P1", "L1", tt.need)},
				Costs:                  []domain.CostParameter{c},
				Offers: []domain.SupplierOffer{
					{OfferID: "offer-a", SupplierID: "A", ProductID: "P1", UnitPrice: 5, MOQ: 300},
					{OfferID: "offer-b", SupplierID: "B", ProductID: "P1", UnitPrice: 8},
				},
			}

			alloc, err := testOptimizer().Optimize(context.Background(), p)
			if err != nil {
				t.Fatalf("Optimize: %v", err)
			}

			got := map[string]float64{}
			for _, d := range alloc.Decisions {
				got[d.SupplierID] = d.Quantity
				if d.SupplierID == "A" && d.Quantity < 300 {
					t.Errorf("decision below MOQ: %+v", d)
				}
			}
			if got["A"] != tt.wantA || got["B"] != tt.wantB {
				t.Errorf("got A=%.1f B=%.1f, want A=%.1f B=%.1f", got["A"], got["B"], tt.wantA, tt.wantB)
			}
		})
	}
}

func TestOptimize_SupplierCapacityAcrossProducts(t *testing.T) {
	p := Problem{
		RiskMode:               domain.RiskP50,
		MaxSuppliersPerProduct: 2,
		Forecasts: []domain.ForecastResult{
			demand("P1", "L1", 400),
			demand("P2", "L1", 400),
		},
		Costs: []domain.CostParameter{cost("P1", "L1"), cost("P2", "L1")},
		Offers: []domain.SupplierOffer{
			{OfferID: "s-p1", SupplierID: "S", ProductID: "P1", UnitPrice: 5},
			{OfferID: "s-p2", SupplierID: "S", ProductID: "P2", UnitPrice: 5},
			{OfferID: "t-p1", SupplierID: "T", ProductID: "P1", UnitPrice: 7},
			{OfferID: "t-p2", SupplierID: "T", ProductID: "P2", UnitPrice: 7},
		},
		Suppliers: []domain.Supplier{{SupplierID: "S", Capacity: 600}},
	}

	alloc, err := testOptimizer().Optimize(context.Background(), p)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}

	var fromS float64
	for _, d := range alloc.Decisions {
		if d.SupplierID == "S" {
			fromS += d.Quantity
		}
	}
	if fromS > 600+1e-6 {
		t.Errorf("supplier S allocated %.1f above its capacity 600", fromS)
	}
	if !alloc.Breakdown.Procurement.Equal(decimal.NewFromInt(4400)) {
		t.Errorf("procurement = %s, want 4400", alloc.Breakdown.Procurement)
	}
	if !contains(alloc.BindingConstraints, "supplier_capacity_S") {
		t.Errorf("expected supplier_capacity_S binding, got %v", alloc.BindingConstraints)
	}
}

func TestOptimize_ShippingAndRiskMode(t *testing.T) {
	p := Problem{
		RiskMode:               domain.RiskP90,
		MaxSuppliersPerProduct: 1,
		Forecasts:              []domain.ForecastResult{demand("P1", "L1", 100)},
		Costs:                  []domain.CostParameter{cost("P1", "L1")},
		Policies:               []domain.InventoryPolicy{{ProductID: "P1", LocationID: "L1", SafetyStock: 10}},
		Positions:              []domain.InventoryPosition{{ProductID: "P1", LocationID: "L1", OnHand: 30}},
		Offers: []domain.SupplierOffer{
			{OfferID: "offer-a", SupplierID: "A", ProductID: "P1", UnitPrice: 10},
		},
	}

	alloc, err := New(DefaultConfig(), nil).Optimize(context.Background(), p)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if len(alloc.Decisions) != 1 {
		t.Fatalf("expected one decision, got %+v", alloc.Decisions)
	}
	d := alloc.Decisions[0]
	// P90 demand 120 + safety stock 10 − on hand 30.
	if d.Quantity != 100 {
		t.Errorf("quantity = %.2f, want 100", d.Quantity)
	}
	if math.Abs(d.ShippingCostPerUnit-0.8) > 1e-9 {
		t.Errorf("shipping per unit = %.3f, want 0.8", d.ShippingCostPerUnit)
	}
	if !alloc.Breakdown.Shipping.Equal(decimal.NewFromInt(80)) {
		t.Errorf("shipping = %s, want 80", alloc.Breakdown.Shipping)
	}
}

func TestOptimize_UnallocatableProductsFlagged(t *testing.T) {
	p := twoSupplierProblem()
	p.Forecasts = append(p.Forecasts, demand("P9", "L1", 50))

	alloc, err := testOptimizer().Optimize(context.Background(), p)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if !reflect.DeepEqual(alloc.Unallocatable, []string{"P9"}) {
		t.Errorf("unallocatable = %v, want [P9]", alloc.Unallocatable)
	}
}

func TestOptimize_Deterministic(t *testing.T) {
	o := testOptimizer()
	a, err := o.Optimize(context.Background(), twoSupplierProblem())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := o.Optimize(context.Background(), twoSupplierProblem())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(a.Decisions, b.Decisions) || !a.Breakdown.Total().Equal(b.Breakdown.Total()) {
		t.Fatalf("allocations differ:\n%+v\n%+v", a.Decisions, b.Decisions)
	}
}

func TestOptimize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testOptimizer().Optimize(ctx, twoSupplierProblem())
	var stageErr *domain.StageError
	if !errors.As(err, &stageErr) || stageErr.Reason != domain.ReasonCancelled {
		t.Fatalf("expected cancelled stage error, got %v", err)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestOptimize_NoEligibleOffersFails(t *testing.T) {
	p := twoSupplierProblem()
	p.Offers = nil

	alloc, err := testOptimizer().Optimize(context.Background(), p)
	if alloc != nil {
		t.Fatalf("expected no allocation, got %+v", alloc)
	}
	var se *domain.StageError
	if !errors.As(err, &se) || se.Reason != domain.ReasonNoEligibleOffers {
		t.Fatalf("expected %s stage error, got %v", domain.ReasonNoEligibleOffers, err)
	}
}

func TestOptimize_NothingToPlan(t *testing.T) {
	alloc, err := testOptimizer().Optimize(context.Background(), Problem{RiskMode: domain.RiskP50, MaxSuppliersPerProduct: 1})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if alloc.Status != domain.SolverOptimal || len(alloc.Decisions) != 0 {
		t.Errorf("unexpected allocation %+v", alloc)
	}
}

// recordingSolver reports infeasible after a delay and records the limits it was given.
type recordingSolver struct {
	delay  time.Duration
	limits []Limits
}

func (r *recordingSolver) Solve(_ context.Context, _ *Model, lim Limits) (*Solution, error) {
	r.limits = append(r.limits, lim)
	time.Sleep(r.delay)
	return &Solution{Status: domain.SolverInfeasible}, nil
}

func TestOptimize_RelaxationRetrySharesTimeBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeLimit = time.Second
	solver := &recordingSolver{delay: 10 * time.Millisecond}

	_, err := New(cfg, solver).Optimize(context.Background(), twoSupplierProblem())
	var se *domain.StageError
	if !errors.As(err, &se) {
		t.Fatalf("expected a stage error, got %v", err)
	}
	if len(solver.limits) != 2 {
		t.Fatalf("expected one retry, got %d solves", len(solver.limits))
	}
	retry := solver.limits[1].TimeLimit
	if retry <= 0 || retry > cfg.TimeLimit-10*time.Millisecond {
		t.Errorf("retry budget = %s, want the remainder of %s", retry, cfg.TimeLimit)
	}
}

func TestOptimize_RelaxationRetryWithoutBudgetTimesOut(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeLimit = 5 * time.Millisecond
	solver := &recordingSolver{delay: 20 * time.Millisecond}

	_, err := New(cfg, solver).Optimize(context.Background(), twoSupplierProblem())
	var se *domain.StageError
	if !errors.As(err, &se) || se.Reason != domain.ReasonSolverTimeout {
		t.Fatalf("expected %s stage error, got %v", domain.ReasonSolverTimeout, err)
	}
	if len(solver.limits) != 1 {
		t.Errorf("retry must not start without budget, got %d solves", len(solver.limits))
	}
}
