package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeriesKey identifies one demand series.
type SeriesKey struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
}

func (k SeriesKey) String() string {
	return k.ProductID + "@" + k.LocationID
}

// DemandPoint is one observed period of demand.
type DemandPoint struct {
	Period   int     `json:"period" db:"period"`
	Quantity float64 `json:"quantity" db:"quantity"`
}

// DemandSeries is the ordered demand history of a product at a location.
type DemandSeries struct {
	ProductID  string        `json:"product_id"`
	LocationID string        `json:"location_id"`
	Points     []DemandPoint `json:"points"`
}

func (s DemandSeries) Key() SeriesKey {
	return SeriesKey{ProductID: s.ProductID, LocationID: s.LocationID}
}

// Values returns the observed quantities in period order.
func (s DemandSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Quantity
	}
	return out
}

// LastPeriod returns the last observed period, or -1 for an empty series.
func (s DemandSeries) LastPeriod() int {
	if len(s.Points) == 0 {
		return -1
	}
	return s.Points[len(s.Points)-1].Period
}

type ForecastQuality string

const (
	ForecastOK            ForecastQuality = "ok"
	ForecastLowConfidence ForecastQuality = "low_confidence"
	ForecastNoDemand      ForecastQuality = "no_demand"
)

type ForecastPoint struct {
	Period int     `json:"period"`
	P50    float64 `json:"p50"`
	P90    float64 `json:"p90"`
}

// CandidateScore records how one candidate model performed on the hold-out window.
type CandidateScore struct {
	Model string  `json:"model"`
	WAPE  float64 `json:"wape"`
	MAPE  float64 `json:"mape"`
	Error string  `json:"error,omitempty"`
}

// ForecastResult holds the horizon forecast of one series and the model that produced it.
type ForecastResult struct {
	ProductID   string           `json:"product_id"`
	LocationID  string           `json:"location_id"`
	Model       string           `json:"model_name"`
	Quality     ForecastQuality  `json:"quality"`
	WAPE        float64          `json:"validation_error"`
	MAPE        float64          `json:"mape"`
	ResidualStd float64          `json:"residual_std"`
	Points      []ForecastPoint  `json:"points"`
	Candidates  []CandidateScore `json:"candidates,omitempty"`
}

func (r ForecastResult) Key() SeriesKey {
	return SeriesKey{ProductID: r.ProductID, LocationID: r.LocationID}
}

// MeanP50 is the average median forecast over the horizon.
func (r ForecastResult) MeanP50() float64 {
	if len(r.Points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r.Points {
		sum += p.P50
	}
	return sum / float64(len(r.Points))
}

// HorizonDemand sums the horizon forecast at the requested quantile.
func (r ForecastResult) HorizonDemand(mode RiskMode) float64 {
	var sum float64
	for _, p := range r.Points {
		if mode == RiskP90 {
			sum += p.P90
		} else {
			sum += p.P50
		}
	}
	return sum
}

// CostParameter carries the cost inputs of a product at a location.
type CostParameter struct {
	ProductID       string  `json:"product_id" db:"product_id"`
	LocationID      string  `json:"location_id" db:"location_id"`
	HoldingCost     float64 `json:"holding_cost_per_unit_period" db:"holding_cost"`
	SetupCost       float64 `json:"setup_cost" db:"setup_cost"`
	StockoutPenalty float64 `json:"stockout_penalty" db:"stockout_penalty"`
	ServiceLevel    float64 `json:"service_level" db:"service_level"`
}

func (c CostParameter) Key() SeriesKey {
	return SeriesKey{ProductID: c.ProductID, LocationID: c.LocationID}
}

type InventoryPosition struct {
	ProductID  string  `json:"product_id" db:"product_id"`
	LocationID string  `json:"location_id" db:"location_id"`
	OnHand     float64 `json:"on_hand" db:"on_hand"`
	OnOrder    float64 `json:"on_order" db:"on_order"`
	Backorder  float64 `json:"backorder" db:"backorder"`
}

// Opening is the net stock available before new orders.
func (p InventoryPosition) Opening() float64 {
	return p.OnHand + p.OnOrder - p.Backorder
}

// SupplierOffer is a priced offer for one product. Capacity 0 means unconstrained.
type SupplierOffer struct {
	OfferID         string    `json:"offer_id" db:"offer_id"`
	SupplierID      string    `json:"supplier_id" db:"supplier_id"`
	ProductID       string    `json:"product_id" db:"product_id"`
	UnitPrice       float64   `json:"unit_price" db:"unit_price"`
	Currency        string    `json:"currency" db:"currency"`
	MOQ             float64   `json:"moq" db:"moq"`
	LeadTimePeriods float64   `json:"lead_time_periods" db:"lead_time_periods"`
	Rating          float64   `json:"rating" db:"rating"`
	Confidence      float64   `json:"confidence" db:"confidence"`
	Capacity        float64   `json:"capacity" db:"capacity"`
	CapturedAt      time.Time `json:"captured_at" db:"captured_at"`
}

// Stale reports whether the offer is older than ttl at the given instant.
// Offers without a capture time never go stale.
func (o SupplierOffer) Stale(asOf time.Time, ttl time.Duration) bool {
	if ttl <= 0 || o.CapturedAt.IsZero() {
		return false
	}
	return asOf.Sub(o.CapturedAt) > ttl
}

// Supplier is a vendor with an optional capacity across all products (0 = unconstrained).
type Supplier struct {
	SupplierID string  `json:"supplier_id" db:"supplier_id"`
	Name       string  `json:"name" db:"name"`
	Capacity   float64 `json:"capacity" db:"capacity"`
}

// ShippingQuote overrides the default shipping cost for a supplier to location lane.
type ShippingQuote struct {
	SupplierID  string  `json:"supplier_id" db:"supplier_id"`
	LocationID  string  `json:"location_id" db:"location_id"`
	CostPerUnit float64 `json:"cost_per_unit" db:"cost_per_unit"`
}

type InventoryPolicy struct {
	ProductID          string  `json:"product_id" db:"product_id"`
	LocationID         string  `json:"location_id" db:"location_id"`
	EOQ                float64 `json:"eoq" db:"eoq"`
	ReorderPoint       float64 `json:"reorder_point" db:"reorder_point"`
	SafetyStock        float64 `json:"safety_stock" db:"safety_stock"`
	AvgDemandPerPeriod float64 `json:"avg_demand_per_period" db:"avg_demand_per_period"`
	DemandStdDev       float64 `json:"demand_std_dev" db:"demand_std_dev"`
	ServiceLevel       float64 `json:"service_level" db:"service_level"`
	LeadTimePeriods    float64 `json:"lead_time_periods" db:"lead_time_periods"`
	AnnualHoldingCost  float64 `json:"annual_holding_cost" db:"annual_holding_cost"`
	AnnualOrderingCost float64 `json:"annual_ordering_cost" db:"annual_ordering_cost"`
	Orderable          bool    `json:"orderable" db:"orderable"`
	Reason             string  `json:"reason,omitempty" db:"reason"`
}

func (p InventoryPolicy) Key() SeriesKey {
	return SeriesKey{ProductID: p.ProductID, LocationID: p.LocationID}
}

type AllocationDecision struct {
	ProductID           string  `json:"product_id" db:"product_id"`
	SupplierID          string  `json:"supplier_id" db:"supplier_id"`
	LocationID          string  `json:"location_id" db:"location_id"`
	OfferID             string  `json:"offer_id" db:"offer_id"`
	Quantity            float64 `json:"quantity" db:"quantity"`
	UnitCost            float64 `json:"unit_cost" db:"unit_cost"`
	ShippingCostPerUnit float64 `json:"shipping_cost_per_unit" db:"shipping_cost_per_unit"`
	TotalCost           float64 `json:"total_cost" db:"total_cost"`
}

type CostBreakdown struct {
	Procurement     decimal.Decimal `json:"procurement"`
	Shipping        decimal.Decimal `json:"shipping"`
	Holding         decimal.Decimal `json:"holding"`
	ShortagePenalty decimal.Decimal `json:"shortage_penalty"`
}

// Total sums every cost category.
func (b CostBreakdown) Total() decimal.Decimal {
	return b.Procurement.Add(b.Shipping).Add(b.Holding).Add(b.ShortagePenalty)
}

// Allocation is the published result of the optimizer.
type Allocation struct {
	Decisions          []AllocationDecision `json:"decisions"`
	Status             SolverStatus         `json:"solver_status"`
	Objective          float64              `json:"objective"`
	Breakdown          CostBreakdown        `json:"cost_breakdown"`
	BindingConstraints []string             `json:"binding_constraints"`
	SolveTime          time.Duration        `json:"solve_time_ns"`
	Relaxed            bool                 `json:"relaxed_max_suppliers"`
	Unallocatable      []string             `json:"unallocatable_products,omitempty"`
	Shortages          []Shortage           `json:"shortages,omitempty"`
}

// Shortage is a planned backorder left at a location after the plan.
type Shortage struct {
	ProductID  string  `json:"product_id"`
	LocationID string  `json:"location_id"`
	Quantity   float64 `json:"quantity"`
}

type RiskMode string

const (
	RiskP50 RiskMode = "p50"
	RiskP90 RiskMode = "p90"
)

// RunConfig is the frozen configuration of a decision run.
type RunConfig struct {
	ProductIDs             []string `json:"product_ids,omitempty"`
	AllProducts            bool     `json:"all_products"`
	RiskMode               RiskMode `json:"risk_mode"`
	MaxSuppliersPerProduct int      `json:"max_suppliers_per_product"`
	HorizonPeriods         int      `json:"horizon_periods"`
}

type Recommendation struct {
	ProductID  string          `json:"product_id"`
	SupplierID string          `json:"supplier_id"`
	LocationID string          `json:"location_id"`
	Quantity   float64         `json:"quantity"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

// RunSummary is the explanation attached to a finished run.
type RunSummary struct {
	TotalCost          decimal.Decimal            `json:"total_cost"`
	Breakdown          CostBreakdown              `json:"cost_breakdown"`
	CostShare          map[string]decimal.Decimal `json:"cost_share_pct"`
	SolverStatus       SolverStatus               `json:"solver_status"`
	SolveTime          time.Duration              `json:"solve_time_ns"`
	BindingConstraints []string                   `json:"binding_constraints"`
	TopRecommendations []Recommendation           `json:"top_recommendations"`
	SeriesForecasted   int                        `json:"series_forecasted"`
	PoliciesComputed   int                        `json:"policies_computed"`
	DecisionCount      int                        `json:"decision_count"`
}

// DecisionRun is one auditable execution of the decision pipeline.
type DecisionRun struct {
	ID              string      `json:"run_id"`
	Status          RunStatus   `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	Config          RunConfig   `json:"config"`
	SnapshotID      string      `json:"snapshot_id"`
	ForecastSetID   string      `json:"forecast_set_id,omitempty"`
	PolicySetID     string      `json:"policy_set_id,omitempty"`
	AllocationSetID string      `json:"allocation_set_id,omitempty"`
	Summary         *RunSummary `json:"summary,omitempty"`
	FailureReason   string      `json:"failure_reason,omitempty"`
	FailureMessage  string      `json:"failure_message,omitempty"`
	Warnings        []string    `json:"warnings,omitempty"`
}

// Snapshot is the frozen reference data a run is planned against.
type Snapshot struct {
	ID         string              `json:"snapshot_id"`
	CapturedAt time.Time           `json:"captured_at"`
	Series     []DemandSeries      `json:"series"`
	Offers     []SupplierOffer     `json:"offers"`
	Suppliers  []Supplier          `json:"suppliers"`
	Costs      []CostParameter     `json:"costs"`
	Positions  []InventoryPosition `json:"positions"`
	Shipping   []ShippingQuote     `json:"shipping,omitempty"`
}

// ProductIDs lists the distinct products with demand history, in first-seen order.
func (s *Snapshot) ProductIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, series := range s.Series {
		if !seen[series.ProductID] {
			seen[series.ProductID] = true
			out = append(out, series.ProductID)
		}
	}
	return out
}
