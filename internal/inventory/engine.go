package inventory

import (
	"sort"

	"github.com/andresuchdata/procureplan/internal/domain"
)

// Engine turns forecasts into inventory policies.
type Engine struct {
	calc            *PolicyCalculator
	defaultLeadTime float64
}

func NewEngine(periodsPerYear int, defaultLeadTime float64) *Engine {
	if defaultLeadTime <= 0 {
		defaultLeadTime = DefaultLeadTimePeriods
	}
	return &Engine{
		calc:            NewPolicyCalculator(periodsPerYear),
		defaultLeadTime: defaultLeadTime,
	}
}

// Derive computes the policy of a forecast series. leadTime <= 0 uses the default lead time.
func (e *Engine) Derive(fc domain.ForecastResult, cost domain.CostParameter, leadTime float64) (domain.InventoryPolicy, error) {
	if leadTime <= 0 {
		leadTime = e.defaultLeadTime
	}
	return e.calc.Calculate(Input{
		ProductID:       fc.ProductID,
		LocationID:      fc.LocationID,
		MeanDemand:      fc.MeanP50(),
		DemandStdDev:    fc.ResidualStd,
		LeadTimePeriods: leadTime,
		SetupCost:       cost.SetupCost,
		HoldingCost:     cost.HoldingCost,
		ServiceLevel:    cost.ServiceLevel,
	})
}

// LeadTimes maps each product to the lead time of its cheapest offer.
// Equal prices prefer the shorter lead time, then the lower offer id.
func LeadTimes(offers []domain.SupplierOffer) map[string]float64 {
	sorted := append([]domain.SupplierOffer(nil), offers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.UnitPrice != b.UnitPrice {
			return a.UnitPrice < b.UnitPrice
		}
		if a.LeadTimePeriods != b.LeadTimePeriods {
			return a.LeadTimePeriods < b.LeadTimePeriods
		}
		return a.OfferID < b.OfferID
	})

	out := make(map[string]float64)
	for _, o := range sorted {
		if _, ok := out[o.ProductID]; !ok {
			out[o.ProductID] = o.LeadTimePeriods
		}
	}
	return out
}
