package inventory

import (
	"fmt"
	"math"

	"github.com/andresuchdata/procureplan/internal/domain"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	DefaultPeriodsPerYear  = 52
	DefaultLeadTimePeriods = 4
)

// Input is everything the policy formulas need for one product/location.
type Input struct {
	ProductID       string
	LocationID      string
	MeanDemand      float64 // per period
	DemandStdDev    float64 // per period
	LeadTimePeriods float64
	SetupCost       float64
	HoldingCost     float64 // per unit per period
	ServiceLevel    float64
}

// PolicyCalculator derives EOQ, safety stock and reorder point.
type PolicyCalculator struct {
	periodsPerYear float64
}

// NewPolicyCalculator creates a calculator annualising with the given number of periods.
func NewPolicyCalculator(periodsPerYear int) *PolicyCalculator {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	return &PolicyCalculator{periodsPerYear: float64(periodsPerYear)}
}

// Calculate computes the inventory policy of one product/location.
func (pc *PolicyCalculator) Calculate(in Input) (domain.InventoryPolicy, error) {
	policy := domain.InventoryPolicy{
		ProductID:          in.ProductID,
		LocationID:         in.LocationID,
		AvgDemandPerPeriod: in.MeanDemand,
		DemandStdDev:       in.DemandStdDev,
		ServiceLevel:       in.ServiceLevel,
		LeadTimePeriods:    in.LeadTimePeriods,
	}

	if in.DemandStdDev < 0 {
		return policy, domain.InvalidInputf("%s@%s: demand std dev %.4f is negative", in.ProductID, in.LocationID, in.DemandStdDev)
	}
	if in.LeadTimePeriods < 0 {
		return policy, domain.InvalidInputf("%s@%s: lead time %.4f is negative", in.ProductID, in.LocationID, in.LeadTimePeriods)
	}
	if in.SetupCost < 0 {
		return policy, domain.InvalidInputf("%s@%s: setup cost %.4f is negative", in.ProductID, in.LocationID, in.SetupCost)
	}

	// 1. Safety stock = z(SL) × σ × √L
	ss, err := SafetyStock(in.DemandStdDev, in.LeadTimePeriods, in.ServiceLevel)
	if err != nil {
		return policy, fmt.Errorf("%s@%s: %w", in.ProductID, in.LocationID, err)
	}
	policy.SafetyStock = ss

	// 2. Reorder point = μ × L + SS
	policy.ReorderPoint = ReorderPoint(in.MeanDemand, in.LeadTimePeriods, ss)

	// 3. Annualise demand and holding cost
	annualDemand := in.MeanDemand * pc.periodsPerYear
	annualHolding := in.HoldingCost * pc.periodsPerYear

	// 4. EOQ = √(2DS/H); nothing to order without demand or holding cost
	switch {
	case annualDemand <= 0:
		policy.Reason = "no demand over the horizon"
		return policy, nil
	case annualHolding <= 0:
		policy.Reason = "holding cost is not positive"
		return policy, nil
	}
	policy.Orderable = true
	policy.EOQ = EOQ(annualDemand, in.SetupCost, annualHolding)

	// 5. Annual costs
	policy.AnnualHoldingCost = (policy.EOQ/2 + ss) * annualHolding
	if policy.EOQ > 0 {
		policy.AnnualOrderingCost = annualDemand / policy.EOQ * in.SetupCost
	}

	return policy, nil
}

// EOQ is the economic order quantity √(2DS/H). It returns 0 when D or H is not positive.
func EOQ(annualDemand, setupCost, annualHolding float64) float64 {
	if annualDemand <= 0 || annualHolding <= 0 || setupCost <= 0 {
		return 0
	}
	return math.Sqrt(2 * annualDemand * setupCost / annualHolding)
}

// SafetyStock is z(serviceLevel) × σ × √L.
func SafetyStock(sigma, leadTime, serviceLevel float64) (float64, error) {
	if sigma < 0 {
		return 0, domain.InvalidInputf("demand std dev %.4f is negative", sigma)
	}
	z, err := ZScore(serviceLevel)
	if err != nil {
		return 0, err
	}
	return math.Max(0, z*sigma*math.Sqrt(math.Max(0, leadTime))), nil
}

// ReorderPoint is μ × L + SS.
func ReorderPoint(meanDemand, leadTime, safetyStock float64) float64 {
	return meanDemand*leadTime + safetyStock
}

// ZScore is the inverse standard normal CDF at the service level, which must lie in (0, 1).
func ZScore(serviceLevel float64) (float64, error) {
	if !(serviceLevel > 0 && serviceLevel < 1) {
		return 0, domain.InvalidInputf("service level %.4f outside (0, 1)", serviceLevel)
	}
	return distuv.UnitNormal.Quantile(serviceLevel), nil
}
