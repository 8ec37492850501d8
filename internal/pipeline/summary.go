package pipeline

import (
	"sort"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func buildSummary(alloc *domain.Allocation, series, policies, topN int) *domain.RunSummary {
	total := alloc.Breakdown.Total()
	summary := &domain.RunSummary{
		TotalCost:          total,
		Breakdown:          alloc.Breakdown,
		CostShare:          costShare(alloc.Breakdown, total),
		SolverStatus:       alloc.Status,
		SolveTime:          alloc.SolveTime,
		BindingConstraints: append([]string(nil), alloc.BindingConstraints...),
		SeriesForecasted:   series,
		PoliciesComputed:   policies,
		DecisionCount:      len(alloc.Decisions),
	}

	decisions := append([]domain.AllocationDecision(nil), alloc.Decisions...)
	sort.SliceStable(decisions, func(i, j int) bool {
		if decisions[i].TotalCost != decisions[j].TotalCost {
			return decisions[i].TotalCost > decisions[j].TotalCost
		}
		if decisions[i].ProductID != decisions[j].ProductID {
			return decisions[i].ProductID < decisions[j].ProductID
		}
		return decisions[i].SupplierID < decisions[j].SupplierID
	})
	if len(decisions) > topN {
		decisions = decisions[:topN]
	}
	for _, d := range decisions {
		summary.TopRecommendations = append(summary.TopRecommendations, domain.Recommendation{
			ProductID:  d.ProductID,
			SupplierID: d.SupplierID,
			LocationID: d.LocationID,
			Quantity:   d.Quantity,
			TotalCost:  decimal.NewFromFloat(d.TotalCost).Round(2),
		})
	}
	return summary
}

// costShare expresses each category as a percentage of the total.
func costShare(b domain.CostBreakdown, total decimal.Decimal) map[string]decimal.Decimal {
	share := map[string]decimal.Decimal{
		"procurement":      decimal.Zero,
		"shipping":         decimal.Zero,
		"holding":          decimal.Zero,
		"shortage_penalty": decimal.Zero,
	}
	if total.IsZero() {
		return share
	}
	pct := func(v decimal.Decimal) decimal.Decimal {
		return v.Mul(hundred).Div(total).Round(2)
	}
	share["procurement"] = pct(b.Procurement)
	share["shipping"] = pct(b.Shipping)
	share["holding"] = pct(b.Holding)
	share["shortage_penalty"] = pct(b.ShortagePenalty)
	return share
}
