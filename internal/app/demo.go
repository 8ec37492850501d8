package app

import (
	"fmt"
	"math"

	"github.com/andresuchdata/procureplan/internal/domain"
)

// DemoSnapshot builds a deterministic reference data set: three products at
// two locations with a year of weekly demand, four suppliers and their offers.
func DemoSnapshot() domain.Snapshot {
	products := []struct {
		id    string
		base  float64
		trend float64
		price float64
	}{
		{id: "SKU-100", base: 120, trend: 0.8, price: 12.5},
		{id: "SKU-200", base: 60, trend: 0.3, price: 31},
		{id: "SKU-300", base: 15, trend: 0, price: 7.25},
	}
	locations := []string{"WH-EAST", "WH-WEST"}
	season := []float64{0, 8, 20, 4}

	snap := domain.Snapshot{
		Suppliers: []domain.Supplier{
			{SupplierID: "SUP-A", Name: "Acme Components", Capacity: 0},
			{SupplierID: "SUP-B", Name: "Bolt Industrial", Capacity: 6000},
			{SupplierID: "SUP-C", Name: "Crane Trading", Capacity: 4000},
			{SupplierID: "SUP-D", Name: "Delta Wholesale", Capacity: 0},
		},
	}

	for pi, p := range products {
		for li, loc := range locations {
			series := domain.DemandSeries{ProductID: p.id, LocationID: loc}
			scale := 1 - 0.3*float64(li)
			for t := 0; t < 52; t++ {
				v := (p.base + p.trend*float64(t) + season[t%len(season)]*p.base/100 + 3*math.Sin(1.7*float64(t+pi))) * scale
				series.Points = append(series.Points, domain.DemandPoint{Period: t, Quantity: math.Round(math.Max(0, v))})
			}
			snap.Series = append(snap.Series, series)
			snap.Costs = append(snap.Costs, domain.CostParameter{
				ProductID:       p.id,
				LocationID:      loc,
				HoldingCost:     p.price * 0.004,
				SetupCost:       75,
				StockoutPenalty: p.price * 3,
				ServiceLevel:    0.95,
			})
			snap.Positions = append(snap.Positions, domain.InventoryPosition{
				ProductID:  p.id,
				LocationID: loc,
				OnHand:     math.Round(p.base * scale * 2),
				OnOrder:    math.Round(p.base * scale / 2),
			})
		}

		for si, s := range snap.Suppliers {
			if (pi+si)%4 == 3 {
				continue
			}
			markup := 1 + 0.04*float64((si+pi)%4)
			snap.Offers = append(snap.Offers, domain.SupplierOffer{
				OfferID:         fmt.Sprintf("%s-%s", s.SupplierID, p.id),
				SupplierID:      s.SupplierID,
				ProductID:       p.id,
				UnitPrice:       math.Round(p.price*markup*100) / 100,
				Currency:        "USD",
				MOQ:             float64(25 * (si % 3)),
				LeadTimePeriods: float64(1 + (si+pi)%4),
				Rating:          4.5 - 0.3*float64(si),
				Confidence:      0.9,
				Capacity:        p.base * 40,
			})
		}
	}

	snap.Shipping = []domain.ShippingQuote{
		{SupplierID: "SUP-A", LocationID: "WH-WEST", CostPerUnit: 1.4},
		{SupplierID: "SUP-D", LocationID: "WH-EAST", CostPerUnit: 0.35},
	}
	return snap
}
