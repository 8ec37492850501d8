package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/procureplan/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const stageName = "allocation"

// Config holds the allocation model parameters.
type Config struct {
	ShippingFraction    float64
	MaxShortageFraction float64
	OffersPerProduct    int
	TimeLimit           time.Duration
	MaxNodes            int
	Tolerance           float64
	MaxBindingReported  int
}

func DefaultConfig() Config {
	return Config{
		ShippingFraction:    0.08,
		MaxShortageFraction: 0.10,
		OffersPerProduct:    8,
		TimeLimit:           5 * time.Second,
		MaxNodes:            20000,
		Tolerance:           1e-6,
		MaxBindingReported:  20,
	}
}

// Problem is the frozen input of one allocation solve.
type Problem struct {
	RiskMode               domain.RiskMode
	MaxSuppliersPerProduct int
	Forecasts              []domain.ForecastResult
	Policies               []domain.InventoryPolicy
	Costs                  []domain.CostParameter
	Positions              []domain.InventoryPosition
	Offers                 []domain.SupplierOffer
	Suppliers              []domain.Supplier
	Shipping               []domain.ShippingQuote
}

// Optimizer builds the procurement model and solves it through a Solver.
type Optimizer struct {
	cfg    Config
	solver Solver
}

func New(cfg Config, solver Solver) *Optimizer {
	def := DefaultConfig()
	if cfg.ShippingFraction < 0 {
		cfg.ShippingFraction = def.ShippingFraction
	}
	if cfg.MaxShortageFraction < 0 || cfg.MaxShortageFraction > 1 {
		cfg.MaxShortageFraction = def.MaxShortageFraction
	}
	if cfg.OffersPerProduct <= 0 {
		cfg.OffersPerProduct = def.OffersPerProduct
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if cfg.MaxBindingReported <= 0 {
		cfg.MaxBindingReported = def.MaxBindingReported
	}
	if solver == nil {
		solver = NewBranchAndBound()
	}
	return &Optimizer{cfg: cfg, solver: solver}
}

type demandLine struct {
	key         domain.SeriesKey
	requirement float64
	opening     float64
	holding     float64
	penalty     float64
	inv, bo     int
}

func (d *demandLine) need() float64 {
	return math.Max(0, d.requirement-d.opening)
}

type lane struct {
	offer    domain.SupplierOffer
	location string
	line     *demandLine
	shipping float64
	x, u     int
}

type builtModel struct {
	model *Model
	lines []*demandLine
	lanes []*lane
}

// Optimize solves the allocation. Failures are returned as *domain.StageError.
func (o *Optimizer) Optimize(ctx context.Context, p Problem) (*domain.Allocation, error) {
	started := time.Now()

	offers, unallocatable := o.eligibleOffers(p)
	bm := o.build(p, offers)

	alloc := &domain.Allocation{Unallocatable: unallocatable}
	if len(bm.lines) == 0 {
		if len(unallocatable) > 0 {
			return nil, &domain.StageError{
				Stage:  stageName,
				Reason: domain.ReasonNoEligibleOffers,
				Err:    fmt.Errorf("no eligible offers for any product in scope (%s)", strings.Join(unallocatable, ", ")),
			}
		}
		alloc.Status = domain.SolverOptimal
		alloc.SolveTime = time.Since(started)
		return alloc, nil
	}

	limits := Limits{TimeLimit: o.cfg.TimeLimit, MaxNodes: o.cfg.MaxNodes}
	model := bm.model
	sol, err := o.solve(ctx, model, limits)
	if err != nil {
		return nil, err
	}

	if sol.Status == domain.SolverInfeasible {
		log.Warn().Msg("allocation infeasible, retrying without the max-suppliers constraint")
		model = bm.model.Without(KindMaxSuppliers)
		alloc.Relaxed = true
		// The retry shares the wall-clock budget of the first solve.
		if limits.TimeLimit > 0 {
			limits.TimeLimit -= time.Since(started)
			if limits.TimeLimit <= 0 {
				return nil, &domain.StageError{Stage: stageName, Reason: domain.ReasonSolverTimeout, Err: ErrTimeLimit}
			}
		}
		if sol, err = o.solve(ctx, model, limits); err != nil {
			return nil, err
		}
	}

	switch sol.Status {
	case domain.SolverInfeasible:
		reason := domain.ReasonInfeasible
		msg := "no feasible allocation"
		if product, short := o.capacityShortfall(bm); short {
			reason = domain.ReasonInsufficientCapacity
			msg = fmt.Sprintf("insufficient supplier capacity for product %s", product)
		}
		return nil, &domain.StageError{Stage: stageName, Reason: reason, Err: errors.New(msg)}
	case domain.SolverUnbounded:
		return nil, &domain.StageError{Stage: stageName, Reason: domain.ReasonUnbounded, Err: errors.New("allocation model is unbounded")}
	case domain.SolverError:
		return nil, &domain.StageError{Stage: stageName, Reason: domain.ReasonSolverError, Err: errors.New("solver returned no solution")}
	}

	alloc.Status = sol.Status
	alloc.Objective = sol.Objective
	o.publish(alloc, bm, model, sol.Values)
	alloc.SolveTime = time.Since(started)
	return alloc, nil
}

func (o *Optimizer) solve(ctx context.Context, m *Model, lim Limits) (*Solution, error) {
	sol, err := o.solver.Solve(ctx, m, lim)
	switch {
	case err == nil:
		return sol, nil
	case ctx.Err() != nil:
		return nil, &domain.StageError{Stage: stageName, Reason: domain.ReasonCancelled, Err: ctx.Err()}
	case errors.Is(err, ErrTimeLimit), errors.Is(err, ErrNodeLimit):
		return nil, &domain.StageError{Stage: stageName, Reason: domain.ReasonSolverTimeout, Err: err}
	default:
		return nil, &domain.StageError{Stage: stageName, Reason: domain.ReasonSolverError, Err: err}
	}
}

// eligibleOffers keeps the cheapest offers per product that has demand and
// lists demanded products without any offer.
func (o *Optimizer) eligibleOffers(p Problem) (map[string][]domain.SupplierOffer, []string) {
	demanded := make(map[string]bool)
	for _, fc := range p.Forecasts {
		demanded[fc.ProductID] = true
	}

	byProduct := make(map[string][]domain.SupplierOffer)
	for _, offer := range p.Offers {
		if !demanded[offer.ProductID] || offer.UnitPrice < 0 {
			continue
		}
		byProduct[offer.ProductID] = append(byProduct[offer.ProductID], offer)
	}

	for product, list := range byProduct {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].UnitPrice != list[j].UnitPrice {
				return list[i].UnitPrice < list[j].UnitPrice
			}
			return list[i].OfferID < list[j].OfferID
		})
		if len(list) > o.cfg.OffersPerProduct {
			list = list[:o.cfg.OffersPerProduct]
		}
		byProduct[product] = list
	}

	var missing []string
	for product := range demanded {
		if len(byProduct[product]) == 0 {
			missing = append(missing, product)
		}
	}
	sort.Strings(missing)
	return byProduct, missing
}

func (o *Optimizer) build(p Problem, offers map[string][]domain.SupplierOffer) *builtModel {
	policies := make(map[domain.SeriesKey]domain.InventoryPolicy, len(p.Policies))
	for _, pol := range p.Policies {
		policies[pol.Key()] = pol
	}
	costs := make(map[domain.SeriesKey]domain.CostParameter, len(p.Costs))
	for _, c := range p.Costs {
		costs[c.Key()] = c
	}
	positions := make(map[domain.SeriesKey]domain.InventoryPosition, len(p.Positions))
	for _, pos := range p.Positions {
		positions[domain.SeriesKey{ProductID: pos.ProductID, LocationID: pos.LocationID}] = pos
	}
	shipping := make(map[[2]string]float64, len(p.Shipping))
	for _, q := range p.Shipping {
		shipping[[2]string{q.SupplierID, q.LocationID}] = q.CostPerUnit
	}
	supplierCap := make(map[string]float64, len(p.Suppliers))
	for _, s := range p.Suppliers {
		supplierCap[s.SupplierID] = s.Capacity
	}

	forecasts := append([]domain.ForecastResult(nil), p.Forecasts...)
	sort.SliceStable(forecasts, func(i, j int) bool {
		if forecasts[i].ProductID != forecasts[j].ProductID {
			return forecasts[i].ProductID < forecasts[j].ProductID
		}
		return forecasts[i].LocationID < forecasts[j].LocationID
	})

	m := &Model{}
	bm := &builtModel{model: m}
	linesByProduct := make(map[string][]*demandLine)

	for _, fc := range forecasts {
		if len(offers[fc.ProductID]) == 0 {
			continue
		}
		key := fc.Key()
		cost := costs[key]
		line := &demandLine{
			key:         key,
			requirement: fc.HorizonDemand(p.RiskMode) + policies[key].SafetyStock,
			opening:     positions[key].Opening(),
			holding:     cost.HoldingCost,
			penalty:     cost.StockoutPenalty,
		}
		line.inv = m.AddVar("inv_"+key.String(), line.holding, false)
		line.bo = m.AddVar("bo_"+key.String(), line.penalty, false)
		bm.lines = append(bm.lines, line)
		linesByProduct[fc.ProductID] = append(linesByProduct[fc.ProductID], line)
	}

	products := make([]string, 0, len(linesByProduct))
	for product := range linesByProduct {
		products = append(products, product)
	}
	sort.Strings(products)

	balanceTerms := make(map[*demandLine][]Term)
	offerTerms := make(map[string][]Term)
	supplierTerms := make(map[string][]Term)
	var supplierOrder []string

	for _, product := range products {
		var used []string
		supplierVar := make(map[string]int)

		for _, offer := range offers[product] {
			for _, line := range linesByProduct[product] {
				need := line.need()
				if need <= 0 {
					continue
				}
				ship, ok := shipping[[2]string{offer.SupplierID, line.key.LocationID}]
				if !ok {
					ship = offer.UnitPrice * o.cfg.ShippingFraction
				}
				l := &lane{offer: offer, location: line.key.LocationID, line: line, shipping: ship}
				suffix := product + "_" + offer.SupplierID + "_" + line.key.LocationID
				l.x = m.AddVar("x_"+offer.OfferID+"_"+line.key.LocationID, offer.UnitPrice+ship, false)
				l.u = m.AddVar("u_"+offer.OfferID+"_"+line.key.LocationID, 0, true)
				bm.lanes = append(bm.lanes, l)

				bigM := math.Max(need, offer.MOQ)
				if offer.Capacity > 0 {
					bigM = math.Min(bigM, offer.Capacity)
				}
				if sc := supplierCap[offer.SupplierID]; sc > 0 {
					bigM = math.Min(bigM, sc)
				}

				m.AddConstraint(Constraint{
					Name:      "link_" + suffix,
					Kind:      KindLink,
					Terms:     []Term{{Var: l.x, Coef: 1}, {Var: l.u, Coef: -bigM}},
					Sense:     LessEqual,
					Indicator: l.u,
				})
				if offer.MOQ > 0 {
					m.AddConstraint(Constraint{
						Name:      "moq_" + suffix,
						Kind:      KindMOQ,
						Terms:     []Term{{Var: l.x, Coef: 1}, {Var: l.u, Coef: -offer.MOQ}},
						Sense:     GreaterEqual,
						Indicator: l.u,
					})
				}

				y, ok := supplierVar[offer.SupplierID]
				if !ok {
					y = m.AddVar("y_"+product+"_"+offer.SupplierID, 0, true)
					supplierVar[offer.SupplierID] = y
					used = append(used, offer.SupplierID)
				}
				m.AddConstraint(Constraint{
					Name:      "use_" + suffix,
					Kind:      KindLink,
					Terms:     []Term{{Var: l.u, Coef: 1}, {Var: y, Coef: -1}},
					Sense:     LessEqual,
					Indicator: -1,
				})

				balanceTerms[line] = append(balanceTerms[line], Term{Var: l.x, Coef: 1})
				offerTerms[offer.OfferID] = append(offerTerms[offer.OfferID], Term{Var: l.x, Coef: 1})
				if _, seen := supplierTerms[offer.SupplierID]; !seen {
					supplierOrder = append(supplierOrder, offer.SupplierID)
				}
				supplierTerms[offer.SupplierID] = append(supplierTerms[offer.SupplierID], Term{Var: l.x, Coef: 1})
			}

			if offer.Capacity > 0 && len(offerTerms[offer.OfferID]) > 0 {
				m.AddConstraint(Constraint{
					Name:      "capacity_" + offer.OfferID,
					Kind:      KindOfferCapacity,
					Terms:     offerTerms[offer.OfferID],
					Sense:     LessEqual,
					RHS:       offer.Capacity,
					Indicator: -1,
				})
			}
		}

		if p.MaxSuppliersPerProduct > 0 && len(used) > 0 {
			terms := make([]Term, 0, len(used))
			for _, s := range used {
				terms = append(terms, Term{Var: supplierVar[s], Coef: 1})
			}
			m.AddConstraint(Constraint{
				Name:      "max_suppliers_" + product,
				Kind:      KindMaxSuppliers,
				Terms:     terms,
				Sense:     LessEqual,
				RHS:       float64(p.MaxSuppliersPerProduct),
				Indicator: -1,
			})
		}
	}

	for _, line := range bm.lines {
		terms := append(balanceTerms[line], Term{Var: line.inv, Coef: -1}, Term{Var: line.bo, Coef: 1})
		m.AddConstraint(Constraint{
			Name:      "balance_" + line.key.String(),
			Kind:      KindBalance,
			Terms:     terms,
			Sense:     Equal,
			RHS:       line.requirement - line.opening,
			Indicator: -1,
		})
		m.AddConstraint(Constraint{
			Name:      "shortage_cap_" + line.key.String(),
			Kind:      KindShortageCap,
			Terms:     []Term{{Var: line.bo, Coef: 1}},
			Sense:     LessEqual,
			RHS:       o.cfg.MaxShortageFraction * math.Max(0, line.requirement),
			Indicator: -1,
		})
	}

	for _, s := range supplierOrder {
		if sc := supplierCap[s]; sc > 0 {
			m.AddConstraint(Constraint{
				Name:      "supplier_capacity_" + s,
				Kind:      KindSupplierCapacity,
				Terms:     supplierTerms[s],
				Sense:     LessEqual,
				RHS:       sc,
				Indicator: -1,
			})
		}
	}

	return bm
}

// capacityShortfall reports the first product whose eligible capacity cannot
// cover its minimum requirement once the shortage allowance is used up.
func (o *Optimizer) capacityShortfall(bm *builtModel) (string, bool) {
	minNeed := make(map[string]float64)
	for _, line := range bm.lines {
		allowance := o.cfg.MaxShortageFraction * math.Max(0, line.requirement)
		minNeed[line.key.ProductID] += math.Max(0, line.requirement-line.opening-allowance)
	}

	capacity := make(map[string]float64)
	counted := make(map[string]bool)
	for _, l := range bm.lanes {
		if counted[l.offer.OfferID] {
			continue
		}
		counted[l.offer.OfferID] = true
		c := math.Inf(1)
		if l.offer.Capacity > 0 {
			c = l.offer.Capacity
		}
		for _, con := range bm.model.Constraints {
			if con.Kind == KindSupplierCapacity && con.Name == "supplier_capacity_"+l.offer.SupplierID {
				c = math.Min(c, con.RHS)
			}
		}
		capacity[l.offer.ProductID] += c
	}

	products := make([]string, 0, len(minNeed))
	for product := range minNeed {
		products = append(products, product)
	}
	sort.Strings(products)
	for _, product := range products {
		if minNeed[product] > capacity[product]+o.cfg.Tolerance {
			return product, true
		}
	}
	return "", false
}

func (o *Optimizer) publish(alloc *domain.Allocation, bm *builtModel, m *Model, x []float64) {
	procurement, shippingCost := decimal.Zero, decimal.Zero

	for _, l := range bm.lanes {
		qty := roundQty(x[l.x])
		if x[l.u] < 0.5 || qty <= 0 {
			continue
		}
		unit := l.offer.UnitPrice + l.shipping
		alloc.Decisions = append(alloc.Decisions, domain.AllocationDecision{
			ProductID:           l.offer.ProductID,
			SupplierID:          l.offer.SupplierID,
			LocationID:          l.location,
			OfferID:             l.offer.OfferID,
			Quantity:            qty,
			UnitCost:            l.offer.UnitPrice,
			ShippingCostPerUnit: l.shipping,
			TotalCost:           qty * unit,
		})
		q := decimal.NewFromFloat(qty)
		procurement = procurement.Add(q.Mul(decimal.NewFromFloat(l.offer.UnitPrice)))
		shippingCost = shippingCost.Add(q.Mul(decimal.NewFromFloat(l.shipping)))
	}

	sort.SliceStable(alloc.Decisions, func(i, j int) bool {
		a, b := alloc.Decisions[i], alloc.Decisions[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.SupplierID < b.SupplierID
	})

	holding, penalty := decimal.Zero, decimal.Zero
	for _, line := range bm.lines {
		inv, bo := roundQty(x[line.inv]), roundQty(x[line.bo])
		holding = holding.Add(decimal.NewFromFloat(inv).Mul(decimal.NewFromFloat(line.holding)))
		penalty = penalty.Add(decimal.NewFromFloat(bo).Mul(decimal.NewFromFloat(line.penalty)))
		if bo > 0 {
			alloc.Shortages = append(alloc.Shortages, domain.Shortage{
				ProductID:  line.key.ProductID,
				LocationID: line.key.LocationID,
				Quantity:   bo,
			})
		}
	}

	alloc.Breakdown = domain.CostBreakdown{
		Procurement:     procurement.Round(2),
		Shipping:        shippingCost.Round(2),
		Holding:         holding.Round(2),
		ShortagePenalty: penalty.Round(2),
	}
	alloc.BindingConstraints = o.binding(m, x)
}

// binding names the capacity, MOQ, supplier-count and shortage rows that hold
// with equality. MOQ rows only count for lanes that are in use.
func (o *Optimizer) binding(m *Model, x []float64) []string {
	var out []string
	for i, c := range m.Constraints {
		switch c.Kind {
		case KindOfferCapacity, KindSupplierCapacity, KindMaxSuppliers:
		case KindMOQ:
			if c.Indicator < 0 || x[c.Indicator] < 0.5 {
				continue
			}
		case KindShortageCap:
			if c.RHS <= 0 {
				continue
			}
		default:
			continue
		}
		if math.Abs(m.Slack(i, x)) <= o.cfg.Tolerance*math.Max(1, math.Abs(c.RHS)) {
			out = append(out, c.Name)
			if len(out) >= o.cfg.MaxBindingReported {
				break
			}
		}
	}
	return out
}

func roundQty(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r < 1e-6 {
		return 0
	}
	return r
}
