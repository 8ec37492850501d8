package optimizer

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/andresuchdata/procureplan/internal/domain"
)

var (
	ErrTimeLimit      = errors.New("solver time limit reached without a feasible solution")
	ErrIterationLimit = errors.New("simplex iteration limit reached")
	ErrNodeLimit      = errors.New("branch-and-bound node limit reached without a feasible solution")
)

// Limits bound a single solve.
type Limits struct {
	TimeLimit time.Duration
	MaxNodes  int
	// IntegralityTol is how far from 0/1 a binary may be and still count as integral.
	IntegralityTol float64
}

func (l Limits) withDefaults() Limits {
	if l.MaxNodes <= 0 {
		l.MaxNodes = 20000
	}
	if l.IntegralityTol <= 0 {
		l.IntegralityTol = 1e-6
	}
	return l
}

type Solution struct {
	Status    domain.SolverStatus
	Objective float64
	Values    []float64
	Nodes     int
}

// Solver is the narrow interface the allocation stage depends on.
type Solver interface {
	Solve(ctx context.Context, m *Model, lim Limits) (*Solution, error)
}

// BranchAndBound solves 0-1 mixed programs depth-first, branching on the most
// fractional binary (lowest index on ties), with LP relaxations from solveLP.
type BranchAndBound struct {
	now func() time.Time
}

func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{now: time.Now}
}

type fix struct {
	v   int
	val float64
}

type bbNode struct {
	fixes []fix
}

func (b *BranchAndBound) Solve(ctx context.Context, m *Model, lim Limits) (*Solution, error) {
	lim = lim.withDefaults()
	start := b.now()

	c := make([]float64, len(m.Vars))
	for j, v := range m.Vars {
		c[j] = v.Cost
	}
	base := baseRows(m)

	var (
		incumbent []float64
		bestObj   = math.Inf(1)
		nodes     int
		stopErr   error
	)
	stack := []bbNode{{}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return &Solution{Status: domain.SolverError, Nodes: nodes}, err
		}
		if lim.TimeLimit > 0 && b.now().Sub(start) >= lim.TimeLimit {
			stopErr = ErrTimeLimit
			break
		}
		if nodes >= lim.MaxNodes {
			stopErr = ErrNodeLimit
			break
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		rows := base
		if len(nd.fixes) > 0 {
			rows = make([]lpRow, 0, len(base)+len(nd.fixes))
			rows = append(rows, base...)
			for _, f := range nd.fixes {
				rows = append(rows, lpRow{terms: []Term{{Var: f.v, Coef: 1}}, sense: Equal, rhs: f.val})
			}
		}

		res := solveLP(c, rows)
		switch res.status {
		case lpInfeasible:
			continue
		case lpUnbounded:
			return &Solution{Status: domain.SolverUnbounded, Nodes: nodes}, nil
		case lpIterationLimit:
			return &Solution{Status: domain.SolverError, Nodes: nodes}, ErrIterationLimit
		}

		if res.objective >= bestObj-1e-9*math.Max(1, math.Abs(bestObj)) {
			continue
		}

		branch := mostFractional(m, res.x, lim.IntegralityTol)
		if branch < 0 {
			incumbent = roundBinaries(m, res.x)
			bestObj = res.objective
			continue
		}

		down := bbNode{fixes: appendFix(nd.fixes, fix{v: branch, val: 0})}
		up := bbNode{fixes: appendFix(nd.fixes, fix{v: branch, val: 1})}
		// The nearer rounding is explored first.
		if res.x[branch] >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	if incumbent == nil {
		if stopErr != nil {
			return &Solution{Status: domain.SolverError, Nodes: nodes}, stopErr
		}
		return &Solution{Status: domain.SolverInfeasible, Nodes: nodes}, nil
	}

	status := domain.SolverOptimal
	if stopErr != nil {
		status = domain.SolverFeasibleSuboptimal
	}
	return &Solution{
		Status:    status,
		Objective: m.Objective(incumbent),
		Values:    incumbent,
		Nodes:     nodes,
	}, nil
}

func baseRows(m *Model) []lpRow {
	rows := make([]lpRow, 0, len(m.Constraints)+len(m.Vars))
	for _, c := range m.Constraints {
		rows = append(rows, lpRow{terms: c.Terms, sense: c.Sense, rhs: c.RHS})
	}
	for j, v := range m.Vars {
		if v.Binary {
			rows = append(rows, lpRow{terms: []Term{{Var: j, Coef: 1}}, sense: LessEqual, rhs: 1})
		}
	}
	return rows
}

func mostFractional(m *Model, x []float64, tol float64) int {
	best, bestDist := -1, tol
	for j, v := range m.Vars {
		if !v.Binary {
			continue
		}
		frac := x[j] - math.Floor(x[j])
		dist := math.Min(frac, 1-frac)
		if dist > bestDist+1e-12 {
			best, bestDist = j, dist
		}
	}
	return best
}

func roundBinaries(m *Model, x []float64) []float64 {
	out := append([]float64(nil), x...)
	for j, v := range m.Vars {
		if v.Binary {
			out[j] = math.Round(out[j])
		}
	}
	return out
}

func appendFix(fixes []fix, f fix) []fix {
	out := make([]fix, len(fixes), len(fixes)+1)
	copy(out, fixes)
	return append(out, f)
}
