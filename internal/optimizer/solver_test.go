package optimizer

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/andresuchdata/procureplan/internal/domain"
)

func TestSolveLP(t *testing.T) {
	tests := []struct {
		name    string
		c       []float64
		rows    []lpRow
		status  lpStatus
		wantObj float64
		wantX   []float64
	}{
		{
			name: "two constraint vertex",
			c:    []float64{-1, -1},
			rows: []lpRow{
				{terms: []Term{{0, 1}, {1, 2}}, sense: LessEqual, rhs: 4},
				{terms: []Term{{0, 3}, {1, 1}}, sense: LessEqual, rhs: 6},
			},
			status:  lpOptimal,
			wantObj: -2.8,
			wantX:   []float64{1.6, 1.2},
		},
		{
			name: "negative right-hand side equality",
			c:    []float64{1, 1},
			rows: []lpRow{
				{terms: []Term{{0, 1}, {1, -1}}, sense: Equal, rhs: -2},
			},
			status:  lpOptimal,
			wantObj: 2,
			wantX:   []float64{0, 2},
		},
		{
			name: "greater-equal lower bound",
			c:    []float64{3, 2},
			rows: []lpRow{
				{terms: []Term{{0, 1}, {1, 1}}, sense: GreaterEqual, rhs: 5},
				{terms: []Term{{1, 1}}, sense: LessEqual, rhs: 3},
			},
			status:  lpOptimal,
			wantObj: 12,
			wantX:   []float64{2, 3},
		},
		{
			name: "infeasible bounds",
			c:    []float64{1},
			rows: []lpRow{
				{terms: []Term{{0, 1}}, sense: GreaterEqual, rhs: 2},
				{terms: []Term{{0, 1}}, sense: LessEqual, rhs: 1},
			},
			status: lpInfeasible,
		},
		{
			name: "unbounded direction",
			c:    []float64{-1, 0},
			rows: []lpRow{
				{terms: []Term{{0, 1}, {1, -1}}, sense: LessEqual, rhs: 1},
			},
			status: lpUnbounded,
		},
		{
			name: "redundant equalities",
			c:    []float64{1, 2},
			rows: []lpRow{
				{terms: []Term{{0, 1}, {1, 1}}, sense: Equal, rhs: 4},
				{terms: []Term{{0, 2}, {1, 2}}, sense: Equal, rhs: 8},
			},
			status:  lpOptimal,
			wantObj: 4,
			wantX:   []float64{4, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := solveLP(tt.c, tt.rows)
			if res.status != tt.status {
				t.Fatalf("status = %v, want %v", res.status, tt.status)
			}
			if tt.status != lpOptimal {
				return
			}
			if math.Abs(res.objective-tt.wantObj) > 1e-7 {
				t.Errorf("objective = %.6f, want %.6f", res.objective, tt.wantObj)
			}
			for i, want := range tt.wantX {
				if math.Abs(res.x[i]-want) > 1e-7 {
					t.Errorf("x[%d] = %.6f, want %.6f", i, res.x[i], want)
				}
			}
		})
	}
}

func knapsack() *Model {
	m := &Model{}
	a := m.AddVar("a", -4, true)
	b := m.AddVar("b", -5, true)
	c := m.AddVar("c", -3, true)
	m.AddConstraint(Constraint{
		Name:      "weight",
		Terms:     []Term{{a, 3}, {b, 4}, {c, 2}},
		Sense:     LessEqual,
		RHS:       6,
		Indicator: -1,
	})
	return m
}

func TestBranchAndBound_Knapsack(t *testing.T) {
	sol, err := NewBranchAndBound().Solve(context.Background(), knapsack(), Limits{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Status != domain.SolverOptimal {
		t.Fatalf("status = %s, want optimal", sol.Status)
	}
	if math.Abs(sol.Objective+8) > 1e-7 {
		t.Errorf("objective = %.4f, want -8", sol.Objective)
	}
	want := []float64{0, 1, 1}
	for i, v := range want {
		if sol.Values[i] != v {
			t.Errorf("x[%d] = %.3f, want %.0f", i, sol.Values[i], v)
		}
	}
}

func TestBranchAndBound_Infeasible(t *testing.T) {
	m := &Model{}
	a := m.AddVar("a", 1, true)
	m.AddConstraint(Constraint{Name: "half", Terms: []Term{{a, 2}}, Sense: Equal, RHS: 1, Indicator: -1})

	sol, err := NewBranchAndBound().Solve(context.Background(), m, Limits{})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Status != domain.SolverInfeasible {
		t.Fatalf("status = %s, want infeasible", sol.Status)
	}
}

func TestBranchAndBound_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sol, err := NewBranchAndBound().Solve(ctx, knapsack(), Limits{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sol.Status != domain.SolverError {
		t.Errorf("status = %s, want error", sol.Status)
	}
}

func TestBranchAndBound_TimeLimitWithoutIncumbent(t *testing.T) {
	clock := time.Unix(0, 0)
	b := &BranchAndBound{now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}}

	_, err := b.Solve(context.Background(), knapsack(), Limits{TimeLimit: time.Millisecond})
	if !errors.Is(err, ErrTimeLimit) {
		t.Fatalf("expected ErrTimeLimit, got %v", err)
	}
}

func TestBranchAndBound_NodeLimitWithoutIncumbent(t *testing.T) {
	// The root relaxation of the knapsack is fractional, so one node yields no incumbent.
	sol, err := NewBranchAndBound().Solve(context.Background(), knapsack(), Limits{MaxNodes: 1})
	if !errors.Is(err, ErrNodeLimit) {
		t.Fatalf("expected ErrNodeLimit, got %v", err)
	}
	if sol.Status != domain.SolverError {
		t.Errorf("status = %s, want error", sol.Status)
	}
}

func TestBranchAndBound_TimeLimitKeepsIncumbent(t *testing.T) {
	// Node 1 is the fractional root, node 2 (b=0) yields the first incumbent;
	// the clock jumps before node 3 is explored.
	start := time.Unix(0, 0)
	calls := 0
	b := &BranchAndBound{now: func() time.Time {
		calls++
		if calls >= 4 {
			return start.Add(time.Hour)
		}
		return start
	}}

	sol, err := b.Solve(context.Background(), knapsack(), Limits{TimeLimit: time.Second})
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if sol.Status != domain.SolverFeasibleSuboptimal {
		t.Fatalf("status = %s, want feasible_suboptimal", sol.Status)
	}
	if math.Abs(sol.Objective+7) > 1e-7 {
		t.Errorf("objective = %.4f, want the first incumbent -7", sol.Objective)
	}
	if sol.Nodes != 2 {
		t.Errorf("nodes = %d, want 2", sol.Nodes)
	}
}
