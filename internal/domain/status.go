package domain

import "strings"

type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning},
	RunRunning: {RunDone, RunFailed},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunDone || s == RunFailed
}

type SolverStatus string

const (
	SolverOptimal            SolverStatus = "optimal"
	SolverFeasibleSuboptimal SolverStatus = "feasible_suboptimal"
	SolverInfeasible         SolverStatus = "infeasible"
	SolverUnbounded          SolverStatus = "unbounded"
	SolverError              SolverStatus = "error"
)

var solverStatusLabels = map[SolverStatus]string{
	SolverOptimal:            "Optimal",
	SolverFeasibleSuboptimal: "Feasible (time limit reached)",
	SolverInfeasible:         "Infeasible",
	SolverUnbounded:          "Unbounded",
	SolverError:              "Solver error",
}

// Publishable reports whether an allocation with this status may be published.
func (s SolverStatus) Publishable() bool {
	return s == SolverOptimal || s == SolverFeasibleSuboptimal
}

// SolverStatusLabel returns a human-readable label for a solver status.
func SolverStatusLabel(status SolverStatus) string {
	if label, ok := solverStatusLabels[status]; ok {
		return label
	}
	return "Unknown"
}

// ParseRiskMode returns the risk mode for a label (case-insensitive). Empty means p50.
func ParseRiskMode(label string) (RiskMode, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "p50":
		return RiskP50, true
	case "p90":
		return RiskP90, true
	}
	return "", false
}

// Run failure reason codes.
const (
	ReasonCancelled            = "cancelled"
	ReasonInsufficientCapacity = "insufficient_supplier_capacity"
	ReasonNoEligibleOffers     = "no_eligible_offers"
	ReasonInfeasible           = "infeasible"
	ReasonUnbounded            = "unbounded"
	ReasonSolverError          = "solver_error"
	ReasonSolverTimeout        = "solver_timeout"
	ReasonStageError           = "stage_error"
)
