package optimizer

import "math"

type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	lpUnbounded
	lpIterationLimit
)

type lpRow struct {
	terms []Term
	sense Sense
	rhs   float64
}

type lpResult struct {
	status    lpStatus
	x         []float64
	objective float64
}

const pivotEps = 1e-9

// tableau is a dense two-phase simplex tableau for min c·x, rows, x ≥ 0.
// Pivoting follows Bland's rule so degenerate vertices cannot cycle.
type tableau struct {
	t        [][]float64
	cost     []float64
	basis    []int
	rhsCol   int
	artStart int
	maxIter  int
}

// solveLP minimises c·x subject to rows with x ≥ 0.
func solveLP(c []float64, rows []lpRow) lpResult {
	n := len(c)
	m := len(rows)

	var slackCount, artCount int
	for _, r := range rows {
		sense := r.sense
		if r.rhs < 0 {
			sense = sense.flip()
		}
		if sense != Equal {
			slackCount++
		}
		if sense != LessEqual {
			artCount++
		}
	}

	cols := n + slackCount + artCount
	tb := &tableau{
		t:        make([][]float64, m),
		basis:    make([]int, m),
		rhsCol:   cols,
		artStart: n + slackCount,
		maxIter:  50 * (m + cols + 10),
	}

	slack, art := n, n+slackCount
	for i, r := range rows {
		row := make([]float64, cols+1)
		sign, sense := 1.0, r.sense
		if r.rhs < 0 {
			sign, sense = -1, sense.flip()
		}
		for _, term := range r.terms {
			row[term.Var] += sign * term.Coef
		}
		row[cols] = sign * r.rhs

		switch sense {
		case LessEqual:
			row[slack] = 1
			tb.basis[i] = slack
			slack++
		case GreaterEqual:
			row[slack] = -1
			slack++
			row[art] = 1
			tb.basis[i] = art
			art++
		case Equal:
			row[art] = 1
			tb.basis[i] = art
			art++
		}
		tb.t[i] = row
	}

	// Phase 1: minimise the sum of artificials.
	if artCount > 0 {
		tb.cost = make([]float64, cols+1)
		for j := tb.artStart; j < cols; j++ {
			tb.cost[j] = 1
		}
		for i, b := range tb.basis {
			if b >= tb.artStart {
				tb.eliminate(tb.cost, i, 1)
			}
		}
		switch tb.iterate(cols) {
		case lpIterationLimit:
			return lpResult{status: lpIterationLimit}
		case lpUnbounded:
			return lpResult{status: lpInfeasible}
		}
		if -tb.cost[cols] > feasibilityTol(rows) {
			return lpResult{status: lpInfeasible}
		}
		tb.driveOutArtificials()
	}

	// Phase 2: original objective, artificials barred from the basis.
	tb.cost = make([]float64, cols+1)
	copy(tb.cost, c)
	for i, b := range tb.basis {
		if b < n && c[b] != 0 {
			tb.eliminate(tb.cost, i, c[b])
		}
	}
	switch status := tb.iterate(tb.artStart); status {
	case lpUnbounded, lpIterationLimit:
		return lpResult{status: status}
	}

	x := make([]float64, n)
	for i, b := range tb.basis {
		if b < n {
			v := tb.t[i][cols]
			if v < 0 && v > -1e-9 {
				v = 0
			}
			x[b] = v
		}
	}
	var obj float64
	for j := range c {
		obj += c[j] * x[j]
	}
	return lpResult{status: lpOptimal, x: x, objective: obj}
}

func feasibilityTol(rows []lpRow) float64 {
	scale := 1.0
	for _, r := range rows {
		scale = math.Max(scale, math.Abs(r.rhs))
	}
	return 1e-7 * scale
}

// iterate pivots until no column below limit has a negative reduced cost.
func (tb *tableau) iterate(limit int) lpStatus {
	for iter := 0; iter < tb.maxIter; iter++ {
		enter := -1
		for j := 0; j < limit; j++ {
			if tb.cost[j] < -pivotEps {
				enter = j
				break
			}
		}
		if enter < 0 {
			return lpOptimal
		}

		leave := -1
		var best float64
		for i, row := range tb.t {
			a := row[enter]
			if a <= pivotEps {
				continue
			}
			ratio := row[tb.rhsCol] / a
			if leave < 0 || ratio < best-pivotEps || (math.Abs(ratio-best) <= pivotEps && tb.basis[i] < tb.basis[leave]) {
				leave = i
				best = ratio
			}
		}
		if leave < 0 {
			return lpUnbounded
		}
		tb.pivot(leave, enter)
	}
	return lpIterationLimit
}

func (tb *tableau) pivot(r, col int) {
	row := tb.t[r]
	p := row[col]
	for j := range row {
		row[j] /= p
	}
	row[col] = 1
	for i, other := range tb.t {
		if i == r {
			continue
		}
		if f := other[col]; f != 0 {
			for j := range other {
				other[j] -= f * row[j]
			}
			other[col] = 0
		}
	}
	if f := tb.cost[col]; f != 0 {
		for j := range tb.cost {
			tb.cost[j] -= f * row[j]
		}
		tb.cost[col] = 0
	}
	tb.basis[r] = col
}

func (tb *tableau) eliminate(target []float64, row int, factor float64) {
	for j, v := range tb.t[row] {
		target[j] -= factor * v
	}
}

// driveOutArtificials pivots zero-valued artificials out of the basis. Rows
// where no structural or slack column can replace them are redundant and kept.
func (tb *tableau) driveOutArtificials() {
	for i, b := range tb.basis {
		if b < tb.artStart {
			continue
		}
		for j := 0; j < tb.artStart; j++ {
			if math.Abs(tb.t[i][j]) > pivotEps {
				tb.pivot(i, j)
				break
			}
		}
	}
}
