package optimizer

type Sense int

const (
	LessEqual Sense = iota
	GreaterEqual
	Equal
)

func (s Sense) flip() Sense {
	switch s {
	case LessEqual:
		return GreaterEqual
	case GreaterEqual:
		return LessEqual
	}
	return s
}

// Term is coef × variable.
type Term struct {
	Var  int
	Coef float64
}

// Variable is non-negative; binary variables are additionally bounded by 1 and integral.
type Variable struct {
	Name   string
	Cost   float64
	Binary bool
}

// Constraint kinds used when explaining a solution.
const (
	KindBalance          = "balance"
	KindShortageCap      = "shortage_cap"
	KindOfferCapacity    = "capacity"
	KindSupplierCapacity = "supplier_capacity"
	KindMOQ              = "moq"
	KindLink             = "link"
	KindMaxSuppliers     = "max_suppliers"
)

type Constraint struct {
	Name  string
	Kind  string
	Terms []Term
	Sense Sense
	RHS   float64
	// Indicator is the binary whose value decides whether the row is meaningful
	// when explaining the solution; -1 when there is none.
	Indicator int
}

// Model is a mixed 0-1 linear program: minimise Σ cost·x subject to the constraints.
type Model struct {
	Vars        []Variable
	Constraints []Constraint
}

func (m *Model) AddVar(name string, cost float64, binary bool) int {
	m.Vars = append(m.Vars, Variable{Name: name, Cost: cost, Binary: binary})
	return len(m.Vars) - 1
}

func (m *Model) AddConstraint(c Constraint) int {
	m.Constraints = append(m.Constraints, c)
	return len(m.Constraints) - 1
}

// Slack returns how far constraint i is from its bound at x. It is ≥ 0 when the
// constraint holds; equality rows report the absolute residual.
func (m *Model) Slack(i int, x []float64) float64 {
	c := m.Constraints[i]
	var lhs float64
	for _, t := range c.Terms {
		lhs += t.Coef * x[t.Var]
	}
	switch c.Sense {
	case LessEqual:
		return c.RHS - lhs
	case GreaterEqual:
		return lhs - c.RHS
	}
	d := lhs - c.RHS
	if d < 0 {
		d = -d
	}
	return d
}

// Objective evaluates the model objective at x.
func (m *Model) Objective(x []float64) float64 {
	var obj float64
	for j, v := range m.Vars {
		obj += v.Cost * x[j]
	}
	return obj
}

// Without returns a copy of the model without constraints of the given kind.
func (m *Model) Without(kind string) *Model {
	out := &Model{Vars: m.Vars}
	for _, c := range m.Constraints {
		if c.Kind != kind {
			out.Constraints = append(out.Constraints, c)
		}
	}
	return out
}
