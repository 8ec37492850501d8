package forecast

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	ModelSeasonal = "seasonal"
	ModelARIMA    = "arima"
	ModelETS      = "ets"
	ModelNaive    = "naive"
	ModelNone     = "none"
)

var errInsufficientHistory = errors.New("insufficient history")

type model interface {
	name() string
	fit(history []float64) (fitted, error)
}

type fitted interface {
	forecast(h int) []float64
}

// seasonalModel is an additive decomposition: least-squares linear trend plus
// zero-mean seasonal indices estimated from the detrended series.
type seasonalModel struct {
	season int
}

type seasonalFit struct {
	alpha, beta float64
	indices     []float64
	n           int
}

func (m seasonalModel) name() string { return ModelSeasonal }

func (m seasonalModel) fit(y []float64) (fitted, error) {
	if m.season < 2 {
		return nil, fmt.Errorf("season length %d too short", m.season)
	}
	if len(y) < 2*m.season {
		return nil, fmt.Errorf("%w: need %d points, have %d", errInsufficientHistory, 2*m.season, len(y))
	}

	t := make([]float64, len(y))
	for i := range t {
		t[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(t, y, nil, false)

	sums := make([]float64, m.season)
	counts := make([]float64, m.season)
	for i, v := range y {
		k := i % m.season
		sums[k] += v - (alpha + beta*t[i])
		counts[k]++
	}

	indices := make([]float64, m.season)
	var mean float64
	for k := range indices {
		indices[k] = sums[k] / counts[k]
		mean += indices[k]
	}
	mean /= float64(m.season)
	for k := range indices {
		indices[k] -= mean
	}

	f := &seasonalFit{alpha: alpha, beta: beta, indices: indices, n: len(y)}
	if !allFinite([]float64{alpha, beta}) || !allFinite(indices) {
		return nil, errors.New("seasonal decomposition produced non-finite values")
	}
	return f, nil
}

func (f *seasonalFit) forecast(h int) []float64 {
	out := make([]float64, h)
	for i := range out {
		t := f.n + i
		out[i] = f.alpha + f.beta*float64(t) + f.indices[t%len(f.indices)]
	}
	return out
}

// arimaModel fits ARIMA(p,d,0) for p in {1,2} and d in {0,1} by least squares
// and keeps the order with the lowest AIC.
type arimaModel struct{}

type arimaFit struct {
	d     int
	coef  []float64 // intercept, phi_1..phi_p
	tail  []float64 // last p values of the (differenced) series, oldest first
	level float64   // last observed level, used to integrate when d = 1
}

func (arimaModel) name() string { return ModelARIMA }

func (arimaModel) fit(y []float64) (fitted, error) {
	var best *arimaFit
	bestAIC := math.Inf(1)
	var lastErr error

	for d := 0; d <= 1; d++ {
		z := difference(y, d)
		for p := 1; p <= 2; p++ {
			coef, aic, err := fitAR(z, p)
			if err != nil {
				lastErr = err
				continue
			}
			if aic < bestAIC {
				bestAIC = aic
				best = &arimaFit{
					d:     d,
					coef:  coef,
					tail:  append([]float64(nil), z[len(z)-p:]...),
					level: y[len(y)-1],
				}
			}
		}
	}

	if best == nil {
		if lastErr == nil {
			lastErr = errInsufficientHistory
		}
		return nil, fmt.Errorf("arima did not fit: %w", lastErr)
	}
	if !allFinite(best.forecast(1)) {
		return nil, errors.New("arima forecast diverged")
	}
	return best, nil
}

func difference(y []float64, d int) []float64 {
	if d == 0 {
		return y
	}
	out := make([]float64, len(y)-1)
	for i := 1; i < len(y); i++ {
		out[i-1] = y[i] - y[i-1]
	}
	return out
}

func fitAR(z []float64, p int) ([]float64, float64, error) {
	rows := len(z) - p
	if rows < p+4 {
		return nil, 0, fmt.Errorf("%w for AR(%d)", errInsufficientHistory, p)
	}

	x := mat.NewDense(rows, p+1, nil)
	target := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		t := r + p
		x.Set(r, 0, 1)
		for k := 1; k <= p; k++ {
			x.Set(r, k, z[t-k])
		}
		target.SetVec(r, z[t])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, target); err != nil {
		return nil, 0, fmt.Errorf("AR(%d) least squares: %w", p, err)
	}

	coef := make([]float64, p+1)
	for i := range coef {
		coef[i] = beta.AtVec(i)
	}
	if !allFinite(coef) {
		return nil, 0, fmt.Errorf("AR(%d) coefficients not finite", p)
	}

	var rss float64
	for r := 0; r < rows; r++ {
		pred := coef[0]
		for k := 1; k <= p; k++ {
			pred += coef[k] * x.At(r, k)
		}
		e := target.AtVec(r) - pred
		rss += e * e
	}
	n := float64(rows)
	aic := n*math.Log(math.Max(rss/n, 1e-12)) + 2*float64(p+1)
	return coef, aic, nil
}

func (f *arimaFit) forecast(h int) []float64 {
	p := len(f.coef) - 1
	hist := append([]float64(nil), f.tail...)
	out := make([]float64, h)
	level := f.level
	for i := 0; i < h; i++ {
		next := f.coef[0]
		for k := 1; k <= p; k++ {
			next += f.coef[k] * hist[len(hist)-k]
		}
		hist = append(hist, next)
		if f.d == 1 {
			level += next
			out[i] = level
		} else {
			out[i] = next
		}
	}
	return out
}

// etsModel is Holt's linear trend smoothing with (alpha, beta) chosen on
// in-sample one-step squared error.
type etsModel struct{}

type etsFit struct {
	level, trend float64
}

var (
	etsAlphas = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	etsBetas  = []float64{0.01, 0.05, 0.1, 0.2, 0.3}
)

func (etsModel) name() string { return ModelETS }

func (etsModel) fit(y []float64) (fitted, error) {
	if len(y) < 3 {
		return nil, fmt.Errorf("%w: holt needs 3 points, have %d", errInsufficientHistory, len(y))
	}

	var best *etsFit
	bestSSE := math.Inf(1)
	for _, a := range etsAlphas {
		for _, b := range etsBetas {
			level, trend := y[0], y[1]-y[0]
			var sse float64
			for t := 1; t < len(y); t++ {
				e := y[t] - (level + trend)
				sse += e * e
				next := a*y[t] + (1-a)*(level+trend)
				trend = b*(next-level) + (1-b)*trend
				level = next
			}
			if sse < bestSSE {
				bestSSE = sse
				best = &etsFit{level: level, trend: trend}
			}
		}
	}
	if best == nil || !allFinite([]float64{best.level, best.trend}) {
		return nil, errors.New("holt smoothing did not converge")
	}
	return best, nil
}

func (f *etsFit) forecast(h int) []float64 {
	out := make([]float64, h)
	for i := range out {
		out[i] = f.level + float64(i+1)*f.trend
	}
	return out
}

// naiveModel repeats the last season when one is available, else the last value.
type naiveModel struct {
	season int
}

type naiveFit struct {
	history []float64
	season  int
}

func (m naiveModel) name() string { return ModelNaive }

func (m naiveModel) fit(y []float64) (fitted, error) {
	if len(y) == 0 {
		return nil, errInsufficientHistory
	}
	season := m.season
	if season < 2 || len(y) < season {
		season = 1
	}
	return &naiveFit{history: append([]float64(nil), y...), season: season}, nil
}

func (f *naiveFit) forecast(h int) []float64 {
	n := len(f.history)
	out := make([]float64, h)
	for i := range out {
		out[i] = f.history[n-f.season+i%f.season]
	}
	return out
}

// inSample returns the one-step naive predictions for y[season:].
func (f *naiveFit) inSample() (actual, predicted []float64) {
	for t := f.season; t < len(f.history); t++ {
		actual = append(actual, f.history[t])
		predicted = append(predicted, f.history[t-f.season])
	}
	return actual, predicted
}
