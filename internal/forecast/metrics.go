package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// WAPE is Σ|actual−pred| / Σ|actual|. When the actuals sum to zero the absolute
// error itself is returned so a perfect zero forecast still scores 0.
func WAPE(actual, predicted []float64) float64 {
	var num, den float64
	for i := range actual {
		num += math.Abs(actual[i] - predicted[i])
		den += math.Abs(actual[i])
	}
	if den == 0 {
		return num
	}
	return num / den
}

// MAPE is the mean absolute percentage error over the non-zero actuals.
func MAPE(actual, predicted []float64) float64 {
	var sum float64
	var n int
	for i := range actual {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs((actual[i] - predicted[i]) / actual[i])
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// residualStd is the sample standard deviation of actual−predicted.
func residualStd(actual, predicted []float64) float64 {
	if len(actual) < 2 {
		return 0
	}
	res := make([]float64, len(actual))
	for i := range actual {
		res[i] = actual[i] - predicted[i]
	}
	sd := stat.StdDev(res, nil)
	if math.IsNaN(sd) {
		return 0
	}
	return sd
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
